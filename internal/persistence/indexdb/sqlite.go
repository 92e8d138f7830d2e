package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"echofield.ai/internal/persistence/snapshot"
	"echofield.ai/internal/sim/field"
	"echofield.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropStep     atomic.Uint64
	dropEvent    atomic.Uint64
	dropSnapshot atomic.Uint64
	dropEpoch    atomic.Uint64
}

// Stats reports queue pressure. Drops mean rows are missing from the index;
// the JSONL logs still have them.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropStepTotal     uint64 `json:"drop_step_total"`
	DropEventTotal    uint64 `json:"drop_event_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	DropEpochTotal    uint64 `json:"drop_epoch_total"`
}

type reqKind int

const (
	reqStep reqKind = iota + 1
	reqEvent
	reqSnapshot
	reqEpoch
)

type req struct {
	kind reqKind

	step     field.StepLogEntry
	event    field.GovernanceEvent
	snapshot snapshotRow
	epoch    epochRow
}

type snapshotRow struct {
	Step    uint64
	Path    string
	Seed    int64
	Size    int
	EchoLen int
	Events  int
	History int
}

type epochRow struct {
	Epoch      int
	EndStep    uint64
	Path       string
	Seed       int64
	RecordedAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tuning (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			step INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			injections INTEGER NOT NULL,
			interventions INTEGER NOT NULL,
			redistributions INTEGER NOT NULL,
			shared INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS hierarchy (
			step INTEGER PRIMARY KEY,
			gini REAL NOT NULL,
			top_10_share REAL NOT NULL,
			max_privilege REAL NOT NULL,
			active_sites INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY,
			step INTEGER NOT NULL,
			type TEXT NOT NULL,
			energy INTEGER NOT NULL,
			sites INTEGER NOT NULL,
			x INTEGER,
			y INTEGER,
			z INTEGER,
			privilege_before REAL,
			threshold_before REAL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_step ON events(step);`,
		`CREATE INDEX IF NOT EXISTS idx_events_pos_step ON events(x, y, z, step);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			step INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			size INTEGER NOT NULL,
			echo_len INTEGER NOT NULL,
			events INTEGER NOT NULL,
			history INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS epochs (
			epoch INTEGER PRIMARY KEY,
			end_step INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			snapshot_path TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_epochs_end_step ON epochs(end_step);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropStepTotal:     s.dropStep.Load(),
		DropEventTotal:    s.dropEvent.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		DropEpochTotal:    s.dropEpoch.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		drops.Add(1)
	}
}

func (s *SQLiteIndex) WriteStep(entry field.StepLogEntry) error {
	if s == nil {
		return nil
	}
	s.enqueue(req{kind: reqStep, step: entry}, &s.dropStep)
	return nil
}

func (s *SQLiteIndex) WriteEvent(ev field.GovernanceEvent) error {
	if s == nil {
		return nil
	}
	s.enqueue(req{kind: reqEvent, event: ev}, &s.dropEvent)
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil {
		return
	}
	r := snapshotRow{
		Step:    snap.Header.Step,
		Path:    path,
		Seed:    snap.Seed,
		Size:    snap.Size,
		EchoLen: len(snap.Echo),
		Events:  len(snap.Events),
		History: len(snap.History),
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r}, &s.dropSnapshot)
}

func (s *SQLiteIndex) RecordEpoch(epoch int, endStep uint64, archivedSnapshotPath string, seed int64) {
	if s == nil {
		return
	}
	if epoch <= 0 || archivedSnapshotPath == "" {
		return
	}
	r := epochRow{
		Epoch:      epoch,
		EndStep:    endStep,
		Path:       archivedSnapshotPath,
		Seed:       seed,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	s.enqueue(req{kind: reqEpoch, epoch: r}, &s.dropEpoch)
}

// UpsertTuning stores the tuning values actually applied (canonical JSON) and,
// if present, the raw YAML file they were loaded from.
func (s *SQLiteIndex) UpsertTuning(tuningPath string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	{
		b, _ := json.Marshal(tune)
		rows = append(rows, kv{name: "tuning", digest: digestOf(b), json: b})
	}
	if tuningPath != "" {
		if raw, err := os.ReadFile(tuningPath); err == nil {
			b, _ := json.Marshal(string(raw))
			rows = append(rows, kv{name: "tuning_yaml", digest: digestOf(raw), json: b})
		}
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('protocol_version',?)`, tune.ProtocolVersion); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO tuning(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertStep, _ := s.db.Prepare(`INSERT OR REPLACE INTO steps(step,digest,injections,interventions,redistributions,shared,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertHierarchy, _ := s.db.Prepare(`INSERT OR REPLACE INTO hierarchy(step,gini,top_10_share,max_privilege,active_sites) VALUES(?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(seq,step,type,energy,sites,x,y,z,privilege_before,threshold_before,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(step,path,seed,size,echo_len,events,history) VALUES(?,?,?,?,?,?,?)`)
	insertEpoch, _ := s.db.Prepare(`INSERT OR REPLACE INTO epochs(epoch,end_step,seed,snapshot_path,recorded_at) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertStep, insertHierarchy, insertEvent, insertSnapshot, insertEpoch} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return true
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqStep:
			e := r.step
			b, _ := json.Marshal(e)
			if !exec(insertStep,
				int64(e.Step),
				e.Digest,
				len(e.Injections),
				len(e.Interventions),
				e.Redistributions,
				e.Shared,
				string(b),
			) {
				continue
			}
			h := e.Hierarchy
			exec(insertHierarchy, int64(h.Step), h.Gini, h.Top10Share, h.MaxPrivilege, h.ActiveSites)

		case reqEvent:
			ev := r.event
			raw, _ := json.Marshal(ev)
			var (
				energy  int64
				sites   int
				x, y, z sql.NullInt64
				pb, tb  sql.NullFloat64
			)
			switch {
			case ev.Injection != nil:
				energy = ev.Injection.Total
				sites = ev.Injection.Sites
			case ev.Intervention != nil:
				iv := ev.Intervention
				energy = iv.Energy
				sites = 1
				x = sql.NullInt64{Int64: int64(iv.Position[0]), Valid: true}
				y = sql.NullInt64{Int64: int64(iv.Position[1]), Valid: true}
				z = sql.NullInt64{Int64: int64(iv.Position[2]), Valid: true}
				pb = sql.NullFloat64{Float64: iv.PrivilegeBefore, Valid: true}
				tb = sql.NullFloat64{Float64: iv.ThresholdBefore, Valid: true}
			}
			exec(insertEvent, int64(ev.Seq), int64(ev.Step), string(ev.Type), energy, sites, x, y, z, pb, tb, string(raw))

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Step), sn.Path, sn.Seed, sn.Size, sn.EchoLen, sn.Events, sn.History)

		case reqEpoch:
			ep := r.epoch
			exec(insertEpoch, ep.Epoch, int64(ep.EndStep), ep.Seed, ep.Path, ep.RecordedAt)
		}
		flushIfNeeded()
	}

	commit()
}
