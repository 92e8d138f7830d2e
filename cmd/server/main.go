package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"echofield.ai/internal/persistence/archive"
	persistlog "echofield.ai/internal/persistence/log"
	"echofield.ai/internal/persistence/snapshot"
	"echofield.ai/internal/sim/field"
	"echofield.ai/internal/sim/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		fieldID    = flag.String("field", "field_1", "field id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		seed       = flag.Int64("seed", 0, "override field seed (fresh fields only; 0 keeps tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	fieldLogger := log.New(os.Stdout, "[field] ", log.LstdFlags|log.Lmicroseconds)

	fieldDir := filepath.Join(*dataDir, "fields", *fieldID)
	_ = os.MkdirAll(fieldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(fieldDir)
	}

	// Tuning is required for a fresh field; a resume takes rule parameters from the snapshot.
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" || !os.IsNotExist(tuneErr) {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Field.Seed = *seed
	}

	idx, err := openRuntimeIndex(fieldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tp, tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	cfg := fieldConfig(*fieldID, tune, fieldLogger)
	var f *field.Field
	fresh := snapshotToLoad == ""
	if fresh {
		f, err = field.New(cfg)
		if err != nil {
			logger.Fatalf("field: %v", err)
		}
	} else {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.FieldID != "" && snap.Header.FieldID != *fieldID {
			logger.Fatalf("snapshot field id mismatch: flag=%s snap=%s", *fieldID, snap.Header.FieldID)
		}
		f, err = field.ImportSnapshot(cfg, snap)
		if err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s step=%d", filepath.Base(snapshotToLoad), f.CurrentStep())
	}

	ctx, cancel := signalContext()
	defer cancel()

	stepLog := persistlog.NewStepLogger(fieldDir)
	eventLog := persistlog.NewEventLogger(fieldDir)
	defer stepLog.Close()
	defer eventLog.Close()
	f.SetStepLogger(multiStepLogger{a: stepLog, b: idx})
	f.SetEventLogger(multiEventLogger{a: eventLog, b: idx})

	snapCh := make(chan snapshot.SnapshotV1, 2)
	f.SetSnapshotSink(snapCh)
	go runSnapshotWriter(ctx, fieldDir, tune.EpochLengthSteps, snapCh, idx, logger)

	runErr := make(chan error, 1)
	go func() {
		err := f.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("field stopped: %v", err)
		}
		runErr <- err
	}()

	if fresh && tune.InitialInjection.TotalPackets > 0 {
		go initialInjection(ctx, f, tune.InitialInjection, logger)
	}

	mux, err := newMux(muxConfig{
		Field:        f,
		Index:        idx,
		TuningDigest: tune.Digest(),
		EnableAdmin:  envBool("EF_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		EnablePprof:  envBool("EF_ENABLE_PPROF_HTTP", false),
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("routes: %v", err)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-runErr:
			// The field cannot continue (e.g. energy overflow); stop serving.
			cancel()
		}
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func fieldConfig(id string, tune tuning.Tuning, logger *log.Logger) field.FieldConfig {
	return field.FieldConfig{
		ID:                 id,
		Size:               tune.Field.Size,
		BaseThreshold:      tune.Field.BaseThreshold,
		EchoDepth:          tune.Field.EchoDepth,
		EchoInfluence:      tune.Field.EchoInfluence,
		ThresholdDecay:     tune.Field.ThresholdDecay,
		Seed:               tune.Field.Seed,
		StepRateHz:         tune.StepRateHz,
		SnapshotEverySteps: tune.SnapshotEverySteps,
		StatsBucketSteps:   tune.StatsBucketSteps,
		StatsWindowSteps:   tune.StatsWindowSteps,
		Workers:            tune.Workers,
		Logger:             logger,
	}
}

// initialInjection goes through the run loop so it lands in the step log and a
// replay from genesis reproduces it.
func initialInjection(ctx context.Context, f *field.Field, inj tuning.Injection, logger *log.Logger) {
	var positions []field.Pos
	for _, p := range inj.Positions {
		positions = append(positions, field.Pos(p))
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err := f.Inject(ctx2, inj.TotalPackets, positions)
	if err != nil {
		logger.Printf("initial injection: %v", err)
		return
	}
	logger.Printf("initial injection total=%d sites=%d step=%d", inj.TotalPackets, len(res.Positions), res.Step)
}

func runSnapshotWriter(ctx context.Context, fieldDir string, epochSteps int, snapCh <-chan snapshot.SnapshotV1, idx runtimeIndex, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapCh:
			path := filepath.Join(fieldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Step))
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			if idx != nil {
				idx.RecordSnapshot(path, snap)
			}
			epoch, archivedPath, ok, err := archive.ArchiveEpochSnapshot(fieldDir, path, snap, epochSteps)
			if err != nil {
				logger.Printf("archive epoch snapshot: %v", err)
				continue
			}
			if ok {
				logger.Printf("archived epoch=%d step=%d", epoch, snap.Header.Step)
				if idx != nil {
					idx.RecordEpoch(epoch, snap.Header.Step, archivedPath, snap.Seed)
				}
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(fieldDir string) string {
	dir := filepath.Join(fieldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestStep uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		step, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || step > bestStep {
			bestStep = step
			best = filepath.Join(dir, name)
		}
	}
	return best
}
