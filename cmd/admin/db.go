package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	fieldID := fs.String("field", "", "field id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	sinceStep := fs.Uint64("since_step", 0, "first step (steps, hierarchy, events)")
	limit := fs.Int("limit", 20, "result limit")
	eventType := fs.String("type", "", "event type filter (events)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*fieldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -field or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "fields", *fieldID, "index", "field.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	if err := runQuery(db, os.Stdout, q, queryOpts{SinceStep: *sinceStep, Limit: *limit, EventType: strings.TrimSpace(*eventType)}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-field FIELD|-db PATH] [-since_step S] [-limit N] snapshots|epochs|steps|hierarchy|events|tuning")
		os.Exit(2)
	}
}

type queryOpts struct {
	SinceStep uint64
	Limit     int
	EventType string
}

func runQuery(db *sql.DB, w io.Writer, q string, o queryOpts) error {
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT step,path,seed,size,echo_len,events,history FROM snapshots ORDER BY step DESC LIMIT ?`, o.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Step    int64  `json:"step"`
				Path    string `json:"path"`
				Seed    int64  `json:"seed"`
				Size    int    `json:"size"`
				EchoLen int    `json:"echo_len"`
				Events  int    `json:"events"`
				History int    `json:"history"`
			}
			if err := rows.Scan(&r.Step, &r.Path, &r.Seed, &r.Size, &r.EchoLen, &r.Events, &r.History); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSONTo(w, r)
		}
		return rows.Err()

	case "epochs":
		rows, err := db.Query(`SELECT epoch,end_step,seed,snapshot_path,recorded_at FROM epochs ORDER BY epoch DESC LIMIT ?`, o.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Epoch      int    `json:"epoch"`
				EndStep    int64  `json:"end_step"`
				Seed       int64  `json:"seed"`
				Snapshot   string `json:"snapshot_path"`
				RecordedAt string `json:"recorded_at"`
			}
			if err := rows.Scan(&r.Epoch, &r.EndStep, &r.Seed, &r.Snapshot, &r.RecordedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSONTo(w, r)
		}
		return rows.Err()

	case "steps":
		rows, err := db.Query(`SELECT step,digest,injections,interventions,redistributions,shared FROM steps WHERE step>=? ORDER BY step LIMIT ?`, o.SinceStep, o.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Step            int64  `json:"step"`
				Digest          string `json:"digest"`
				Injections      int    `json:"injections"`
				Interventions   int    `json:"interventions"`
				Redistributions int    `json:"redistributions"`
				Shared          int64  `json:"shared"`
			}
			if err := rows.Scan(&r.Step, &r.Digest, &r.Injections, &r.Interventions, &r.Redistributions, &r.Shared); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSONTo(w, r)
		}
		return rows.Err()

	case "hierarchy":
		rows, err := db.Query(`SELECT step,gini,top_10_share,max_privilege,active_sites FROM hierarchy WHERE step>=? ORDER BY step LIMIT ?`, o.SinceStep, o.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Step         int64   `json:"step"`
				Gini         float64 `json:"gini"`
				Top10Share   float64 `json:"top_10_share"`
				MaxPrivilege float64 `json:"max_privilege"`
				ActiveSites  int     `json:"active_sites"`
			}
			if err := rows.Scan(&r.Step, &r.Gini, &r.Top10Share, &r.MaxPrivilege, &r.ActiveSites); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSONTo(w, r)
		}
		return rows.Err()

	case "events":
		query := `SELECT seq,step,type,energy,sites,x,y,z,privilege_before,threshold_before FROM events WHERE step>=? ORDER BY seq LIMIT ?`
		args := []any{o.SinceStep, o.Limit}
		if o.EventType != "" {
			query = `SELECT seq,step,type,energy,sites,x,y,z,privilege_before,threshold_before FROM events WHERE step>=? AND type=? ORDER BY seq LIMIT ?`
			args = []any{o.SinceStep, o.EventType, o.Limit}
		}
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq             int64           `json:"seq"`
				Step            int64           `json:"step"`
				Type            string          `json:"type"`
				Energy          int64           `json:"energy"`
				Sites           int             `json:"sites"`
				X               sql.NullInt64   `json:"x"`
				Y               sql.NullInt64   `json:"y"`
				Z               sql.NullInt64   `json:"z"`
				PrivilegeBefore sql.NullFloat64 `json:"privilege_before"`
				ThresholdBefore sql.NullFloat64 `json:"threshold_before"`
			}
			if err := rows.Scan(&r.Seq, &r.Step, &r.Type, &r.Energy, &r.Sites, &r.X, &r.Y, &r.Z, &r.PrivilegeBefore, &r.ThresholdBefore); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSONTo(w, r)
		}
		return rows.Err()

	case "tuning":
		rows, err := db.Query(`SELECT name,digest,json,updated_at FROM tuning ORDER BY name`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string          `json:"name"`
				Digest    string          `json:"digest"`
				JSON      json.RawMessage `json:"json"`
				UpdatedAt string          `json:"updated_at"`
			}
			var raw string
			if err := rows.Scan(&r.Name, &r.Digest, &raw, &r.UpdatedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.JSON = json.RawMessage(raw)
			printJSONTo(w, r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query: %s", q)
	}
}

func printJSON(v any) { printJSONTo(os.Stdout, v) }

func printJSONTo(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
