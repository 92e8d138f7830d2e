package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"echofield.ai/internal/persistence/indexdb"
	persistlog "echofield.ai/internal/persistence/log"
	"echofield.ai/internal/sim/field"
	"echofield.ai/internal/sim/tuning"
)

func TestRunQuery_ReadsIndex(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index", "field.sqlite")
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = idx.UpsertTuning("", tuning.Defaults())

	f, err := field.New(field.FieldConfig{Size: 3, BaseThreshold: 6, EchoDepth: 2, Workers: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.SetStepLogger(idx)
	f.SetEventLogger(idx)
	if _, _, err := f.StepOnce([]field.RecordedInjection{{Total: 50, Positions: []field.Pos{{0, 0, 0}}}}, nil); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	if _, _, err := f.StepOnce(nil, []field.RecordedIntervention{{Position: field.Pos{1, 1, 1}, Energy: 9}}); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	if err := runQuery(db, &buf, "steps", queryOpts{Limit: 10}); err != nil {
		t.Fatalf("steps: %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Fatalf("steps lines=%d:\n%s", lines, buf.String())
	}

	buf.Reset()
	if err := runQuery(db, &buf, "events", queryOpts{Limit: 10, EventType: string(field.EventCatastrophicIntervention)}); err != nil {
		t.Fatalf("events: %v", err)
	}
	var ev struct {
		Step   int64 `json:"step"`
		Energy int64 `json:"energy"`
		X      struct {
			Int64 int64
			Valid bool
		} `json:"x"`
	}
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if ev.Step != 1 || ev.Energy != 9 || !ev.X.Valid || ev.X.Int64 != 1 {
		t.Fatalf("event=%+v", ev)
	}

	buf.Reset()
	if err := runQuery(db, &buf, "hierarchy", queryOpts{SinceStep: 2, Limit: 10}); err != nil {
		t.Fatalf("hierarchy: %v", err)
	}
	if !strings.Contains(buf.String(), `"step":2`) {
		t.Fatalf("hierarchy=%s", buf.String())
	}

	buf.Reset()
	if err := runQuery(db, &buf, "tuning", queryOpts{}); err != nil {
		t.Fatalf("tuning: %v", err)
	}
	if !strings.Contains(buf.String(), `"name":"tuning"`) {
		t.Fatalf("tuning=%s", buf.String())
	}

	if err := runQuery(db, &buf, "agents", queryOpts{}); err == nil {
		t.Fatalf("expected unknown query error")
	}
}

func TestReadEvents_Filters(t *testing.T) {
	fieldDir := t.TempDir()
	logger := persistlog.NewEventLogger(fieldDir)

	f, err := field.New(field.FieldConfig{Size: 4, BaseThreshold: 6, Workers: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.SetEventLogger(logger)
	if _, err := f.InjectEnergy(30, []field.Pos{{0, 0, 0}}); err != nil {
		t.Fatalf("inject: %v", err)
	}
	if _, _, err := f.StepOnce(nil, []field.RecordedIntervention{{Position: field.Pos{3, 3, 3}, Energy: 5}}); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	if _, _, err := f.StepOnce(nil, []field.RecordedIntervention{{Position: field.Pos{1, 1, 1}, Energy: 5}}); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	all, err := readEvents(fieldDir, eventFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("all=%d err=%v", len(all), err)
	}

	min, max, err := parseBox("2,2,2:3,3,3")
	if err != nil {
		t.Fatalf("parseBox: %v", err)
	}
	boxed, err := readEvents(fieldDir, eventFilter{Box: &[2][3]int{min, max}})
	if err != nil || len(boxed) != 1 || boxed[0].Intervention == nil || boxed[0].Step != 0 {
		t.Fatalf("boxed=%+v err=%v", boxed, err)
	}

	late, err := readEvents(fieldDir, eventFilter{Since: 1})
	if err != nil || len(late) != 1 || late[0].Intervention.Position != (field.Pos{1, 1, 1}) {
		t.Fatalf("late=%+v err=%v", late, err)
	}
}

func TestParseBox_Normalizes(t *testing.T) {
	min, max, err := parseBox("5,0,9:1,4,2")
	if err != nil {
		t.Fatalf("parseBox: %v", err)
	}
	if min != [3]int{1, 0, 2} || max != [3]int{5, 4, 9} {
		t.Fatalf("min=%v max=%v", min, max)
	}
	if _, _, err := parseBox("1,2,3"); err == nil {
		t.Fatalf("expected error")
	}
}
