package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"echofield.ai/internal/persistence/indexdb"
	"echofield.ai/internal/persistence/snapshot"
	"echofield.ai/internal/sim/field"
	"echofield.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	field.StepLogger
	field.EventLogger
	Close() error
	Stats() indexdb.Stats
	UpsertTuning(tuningPath string, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecordEpoch(epoch int, endStep uint64, archivedSnapshotPath string, seed int64)
}

func openRuntimeIndex(fieldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("EF_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(fieldDir, "index", "field.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported EF_INDEX_BACKEND: %s", backend)
	}
}

type multiStepLogger struct {
	a field.StepLogger
	b field.StepLogger
}

func (m multiStepLogger) WriteStep(entry field.StepLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteStep(entry)
	}
	if m.b != nil {
		_ = m.b.WriteStep(entry)
	}
	return nil
}

type multiEventLogger struct {
	a field.EventLogger
	b field.EventLogger
}

func (m multiEventLogger) WriteEvent(ev field.GovernanceEvent) error {
	if m.a != nil {
		_ = m.a.WriteEvent(ev)
	}
	if m.b != nil {
		_ = m.b.WriteEvent(ev)
	}
	return nil
}
