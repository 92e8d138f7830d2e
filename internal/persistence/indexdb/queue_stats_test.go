package indexdb

import (
	"testing"

	"echofield.ai/internal/persistence/snapshot"
	"echofield.ai/internal/sim/field"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqStep, step: field.StepLogEntry{Step: 1}}

	_ = s.WriteStep(field.StepLogEntry{Step: 2})
	_ = s.WriteEvent(field.GovernanceEvent{Seq: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})
	s.RecordEpoch(1, 2, "/tmp/2.snap.zst", 42)

	st := s.Stats()
	if st.DropStepTotal != 1 {
		t.Fatalf("DropStepTotal=%d want=1", st.DropStepTotal)
	}
	if st.DropEventTotal != 1 {
		t.Fatalf("DropEventTotal=%d want=1", st.DropEventTotal)
	}
	if st.DropSnapshotTotal != 1 {
		t.Fatalf("DropSnapshotTotal=%d want=1", st.DropSnapshotTotal)
	}
	if st.DropEpochTotal != 1 {
		t.Fatalf("DropEpochTotal=%d want=1", st.DropEpochTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilAndInvalidAreNoops(t *testing.T) {
	var s *SQLiteIndex
	if err := s.WriteStep(field.StepLogEntry{}); err != nil {
		t.Fatalf("nil WriteStep: %v", err)
	}
	s.RecordSnapshot("x", snapshot.SnapshotV1{})
	if s.Stats() != (Stats{}) {
		t.Fatalf("nil stats not zero")
	}

	idx := &SQLiteIndex{ch: make(chan req, 4)}
	idx.RecordEpoch(0, 10, "x", 1)
	idx.RecordEpoch(1, 10, "", 1)
	if len(idx.ch) != 0 {
		t.Fatalf("invalid epoch rows were queued")
	}
}
