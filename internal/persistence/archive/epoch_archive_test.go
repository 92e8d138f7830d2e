package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"echofield.ai/internal/persistence/snapshot"
)

func TestArchiveEpochSnapshot_CopiesEpochEndSnapshot(t *testing.T) {
	dir := t.TempDir()
	fieldDir := filepath.Join(dir, "fields", "f1")

	// Create a dummy snapshot file.
	src := filepath.Join(fieldDir, "snapshots", "6.snap.zst")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir snapshots: %v", err)
	}
	want := []byte("dummy")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	snap := snapshot.SnapshotV1{
		Header:  snapshot.Header{Version: 1, FieldID: "f1", Step: 6},
		Seed:    42,
		Size:    4,
		History: []snapshot.HierarchyEntryV1{{Step: 6, Gini: 0.4, Top10Share: 0.3, ActiveSites: 12}},
	}

	epoch, archivedPath, ok, err := ArchiveEpochSnapshot(fieldDir, src, snap, 3)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !ok || epoch != 2 {
		t.Fatalf("archived=%v epoch=%d want true/2", ok, epoch)
	}

	got, err := os.ReadFile(archivedPath)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("archived content mismatch: got=%q want=%q", string(got), string(want))
	}

	b, err := os.ReadFile(filepath.Join(filepath.Dir(archivedPath), "meta.json"))
	if err != nil {
		t.Fatalf("expected meta.json to exist: %v", err)
	}
	var meta EpochArchiveMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.Epoch != 2 || meta.EndStep != 6 || meta.Gini != 0.4 || meta.ActiveSites != 12 {
		t.Fatalf("meta=%+v", meta)
	}
}

func TestArchiveEpochSnapshot_SkipsMidEpoch(t *testing.T) {
	for _, step := range []uint64{0, 4, 7} {
		snap := snapshot.SnapshotV1{Header: snapshot.Header{Version: 1, Step: step}}
		_, _, ok, err := ArchiveEpochSnapshot(t.TempDir(), "unused", snap, 3)
		if err != nil || ok {
			t.Fatalf("step %d: archived=%v err=%v", step, ok, err)
		}
	}
	snap := snapshot.SnapshotV1{Header: snapshot.Header{Version: 1, Step: 3}}
	if _, _, ok, _ := ArchiveEpochSnapshot(t.TempDir(), "unused", snap, 0); ok {
		t.Fatalf("archived with epochs disabled")
	}
}
