package snapshot

import (
	"path/filepath"
	"testing"
)

func TestWriteReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "7.snap.zst")
	in := SnapshotV1{
		Header:        Header{Version: 1, FieldID: "f1", Step: 7},
		Size:          2,
		BaseThreshold: 6,
		EchoDepth:     3,
		Seed:          42,
		Energy:        "AAA=",
		Sites: SitesV1{
			Seniority:     []int{1, 0, 0, 0, 0, 0, 0, 2},
			TotalReceived: []int64{100, 0, 0, 0, 0, 0, 0, 5},
		},
		Events: []EventV1{
			{Seq: 0, Step: 0, Type: "injection", Total: 100, Positions: [][3]int{{0, 0, 0}}},
		},
		Counters: CountersV1{NextEvent: 1, RandDraws: 3},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Step != 7 || h.FieldID != "f1" {
		t.Fatalf("header=%+v", h)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Size != 2 || out.Seed != 42 || out.Counters.RandDraws != 3 {
		t.Fatalf("snapshot fields lost: %+v", out)
	}
	if len(out.Events) != 1 || out.Events[0].Positions[0] != [3]int{0, 0, 0} {
		t.Fatalf("events lost: %+v", out.Events)
	}
	if out.Sites.Seniority[7] != 2 || out.Sites.TotalReceived[0] != 100 {
		t.Fatalf("sites lost: %+v", out.Sites)
	}
}
