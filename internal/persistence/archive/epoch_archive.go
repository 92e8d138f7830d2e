package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"echofield.ai/internal/persistence/snapshot"
)

type EpochArchiveMeta struct {
	Epoch       int     `json:"epoch"`
	EndStep     uint64  `json:"end_step"`
	Seed        int64   `json:"seed"`
	Snapshot    string  `json:"snapshot"`
	CreatedAt   string  `json:"created_at"`
	EpochSteps  int     `json:"epoch_length_steps"`
	Size        int     `json:"size"`
	Events      int     `json:"events"`
	Gini        float64 `json:"gini"`
	Top10Share  float64 `json:"top_10_share"`
	ActiveSites int     `json:"active_sites"`
}

// ArchiveEpochSnapshot copies an epoch-end snapshot into `fieldDir/archives/epoch_<NNN>/`.
// It returns (epoch, archivedPath, archived=true) when the snapshot represents an epoch end.
func ArchiveEpochSnapshot(fieldDir, snapshotPath string, snap snapshot.SnapshotV1, epochSteps int) (epoch int, archivedPath string, archived bool, err error) {
	if epochSteps <= 0 {
		return 0, "", false, nil
	}
	// Snapshots carry the number of completed steps, so epoch ends are exact multiples.
	n := uint64(epochSteps)
	if snap.Header.Step == 0 || snap.Header.Step%n != 0 {
		return 0, "", false, nil
	}
	epoch = int(snap.Header.Step / n)

	archiveDir := filepath.Join(fieldDir, "archives", fmt.Sprintf("epoch_%03d", epoch))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := EpochArchiveMeta{
		Epoch:      epoch,
		EndStep:    snap.Header.Step,
		Seed:       snap.Seed,
		Snapshot:   filepath.Base(dst),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		EpochSteps: epochSteps,
		Size:       snap.Size,
		Events:     len(snap.Events),
	}
	if k := len(snap.History); k > 0 {
		last := snap.History[k-1]
		meta.Gini = last.Gini
		meta.Top10Share = last.Top10Share
		meta.ActiveSites = last.ActiveSites
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return epoch, dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
