package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	FieldID string `json:"field_id"`
	Step    uint64 `json:"step"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Size           int     `json:"size"`
	BaseThreshold  float64 `json:"base_threshold"`
	EchoDepth      int     `json:"echo_depth"`
	EchoInfluence  float64 `json:"echo_influence"`
	ThresholdDecay float64 `json:"threshold_decay"`
	Seed           int64   `json:"seed"`

	// Operational parameters (captured for resume).
	StepRateHz         int `json:"step_rate_hz,omitempty"`
	SnapshotEverySteps int `json:"snapshot_every_steps,omitempty"`

	// Energy is RLE-encoded in lattice index order ((x*N+y)*N+z).
	Energy string  `json:"energy"`
	Sites  SitesV1 `json:"sites"`

	// Echo holds the buffered snapshots oldest first, each RLE-encoded.
	Echo []string `json:"echo"`

	History []HierarchyEntryV1 `json:"history"`
	Events  []EventV1          `json:"events"`

	Counters CountersV1 `json:"counters"`
}

// SitesV1 stores per-site records as parallel arrays in lattice index order.
type SitesV1 struct {
	EchoMemory    []float64 `json:"echo_memory"`
	Threshold     []float64 `json:"threshold"`
	Seniority     []int     `json:"seniority"`
	TotalShared   []int64   `json:"total_shared"`
	TotalReceived []int64   `json:"total_received"`
}

type HierarchyEntryV1 struct {
	Step         uint64  `json:"step"`
	Gini         float64 `json:"gini"`
	Top10Share   float64 `json:"top_10_share"`
	MaxPrivilege float64 `json:"max_privilege"`
	ActiveSites  int     `json:"active_sites"`
}

type EventV1 struct {
	Seq  uint64 `json:"seq"`
	Step uint64 `json:"step"`
	Type string `json:"type"`

	// injection
	Total     int64    `json:"total,omitempty"`
	Positions [][3]int `json:"positions,omitempty"`
	Random    bool     `json:"random,omitempty"`

	// catastrophic_intervention
	Position        [3]int  `json:"position,omitempty"`
	Energy          int64   `json:"energy,omitempty"`
	PrivilegeBefore float64 `json:"privilege_before,omitempty"`
	ThresholdBefore float64 `json:"threshold_before,omitempty"`
	PrivilegeAfter  float64 `json:"privilege_after,omitempty"`
}

type CountersV1 struct {
	NextEvent uint64 `json:"next_event"`
	RandDraws uint64 `json:"rand_draws"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is informational; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader reads only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
