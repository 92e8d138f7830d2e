package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	persistlog "echofield.ai/internal/persistence/log"
	"echofield.ai/internal/persistence/snapshot"
	"echofield.ai/internal/sim/encoding"
	"echofield.ai/internal/sim/field"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "report":
			reportCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	fieldID := fs.String("field", "", "field id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "fields")
	if *fieldID != "" {
		base = filepath.Join(base, *fieldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// eventsCmd prints governance events from the JSONL logs, optionally limited
// to a step range and a box of intervention positions.
func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	fieldID := fs.String("field", "", "field id")
	box := fs.String("box", "", "position filter: x1,y1,z1:x2,y2,z2 (optional)")
	sinceStep := fs.Uint64("since_step", 0, "first step (inclusive)")
	toStep := fs.Uint64("to_step", 0, "last step (inclusive, optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*fieldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -field")
		os.Exit(2)
	}
	f := eventFilter{Since: *sinceStep, To: *toStep}
	if strings.TrimSpace(*box) != "" {
		min, max, err := parseBox(*box)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -box:", err)
			os.Exit(2)
		}
		f.Box = &[2][3]int{min, max}
	}

	fieldDir := filepath.Join(*dataDir, "fields", *fieldID)
	evs, err := readEvents(fieldDir, f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}
	for _, ev := range evs {
		printJSON(ev)
	}
}

type eventFilter struct {
	Since uint64
	To    uint64
	Box   *[2][3]int
}

func (f eventFilter) match(ev field.GovernanceEvent) bool {
	if ev.Step < f.Since || (f.To != 0 && ev.Step > f.To) {
		return false
	}
	if f.Box == nil {
		return true
	}
	switch {
	case ev.Intervention != nil:
		return withinBox(ev.Intervention.Position, f.Box[0], f.Box[1])
	case ev.Injection != nil:
		for _, p := range ev.Injection.Positions {
			if withinBox(p, f.Box[0], f.Box[1]) {
				return true
			}
		}
	}
	return false
}

func readEvents(fieldDir string, f eventFilter) ([]field.GovernanceEvent, error) {
	files, err := persistlog.ListFiles(filepath.Join(fieldDir, "governance"), "governance")
	if err != nil {
		return nil, err
	}
	out := make([]field.GovernanceEvent, 0, 64)
	for _, path := range files {
		err := persistlog.ScanFile(path, func(line []byte) error {
			var ev field.GovernanceEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			if f.match(ev) {
				out = append(out, ev)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// inspectCmd summarizes a snapshot file without starting a field.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	fieldID := fs.String("field", "", "field id (used to find the latest snapshot)")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*fieldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -field or -snapshot")
			os.Exit(2)
		}
		path = latestSnapshot(filepath.Join(*dataDir, "fields", *fieldID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	sum, err := summarize(snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "summarize:", err)
		os.Exit(1)
	}
	sum.Path = path
	printJSON(sum)
}

type snapshotSummary struct {
	Path           string                     `json:"path"`
	FieldID        string                     `json:"field_id"`
	Step           uint64                     `json:"step"`
	Size           int                        `json:"size"`
	Seed           int64                      `json:"seed"`
	TotalEnergy    int64                      `json:"total_energy"`
	OccupiedSites  int                        `json:"occupied_sites"`
	EchoLen        int                        `json:"echo_len"`
	Events         int                        `json:"events"`
	LastHierarchy  *snapshot.HierarchyEntryV1 `json:"last_hierarchy,omitempty"`
	MaxSeniority   int                        `json:"max_seniority"`
	MaxTotalShared int64                      `json:"max_total_shared"`
}

func summarize(snap snapshot.SnapshotV1) (snapshotSummary, error) {
	n := snap.Size * snap.Size * snap.Size
	energy, err := encoding.DecodeRLE(snap.Energy, n)
	if err != nil {
		return snapshotSummary{}, err
	}
	s := snapshotSummary{
		FieldID: snap.Header.FieldID,
		Step:    snap.Header.Step,
		Size:    snap.Size,
		Seed:    snap.Seed,
		EchoLen: len(snap.Echo),
		Events:  len(snap.Events),
	}
	for _, e := range energy {
		s.TotalEnergy += e
		if e > 0 {
			s.OccupiedSites++
		}
	}
	for _, v := range snap.Sites.Seniority {
		if v > s.MaxSeniority {
			s.MaxSeniority = v
		}
	}
	for _, v := range snap.Sites.TotalShared {
		if v > s.MaxTotalShared {
			s.MaxTotalShared = v
		}
	}
	if k := len(snap.History); k > 0 {
		last := snap.History[k-1]
		s.LastHierarchy = &last
	}
	return s, nil
}

func withinBox(pos, min, max [3]int) bool {
	return pos[0] >= min[0] && pos[0] <= max[0] &&
		pos[1] >= min[1] && pos[1] <= max[1] &&
		pos[2] >= min[2] && pos[2] <= max[2]
}

func parseBox(s string) (min, max [3]int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return min, max, err
	}
	for i := 0; i < 3; i++ {
		if a[i] <= b[i] {
			min[i], max[i] = a[i], b[i]
		} else {
			min[i], max[i] = b[i], a[i]
		}
	}
	return min, max, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
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
		step, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
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
