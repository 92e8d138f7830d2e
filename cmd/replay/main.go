package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "echofield.ai/internal/persistence/log"
	"echofield.ai/internal/persistence/snapshot"
	"echofield.ai/internal/sim/field"
	"echofield.ai/internal/sim/tuning"
)

// errStop ends a scan early once to_step is passed.
var errStop = errors.New("stop")

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (optional; default replays from genesis)")
		eventsDir  = flag.String("events", "", "events dir containing steps-*.jsonl.zst")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "tuning.yaml for a genesis replay")
		fromStep   = flag.Uint64("from_step", 0, "start verifying from step (inclusive, optional)")
		toStep     = flag.Uint64("to_step", 0, "stop at step (inclusive, optional)")
		workers    = flag.Int("workers", 0, "parallel workers (results are identical for any value)")
	)
	flag.Parse()

	var f *field.Field
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d field=%s step=%d seed=%d size=%d echo=%d/%d history=%d events=%d\n",
			snap.Header.Version, snap.Header.FieldID, snap.Header.Step, snap.Seed, snap.Size,
			len(snap.Echo), snap.EchoDepth, len(snap.History), len(snap.Events))
		if *eventsDir == "" {
			return
		}
		f, err = field.ImportSnapshot(field.FieldConfig{Workers: *workers}, snap)
		if err != nil {
			fmt.Fprintln(os.Stderr, "import snapshot:", err)
			os.Exit(1)
		}
	} else {
		if *eventsDir == "" {
			fmt.Fprintln(os.Stderr, "missing -events")
			os.Exit(2)
		}
		tune, err := tuning.Load(*tuningPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		f, err = field.New(field.FieldConfig{
			Size:           tune.Field.Size,
			BaseThreshold:  tune.Field.BaseThreshold,
			EchoDepth:      tune.Field.EchoDepth,
			EchoInfluence:  tune.Field.EchoInfluence,
			ThresholdDecay: tune.Field.ThresholdDecay,
			Seed:           tune.Field.Seed,
			Workers:        *workers,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "field:", err)
			os.Exit(1)
		}
	}

	files, err := persistlog.ListFiles(*eventsDir, "steps")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no steps files found in", *eventsDir)
		os.Exit(1)
	}

	startStep := f.CurrentStep()
	checked, err := replay(f, files, *fromStep, *toStep)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d steps (from step=%d) total_energy=%d\n", checked, startStep, f.TotalEnergy())
}

// replay re-executes logged steps on f and compares digests for every step at
// or after verifyFrom. Entries before f's current step are skipped.
func replay(f *field.Field, files []string, verifyFrom, toStep uint64) (uint64, error) {
	var checked uint64
	for _, path := range files {
		err := persistlog.ScanFile(path, func(line []byte) error {
			var entry field.StepLogEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			if entry.Step < f.CurrentStep() {
				return nil
			}
			if toStep != 0 && entry.Step > toStep {
				return errStop
			}
			if entry.Step != f.CurrentStep() {
				return fmt.Errorf("step gap: want=%d got=%d (file=%s)", f.CurrentStep(), entry.Step, filepath.Base(path))
			}

			step, digest, err := f.StepOnce(entry.Injections, entry.Interventions)
			if err != nil {
				return fmt.Errorf("step %d: %w", entry.Step, err)
			}
			if step != entry.Step {
				return fmt.Errorf("internal step mismatch: stepped=%d entry=%d", step, entry.Step)
			}
			if step >= verifyFrom {
				checked++
				if digest != entry.Digest {
					return fmt.Errorf("digest mismatch at step %d: got=%s want=%s", step, digest, entry.Digest)
				}
			}
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return checked, err
		}
	}
	return checked, nil
}
