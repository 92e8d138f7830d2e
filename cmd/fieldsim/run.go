package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"echofield.ai/internal/sim/field"
	"echofield.ai/internal/sim/tuning"
)

type runResult struct {
	Params      tuning.Field            `json:"params"`
	Steps       int                     `json:"steps"`
	TotalEnergy int64                   `json:"total_energy"`
	Trajectory  []field.HierarchyEntry  `json:"trajectory"`
	Final       field.HierarchyReport   `json:"final"`
	Events      []field.GovernanceEvent `json:"events"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inject energy, evolve and print the hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			tune, err := loadTuning(cmd)
			if err != nil {
				return err
			}
			steps, _ := cmd.Flags().GetInt("steps")
			inject, _ := cmd.Flags().GetInt64("inject")
			every, _ := cmd.Flags().GetInt("report-every")
			interveneAt, _ := cmd.Flags().GetInt("intervene-at")
			interveneEnergy, _ := cmd.Flags().GetInt64("intervene-energy")
			if steps <= 0 {
				return fmt.Errorf("--steps must be > 0")
			}

			f, err := newField(cmd, tune)
			if err != nil {
				return err
			}
			res, err := simulate(f, tune, simOptions{
				Steps:           steps,
				Inject:          inject,
				ReportEvery:     every,
				InterveneAt:     interveneAt,
				InterveneEnergy: interveneEnergy,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Int("steps", 1000, "steps to evolve")
	cmd.Flags().Int64("inject", 1000, "packets injected at random before the first step (0 = use tuning initial_injection)")
	cmd.Flags().Int("report-every", 100, "sample the inequality trajectory every N steps")
	cmd.Flags().Int("intervene-at", -1, "hit the top site with a catastrophic intervention after this step (-1 = never)")
	cmd.Flags().Int64("intervene-energy", 500, "intervention energy")
	return cmd
}

type simOptions struct {
	Steps           int
	Inject          int64
	ReportEvery     int
	InterveneAt     int
	InterveneEnergy int64
}

func simulate(f *field.Field, tune tuning.Tuning, opt simOptions) (runResult, error) {
	total := opt.Inject
	var positions []field.Pos
	if total == 0 {
		total = tune.InitialInjection.TotalPackets
		for _, p := range tune.InitialInjection.Positions {
			positions = append(positions, field.Pos(p))
		}
	}
	if total > 0 {
		if _, err := f.InjectEnergy(total, positions); err != nil {
			return runResult{}, fmt.Errorf("inject: %w", err)
		}
	}

	res := runResult{Params: tune.Field, Steps: opt.Steps, Trajectory: []field.HierarchyEntry{}}
	for i := 1; i <= opt.Steps; i++ {
		if _, err := f.Evolve(); err != nil {
			return res, fmt.Errorf("step %d: %w", i, err)
		}
		if opt.ReportEvery > 0 && i%opt.ReportEvery == 0 {
			if e, ok := f.LatestHierarchy(); ok {
				res.Trajectory = append(res.Trajectory, e)
			}
		}
		if i == opt.InterveneAt {
			rep := f.HierarchyReport()
			if len(rep.TopSites) > 0 {
				if _, err := f.CatastrophicIntervention(rep.TopSites[0].Position, opt.InterveneEnergy); err != nil {
					return res, fmt.Errorf("intervention: %w", err)
				}
			}
		}
	}
	res.TotalEnergy = f.TotalEnergy()
	res.Final = f.HierarchyReport()
	res.Events = f.Events()
	return res, nil
}

func loadTuning(cmd *cobra.Command) (tuning.Tuning, error) {
	path, _ := cmd.Flags().GetString("tuning")
	tune := tuning.Defaults()
	if path != "" {
		var err error
		if tune, err = tuning.Load(path); err != nil {
			return tune, err
		}
	}
	if cmd.Flags().Changed("size") {
		tune.Field.Size, _ = cmd.Flags().GetInt("size")
	}
	if cmd.Flags().Changed("seed") {
		tune.Field.Seed, _ = cmd.Flags().GetInt64("seed")
	}
	return tune, tune.Validate()
}

func newField(cmd *cobra.Command, tune tuning.Tuning) (*field.Field, error) {
	workers, _ := cmd.Flags().GetInt("workers")
	return field.New(field.FieldConfig{
		ID:             "fieldsim",
		Size:           tune.Field.Size,
		BaseThreshold:  tune.Field.BaseThreshold,
		EchoDepth:      tune.Field.EchoDepth,
		EchoInfluence:  tune.Field.EchoInfluence,
		ThresholdDecay: tune.Field.ThresholdDecay,
		Seed:           tune.Field.Seed,
		Workers:        workers,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
