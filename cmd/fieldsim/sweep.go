package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"echofield.ai/internal/sim/tuning"
)

type sweepRow struct {
	EchoInfluence  float64 `json:"echo_influence"`
	ThresholdDecay float64 `json:"threshold_decay"`
	Gini           float64 `json:"gini"`
	Top10Share     float64 `json:"top_10_share"`
	MaxPrivilege   float64 `json:"max_privilege"`
	ActiveSites    int     `json:"active_sites"`
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Final inequality across echo_influence and threshold_decay values",
		Long: `sweep runs one field per (echo_influence, threshold_decay) pair with the
same seed and injection and prints the final inequality of each.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tune, err := loadTuning(cmd)
			if err != nil {
				return err
			}
			steps, _ := cmd.Flags().GetInt("steps")
			inject, _ := cmd.Flags().GetInt64("inject")
			influences, _ := cmd.Flags().GetFloat64Slice("influence")
			decays, _ := cmd.Flags().GetFloat64Slice("decay")
			if steps <= 0 {
				return fmt.Errorf("--steps must be > 0")
			}
			rows, err := sweep(cmd, tune, steps, inject, influences, decays)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().Int("steps", 500, "steps per run")
	cmd.Flags().Int64("inject", 1000, "packets injected at random before the first step")
	cmd.Flags().Float64Slice("influence", []float64{0, 0.5, 1, 2}, "echo_influence values")
	cmd.Flags().Float64Slice("decay", []float64{0}, "threshold_decay values")
	return cmd
}

func sweep(cmd *cobra.Command, base tuning.Tuning, steps int, inject int64, influences, decays []float64) ([]sweepRow, error) {
	rows := make([]sweepRow, 0, len(influences)*len(decays))
	for _, inf := range influences {
		for _, dec := range decays {
			tune := base
			tune.Field.EchoInfluence = inf
			tune.Field.ThresholdDecay = dec
			if err := tune.Validate(); err != nil {
				return nil, fmt.Errorf("influence=%v decay=%v: %w", inf, dec, err)
			}
			f, err := newField(cmd, tune)
			if err != nil {
				return nil, err
			}
			res, err := simulate(f, tune, simOptions{Steps: steps, Inject: inject, InterveneAt: -1})
			if err != nil {
				return nil, fmt.Errorf("influence=%v decay=%v: %w", inf, dec, err)
			}
			row := sweepRow{EchoInfluence: inf, ThresholdDecay: dec}
			if e := res.Final.Inequality; e != nil {
				row.Gini = e.Gini
				row.Top10Share = e.Top10Share
				row.MaxPrivilege = e.MaxPrivilege
				row.ActiveSites = e.ActiveSites
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}
