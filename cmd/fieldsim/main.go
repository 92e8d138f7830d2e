package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fieldsim",
		Short: "Headless echo field runs",
		Long: `fieldsim evolves an echo field without a server.

It injects energy, steps the lattice a fixed number of times and prints the
resulting hierarchy as JSON. Rule parameters come from a tuning file and can be
overridden per run.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("tuning", "", "tuning yaml (empty = built-in defaults)")
	rootCmd.PersistentFlags().Int("size", 0, "override lattice size")
	rootCmd.PersistentFlags().Int64("seed", 0, "override seed")
	rootCmd.PersistentFlags().Int("workers", 1, "step workers (0 = GOMAXPROCS)")

	rootCmd.AddCommand(
		newRunCmd(),
		newSweepCmd(),
	)
	return rootCmd
}
