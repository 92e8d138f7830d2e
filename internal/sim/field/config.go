package field

import (
	"errors"
	"fmt"
	"log"
)

var (
	ErrInvalidConfig   = errors.New("invalid field config")
	ErrInvalidPosition = errors.New("invalid position")
	ErrInvalidAmount   = errors.New("invalid energy amount")
	ErrNoPositions     = errors.New("no injection positions")
	ErrEnergyOverflow  = errors.New("energy counter overflow")
)

type FieldConfig struct {
	ID string

	// Rule parameters.
	Size           int
	BaseThreshold  float64
	EchoDepth      int
	EchoInfluence  float64
	ThresholdDecay float64
	Seed           int64

	// Operational parameters. These do not change step results.
	StepRateHz         int
	SnapshotEverySteps int
	StatsBucketSteps   int
	StatsWindowSteps   int
	Workers            int

	// Rand drives default injection placement. Nil means a HashSource seeded
	// from Seed.
	Rand RandSource

	// Logger is optional; nil disables operational logging.
	Logger *log.Logger
}

// RandSource is the random source used for default injection placement.
type RandSource interface {
	Intn(n int) int
}

func (c FieldConfig) validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size must be > 0 (got %d)", ErrInvalidConfig, c.Size)
	}
	if c.BaseThreshold <= 0 {
		return fmt.Errorf("%w: base_threshold must be > 0 (got %v)", ErrInvalidConfig, c.BaseThreshold)
	}
	if c.EchoDepth < 0 {
		return fmt.Errorf("%w: echo_depth must be >= 0 (got %d)", ErrInvalidConfig, c.EchoDepth)
	}
	if c.ThresholdDecay < 0 {
		return fmt.Errorf("%w: threshold_decay must be >= 0 (got %v)", ErrInvalidConfig, c.ThresholdDecay)
	}
	// Guard N^3 against int overflow on 32-bit platforms.
	if c.Size > 1290 {
		return fmt.Errorf("%w: size %d too large", ErrInvalidConfig, c.Size)
	}
	return nil
}

func (c *FieldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "field_1"
	}
	if c.StepRateHz <= 0 {
		c.StepRateHz = 5
	}
	if c.StatsBucketSteps <= 0 {
		c.StatsBucketSteps = 50
	}
	if c.StatsWindowSteps <= 0 {
		c.StatsWindowSteps = 1000
	}
}
