package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Field Field `yaml:"field"`

	StepRateHz         int `yaml:"step_rate_hz"`
	SnapshotEverySteps int `yaml:"snapshot_every_steps"`
	EpochLengthSteps   int `yaml:"epoch_length_steps"`
	StatsBucketSteps   int `yaml:"stats_bucket_steps"`
	StatsWindowSteps   int `yaml:"stats_window_steps"`
	Workers            int `yaml:"workers"`

	InitialInjection Injection `yaml:"initial_injection"`
}

// Field holds the rule parameters of the lattice.
type Field struct {
	Size           int     `yaml:"size"`
	BaseThreshold  float64 `yaml:"base_threshold"`
	EchoDepth      int     `yaml:"echo_depth"`
	EchoInfluence  float64 `yaml:"echo_influence"`
	ThresholdDecay float64 `yaml:"threshold_decay"`
	Seed           int64   `yaml:"seed"`
}

// Injection is applied once when a fresh field starts. Empty Positions means
// random placement.
type Injection struct {
	TotalPackets int64    `yaml:"total_packets"`
	Positions    [][3]int `yaml:"positions,omitempty"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "0.1",
		Field: Field{
			Size:           32,
			BaseThreshold:  6,
			EchoDepth:      20,
			EchoInfluence:  1.0,
			ThresholdDecay: 0,
			Seed:           42,
		},
		StepRateHz:         5,
		SnapshotEverySteps: 3000,
		EpochLengthSteps:   30000,
		StatsBucketSteps:   50,
		StatsWindowSteps:   1000,
		InitialInjection:   Injection{TotalPackets: 1000},
	}
}

// Load reads a tuning file on top of Defaults and validates the result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.Field.Size <= 0 {
		errs = append(errs, fmt.Errorf("field.size must be > 0 (got %d)", t.Field.Size))
	}
	if t.Field.BaseThreshold <= 0 {
		errs = append(errs, fmt.Errorf("field.base_threshold must be > 0 (got %v)", t.Field.BaseThreshold))
	}
	if t.Field.EchoDepth < 0 {
		errs = append(errs, fmt.Errorf("field.echo_depth must be >= 0 (got %d)", t.Field.EchoDepth))
	}
	if t.Field.ThresholdDecay < 0 {
		errs = append(errs, fmt.Errorf("field.threshold_decay must be >= 0 (got %v)", t.Field.ThresholdDecay))
	}
	if t.StepRateHz < 0 || t.SnapshotEverySteps < 0 || t.EpochLengthSteps < 0 || t.Workers < 0 {
		errs = append(errs, errors.New("operational parameters must be >= 0"))
	}
	if t.InitialInjection.TotalPackets < 0 {
		errs = append(errs, errors.New("initial_injection.total_packets must be >= 0"))
	}
	return errors.Join(errs...)
}

// Digest hashes the canonical YAML form of t so clients can tell two
// configurations apart.
func (t Tuning) Digest() string {
	b, err := yaml.Marshal(t)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
