package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	body := `
field:
  size: 8
  echo_influence: 2.0
step_rate_hz: 10
initial_injection:
  total_packets: 100
  positions: [[0,0,0],[1,2,3]]
`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tune, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tune.Field.Size != 8 || tune.Field.EchoInfluence != 2.0 {
		t.Fatalf("field not applied: %+v", tune.Field)
	}
	if tune.Field.BaseThreshold != 6 || tune.Field.EchoDepth != 20 || tune.Field.Seed != 42 {
		t.Fatalf("defaults lost: %+v", tune.Field)
	}
	if tune.StepRateHz != 10 {
		t.Fatalf("step_rate_hz=%d want 10", tune.StepRateHz)
	}
	if len(tune.InitialInjection.Positions) != 2 || tune.InitialInjection.Positions[1] != [3]int{1, 2, 3} {
		t.Fatalf("positions=%v", tune.InitialInjection.Positions)
	}
}

func TestLoad_RejectsInvalidField(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	body := "field:\n  size: 0\n  base_threshold: -1\n  echo_depth: -2\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(p)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"field.size", "field.base_threshold", "field.echo_depth"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestLoad_RepoConfig(t *testing.T) {
	tune, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load configs/tuning.yaml: %v", err)
	}
	if err := tune.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestDigest_TracksRuleChanges(t *testing.T) {
	a := Defaults()
	b := Defaults()
	if a.Digest() == "" || a.Digest() != b.Digest() {
		t.Fatalf("digest not stable")
	}
	b.Field.EchoInfluence = 2.5
	if a.Digest() == b.Digest() {
		t.Fatalf("digest ignored echo_influence change")
	}
}
