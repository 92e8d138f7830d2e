package field

import "testing"

func newTestField(t *testing.T, mut func(*FieldConfig)) *Field {
	t.Helper()
	cfg := FieldConfig{
		ID:            "test",
		Size:          4,
		BaseThreshold: 6,
		EchoDepth:     5,
		EchoInfluence: 0,
		Seed:          42,
		Workers:       1,
	}
	if mut != nil {
		mut(&cfg)
	}
	f, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func mustInject(t *testing.T, f *Field, total int64, positions ...Pos) []Pos {
	t.Helper()
	var ps []Pos
	if len(positions) > 0 {
		ps = positions
	}
	used, err := f.InjectEnergy(total, ps)
	if err != nil {
		t.Fatalf("InjectEnergy(%d): %v", total, err)
	}
	return used
}

func mustEvolve(t *testing.T, f *Field, steps int) {
	t.Helper()
	for i := 0; i < steps; i++ {
		if _, err := f.Evolve(); err != nil {
			t.Fatalf("Evolve step %d: %v", f.CurrentStep(), err)
		}
	}
}

func energyAt(t *testing.T, f *Field, p Pos) int64 {
	t.Helper()
	st, err := f.Site(p)
	if err != nil {
		t.Fatalf("Site(%v): %v", p, err)
	}
	return st.Energy
}

type captureLog struct {
	steps  []StepLogEntry
	events []GovernanceEvent
}

func (c *captureLog) WriteStep(e StepLogEntry) error {
	c.steps = append(c.steps, e)
	return nil
}

func (c *captureLog) WriteEvent(e GovernanceEvent) error {
	c.events = append(c.events, e)
	return nil
}
