package field

import (
	"errors"
	"math"
	"testing"
)

func TestNew_InvalidConfig(t *testing.T) {
	cases := []FieldConfig{
		{Size: 0, BaseThreshold: 6},
		{Size: -2, BaseThreshold: 6},
		{Size: 4, BaseThreshold: 0},
		{Size: 4, BaseThreshold: 6, EchoDepth: -1},
		{Size: 4, BaseThreshold: 6, ThresholdDecay: -0.5},
	}
	for _, c := range cases {
		f, err := New(c)
		if !errors.Is(err, ErrInvalidConfig) || f != nil {
			t.Fatalf("New(%+v): f=%v err=%v", c, f, err)
		}
	}
}

func TestInjectEnergy_SplitsRemainderInOrder(t *testing.T) {
	f := newTestField(t, nil)
	ps := []Pos{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}}
	mustInject(t, f, 10, ps...)
	for i, want := range []int64{4, 3, 3} {
		if got := energyAt(t, f, ps[i]); got != want {
			t.Fatalf("pos %v: energy %d want %d", ps[i], got, want)
		}
	}
	st, _ := f.Site(ps[0])
	if st.TotalReceived != 4 {
		t.Fatalf("total_received=%d want 4", st.TotalReceived)
	}
}

func TestInjectEnergy_DuplicatesAccumulate(t *testing.T) {
	f := newTestField(t, nil)
	mustInject(t, f, 10, Pos{1, 1, 1}, Pos{1, 1, 1})
	if got := energyAt(t, f, Pos{1, 1, 1}); got != 10 {
		t.Fatalf("energy=%d want 10", got)
	}
}

func TestInjectEnergy_RandomPlacement(t *testing.T) {
	f := newTestField(t, nil)
	used := mustInject(t, f, 1000)
	if len(used) != 10 {
		t.Fatalf("positions=%d want 10", len(used))
	}
	for _, p := range used {
		if !f.Contains(p) {
			t.Fatalf("drawn position %v outside lattice", p)
		}
	}
	if f.TotalEnergy() != 1000 {
		t.Fatalf("total=%d", f.TotalEnergy())
	}

	used = mustInject(t, f, 35)
	if len(used) != 3 {
		t.Fatalf("positions=%d want 3", len(used))
	}

	ev := f.Events()
	if len(ev) != 2 || ev[0].Type != EventInjection || !ev[0].Injection.Random || ev[1].Seq != 1 {
		t.Fatalf("events=%+v", ev)
	}

	if _, err := f.InjectEnergy(5, nil); !errors.Is(err, ErrNoPositions) {
		t.Fatalf("expected ErrNoPositions, got %v", err)
	}
	if _, err := f.InjectEnergy(5, []Pos{}); !errors.Is(err, ErrNoPositions) {
		t.Fatalf("expected ErrNoPositions for empty list, got %v", err)
	}
}

func TestInjectEnergy_RejectsWithoutMutation(t *testing.T) {
	f := newTestField(t, nil)

	if _, err := f.InjectEnergy(100, []Pos{{0, 0, 0}, {4, 0, 0}}); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if _, err := f.InjectEnergy(-1, []Pos{{0, 0, 0}}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if f.TotalEnergy() != 0 || len(f.Events()) != 0 {
		t.Fatalf("rejected injection mutated state")
	}

	mustInject(t, f, math.MaxInt64, Pos{0, 0, 0})
	if _, err := f.InjectEnergy(1, []Pos{{0, 0, 0}}); !errors.Is(err, ErrEnergyOverflow) {
		t.Fatalf("expected ErrEnergyOverflow, got %v", err)
	}
	if energyAt(t, f, Pos{0, 0, 0}) != math.MaxInt64 || len(f.Events()) != 1 {
		t.Fatalf("overflowing injection mutated state")
	}
}

func TestCatastrophicIntervention_RecordsBefore(t *testing.T) {
	log := &captureLog{}
	f := newTestField(t, func(c *FieldConfig) { c.EchoInfluence = 1 })
	f.SetEventLogger(log)
	mustInject(t, f, 100, Pos{0, 0, 0})
	mustEvolve(t, f, 3)

	before, _ := f.Site(Pos{0, 0, 0})
	payload, err := f.CatastrophicIntervention(Pos{0, 0, 0}, 500)
	if err != nil {
		t.Fatalf("intervention: %v", err)
	}
	if payload.ThresholdBefore != before.Threshold || payload.PrivilegeBefore != before.Privilege() {
		t.Fatalf("payload=%+v before=%+v", payload, before)
	}
	after, _ := f.Site(Pos{0, 0, 0})
	if after.Energy != before.Energy+500 || after.TotalReceived != before.TotalReceived+500 {
		t.Fatalf("after=%+v", after)
	}
	if payload.PrivilegeAfter != after.Privilege() {
		t.Fatalf("privilege_after=%v want %v", payload.PrivilegeAfter, after.Privilege())
	}

	if len(log.events) != 2 || log.events[1].Type != EventCatastrophicIntervention || log.events[1].Step != 3 {
		t.Fatalf("logged events=%+v", log.events)
	}

	if _, err := f.CatastrophicIntervention(Pos{0, -1, 0}, 5); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if _, err := f.CatastrophicIntervention(Pos{0, 0, 0}, -5); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if len(f.Events()) != 2 {
		t.Fatalf("rejected intervention appended an event")
	}
}

func TestInjectEnergy_RejectsFieldTotalOverflow(t *testing.T) {
	f := newTestField(t, func(c *FieldConfig) { c.Size = 2 })
	half := int64(math.MaxInt64/2 + 1)
	mustInject(t, f, half, Pos{0, 0, 0})

	if _, err := f.InjectEnergy(half, []Pos{{1, 1, 1}}); !errors.Is(err, ErrEnergyOverflow) {
		t.Fatalf("expected ErrEnergyOverflow, got %v", err)
	}
	if energyAt(t, f, Pos{1, 1, 1}) != 0 || len(f.Events()) != 1 {
		t.Fatalf("overflowing injection mutated state")
	}
	if _, err := f.CatastrophicIntervention(Pos{1, 1, 1}, half); !errors.Is(err, ErrEnergyOverflow) {
		t.Fatalf("expected ErrEnergyOverflow from intervention, got %v", err)
	}
	if f.TotalEnergy() != half {
		t.Fatalf("total=%d want %d", f.TotalEnergy(), half)
	}

	mustEvolve(t, f, 1)
	if _, _, err := f.StepOnce(nil, nil); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	sum, ok := f.lat.TotalEnergy()
	if !ok || sum != half || f.TotalEnergy() != half {
		t.Fatalf("after evolve: lattice sum=%d ok=%v tracked=%d", sum, ok, f.TotalEnergy())
	}
	if m := f.Metrics(); m.TotalEnergy != half {
		t.Fatalf("metrics total=%d", m.TotalEnergy)
	}
}
