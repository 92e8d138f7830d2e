package field

import (
	"fmt"

	"echofield.ai/internal/persistence/snapshot"
	"echofield.ai/internal/sim/encoding"
	"echofield.ai/internal/sim/logic/mathx"
)

// ImportSnapshot rebuilds a field from a snapshot. Rule parameters always come
// from the snapshot; cfg supplies the ID (if the snapshot has none) and the
// operational settings.
func ImportSnapshot(cfg FieldConfig, snap snapshot.SnapshotV1) (*Field, error) {
	if snap.Header.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	if cfg.ID == "" {
		cfg.ID = snap.Header.FieldID
	}
	cfg.Size = snap.Size
	cfg.BaseThreshold = snap.BaseThreshold
	cfg.EchoDepth = snap.EchoDepth
	cfg.EchoInfluence = snap.EchoInfluence
	cfg.ThresholdDecay = snap.ThresholdDecay
	cfg.Seed = snap.Seed
	if cfg.StepRateHz <= 0 {
		cfg.StepRateHz = snap.StepRateHz
	}
	if cfg.SnapshotEverySteps <= 0 {
		cfg.SnapshotEverySteps = snap.SnapshotEverySteps
	}

	f, err := New(cfg)
	if err != nil {
		return nil, err
	}
	n := f.lat.Len()

	energy, err := encoding.DecodeRLE(snap.Energy, n)
	if err != nil {
		return nil, fmt.Errorf("snapshot energy: %w", err)
	}
	for i, e := range energy {
		if e < 0 {
			return nil, fmt.Errorf("snapshot energy: negative value %d at %v", e, f.lat.pos(i))
		}
	}
	copy(f.lat.energy, energy)
	total, ok := f.lat.TotalEnergy()
	if !ok {
		return nil, fmt.Errorf("snapshot energy: %w: field total", ErrEnergyOverflow)
	}
	f.total = total

	s := snap.Sites
	if len(s.EchoMemory) != n || len(s.Threshold) != n || len(s.Seniority) != n ||
		len(s.TotalShared) != n || len(s.TotalReceived) != n {
		return nil, fmt.Errorf("snapshot sites: want %d entries per array", n)
	}
	for i := range f.lat.sites {
		if s.Seniority[i] < 0 || s.TotalShared[i] < 0 || s.TotalReceived[i] < 0 {
			return nil, fmt.Errorf("snapshot sites: negative counter at %v", f.lat.pos(i))
		}
		if !(s.EchoMemory[i] >= 0 && s.EchoMemory[i] <= 1) {
			return nil, fmt.Errorf("snapshot sites: echo memory %v out of [0,1] at %v", s.EchoMemory[i], f.lat.pos(i))
		}
		f.lat.sites[i] = Site{
			EchoMemory:    s.EchoMemory[i],
			Threshold:     s.Threshold[i],
			Seniority:     s.Seniority[i],
			TotalShared:   s.TotalShared[i],
			TotalReceived: s.TotalReceived[i],
		}
	}

	if len(snap.Echo) > cfg.EchoDepth {
		return nil, fmt.Errorf("snapshot echo: %d entries exceed depth %d", len(snap.Echo), cfg.EchoDepth)
	}
	for k, b64 := range snap.Echo {
		e, err := encoding.DecodeRLE(b64, n)
		if err != nil {
			return nil, fmt.Errorf("snapshot echo[%d]: %w", k, err)
		}
		f.echo.Push(e)
	}

	for _, h := range snap.History {
		f.history = append(f.history, HierarchyEntry(h))
	}
	for _, ev := range snap.Events {
		f.events = append(f.events, eventFromV1(ev))
	}

	f.step = snap.Header.Step
	f.nextSeq = snap.Counters.NextEvent
	if hs, ok := f.rand.(*mathx.HashSource); ok {
		hs.Restore(snap.Counters.RandDraws)
	}
	f.publishMetrics(0)
	return f, nil
}

func eventFromV1(ev snapshot.EventV1) GovernanceEvent {
	out := GovernanceEvent{Seq: ev.Seq, Step: ev.Step, Type: EventType(ev.Type)}
	switch out.Type {
	case EventInjection:
		p := &InjectionPayload{Total: ev.Total, Sites: len(ev.Positions), Random: ev.Random}
		for _, pos := range ev.Positions {
			p.Positions = append(p.Positions, pos)
		}
		out.Injection = p
	case EventCatastrophicIntervention:
		out.Intervention = &InterventionPayload{
			Position:        ev.Position,
			Energy:          ev.Energy,
			PrivilegeBefore: ev.PrivilegeBefore,
			ThresholdBefore: ev.ThresholdBefore,
			PrivilegeAfter:  ev.PrivilegeAfter,
		}
	}
	return out
}
