package field

import (
	"fmt"

	"echofield.ai/internal/sim/logic/mathx"
)

type EventType string

const (
	EventInjection                EventType = "injection"
	EventCatastrophicIntervention EventType = "catastrophic_intervention"
)

// GovernanceEvent is an append-only record of external energy entering the field.
type GovernanceEvent struct {
	Seq          uint64               `json:"seq"`
	Step         uint64               `json:"step"`
	Type         EventType            `json:"type"`
	Injection    *InjectionPayload    `json:"injection,omitempty"`
	Intervention *InterventionPayload `json:"intervention,omitempty"`
}

type InjectionPayload struct {
	Total     int64 `json:"total"`
	Sites     int   `json:"sites"`
	Positions []Pos `json:"positions"`
	Random    bool  `json:"random,omitempty"`
}

type InterventionPayload struct {
	Position        Pos     `json:"position"`
	Energy          int64   `json:"energy"`
	PrivilegeBefore float64 `json:"site_privilege_before"`
	ThresholdBefore float64 `json:"site_threshold_before"`
	PrivilegeAfter  float64 `json:"site_privilege_after"`
}

const maxRandomInjectionSites = 10

// InjectEnergy adds totalPackets to the field. With nil positions,
// min(10, totalPackets/10) positions are drawn uniformly from the lattice;
// duplicates are kept and simply accumulate. The total is split evenly and the
// totalPackets%len(positions) remainder units go to the first positions in order.
// It returns the positions actually used. On error nothing is mutated.
func (f *Field) InjectEnergy(totalPackets int64, positions []Pos) ([]Pos, error) {
	if totalPackets < 0 {
		return nil, fmt.Errorf("inject %d: %w", totalPackets, ErrInvalidAmount)
	}
	random := positions == nil
	if random {
		n := int64(maxRandomInjectionSites)
		if totalPackets/10 < n {
			n = totalPackets / 10
		}
		if n == 0 {
			return nil, fmt.Errorf("inject %d: %w (need at least 10 packets for random placement)", totalPackets, ErrNoPositions)
		}
		positions = make([]Pos, n)
		for k := range positions {
			size := f.cfg.Size
			positions[k] = Pos{f.rand.Intn(size), f.rand.Intn(size), f.rand.Intn(size)}
		}
	} else {
		if len(positions) == 0 {
			return nil, fmt.Errorf("inject %d: %w", totalPackets, ErrNoPositions)
		}
		positions = append([]Pos(nil), positions...)
		for _, p := range positions {
			if !f.lat.Contains(p) {
				return nil, fmt.Errorf("inject at %v: %w: outside [0,%d)^3", p, ErrInvalidPosition, f.cfg.Size)
			}
		}
	}

	per := totalPackets / int64(len(positions))
	rem := totalPackets % int64(len(positions))
	amounts := make([]int64, len(positions))
	for k := range positions {
		amounts[k] = per
		if int64(k) < rem {
			amounts[k]++
		}
	}

	// Check every addition before touching state; duplicates accumulate.
	newTotal, ok := mathx.AddInt64(f.total, totalPackets)
	if !ok {
		return nil, fmt.Errorf("inject %d: %w: field total", totalPackets, ErrEnergyOverflow)
	}
	delta := map[int]int64{}
	for k, p := range positions {
		delta[f.lat.index(p)] += amounts[k]
	}
	for i, d := range delta {
		if _, ok := mathx.AddInt64(f.lat.energy[i], d); !ok {
			return nil, fmt.Errorf("inject at %v: %w", f.lat.pos(i), ErrEnergyOverflow)
		}
		if _, ok := mathx.AddInt64(f.lat.sites[i].TotalReceived, d); !ok {
			return nil, fmt.Errorf("inject at %v: %w", f.lat.pos(i), ErrEnergyOverflow)
		}
	}

	for k, p := range positions {
		i := f.lat.index(p)
		f.lat.energy[i] += amounts[k]
		f.lat.sites[i].TotalReceived += amounts[k]
	}
	f.total = newTotal
	f.stats.RecordInjected(f.step, totalPackets)

	f.appendEvent(GovernanceEvent{
		Type: EventInjection,
		Injection: &InjectionPayload{
			Total:     totalPackets,
			Sites:     len(positions),
			Positions: positions,
			Random:    random,
		},
	})
	return positions, nil
}

// CatastrophicIntervention adds energy directly to one site, recording the
// site's privilege and threshold immediately before the addition.
func (f *Field) CatastrophicIntervention(p Pos, energy int64) (InterventionPayload, error) {
	if energy < 0 {
		return InterventionPayload{}, fmt.Errorf("intervene at %v: %w: %d", p, ErrInvalidAmount, energy)
	}
	if !f.lat.Contains(p) {
		return InterventionPayload{}, fmt.Errorf("intervene at %v: %w: outside [0,%d)^3", p, ErrInvalidPosition, f.cfg.Size)
	}
	i := f.lat.index(p)
	newEnergy, ok := mathx.AddInt64(f.lat.energy[i], energy)
	if !ok {
		return InterventionPayload{}, fmt.Errorf("intervene at %v: %w", p, ErrEnergyOverflow)
	}
	newReceived, ok := mathx.AddInt64(f.lat.sites[i].TotalReceived, energy)
	if !ok {
		return InterventionPayload{}, fmt.Errorf("intervene at %v: %w", p, ErrEnergyOverflow)
	}
	newTotal, ok := mathx.AddInt64(f.total, energy)
	if !ok {
		return InterventionPayload{}, fmt.Errorf("intervene at %v: %w: field total", p, ErrEnergyOverflow)
	}

	payload := InterventionPayload{
		Position:        p,
		Energy:          energy,
		PrivilegeBefore: f.privilege(i),
		ThresholdBefore: f.lat.sites[i].Threshold,
	}
	f.lat.energy[i] = newEnergy
	f.lat.sites[i].TotalReceived = newReceived
	f.total = newTotal
	payload.PrivilegeAfter = f.privilege(i)
	f.stats.RecordIntervention(f.step, energy)

	f.appendEvent(GovernanceEvent{
		Type:         EventCatastrophicIntervention,
		Intervention: &payload,
	})
	f.logf("intervention %d packets at %v: privilege_before=%.2f threshold_before=%.1f",
		energy, p, payload.PrivilegeBefore, payload.ThresholdBefore)
	return payload, nil
}

func (f *Field) appendEvent(ev GovernanceEvent) {
	ev.Seq = f.nextSeq
	ev.Step = f.step
	f.nextSeq++
	f.events = append(f.events, ev)
	if f.eventLogger != nil {
		if err := f.eventLogger.WriteEvent(ev); err != nil {
			f.logf("event log: %v", err)
		}
	}
}
