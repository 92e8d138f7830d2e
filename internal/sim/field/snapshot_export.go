package field

import (
	"echofield.ai/internal/persistence/snapshot"
	"echofield.ai/internal/sim/encoding"
	"echofield.ai/internal/sim/logic/mathx"
)

const snapshotVersion = 1

// ExportSnapshot captures the state after CurrentStep completed steps.
func (f *Field) ExportSnapshot() snapshot.SnapshotV1 {
	n := f.lat.Len()
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshotVersion,
			FieldID: f.cfg.ID,
			Step:    f.step,
		},
		Size:               f.cfg.Size,
		BaseThreshold:      f.cfg.BaseThreshold,
		EchoDepth:          f.cfg.EchoDepth,
		EchoInfluence:      f.cfg.EchoInfluence,
		ThresholdDecay:     f.cfg.ThresholdDecay,
		Seed:               f.cfg.Seed,
		StepRateHz:         f.cfg.StepRateHz,
		SnapshotEverySteps: f.cfg.SnapshotEverySteps,
		Energy:             encoding.EncodeRLE(f.lat.energy),
		Sites: snapshot.SitesV1{
			EchoMemory:    make([]float64, n),
			Threshold:     make([]float64, n),
			Seniority:     make([]int, n),
			TotalShared:   make([]int64, n),
			TotalReceived: make([]int64, n),
		},
		Counters: snapshot.CountersV1{NextEvent: f.nextSeq},
	}
	for i, s := range f.lat.sites {
		snap.Sites.EchoMemory[i] = s.EchoMemory
		snap.Sites.Threshold[i] = s.Threshold
		snap.Sites.Seniority[i] = s.Seniority
		snap.Sites.TotalShared[i] = s.TotalShared
		snap.Sites.TotalReceived[i] = s.TotalReceived
	}
	for _, e := range f.echo.Snapshots() {
		snap.Echo = append(snap.Echo, encoding.EncodeRLE(e))
	}
	for _, h := range f.history {
		snap.History = append(snap.History, snapshot.HierarchyEntryV1(h))
	}
	for _, ev := range f.events {
		snap.Events = append(snap.Events, eventToV1(ev))
	}
	if hs, ok := f.rand.(*mathx.HashSource); ok {
		snap.Counters.RandDraws = hs.Draws()
	}
	return snap
}

func eventToV1(ev GovernanceEvent) snapshot.EventV1 {
	out := snapshot.EventV1{Seq: ev.Seq, Step: ev.Step, Type: string(ev.Type)}
	if p := ev.Injection; p != nil {
		out.Total = p.Total
		out.Random = p.Random
		for _, pos := range p.Positions {
			out.Positions = append(out.Positions, pos)
		}
	}
	if p := ev.Intervention; p != nil {
		out.Position = p.Position
		out.Energy = p.Energy
		out.PrivilegeBefore = p.PrivilegeBefore
		out.ThresholdBefore = p.ThresholdBefore
		out.PrivilegeAfter = p.PrivilegeAfter
	}
	return out
}
