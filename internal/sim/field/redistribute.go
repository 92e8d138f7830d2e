package field

import (
	"fmt"
	"sync/atomic"

	"echofield.ai/internal/sim/logic/mathx"
)

// Redistribution records one site that exceeded its threshold in a step.
type Redistribution struct {
	Source    Pos     `json:"from"`
	Threshold float64 `json:"threshold"`
	Shared    int64   `json:"shared"`
}

// sendAmount is what a site sharing total units sends in direction d:
// floor(total/6) plus one remainder unit for the first total%6 directions.
func sendAmount(total int64, d int) int64 {
	amt := total / numDirs
	if int64(d) < total%numDirs {
		amt++
	}
	return amt
}

// Evolve advances the field by one step and returns the redistribution report
// for that step. Thresholds are computed for every site first, then every site
// decides retain-vs-share against the same pre-step snapshot. On error nothing
// is committed and the step counter does not move.
func (f *Field) Evolve() ([]Redistribution, error) {
	lat := f.lat
	prev := lat.energy
	next := lat.next
	sc := &f.scratch
	step := f.step

	// Threshold engine.
	f.forEachSlab(func(_, lo, hi int) {
		for i := lo; i < hi; i++ {
			echo := f.echo.PresenceFraction(i)
			sen := lat.sites[i].Seniority
			sc.echo[i] = echo
			sc.threshold[i] = computeThreshold(f.params, echo, sen, step)
			sc.seniority[i] = nextSeniority(sen, prev[i], f.params.Decay)
		}
	})

	// Decide shares. Each site writes only its own outbox slot.
	reports := make([][]Redistribution, f.slabCount())
	f.forEachSlab(func(k, lo, hi int) {
		var rep []Redistribution
		for i := lo; i < hi; i++ {
			e := prev[i]
			t := sc.threshold[i]
			if float64(e) > t {
				share := e / 4
				sc.out[i] = share
				rep = append(rep, Redistribution{Source: lat.pos(i), Threshold: t, Shared: share})
			} else {
				sc.out[i] = 0
			}
		}
		reports[k] = rep
	})

	// Each site sums its own inbox from the six senders around it.
	var overflow atomic.Bool
	f.forEachSlab(func(_, lo, hi int) {
		for i := lo; i < hi; i++ {
			var recv int64
			for d := 0; d < numDirs; d++ {
				src := lat.neighbor(i, d)
				if out := sc.out[src]; out > 0 {
					recv += sendAmount(out, opposite[d])
				}
			}
			sc.recv[i] = recv
			next[i] = prev[i] - sc.out[i] + recv

			s := lat.sites[i]
			if _, ok := mathx.AddInt64(s.TotalShared, sc.out[i]); !ok {
				overflow.Store(true)
			}
			if _, ok := mathx.AddInt64(s.TotalReceived, recv); !ok {
				overflow.Store(true)
			}
		}
	})
	if overflow.Load() {
		return nil, fmt.Errorf("evolve step %d: %w", step, ErrEnergyOverflow)
	}

	// Commit.
	var out []Redistribution
	for _, r := range reports {
		out = append(out, r...)
	}
	for i := range lat.sites {
		s := &lat.sites[i]
		s.EchoMemory = sc.echo[i]
		s.Threshold = sc.threshold[i]
		s.Seniority = sc.seniority[i]
		s.TotalShared += sc.out[i]
		s.TotalReceived += sc.recv[i]
	}
	f.echo.Push(prev)
	lat.swap()
	f.step++
	f.recordHierarchy()
	return out, nil
}
