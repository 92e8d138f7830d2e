package field

import (
	"sort"

	"echofield.ai/internal/sim/logic/inequality"
)

// HierarchyEntry is one per-step inequality record. With zero active sites only
// Step and ActiveSites are meaningful.
type HierarchyEntry struct {
	Step         uint64  `json:"step"`
	Gini         float64 `json:"gini"`
	Top10Share   float64 `json:"top_10_share"`
	MaxPrivilege float64 `json:"max_privilege"`
	ActiveSites  int     `json:"active_sites"`
}

type RankedSite struct {
	Position  Pos     `json:"position"`
	Energy    int64   `json:"energy"`
	Threshold float64 `json:"threshold"`
	Privilege float64 `json:"privilege"`
	Seniority int     `json:"seniority"`
}

type HierarchyReport struct {
	Step        uint64          `json:"step"`
	TopSites    []RankedSite    `json:"top_sites"`
	BottomSites []RankedSite    `json:"bottom_sites"`
	Inequality  *HierarchyEntry `json:"inequality"`
}

const reportSites = 5

func (f *Field) privilege(i int) float64 {
	return PrivilegeScore(f.lat.energy[i], f.lat.sites[i])
}

// computeHierarchy scores every site and summarizes those with privilege > 0.
func (f *Field) computeHierarchy() HierarchyEntry {
	scores := make([]float64, 0, 64)
	for i := range f.lat.sites {
		if p := f.privilege(i); p > 0 {
			scores = append(scores, p)
		}
	}
	entry := HierarchyEntry{Step: f.step, ActiveSites: len(scores)}
	if len(scores) == 0 {
		return entry
	}
	sort.Float64s(scores)
	entry.Gini = inequality.Gini(scores)
	entry.Top10Share = inequality.TopShare(scores, 0.1)
	entry.MaxPrivilege = scores[len(scores)-1]
	return entry
}

func (f *Field) recordHierarchy() {
	f.history = append(f.history, f.computeHierarchy())
}

// LatestHierarchy returns the most recent history entry, if any step has run.
func (f *Field) LatestHierarchy() (HierarchyEntry, bool) {
	if len(f.history) == 0 {
		return HierarchyEntry{}, false
	}
	return f.history[len(f.history)-1], true
}

// HierarchyReport ranks active sites by privilege, highest first. Ties keep
// lattice index order. BottomSites is the tail of that ranking.
func (f *Field) HierarchyReport() HierarchyReport {
	type scored struct {
		i int
		p float64
	}
	var active []scored
	for i := range f.lat.sites {
		if p := f.privilege(i); p > 0 {
			active = append(active, scored{i: i, p: p})
		}
	}
	sort.SliceStable(active, func(a, b int) bool { return active[a].p > active[b].p })

	ranked := func(s scored) RankedSite {
		st := f.lat.sites[s.i]
		return RankedSite{
			Position:  f.lat.pos(s.i),
			Energy:    f.lat.energy[s.i],
			Threshold: st.Threshold,
			Privilege: s.p,
			Seniority: st.Seniority,
		}
	}

	rep := HierarchyReport{
		Step:        f.step,
		TopSites:    []RankedSite{},
		BottomSites: []RankedSite{},
	}
	for k := 0; k < len(active) && k < reportSites; k++ {
		rep.TopSites = append(rep.TopSites, ranked(active[k]))
	}
	start := len(active) - reportSites
	if start < 0 {
		start = 0
	}
	for _, s := range active[start:] {
		rep.BottomSites = append(rep.BottomSites, ranked(s))
	}
	if e, ok := f.LatestHierarchy(); ok {
		rep.Inequality = &e
	}
	return rep
}
