package field

import "testing"

func TestHierarchy_ZeroActiveSites(t *testing.T) {
	f := newTestField(t, nil)
	mustEvolve(t, f, 2)

	h := f.History()
	if len(h) != 2 {
		t.Fatalf("history len=%d want 2", len(h))
	}
	if h[1].Step != 2 || h[1].ActiveSites != 0 || h[1].Gini != 0 || h[1].MaxPrivilege != 0 {
		t.Fatalf("entry=%+v", h[1])
	}

	rep := f.HierarchyReport()
	if rep.TopSites == nil || rep.BottomSites == nil || len(rep.TopSites) != 0 || len(rep.BottomSites) != 0 {
		t.Fatalf("report=%+v", rep)
	}
	if rep.Inequality == nil || rep.Inequality.ActiveSites != 0 {
		t.Fatalf("inequality=%+v", rep.Inequality)
	}
}

func TestHierarchyReport_Ranking(t *testing.T) {
	f := newTestField(t, func(c *FieldConfig) { c.Size = 5 })
	for k := 1; k <= 7; k++ {
		mustInject(t, f, int64(10*k), Pos{k % 5, k / 5, 0})
	}

	rep := f.HierarchyReport()
	if rep.Inequality != nil {
		t.Fatalf("no step ran, inequality should be nil")
	}
	wantTop := []int64{70, 60, 50, 40, 30}
	wantBottom := []int64{50, 40, 30, 20, 10}
	if len(rep.TopSites) != 5 || len(rep.BottomSites) != 5 {
		t.Fatalf("top=%d bottom=%d", len(rep.TopSites), len(rep.BottomSites))
	}
	for i := range wantTop {
		if rep.TopSites[i].Energy != wantTop[i] {
			t.Fatalf("top[%d]=%+v want energy %d", i, rep.TopSites[i], wantTop[i])
		}
		if rep.BottomSites[i].Energy != wantBottom[i] {
			t.Fatalf("bottom[%d]=%+v want energy %d", i, rep.BottomSites[i], wantBottom[i])
		}
	}
	for i := 1; i < len(rep.TopSites); i++ {
		if rep.TopSites[i].Privilege > rep.TopSites[i-1].Privilege {
			t.Fatalf("top sites not descending at %d", i)
		}
	}
}

func TestHierarchy_GiniAfterSteps(t *testing.T) {
	f := newTestField(t, func(c *FieldConfig) {
		c.Size = 6
		c.EchoInfluence = 2
	})
	mustInject(t, f, 3000)
	mustEvolve(t, f, 30)

	for _, e := range f.History() {
		if e.ActiveSites == 0 {
			continue
		}
		if e.Gini < -1e-9 || e.Gini > 1 {
			t.Fatalf("step %d: gini %v out of [0,1]", e.Step, e.Gini)
		}
		if e.Top10Share <= 0 || e.Top10Share > 1 {
			t.Fatalf("step %d: top10 %v out of (0,1]", e.Step, e.Top10Share)
		}
	}
	last, ok := f.LatestHierarchy()
	if !ok || last.Step != 30 {
		t.Fatalf("latest=%+v ok=%v", last, ok)
	}
}

func TestPrivilegeScore(t *testing.T) {
	if RetentionRate(10, 0) != 0 {
		t.Fatalf("retention with nothing received should be 0")
	}
	s := Site{EchoMemory: 0.5, TotalReceived: 9}
	// (10 + 10/10*100) * 1.5
	if got := PrivilegeScore(10, s); got != 165 {
		t.Fatalf("privilege=%v want 165", got)
	}
	st := SiteStatus{Energy: 10, EchoMemory: 0.5, TotalReceived: 9}
	if st.Privilege() != 165 {
		t.Fatalf("status privilege=%v", st.Privilege())
	}
}
