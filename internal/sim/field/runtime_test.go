package field

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"echofield.ai/internal/observerproto"
	"echofield.ai/internal/persistence/snapshot"
	"echofield.ai/internal/sim/encoding"
)

func TestStepOnce_ReplayReproducesDigests(t *testing.T) {
	log := &captureLog{}
	src := newTestField(t, func(c *FieldConfig) {
		c.Size = 5
		c.EchoInfluence = 1
	})
	src.SetStepLogger(log)

	for step := 0; step < 20; step++ {
		var inj []RecordedInjection
		var ivs []RecordedIntervention
		if step%7 == 0 {
			inj = append(inj, RecordedInjection{Total: 300}) // random placement
		}
		if step == 11 {
			ivs = append(ivs, RecordedIntervention{Position: Pos{2, 2, 2}, Energy: 90})
		}
		if _, _, err := src.StepOnce(inj, ivs); err != nil {
			t.Fatalf("StepOnce: %v", err)
		}
	}
	if len(log.steps) != 20 {
		t.Fatalf("logged %d steps", len(log.steps))
	}

	// A field with a different seed must still replay exactly, because the log
	// carries the positions actually used.
	dst := newTestField(t, func(c *FieldConfig) {
		c.Size = 5
		c.EchoInfluence = 1
		c.Seed = 1234
	})
	for _, e := range log.steps {
		step, digest, err := dst.StepOnce(e.Injections, e.Interventions)
		if err != nil {
			t.Fatalf("replay step %d: %v", e.Step, err)
		}
		if step != e.Step || digest != e.Digest {
			t.Fatalf("replay step %d: digest mismatch", e.Step)
		}
	}
}

func TestSnapshot_ExportImportResume(t *testing.T) {
	mk := func(c *FieldConfig) {
		c.Size = 5
		c.EchoInfluence = 1.5
		c.ThresholdDecay = 0.02
		c.EchoDepth = 4
	}
	a := newTestField(t, mk)
	for step := 0; step < 15; step++ {
		var inj []RecordedInjection
		if step%5 == 0 {
			inj = []RecordedInjection{{Total: 250}}
		}
		if _, _, err := a.StepOnce(inj, nil); err != nil {
			t.Fatalf("StepOnce: %v", err)
		}
	}
	if _, err := a.CatastrophicIntervention(Pos{1, 2, 3}, 40); err != nil {
		t.Fatalf("intervention: %v", err)
	}

	path := filepath.Join(t.TempDir(), "15.snap.zst")
	if err := snapshot.WriteSnapshot(path, a.ExportSnapshot()); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	b, err := ImportSnapshot(FieldConfig{Workers: 2}, snap)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if b.CurrentStep() != a.CurrentStep() || b.ID() != a.ID() {
		t.Fatalf("imported step=%d id=%s", b.CurrentStep(), b.ID())
	}
	if b.StateDigest() != a.StateDigest() {
		t.Fatalf("digest mismatch right after import")
	}
	if len(b.Events()) != len(a.Events()) || len(b.History()) != len(a.History()) {
		t.Fatalf("logs lost: events %d/%d history %d/%d", len(b.Events()), len(a.Events()), len(b.History()), len(a.History()))
	}
	ea, eb := a.Events(), b.Events()
	last := len(ea) - 1
	if eb[last].Intervention == nil || *eb[last].Intervention != *ea[last].Intervention {
		t.Fatalf("intervention event lost: %+v", eb[last])
	}

	// Both continue with random injections; the restored source keeps them aligned.
	for step := 0; step < 10; step++ {
		var inj []RecordedInjection
		if step%3 == 0 {
			inj = []RecordedInjection{{Total: 120}}
		}
		_, da, err := a.StepOnce(inj, nil)
		if err != nil {
			t.Fatalf("a: %v", err)
		}
		_, db, err := b.StepOnce(inj, nil)
		if err != nil {
			t.Fatalf("b: %v", err)
		}
		if da != db {
			t.Fatalf("resume diverged at step %d", a.CurrentStep())
		}
	}
}

func TestImportSnapshot_RejectsBadData(t *testing.T) {
	f := newTestField(t, nil)
	snap := f.ExportSnapshot()
	snap.Energy = encoding.EncodeRLE(make([]int64, 10))
	if _, err := ImportSnapshot(FieldConfig{}, snap); err == nil {
		t.Fatalf("expected energy length error")
	}

	snap = f.ExportSnapshot()
	snap.Header.Version = 9
	if _, err := ImportSnapshot(FieldConfig{}, snap); err == nil {
		t.Fatalf("expected version error")
	}

	n := f.lat.Len()
	neg := make([]int64, n)
	neg[3] = -5
	snap = f.ExportSnapshot()
	snap.Energy = encoding.EncodeRLE(neg)
	if _, err := ImportSnapshot(FieldConfig{}, snap); err == nil {
		t.Fatalf("expected negative energy error")
	}

	big := make([]int64, n)
	big[0], big[1] = math.MaxInt64, 1
	snap = f.ExportSnapshot()
	snap.Energy = encoding.EncodeRLE(big)
	if _, err := ImportSnapshot(FieldConfig{}, snap); !errors.Is(err, ErrEnergyOverflow) {
		t.Fatalf("expected ErrEnergyOverflow, got %v", err)
	}

	mutations := []func(s *snapshot.SnapshotV1){
		func(s *snapshot.SnapshotV1) { s.Sites.Seniority[2] = -1 },
		func(s *snapshot.SnapshotV1) { s.Sites.TotalShared[2] = -1 },
		func(s *snapshot.SnapshotV1) { s.Sites.TotalReceived[2] = -1 },
		func(s *snapshot.SnapshotV1) { s.Sites.EchoMemory[2] = 1.5 },
	}
	for k, mut := range mutations {
		snap = f.ExportSnapshot()
		mut(&snap)
		if _, err := ImportSnapshot(FieldConfig{}, snap); err == nil {
			t.Fatalf("mutation %d: expected site validation error", k)
		}
	}
}

func TestImportSnapshot_RestoresTotal(t *testing.T) {
	f := newTestField(t, nil)
	mustInject(t, f, 250, Pos{1, 2, 3})
	mustEvolve(t, f, 3)
	g, err := ImportSnapshot(FieldConfig{}, f.ExportSnapshot())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if g.TotalEnergy() != 250 {
		t.Fatalf("total=%d want 250", g.TotalEnergy())
	}
}

func TestRun_InjectInterveneReport(t *testing.T) {
	f := newTestField(t, func(c *FieldConfig) {
		c.StepRateHz = 200
		c.SnapshotEverySteps = 5
	})
	sink := make(chan snapshot.SnapshotV1, 16)
	f.SetSnapshotSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	res, err := f.Inject(ctx, 100, []Pos{{0, 0, 0}})
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if len(res.Positions) != 1 {
		t.Fatalf("inject result=%+v", res)
	}
	if _, err := f.Inject(ctx, 100, []Pos{{9, 9, 9}}); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	iv, err := f.Intervene(ctx, Pos{1, 1, 1}, 50)
	if err != nil {
		t.Fatalf("Intervene: %v", err)
	}
	if iv.Payload.Energy != 50 {
		t.Fatalf("intervene result=%+v", iv)
	}

	rep, err := f.Report(ctx)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Step == 0 || rep.Inequality == nil {
		t.Fatalf("report=%+v", rep)
	}
	st, err := f.SiteStatus(ctx, Pos{0, 0, 0})
	if err != nil || st.TotalReceived < 100 {
		t.Fatalf("status=%+v err=%v", st, err)
	}

	select {
	case snap := <-sink:
		if snap.Header.Step%5 != 0 {
			t.Fatalf("snapshot at step %d", snap.Header.Step)
		}
	case <-ctx.Done():
		t.Fatalf("no periodic snapshot")
	}
	if step, err := f.RequestSnapshot(ctx); err != nil || step == 0 {
		t.Fatalf("RequestSnapshot: step=%d err=%v", step, err)
	}

	f.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.TotalEnergy() != 150 {
		t.Fatalf("total=%d want 150", f.TotalEnergy())
	}
	m := f.Metrics()
	if m.Step == 0 || m.TotalEnergy != 150 || m.Events != 2 {
		t.Fatalf("metrics=%+v", m)
	}
	if m.StatsWindow.InjectedEnergy != 150 || m.StatsWindow.Interventions != 1 {
		t.Fatalf("stats window=%+v", m.StatsWindow)
	}
}

func TestObserver_StepFrames(t *testing.T) {
	f := newTestField(t, nil)
	out := make(chan []byte, 4)
	f.handleObserverJoin(ObserverJoinRequest{SessionID: "O1", Out: out, Plane: 0})
	flat := make(chan []byte, 4)
	f.handleObserverJoin(ObserverJoinRequest{SessionID: "O2", Out: flat, Plane: -1})

	if _, _, err := f.StepOnce([]RecordedInjection{{Total: 100, Positions: []Pos{{0, 0, 0}}}}, nil); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}

	var msg observerproto.StepMsg
	if err := json.Unmarshal(<-out, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "STEP" || msg.Step != 0 || msg.CompletedSteps != 1 || msg.TotalEnergy != 100 {
		t.Fatalf("msg=%+v", msg)
	}
	if msg.Redistributions != 1 || msg.SharedEnergy != 25 || len(msg.Injections) != 1 {
		t.Fatalf("msg=%+v", msg)
	}
	if msg.Plane == nil || msg.Plane.Encoding != observerproto.PlaneEncoding {
		t.Fatalf("plane=%+v", msg.Plane)
	}
	plane, err := encoding.DecodeRLE(msg.Plane.Data, 16)
	if err != nil {
		t.Fatalf("decode plane: %v", err)
	}
	// x-major then y: (0,0,0)=75, (0,1,0)=4, (1,0,0)=5.
	if plane[0] != 75 || plane[1] != 4 || plane[4] != 5 {
		t.Fatalf("plane=%v", plane)
	}

	var bare observerproto.StepMsg
	if err := json.Unmarshal(<-flat, &bare); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if bare.Plane != nil {
		t.Fatalf("plane sent to observer without one")
	}

	f.handleObserverLeave("O1")
	if _, ok := <-out; ok {
		t.Fatalf("expected closed channel after leave")
	}
}

func TestInject_ExpiredRequestIsNeverApplied(t *testing.T) {
	f := newTestField(t, func(c *FieldConfig) { c.StepRateHz = 4 })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	// Both requests queue well before the first 250ms tick, then expire.
	short, cancelShort := context.WithTimeout(ctx, 20*time.Millisecond)
	if _, err := f.Inject(short, 100, []Pos{{0, 0, 0}}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if _, err := f.Intervene(short, Pos{1, 1, 1}, 40); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	cancelShort()

	// This one rides the same or a later boundary as the abandoned ones.
	if _, err := f.Inject(ctx, 7, []Pos{{2, 2, 2}}); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if _, err := f.Report(ctx); err != nil {
		t.Fatalf("Report: %v", err)
	}
	f.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.TotalEnergy() != 7 || len(f.Events()) != 1 {
		t.Fatalf("total=%d events=%+v", f.TotalEnergy(), f.Events())
	}
}

func TestClaim_SettlesOnce(t *testing.T) {
	c := &claim{}
	if !c.take() || c.abandon() || c.take() {
		t.Fatalf("taken claim changed hands")
	}
	c = &claim{}
	if !c.abandon() || c.take() {
		t.Fatalf("abandoned claim was taken")
	}
	var replay *claim
	if !replay.take() {
		t.Fatalf("nil claim must always be taken")
	}
}
