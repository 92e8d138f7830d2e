package field

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var ErrNotRunning = errors.New("field loop not available")

const (
	claimOpen int32 = iota
	claimApplied
	claimAbandoned
)

// claim decides a queued request's fate exactly once: either the loop takes it
// at a step boundary or the caller abandons it after its context ends. A nil
// claim (replayed inputs) is always taken.
type claim struct{ state atomic.Int32 }

func (c *claim) take() bool {
	return c == nil || c.state.CompareAndSwap(claimOpen, claimApplied)
}

func (c *claim) abandon() bool {
	return c.state.CompareAndSwap(claimOpen, claimAbandoned)
}

type injectReq struct {
	Total     int64
	Positions []Pos
	Resp      chan InjectResult
	claim     *claim
}

type InjectResult struct {
	Step      uint64
	Positions []Pos
	Err       error
}

type interveneReq struct {
	Pos    Pos
	Energy int64
	Resp   chan InterveneResult
	claim  *claim
}

type InterveneResult struct {
	Step    uint64
	Payload InterventionPayload
	Err     error
}

type statusReq struct {
	Pos  Pos
	Resp chan statusResp
}

type statusResp struct {
	Status SiteStatus
	Err    error
}

type adminSnapshotReq struct {
	Resp chan adminSnapshotResp
}

type adminSnapshotResp struct {
	Step uint64
	Err  string
}

// Run drives the field at StepRateHz until ctx is done or Stop is called.
// Injections and interventions received between steps are applied at the next
// step boundary, injections first, each group in arrival order.
func (f *Field) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(f.cfg.StepRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingInject []injectReq
	var pendingIntervene []interveneReq
	var pendingAdmin []adminSnapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.stop:
			return nil
		case req := <-f.inject:
			pendingInject = append(pendingInject, req)
		case req := <-f.intervene:
			pendingIntervene = append(pendingIntervene, req)
		case req := <-f.adminSnapshot:
			pendingAdmin = append(pendingAdmin, req)
		case resp := <-f.reportReq:
			resp <- f.HierarchyReport()
		case req := <-f.statusReq:
			st, err := f.Site(req.Pos)
			req.Resp <- statusResp{Status: st, Err: err}
		case req := <-f.observerJoin:
			f.handleObserverJoin(req)
		case req := <-f.observerSub:
			f.handleObserverSubscribe(req)
		case id := <-f.observerLeave:
			f.handleObserverLeave(id)
		case <-ticker.C:
			_, err := f.stepInternal(pendingInject, pendingIntervene)
			f.handleAdminSnapshotRequests(pendingAdmin)
			pendingInject = pendingInject[:0]
			pendingIntervene = pendingIntervene[:0]
			pendingAdmin = pendingAdmin[:0]
			if err != nil {
				return err
			}
		}
	}
}

func (f *Field) Stop() { close(f.stop) }

// StepOnce applies the given inputs and advances one step using the same
// ordering as the run loop. It returns the index of the step just run and the
// digest after it. Inputs that fail validation are skipped, as in the loop.
func (f *Field) StepOnce(injections []RecordedInjection, interventions []RecordedIntervention) (step uint64, digest string, err error) {
	inj := make([]injectReq, 0, len(injections))
	for _, r := range injections {
		inj = append(inj, injectReq{Total: r.Total, Positions: r.Positions})
	}
	ivs := make([]interveneReq, 0, len(interventions))
	for _, r := range interventions {
		ivs = append(ivs, interveneReq{Pos: r.Position, Energy: r.Energy})
	}
	step = f.step
	entry, err := f.stepInternal(inj, ivs)
	if err != nil {
		return step, "", err
	}
	return step, entry.Digest, nil
}

func (f *Field) stepInternal(injections []injectReq, interventions []interveneReq) (StepLogEntry, error) {
	stepStart := time.Now()
	nowStep := f.step
	entry := StepLogEntry{Step: nowStep}

	for _, req := range injections {
		if !req.claim.take() {
			continue
		}
		used, err := f.InjectEnergy(req.Total, req.Positions)
		if err == nil {
			entry.Injections = append(entry.Injections, RecordedInjection{Total: req.Total, Positions: used})
		} else {
			f.logf("step %d: inject rejected: %v", nowStep, err)
		}
		if req.Resp != nil {
			req.Resp <- InjectResult{Step: nowStep, Positions: used, Err: err}
		}
	}
	for _, req := range interventions {
		if !req.claim.take() {
			continue
		}
		payload, err := f.CatastrophicIntervention(req.Pos, req.Energy)
		if err == nil {
			entry.Interventions = append(entry.Interventions, RecordedIntervention{Position: req.Pos, Energy: req.Energy})
		} else {
			f.logf("step %d: intervention rejected: %v", nowStep, err)
		}
		if req.Resp != nil {
			req.Resp <- InterveneResult{Step: nowStep, Payload: payload, Err: err}
		}
	}

	rep, err := f.Evolve()
	if err != nil {
		f.logf("step %d: %v", nowStep, err)
		return entry, err
	}
	entry.Redistributions = len(rep)
	for _, r := range rep {
		entry.Shared += r.Shared
	}
	entry.Hierarchy, _ = f.LatestHierarchy()
	f.stats.RecordStep(nowStep, rep)

	f.stepObservers(entry)

	entry.Digest = f.StateDigest()
	if f.stepLogger != nil {
		if err := f.stepLogger.WriteStep(entry); err != nil {
			f.logf("step log: %v", err)
		}
	}

	// Snapshot every N completed steps.
	if f.snapshotSink != nil && f.cfg.SnapshotEverySteps > 0 && f.step%uint64(f.cfg.SnapshotEverySteps) == 0 {
		select {
		case f.snapshotSink <- f.ExportSnapshot():
		default:
			// Drop snapshot if sink is backed up.
		}
	}

	f.publishMetrics(float64(time.Since(stepStart).Microseconds()) / 1000.0)
	return entry, nil
}

// Inject queues an injection for the next step boundary and waits for it to be
// applied. A nil positions slice requests random placement. A context error
// means the injection was not and will not be applied.
func (f *Field) Inject(ctx context.Context, total int64, positions []Pos) (InjectResult, error) {
	resp := make(chan InjectResult, 1)
	c := &claim{}
	select {
	case f.inject <- injectReq{Total: total, Positions: positions, Resp: resp, claim: c}:
	case <-ctx.Done():
		return InjectResult{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, r.Err
	case <-ctx.Done():
		if c.abandon() {
			return InjectResult{}, ctx.Err()
		}
		// Taken by the loop; the result is sent in the same boundary.
		r := <-resp
		return r, r.Err
	}
}

// Intervene queues a catastrophic intervention for the next step boundary and
// waits for it to be applied. Like Inject, a context error means it never applies.
func (f *Field) Intervene(ctx context.Context, p Pos, energy int64) (InterveneResult, error) {
	resp := make(chan InterveneResult, 1)
	c := &claim{}
	select {
	case f.intervene <- interveneReq{Pos: p, Energy: energy, Resp: resp, claim: c}:
	case <-ctx.Done():
		return InterveneResult{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, r.Err
	case <-ctx.Done():
		if c.abandon() {
			return InterveneResult{}, ctx.Err()
		}
		r := <-resp
		return r, r.Err
	}
}

// Report asks the loop for a hierarchy report between steps.
func (f *Field) Report(ctx context.Context) (HierarchyReport, error) {
	resp := make(chan HierarchyReport, 1)
	select {
	case f.reportReq <- resp:
	case <-ctx.Done():
		return HierarchyReport{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return HierarchyReport{}, ctx.Err()
	}
}

// SiteStatus asks the loop for one site's record between steps.
func (f *Field) SiteStatus(ctx context.Context, p Pos) (SiteStatus, error) {
	resp := make(chan statusResp, 1)
	select {
	case f.statusReq <- statusReq{Pos: p, Resp: resp}:
	case <-ctx.Done():
		return SiteStatus{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.Status, r.Err
	case <-ctx.Done():
		return SiteStatus{}, ctx.Err()
	}
}

// RequestSnapshot asks the loop to export a snapshot to the sink after the
// next step. It is safe to call from other goroutines (e.g. HTTP handlers).
func (f *Field) RequestSnapshot(ctx context.Context) (step uint64, err error) {
	if f == nil || f.adminSnapshot == nil {
		return 0, ErrNotRunning
	}
	resp := make(chan adminSnapshotResp, 1)
	select {
	case f.adminSnapshot <- adminSnapshotReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Step, errors.New(r.Err)
		}
		return r.Step, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (f *Field) handleAdminSnapshotRequests(reqs []adminSnapshotReq) {
	if len(reqs) == 0 {
		return
	}
	errStr := ""
	if f.snapshotSink == nil {
		errStr = "snapshot sink not configured"
	} else {
		select {
		case f.snapshotSink <- f.ExportSnapshot():
		default:
			errStr = "snapshot sink backpressure"
		}
	}
	resp := adminSnapshotResp{Step: f.step, Err: errStr}
	for _, r := range reqs {
		if r.Resp == nil {
			continue
		}
		select {
		case r.Resp <- resp:
		default:
			// Client timed out; don't block the loop.
		}
	}
}
