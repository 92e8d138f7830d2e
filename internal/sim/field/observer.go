package field

import (
	"encoding/json"

	"echofield.ai/internal/observerproto"
	"echofield.ai/internal/sim/encoding"
)

// ObserverJoinRequest registers a read-only STEP stream. Plane < 0 disables
// the z-plane payload.
type ObserverJoinRequest struct {
	SessionID string
	Out       chan []byte
	Plane     int
}

type ObserverSubscribeRequest struct {
	SessionID string
	Plane     int
}

type observerClient struct {
	id    string
	out   chan []byte
	plane int
}

func (f *Field) ObserverJoin() chan<- ObserverJoinRequest { return f.observerJoin }
func (f *Field) ObserverSubscribe() chan<- ObserverSubscribeRequest {
	return f.observerSub
}
func (f *Field) ObserverLeave() chan<- string { return f.observerLeave }

func (f *Field) clampPlane(z int) int {
	if z < 0 || z >= f.cfg.Size {
		return -1
	}
	return z
}

func (f *Field) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	// Replace existing session id if any.
	if old := f.observers[req.SessionID]; old != nil {
		close(old.out)
	}
	f.observers[req.SessionID] = &observerClient{
		id:    req.SessionID,
		out:   req.Out,
		plane: f.clampPlane(req.Plane),
	}
}

func (f *Field) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := f.observers[req.SessionID]
	if c == nil {
		return
	}
	c.plane = f.clampPlane(req.Plane)
}

func (f *Field) handleObserverLeave(sessionID string) {
	c := f.observers[sessionID]
	if c == nil {
		return
	}
	delete(f.observers, sessionID)
	close(c.out)
}

func (f *Field) stepObservers(entry StepLogEntry) {
	if len(f.observers) == 0 {
		return
	}
	msg := observerproto.StepMsg{
		Type:            "STEP",
		ProtocolVersion: observerproto.Version,
		FieldID:         f.cfg.ID,
		Step:            entry.Step,
		CompletedSteps:  f.step,
		TotalEnergy:     f.total,
		Redistributions: entry.Redistributions,
		SharedEnergy:    entry.Shared,
		Hierarchy: observerproto.Hierarchy{
			Gini:         entry.Hierarchy.Gini,
			Top10Share:   entry.Hierarchy.Top10Share,
			MaxPrivilege: entry.Hierarchy.MaxPrivilege,
			ActiveSites:  entry.Hierarchy.ActiveSites,
		},
	}
	for _, inj := range entry.Injections {
		msg.Injections = append(msg.Injections, observerproto.Injection{Total: inj.Total, Sites: len(inj.Positions)})
	}
	for _, iv := range entry.Interventions {
		msg.Interventions = append(msg.Interventions, observerproto.Intervention{Pos: iv.Position, Energy: iv.Energy})
	}

	// One encoding per distinct plane per step.
	frames := map[int][]byte{}
	for _, c := range f.observers {
		b, ok := frames[c.plane]
		if !ok {
			m := msg
			if c.plane >= 0 {
				m.Plane = &observerproto.PlaneData{
					Z:        c.plane,
					Encoding: observerproto.PlaneEncoding,
					Data:     encoding.EncodeRLE(f.PlaneZ(c.plane)),
				}
			}
			var err error
			b, err = json.Marshal(m)
			if err != nil {
				continue
			}
			frames[c.plane] = b
		}
		sendLatest(c.out, b)
	}
}

// PlaneZ returns the energies of the z-plane in x-major then y order.
func (f *Field) PlaneZ(z int) []int64 {
	n := f.cfg.Size
	if z < 0 || z >= n {
		return nil
	}
	out := make([]int64, 0, n*n)
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			out = append(out, f.lat.energy[f.lat.index(Pos{x, y, z})])
		}
	}
	return out
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
