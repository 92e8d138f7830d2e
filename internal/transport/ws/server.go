package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"echofield.ai/internal/protocol"
	"echofield.ai/internal/sim/field"
)

// requestTimeout bounds how long a request may wait for its step boundary.
const requestTimeout = 5 * time.Second

type Server struct {
	field *field.Field
	log   *log.Logger

	// TuningDigest is echoed in WELCOME when set.
	TuningDigest string

	schemas  *protocol.Validator
	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(f *field.Field, logger *log.Logger) (*Server, error) {
	v, err := protocol.DefaultValidator()
	if err != nil {
		return nil, err
	}
	s := &Server{
		field:   f,
		log:     logger,
		schemas: v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s, nil
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}
		s.logf("session %s connected remote=%s", sessionID, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Each request waits for its step boundary on its own
		// goroutine so a slow step does not stall reads.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				s.send(ctx, out, errorMsg(protocol.ErrProtoBadRequest, "malformed json", ""))
				continue
			}
			switch base.Type {
			case protocol.TypeInject, protocol.TypeIntervene, protocol.TypeReportReq:
			default:
				s.send(ctx, out, errorMsg(protocol.ErrProtoBadRequest, fmt.Sprintf("unsupported type %q", base.Type), ""))
				continue
			}
			if base.ProtocolVersion != protocol.Version {
				s.send(ctx, out, errorMsg(protocol.ErrBadRequest, "bad protocol_version", ""))
				continue
			}
			if err := s.schemas.Validate(base.Type, msg); err != nil {
				s.send(ctx, out, errorMsg(protocol.ErrProtoBadRequest, err.Error(), reqIDOf(msg)))
				continue
			}
			go s.dispatch(ctx, base.Type, msg, out)
		}

		s.logf("session %s closed", sessionID)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}
	if base.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if err := s.schemas.Validate(protocol.TypeHello, msg); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad HELLO"), time.Now().Add(time.Second))
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	out = make(chan []byte, maxQ)

	sessionID = fmt.Sprintf("C%d", s.nextID.Add(1))
	cfg := s.field.Config()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		FieldID:         cfg.ID,
		Step:            s.field.Metrics().Step,
		FieldParams: protocol.FieldParams{
			StepRateHz:     cfg.StepRateHz,
			Size:           cfg.Size,
			BaseThreshold:  cfg.BaseThreshold,
			EchoDepth:      cfg.EchoDepth,
			EchoInfluence:  cfg.EchoInfluence,
			ThresholdDecay: cfg.ThresholdDecay,
			Seed:           cfg.Seed,
		},
		TuningDigest: s.TuningDigest,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}
	return sessionID, out
}

func (s *Server) dispatch(ctx context.Context, typ string, msg []byte, out chan []byte) {
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch typ {
	case protocol.TypeInject:
		var m protocol.InjectMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.send(ctx, out, errorMsg(protocol.ErrProtoBadRequest, err.Error(), ""))
			return
		}
		var positions []field.Pos
		if m.Positions != nil {
			positions = make([]field.Pos, 0, len(m.Positions))
			for _, p := range m.Positions {
				positions = append(positions, field.Pos(p))
			}
		}
		res, err := s.field.Inject(rctx, m.Total, positions)
		ack := protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AckFor: m.ReqID}
		if err != nil {
			ack.Code, ack.Message = errorCode(err), err.Error()
		} else {
			ack.Accepted = true
			ack.Step = res.Step
			ack.Positions = make([][3]int, 0, len(res.Positions))
			for _, p := range res.Positions {
				ack.Positions = append(ack.Positions, [3]int(p))
			}
		}
		s.send(ctx, out, ack)

	case protocol.TypeIntervene:
		var m protocol.InterveneMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.send(ctx, out, errorMsg(protocol.ErrProtoBadRequest, err.Error(), ""))
			return
		}
		res, err := s.field.Intervene(rctx, field.Pos(m.Pos), m.Energy)
		ack := protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AckFor: m.ReqID}
		if err != nil {
			ack.Code, ack.Message = errorCode(err), err.Error()
		} else {
			ack.Accepted = true
			ack.Step = res.Step
			ack.Intervention = &protocol.InterventionInfo{
				PrivilegeBefore: res.Payload.PrivilegeBefore,
				ThresholdBefore: res.Payload.ThresholdBefore,
				PrivilegeAfter:  res.Payload.PrivilegeAfter,
			}
		}
		s.send(ctx, out, ack)

	case protocol.TypeReportReq:
		var m protocol.ReportReqMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.send(ctx, out, errorMsg(protocol.ErrProtoBadRequest, err.Error(), ""))
			return
		}
		rep, err := s.field.Report(rctx)
		if err != nil {
			s.send(ctx, out, errorMsg(errorCode(err), err.Error(), m.ReqID))
			return
		}
		s.send(ctx, out, reportMsg(m.ReqID, rep))
	}
}

func reportMsg(reqID string, rep field.HierarchyReport) protocol.ReportMsg {
	msg := protocol.ReportMsg{
		Type:            protocol.TypeReport,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Step:            rep.Step,
		TopSites:        rankedSites(rep.TopSites),
		BottomSites:     rankedSites(rep.BottomSites),
	}
	if e := rep.Inequality; e != nil {
		msg.Inequality = &protocol.InequalityInfo{
			Step:         e.Step,
			Gini:         e.Gini,
			Top10Share:   e.Top10Share,
			MaxPrivilege: e.MaxPrivilege,
			ActiveSites:  e.ActiveSites,
		}
	}
	return msg
}

func rankedSites(in []field.RankedSite) []protocol.RankedSite {
	out := make([]protocol.RankedSite, 0, len(in))
	for _, r := range in {
		out = append(out, protocol.RankedSite{
			Pos:       [3]int(r.Position),
			Energy:    r.Energy,
			Threshold: r.Threshold,
			Privilege: r.Privilege,
			Seniority: r.Seniority,
		})
	}
	return out
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, field.ErrInvalidPosition):
		return protocol.ErrInvalidPosition
	case errors.Is(err, field.ErrInvalidAmount):
		return protocol.ErrInvalidAmount
	case errors.Is(err, field.ErrNoPositions):
		return protocol.ErrNoPositions
	case errors.Is(err, field.ErrEnergyOverflow):
		return protocol.ErrOverflow
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, field.ErrNotRunning):
		return protocol.ErrBusy
	default:
		return protocol.ErrInternal
	}
}

func errorMsg(code, message, reqID string) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
		ReqID:           reqID,
	}
}

func reqIDOf(msg []byte) string {
	var m struct {
		ReqID string `json:"req_id"`
	}
	_ = json.Unmarshal(msg, &m)
	return m.ReqID
}

// send queues v for the writer; it gives up when the session ends.
func (s *Server) send(ctx context.Context, out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logf("marshal %T: %v", v, err)
		return
	}
	select {
	case out <- b:
	case <-ctx.Done():
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
