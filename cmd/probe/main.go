package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"echofield.ai/internal/protocol"
)

// probe connects to the control websocket, optionally injects energy, then
// hits the most privileged site with a catastrophic intervention and watches
// how the inequality metrics respond.
func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "probe", "client name")
		inject   = flag.Int64("inject", 0, "packets to inject at random positions before probing (0 = none)")
		energy   = flag.Int64("energy", 500, "intervention energy")
		settle   = flag.Duration("settle", 5*time.Second, "wait before the intervention")
		watch    = flag.Duration("watch", 10*time.Second, "how long to watch after the intervention")
		interval = flag.Duration("interval", time.Second, "report interval while watching")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[probe] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	c := &client{conn: conn}
	w, err := c.hello(*name)
	if err != nil {
		logger.Fatalf("handshake: %v", err)
	}
	logger.Printf("WELCOME session=%s field=%s step=%d size=%d echo_influence=%v", w.SessionID, w.FieldID, w.Step, w.FieldParams.Size, w.FieldParams.EchoInfluence)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	if *inject > 0 {
		ack, err := c.inject(*inject)
		if err != nil {
			logger.Fatalf("inject: %v", err)
		}
		if !ack.Accepted {
			logger.Fatalf("inject rejected: %s %s", ack.Code, ack.Message)
		}
		logger.Printf("injected %d packets at step %d into %d sites", *inject, ack.Step, len(ack.Positions))
	}

	select {
	case <-stop:
		return
	case <-time.After(*settle):
	}

	before, err := c.report()
	if err != nil {
		logger.Fatalf("report: %v", err)
	}
	if len(before.TopSites) == 0 {
		logger.Fatalf("no active sites to probe at step %d", before.Step)
	}
	target := before.TopSites[0]
	logReport(logger, "before", before)

	ack, err := c.intervene(target.Pos, *energy)
	if err != nil {
		logger.Fatalf("intervene: %v", err)
	}
	if !ack.Accepted {
		logger.Fatalf("intervention rejected: %s %s", ack.Code, ack.Message)
	}
	if iv := ack.Intervention; iv != nil {
		logger.Printf("intervention at %v step=%d privilege %.2f -> %.2f threshold_before=%.3f",
			target.Pos, ack.Step, iv.PrivilegeBefore, iv.PrivilegeAfter, iv.ThresholdBefore)
	}

	deadline := time.After(*watch)
	tick := time.NewTicker(*interval)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-deadline:
			after, err := c.report()
			if err != nil {
				logger.Fatalf("report: %v", err)
			}
			logReport(logger, "after", after)
			if before.Inequality != nil && after.Inequality != nil {
				logger.Printf("gini delta %+.4f over %d steps", after.Inequality.Gini-before.Inequality.Gini, after.Step-before.Step)
			}
			return
		case <-tick.C:
			rep, err := c.report()
			if err != nil {
				logger.Fatalf("report: %v", err)
			}
			logReport(logger, "watch", rep)
		}
	}
}

func logReport(logger *log.Logger, label string, rep protocol.ReportMsg) {
	if rep.Inequality == nil {
		logger.Printf("%s step=%d (no hierarchy yet)", label, rep.Step)
		return
	}
	e := rep.Inequality
	logger.Printf("%s step=%d gini=%.4f top10=%.4f max_privilege=%.2f active=%d", label, rep.Step, e.Gini, e.Top10Share, e.MaxPrivilege, e.ActiveSites)
}

// client issues one request at a time and reads until the matching reply.
type client struct {
	conn *websocket.Conn
	seq  int
}

func (c *client) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s%d", prefix, c.seq)
}

func (c *client) hello(name string) (protocol.WelcomeMsg, error) {
	var w protocol.WelcomeMsg
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      name,
		MaxQueue:        8,
	}
	if err := c.conn.WriteJSON(hello); err != nil {
		return w, err
	}
	err := c.conn.ReadJSON(&w)
	return w, err
}

func (c *client) inject(total int64) (protocol.AckMsg, error) {
	id := c.nextID("I")
	msg := protocol.InjectMsg{Type: protocol.TypeInject, ProtocolVersion: protocol.Version, ReqID: id, Total: total}
	var ack protocol.AckMsg
	err := c.roundTrip(msg, id, &ack)
	return ack, err
}

func (c *client) intervene(pos [3]int, energy int64) (protocol.AckMsg, error) {
	id := c.nextID("V")
	msg := protocol.InterveneMsg{Type: protocol.TypeIntervene, ProtocolVersion: protocol.Version, ReqID: id, Pos: pos, Energy: energy}
	var ack protocol.AckMsg
	err := c.roundTrip(msg, id, &ack)
	return ack, err
}

func (c *client) report() (protocol.ReportMsg, error) {
	id := c.nextID("R")
	msg := protocol.ReportReqMsg{Type: protocol.TypeReportReq, ProtocolVersion: protocol.Version, ReqID: id}
	var rep protocol.ReportMsg
	err := c.roundTrip(msg, id, &rep)
	return rep, err
}

func (c *client) roundTrip(req any, reqID string, out any) error {
	if err := c.conn.WriteJSON(req); err != nil {
		return err
	}
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(b, &e)
			return fmt.Errorf("%s: %s", e.Code, e.Message)
		case protocol.TypeAck, protocol.TypeReport:
			var ids struct {
				AckFor string `json:"ack_for"`
				ReqID  string `json:"req_id"`
			}
			_ = json.Unmarshal(b, &ids)
			if ids.AckFor != reqID && ids.ReqID != reqID {
				continue
			}
			return json.Unmarshal(b, out)
		}
	}
}
