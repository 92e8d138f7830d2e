package protocol

import "testing"

func TestSchemas_ValidateSamples(t *testing.T) {
	v, err := DefaultValidator()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	valid := map[string]string{
		TypeHello:     `{"type":"HELLO","protocol_version":"0.1","client_name":"probe","max_queue":8}`,
		TypeInject:    `{"type":"INJECT","protocol_version":"0.1","req_id":"R1","total":1000}`,
		TypeIntervene: `{"type":"INTERVENE","protocol_version":"0.1","req_id":"R2","pos":[1,2,3],"energy":500}`,
		TypeReportReq: `{"type":"REPORT_REQ","protocol_version":"0.1","req_id":"R3"}`,
	}
	for typ, raw := range valid {
		if err := v.Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}
	invalid := []struct{ typ, raw string }{
		{TypeHello, `{"type":"HELLO","protocol_version":"0.1"}`},
		{TypeInject, `{"type":"INJECT","protocol_version":"0.1","req_id":"R1","total":-5}`},
		{TypeInject, `{"type":"INJECT","protocol_version":"0.1","req_id":"R1","total":5,"positions":[]}`},
		{TypeInject, `{"type":"INJECT","protocol_version":"0.1","req_id":"R1","total":5,"positions":[[0,0]]}`},
		{TypeIntervene, `{"type":"INTERVENE","protocol_version":"0.1","req_id":"R2","pos":[1,2,-3],"energy":5}`},
		{TypeIntervene, `{"type":"INTERVENE","protocol_version":"0.1","req_id":"R2","pos":[1,2,3],"energy":1.5}`},
		{TypeReportReq, `{"type":"REPORT_REQ","protocol_version":"0.1","req_id":"R3","extra":true}`},
	}
	for _, c := range invalid {
		if err := v.Validate(c.typ, []byte(c.raw)); err == nil {
			t.Fatalf("%s: expected rejection of %s", c.typ, c.raw)
		}
	}

	if err := v.Validate("ACT", []byte(`{}`)); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestSchemas_ServerMessages(t *testing.T) {
	v, err := DefaultValidator()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	rep := ReportMsg{
		Type:            TypeReport,
		ProtocolVersion: Version,
		ReqID:           "R3",
		Step:            12,
		TopSites:        []RankedSite{{Pos: [3]int{0, 0, 0}, Energy: 75, Threshold: 6, Privilege: 150, Seniority: 1}},
		BottomSites:     []RankedSite{},
		Inequality:      &InequalityInfo{Step: 12, Gini: 0.3, Top10Share: 0.4, MaxPrivilege: 150, ActiveSites: 7},
	}
	if err := v.ValidateValue(TypeReport, rep); err != nil {
		t.Fatalf("report: %v", err)
	}
	rep.Inequality = nil
	if err := v.ValidateValue(TypeReport, rep); err != nil {
		t.Fatalf("report without inequality: %v", err)
	}

	ack := AckMsg{
		Type:            TypeAck,
		ProtocolVersion: Version,
		AckFor:          "R2",
		Accepted:        false,
		Code:            ErrInvalidPosition,
		Message:         "outside lattice",
	}
	if err := v.ValidateValue(TypeAck, ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
}
