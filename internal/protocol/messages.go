package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	MaxQueue        int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	FieldID         string      `json:"field_id"`
	Step            uint64      `json:"step"`
	FieldParams     FieldParams `json:"field_params"`
	TuningDigest    string      `json:"tuning_digest,omitempty"`
}

type FieldParams struct {
	StepRateHz     int     `json:"step_rate_hz"`
	Size           int     `json:"size"`
	BaseThreshold  float64 `json:"base_threshold"`
	EchoDepth      int     `json:"echo_depth"`
	EchoInfluence  float64 `json:"echo_influence"`
	ThresholdDecay float64 `json:"threshold_decay"`
	Seed           int64   `json:"seed"`
}

// INJECT (client -> server). Omitting positions requests random placement.
type InjectMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ReqID           string   `json:"req_id"`
	Total           int64    `json:"total"`
	Positions       [][3]int `json:"positions,omitempty"`
}

// INTERVENE (client -> server)
type InterveneMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Pos             [3]int `json:"pos"`
	Energy          int64  `json:"energy"`
}

// REPORT_REQ (client -> server)
type ReportReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
}

// REPORT (server -> client)
type ReportMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id"`
	Step            uint64          `json:"step"`
	TopSites        []RankedSite    `json:"top_sites"`
	BottomSites     []RankedSite    `json:"bottom_sites"`
	Inequality      *InequalityInfo `json:"inequality"`
}

type RankedSite struct {
	Pos       [3]int  `json:"pos"`
	Energy    int64   `json:"energy"`
	Threshold float64 `json:"threshold"`
	Privilege float64 `json:"privilege"`
	Seniority int     `json:"seniority"`
}

type InequalityInfo struct {
	Step         uint64  `json:"step"`
	Gini         float64 `json:"gini"`
	Top10Share   float64 `json:"top_10_share"`
	MaxPrivilege float64 `json:"max_privilege"`
	ActiveSites  int     `json:"active_sites"`
}

// ACK (server -> client). Step is the boundary the request was applied at.
// A rejected ACK, E_BUSY included, means the request was not applied.
type AckMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	AckFor          string            `json:"ack_for"`
	Accepted        bool              `json:"accepted"`
	Code            string            `json:"code,omitempty"`
	Message         string            `json:"message,omitempty"`
	Step            uint64            `json:"step,omitempty"`
	Positions       [][3]int          `json:"positions,omitempty"`
	Intervention    *InterventionInfo `json:"intervention,omitempty"`
}

type InterventionInfo struct {
	PrivilegeBefore float64 `json:"privilege_before"`
	ThresholdBefore float64 `json:"threshold_before"`
	PrivilegeAfter  float64 `json:"privilege_after"`
}

// ERROR (server -> client). Sent for messages that cannot be routed at all.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	ReqID           string `json:"req_id,omitempty"`
}
