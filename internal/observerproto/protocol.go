package observerproto

// Version is the observer protocol version (separate from the control WS protocol).
const Version = "0.1"

// PlaneEncoding is the only plane encoding: base64 of (zigzag varint value,
// uvarint run length) pairs over the N*N energies of one z-plane, in x-major
// then y order.
const PlaneEncoding = "RLE_VARINT_B64"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: stream one z-plane of energies with every STEP frame.
	Plane *int `json:"plane,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	FieldID         string      `json:"field_id"`
	Step            uint64      `json:"step"`
	FieldParams     FieldParams `json:"field_params"`
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

// Server -> Client. Sent after every step.
type StepMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	FieldID         string `json:"field_id"`

	// Step is the index of the step just run; CompletedSteps is Step+1.
	Step           uint64 `json:"step"`
	CompletedSteps uint64 `json:"completed_steps"`

	TotalEnergy     int64 `json:"total_energy"`
	Redistributions int   `json:"redistributions"`
	SharedEnergy    int64 `json:"shared_energy"`

	Hierarchy     Hierarchy      `json:"hierarchy"`
	Injections    []Injection    `json:"injections,omitempty"`
	Interventions []Intervention `json:"interventions,omitempty"`
	Plane         *PlaneData     `json:"plane,omitempty"`
}

type Hierarchy struct {
	Gini         float64 `json:"gini"`
	Top10Share   float64 `json:"top_10_share"`
	MaxPrivilege float64 `json:"max_privilege"`
	ActiveSites  int     `json:"active_sites"`
}

type Injection struct {
	Total int64 `json:"total"`
	Sites int   `json:"sites"`
}

type Intervention struct {
	Pos    [3]int `json:"pos"`
	Energy int64  `json:"energy"`
}

type PlaneData struct {
	Z        int    `json:"z"`
	Encoding string `json:"encoding"`
	Data     string `json:"data"`
}
