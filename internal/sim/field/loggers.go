package field

// StepLogger receives one entry per completed step.
type StepLogger interface {
	WriteStep(StepLogEntry) error
}

// EventLogger receives every governance event as it is appended.
type EventLogger interface {
	WriteEvent(GovernanceEvent) error
}

// StepLogEntry is everything needed to re-run a step: the external inputs
// applied before it, in application order, and the digest after it.
// Injection positions are the ones actually used, so replays never need the
// random source.
type StepLogEntry struct {
	Step          uint64                 `json:"step"`
	Injections    []RecordedInjection    `json:"injections,omitempty"`
	Interventions []RecordedIntervention `json:"interventions,omitempty"`

	Redistributions int            `json:"redistributions"`
	Shared          int64          `json:"shared"`
	Hierarchy       HierarchyEntry `json:"hierarchy"`
	Digest          string         `json:"digest"`
}

type RecordedInjection struct {
	Total     int64 `json:"total"`
	Positions []Pos `json:"positions,omitempty"`
}

type RecordedIntervention struct {
	Position Pos   `json:"position"`
	Energy   int64 `json:"energy"`
}
