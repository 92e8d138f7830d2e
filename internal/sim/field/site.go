package field

// Site is the per-cell historical record. Energy lives in the lattice arrays;
// everything else a site remembers lives here.
type Site struct {
	EchoMemory    float64 // fraction of buffered steps with positive energy
	Threshold     float64 // sharing threshold computed in the last step
	Seniority     int
	TotalShared   int64
	TotalReceived int64
}

// SiteStatus is a read-only view of one site joined with its current energy.
type SiteStatus struct {
	Position      Pos     `json:"position"`
	Energy        int64   `json:"energy"`
	EchoMemory    float64 `json:"echo_memory"`
	Threshold     float64 `json:"threshold"`
	Seniority     int     `json:"seniority"`
	TotalShared   int64   `json:"total_shared"`
	TotalReceived int64   `json:"total_received"`
}

// RetentionRate is energy / (total_received + 1), or 0 if nothing was ever received.
func RetentionRate(energy, totalReceived int64) float64 {
	if totalReceived <= 0 {
		return 0
	}
	return float64(energy) / float64(totalReceived+1)
}

// PrivilegeScore = (energy + retention_rate*100) * (1 + echo_memory).
func PrivilegeScore(energy int64, s Site) float64 {
	rr := RetentionRate(energy, s.TotalReceived)
	return (float64(energy) + rr*100) * (1 + s.EchoMemory)
}

func (s SiteStatus) Privilege() float64 {
	return PrivilegeScore(s.Energy, Site{
		EchoMemory:    s.EchoMemory,
		TotalReceived: s.TotalReceived,
	})
}
