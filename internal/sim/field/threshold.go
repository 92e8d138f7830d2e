package field

import "math"

type thresholdParams struct {
	Base          float64
	EchoInfluence float64
	Decay         float64
}

// computeThreshold turns echo memory and seniority into this step's sharing
// threshold:
//
//	memory_factor    = 1 + echo_influence*echo_memory
//	seniority_factor = 1 + (seniority/(step+1))*0.5
//	memory_factor   *= exp(-decay*(step-seniority))   (only when decay > 0)
//	threshold        = base * memory_factor * seniority_factor
func computeThreshold(p thresholdParams, echoMemory float64, seniority int, step uint64) float64 {
	memoryFactor := 1.0 + p.EchoInfluence*echoMemory
	seniorityFactor := 1.0 + (float64(seniority)/float64(step+1))*0.5
	if p.Decay > 0 {
		memoryFactor *= math.Exp(-p.Decay * (float64(step) - float64(seniority)))
	}
	return p.Base * memoryFactor * seniorityFactor
}

// nextSeniority applies the per-step seniority rule using the pre-step energy.
// Decay > 0 is also what enables seniority to shrink.
func nextSeniority(seniority int, energy int64, decay float64) int {
	switch {
	case energy > 0:
		return seniority + 1
	case decay > 0 && seniority > 0:
		return seniority - 1
	default:
		return seniority
	}
}
