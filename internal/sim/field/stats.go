package field

type StatsBucket struct {
	Redistributions int   `json:"redistributions"`
	SharedEnergy    int64 `json:"shared_energy"`
	InjectedEnergy  int64 `json:"injected_energy"`
	Interventions   int   `json:"interventions"`
}

// StepStats keeps a rolling window of per-bucket counters.
type StepStats struct {
	bucketSteps uint64
	windowSteps uint64

	buckets []StatsBucket
	curIdx  int
	curBase uint64 // start step (inclusive) of current bucket
}

func NewStepStats(bucketSteps, windowSteps uint64) *StepStats {
	if bucketSteps == 0 {
		bucketSteps = 50
	}
	if windowSteps < bucketSteps {
		windowSteps = bucketSteps
	}
	n := int(windowSteps / bucketSteps)
	if n < 1 {
		n = 1
	}
	return &StepStats{
		bucketSteps: bucketSteps,
		windowSteps: uint64(n) * bucketSteps,
		buckets:     make([]StatsBucket, n),
	}
}

func (s *StepStats) rotate(nowStep uint64) {
	if s == nil {
		return
	}
	// Move forward until nowStep is in [curBase, curBase+bucketSteps).
	// Jumps longer than the window just clear everything.
	if nowStep >= s.curBase+s.windowSteps+s.bucketSteps {
		for i := range s.buckets {
			s.buckets[i] = StatsBucket{}
		}
		s.curBase = nowStep - nowStep%s.bucketSteps
		return
	}
	for nowStep >= s.curBase+s.bucketSteps {
		s.curIdx = (s.curIdx + 1) % len(s.buckets)
		s.buckets[s.curIdx] = StatsBucket{}
		s.curBase += s.bucketSteps
	}
}

func (s *StepStats) RecordStep(nowStep uint64, rep []Redistribution) {
	if s == nil {
		return
	}
	s.rotate(nowStep)
	b := &s.buckets[s.curIdx]
	b.Redistributions += len(rep)
	for _, r := range rep {
		b.SharedEnergy += r.Shared
	}
}

func (s *StepStats) RecordInjected(nowStep uint64, packets int64) {
	if s == nil {
		return
	}
	s.rotate(nowStep)
	s.buckets[s.curIdx].InjectedEnergy += packets
}

func (s *StepStats) RecordIntervention(nowStep uint64, packets int64) {
	if s == nil {
		return
	}
	s.rotate(nowStep)
	s.buckets[s.curIdx].Interventions++
	s.buckets[s.curIdx].InjectedEnergy += packets
}

func (s *StepStats) WindowSteps() uint64 {
	if s == nil {
		return 0
	}
	return s.windowSteps
}

func (s *StepStats) Summarize(nowStep uint64) StatsBucket {
	if s == nil {
		return StatsBucket{}
	}
	s.rotate(nowStep)
	var out StatsBucket
	for _, b := range s.buckets {
		out.Redistributions += b.Redistributions
		out.SharedEnergy += b.SharedEnergy
		out.InjectedEnergy += b.InjectedEnergy
		out.Interventions += b.Interventions
	}
	return out
}
