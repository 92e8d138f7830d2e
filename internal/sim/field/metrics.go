package field

// FieldMetrics is a thread-safe read-only view of key runtime signals.
// It is updated from the run loop goroutine and read from HTTP handlers/tests.
type FieldMetrics struct {
	Step uint64 `json:"step"`

	TotalEnergy  int64   `json:"total_energy"`
	ActiveSites  int     `json:"active_sites"`
	Gini         float64 `json:"gini"`
	Top10Share   float64 `json:"top_10_share"`
	MaxPrivilege float64 `json:"max_privilege"`
	EchoLen      int     `json:"echo_len"`
	Events       int     `json:"events"`
	Observers    int     `json:"observers"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	StatsWindowSteps uint64      `json:"stats_window_steps"`
	StatsWindow      StatsBucket `json:"stats_window"`
}

type QueueDepths struct {
	Inject    int `json:"inject"`
	Intervene int `json:"intervene"`
}

func (f *Field) Metrics() FieldMetrics {
	if f == nil {
		return FieldMetrics{}
	}
	v := f.metrics.Load()
	if v == nil {
		return FieldMetrics{}
	}
	m, ok := v.(FieldMetrics)
	if !ok {
		return FieldMetrics{}
	}
	return m
}

func (f *Field) publishMetrics(stepMS float64) {
	m := FieldMetrics{
		Step:        f.step,
		TotalEnergy: f.total,
		EchoLen:     f.echo.Len(),
		Events:      len(f.events),
		Observers:   len(f.observers),
		QueueDepths: QueueDepths{
			Inject:    len(f.inject),
			Intervene: len(f.intervene),
		},
		StepMS:           stepMS,
		StatsWindowSteps: f.stats.WindowSteps(),
		StatsWindow:      f.stats.Summarize(f.step),
	}
	if e, ok := f.LatestHierarchy(); ok {
		m.ActiveSites = e.ActiveSites
		m.Gini = e.Gini
		m.Top10Share = e.Top10Share
		m.MaxPrivilege = e.MaxPrivilege
	}
	f.metrics.Store(m)
}
