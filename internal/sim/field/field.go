package field

import (
	"fmt"
	"log"
	"sync/atomic"

	"echofield.ai/internal/persistence/snapshot"
	"echofield.ai/internal/sim/logic/mathx"
)

// Field is a single-threaded authoritative lattice simulation.
// When Run is active, all state must be accessed only from the run loop
// goroutine; use the request channels (or StepOnce when no loop is running).
type Field struct {
	cfg    FieldConfig
	params thresholdParams
	log    *log.Logger

	lat  *Lattice
	echo *EchoBuffer
	rand RandSource

	step    uint64
	nextSeq uint64
	total   int64 // lattice energy; only injections and interventions change it

	history []HierarchyEntry
	events  []GovernanceEvent

	scratch stepScratch

	stats   *StepStats
	metrics atomic.Value // FieldMetrics

	// Optional sinks (may be nil). Implemented in internal/persistence/*.
	stepLogger   StepLogger
	eventLogger  EventLogger
	snapshotSink chan<- snapshot.SnapshotV1

	inject        chan injectReq
	intervene     chan interveneReq
	reportReq     chan chan HierarchyReport
	statusReq     chan statusReq
	adminSnapshot chan adminSnapshotReq
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	stop          chan struct{}

	observers map[string]*observerClient
}

// stepScratch holds per-step buffers so a failed step commits nothing.
type stepScratch struct {
	echo      []float64
	threshold []float64
	seniority []int
	out       []int64
	recv      []int64
}

func New(cfg FieldConfig) (*Field, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	lat := newLattice(cfg.Size)
	n := lat.Len()
	for i := range lat.sites {
		lat.sites[i].Threshold = cfg.BaseThreshold
	}

	src := cfg.Rand
	if src == nil {
		src = mathx.NewHashSource(cfg.Seed)
	}

	f := &Field{
		cfg: cfg,
		params: thresholdParams{
			Base:          cfg.BaseThreshold,
			EchoInfluence: cfg.EchoInfluence,
			Decay:         cfg.ThresholdDecay,
		},
		log:  cfg.Logger,
		lat:  lat,
		echo: NewEchoBuffer(cfg.EchoDepth, n),
		rand: src,
		scratch: stepScratch{
			echo:      make([]float64, n),
			threshold: make([]float64, n),
			seniority: make([]int, n),
			out:       make([]int64, n),
			recv:      make([]int64, n),
		},
		stats: NewStepStats(uint64(cfg.StatsBucketSteps), uint64(cfg.StatsWindowSteps)),

		inject:        make(chan injectReq, 64),
		intervene:     make(chan interveneReq, 64),
		reportReq:     make(chan chan HierarchyReport, 16),
		statusReq:     make(chan statusReq, 16),
		adminSnapshot: make(chan adminSnapshotReq, 4),
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 16),
		stop:          make(chan struct{}),
		observers:     map[string]*observerClient{},
	}
	f.logf("init id=%s lattice=%d^3 (%d sites) base_threshold=%v echo_depth=%d echo_influence=%v threshold_decay=%v",
		cfg.ID, cfg.Size, n, cfg.BaseThreshold, cfg.EchoDepth, cfg.EchoInfluence, cfg.ThresholdDecay)
	f.publishMetrics(0)
	return f, nil
}

func (f *Field) Config() FieldConfig { return f.cfg }
func (f *Field) ID() string          { return f.cfg.ID }
func (f *Field) Size() int           { return f.cfg.Size }

// CurrentStep is the number of completed steps.
func (f *Field) CurrentStep() uint64 { return f.step }

// Running reports whether at least one step has completed.
func (f *Field) Running() bool { return f.step > 0 }

func (f *Field) TotalEnergy() int64 { return f.total }

// Snapshot returns an independent copy of the current energies in index order.
func (f *Field) Snapshot() []int64 { return f.lat.Snapshot() }

func (f *Field) EchoLen() int { return f.echo.Len() }

func (f *Field) Contains(p Pos) bool { return f.lat.Contains(p) }

func (f *Field) Neighbors(p Pos) [6]Pos { return f.lat.Neighbors(p) }

func (f *Field) Site(p Pos) (SiteStatus, error) {
	if !f.lat.Contains(p) {
		return SiteStatus{}, fmt.Errorf("%w: %v outside [0,%d)^3", ErrInvalidPosition, p, f.cfg.Size)
	}
	return f.siteStatus(f.lat.index(p)), nil
}

func (f *Field) siteStatus(i int) SiteStatus {
	s := f.lat.sites[i]
	return SiteStatus{
		Position:      f.lat.pos(i),
		Energy:        f.lat.energy[i],
		EchoMemory:    s.EchoMemory,
		Threshold:     s.Threshold,
		Seniority:     s.Seniority,
		TotalShared:   s.TotalShared,
		TotalReceived: s.TotalReceived,
	}
}

func (f *Field) History() []HierarchyEntry {
	return append([]HierarchyEntry(nil), f.history...)
}

func (f *Field) Events() []GovernanceEvent {
	return append([]GovernanceEvent(nil), f.events...)
}

func (f *Field) SetStepLogger(l StepLogger)   { f.stepLogger = l }
func (f *Field) SetEventLogger(l EventLogger) { f.eventLogger = l }

func (f *Field) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { f.snapshotSink = ch }

func (f *Field) logf(format string, args ...any) {
	if f.log != nil {
		f.log.Printf(format, args...)
	}
}
