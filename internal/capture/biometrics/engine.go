package biometrics

import (
	"log"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Defaults for the decision engine.
const (
	DefaultInferenceInterval = 2 * time.Second
	DefaultHistorySize       = 5
	DefaultStressThreshold   = 0.7
	DefaultCooldown          = 30 * time.Second
)

// EngineConfig tunes the decision engine.
type EngineConfig struct {
	WindowSpan        time.Duration
	InferenceInterval time.Duration
	HistorySize       int
	Threshold         float64
	Cooldown          time.Duration
}

// DefaultEngineConfig returns the reference tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WindowSpan:        DefaultWindowSpan,
		InferenceInterval: DefaultInferenceInterval,
		HistorySize:       DefaultHistorySize,
		Threshold:         DefaultStressThreshold,
		Cooldown:          DefaultCooldown,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.WindowSpan <= 0 {
		c.WindowSpan = d.WindowSpan
	}
	if c.InferenceInterval <= 0 {
		c.InferenceInterval = d.InferenceInterval
	}
	if c.HistorySize < 1 {
		c.HistorySize = d.HistorySize
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		c.Threshold = d.Threshold
	}
	if c.Cooldown < 0 {
		c.Cooldown = d.Cooldown
	}
	return c
}

// Phase is where the engine ended up after the last operation.
type Phase string

const (
	PhaseIdle         Phase = "idle"         // empty buffer, nothing scored
	PhaseAccumulating Phase = "accumulating" // samples arriving, not enough to score yet
	PhaseCalm         Phase = "calm"
	PhaseStressed     Phase = "stressed" // stressed and an intervention fired
	PhaseCooldown     Phase = "cooldown" // stressed but the intervention was suppressed
)

// State is the externally observable engine state.
type State struct {
	Timestamp time.Time `json:"timestamp"`
	Level     float64   `json:"level"` // mean of the smoothing history
	Stressed  bool      `json:"stressed"`
	Band      Band      `json:"band"`
	Phase     Phase     `json:"phase"`

	Samples  int      `json:"samples"`
	History  int      `json:"history"`
	Strategy Strategy `json:"strategy,omitempty"`
	Inferred bool     `json:"inferred"` // this operation ran an inference cycle
	Scored   bool     `json:"scored"`   // and that cycle produced a score
	Dropped  int      `json:"dropped"`
}

// Intervention asks the presentation layer to nudge the user.
type Intervention struct {
	Timestamp time.Time `json:"timestamp"`
	Level     float64   `json:"level"`
	Band      Band      `json:"band"`
}

// Cycle records one completed scoring cycle.
type Cycle struct {
	Timestamp time.Time
	Features  Features
	HeartRate float64 // 0 when no reading was set
	RawScore  float64
	Level     float64
	Stressed  bool
	Strategy  Strategy
	Fallback  error
}

// Engine turns a stream of motion samples into a smoothed stress level and
// rate-limited interventions. All methods are safe for concurrent use; the
// mutex serializes every read-modify-write of the window and history.
type Engine struct {
	mu sync.Mutex

	cfg        EngineConfig
	buffer     *Buffer
	classifier *Classifier

	history   []float64
	level     float64
	stressed  bool
	phase     Phase
	strategy  Strategy
	heartRate float64
	dropped   int

	lastInference    time.Time
	lastIntervention time.Time

	subscribers    []chan State
	interventions  chan Intervention
	onIntervention func(Intervention)
	onCycle        func(Cycle)
}

// NewEngine creates an engine. classifier may be nil, in which case the
// heuristic strategy is used.
func NewEngine(cfg EngineConfig, classifier *Classifier) *Engine {
	cfg = cfg.withDefaults()
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	return &Engine{
		cfg:           cfg,
		buffer:        NewBuffer(cfg.WindowSpan),
		classifier:    classifier,
		history:       make([]float64, 0, cfg.HistorySize),
		phase:         PhaseIdle,
		interventions: make(chan Intervention, 8),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// OnIntervention registers a callback invoked for every emitted
// intervention. It runs on the ingesting goroutine after the engine lock is
// released, so it must return quickly.
func (e *Engine) OnIntervention(fn func(Intervention)) {
	e.mu.Lock()
	e.onIntervention = fn
	e.mu.Unlock()
}

// OnCycle registers a callback invoked after every completed scoring cycle.
func (e *Engine) OnCycle(fn func(Cycle)) {
	e.mu.Lock()
	e.onCycle = fn
	e.mu.Unlock()
}

// Interventions returns a channel of emitted interventions. Events are
// dropped if nobody drains it.
func (e *Engine) Interventions() <-chan Intervention {
	return e.interventions
}

// Subscribe returns a channel receiving the state after every inference
// cycle, scored or not, and after every reset. Slow subscribers miss updates
// rather than blocking the engine.
func (e *Engine) Subscribe(buffer int) <-chan State {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan State, buffer)
	e.mu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.mu.Unlock()
	return ch
}

// SetAuxiliarySignal sets the heart rate used by the next scoring cycle.
// Values <= 0 clear it.
func (e *Engine) SetAuxiliarySignal(bpm float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !ValidHeartRate(bpm) {
		bpm = 0
	}
	e.heartRate = bpm
}

// AuxiliarySignal returns the most recent valid heart rate, or 0.
func (e *Engine) AuxiliarySignal() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.heartRate
}

// Ingest adds a sample and, at most once per inference interval, runs a
// scoring cycle. Time is taken from the sample, never from the wall clock.
func (e *Engine) Ingest(s MotionSample) State {
	e.mu.Lock()

	if err := e.buffer.Add(s); err != nil {
		e.dropped++
		st := e.stateLocked(s.Timestamp, false, false)
		e.mu.Unlock()
		return st
	}
	if e.phase == PhaseIdle {
		e.phase = PhaseAccumulating
	}

	now := s.Timestamp
	if !e.lastInference.IsZero() && now.Sub(e.lastInference) < e.cfg.InferenceInterval {
		st := e.stateLocked(now, false, false)
		e.mu.Unlock()
		return st
	}
	e.lastInference = now

	cycle, fired, scored := e.inferLocked(now)
	st := e.stateLocked(now, true, scored)
	subscribers, onCycle, onIntervention := e.subscribers, e.onCycle, e.onIntervention
	e.mu.Unlock()

	if !scored {
		publish(subscribers, st)
		return st
	}

	if cycle.Fallback != nil {
		log.Printf("[engine] Learned model failed, using heuristic: %v", cycle.Fallback)
	}
	if onCycle != nil {
		onCycle(cycle)
	}
	publish(subscribers, st)

	if fired != nil {
		select {
		case e.interventions <- *fired:
		default:
		}
		if onIntervention != nil {
			onIntervention(*fired)
		}
	}
	return st
}

// inferLocked runs one scoring cycle. It reports false when the window does
// not have enough samples yet.
func (e *Engine) inferLocked(now time.Time) (Cycle, *Intervention, bool) {
	features, ok := e.buffer.Extract()
	if !ok {
		e.phase = PhaseAccumulating
		return Cycle{}, nil, false
	}

	if !features.Finite() {
		e.phase = PhaseAccumulating
		log.Printf("[engine] Skipping cycle: window statistics overflowed")
		return Cycle{}, nil, false
	}

	pred := e.classifier.Predict(features, e.heartRate)
	if !isFinite(pred.Score) {
		e.phase = PhaseAccumulating
		return Cycle{}, nil, false
	}

	if len(e.history) == e.cfg.HistorySize {
		e.history = append(e.history[:0], e.history[1:]...)
	}
	e.history = append(e.history, pred.Score)
	e.level = stat.Mean(e.history, nil)
	e.stressed = e.level > e.cfg.Threshold
	e.strategy = pred.Strategy

	cycle := Cycle{
		Timestamp: now,
		Features:  features,
		HeartRate: e.heartRate,
		RawScore:  pred.Score,
		Level:     e.level,
		Stressed:  e.stressed,
		Strategy:  pred.Strategy,
		Fallback:  pred.Fallback,
	}

	if !e.stressed {
		e.phase = PhaseCalm
		return cycle, nil, true
	}

	if !e.lastIntervention.IsZero() && now.Sub(e.lastIntervention) < e.cfg.Cooldown {
		e.phase = PhaseCooldown
		log.Printf("[engine] Stressed (%.2f) but intervention suppressed, %s of cooldown left",
			e.level, (e.cfg.Cooldown - now.Sub(e.lastIntervention)).Round(time.Second))
		return cycle, nil, true
	}

	e.phase = PhaseStressed
	e.lastIntervention = now
	return cycle, &Intervention{Timestamp: now, Level: e.level, Band: BandFor(e.level)}, true
}

// State returns the current state without changing it.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked(e.lastInference, false, false)
}

func (e *Engine) stateLocked(ts time.Time, inferred, scored bool) State {
	return State{
		Timestamp: ts,
		Level:     e.level,
		Stressed:  e.stressed,
		Band:      BandFor(e.level),
		Phase:     e.phase,
		Samples:   e.buffer.Len(),
		History:   len(e.history),
		Strategy:  e.strategy,
		Inferred:  inferred,
		Scored:    scored,
		Dropped:   e.dropped,
	}
}

// Features extracts features from the current window without scoring.
func (e *Engine) Features() (Features, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer.Extract()
}

// Reset clears the window, smoothing history, level and stressed flag. The
// intervention cooldown survives a reset.
func (e *Engine) Reset() State {
	e.mu.Lock()
	e.buffer.Reset()
	e.history = e.history[:0]
	e.level = 0
	e.stressed = false
	e.strategy = ""
	e.phase = PhaseIdle
	e.lastInference = time.Time{}
	st := e.stateLocked(time.Time{}, false, false)
	subscribers := e.subscribers
	e.mu.Unlock()

	publish(subscribers, st)
	return st
}

func publish(subscribers []chan State, st State) {
	for _, ch := range subscribers {
		select {
		case ch <- st:
		default:
		}
	}
}
