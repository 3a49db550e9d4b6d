package biometrics

import (
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stressedStream produces erratic scrolling: alternating direction, uneven
// speed, hard acceleration and 300ms hesitations between events.
func stressedStream(start time.Time, n int) []MotionSample {
	speeds := []float64{20, 150, 40, 200, 10, 180}
	out := make([]MotionSample, n)
	for i := range out {
		v := speeds[i%len(speeds)]
		if i%2 == 1 {
			v = -v
		}
		a := 200.0
		if i%2 == 1 {
			a = -200
		}
		out[i] = MotionSample{
			Timestamp:    start.Add(time.Duration(i) * 300 * time.Millisecond),
			Velocity:     v,
			Offset:       float64(i * 10),
			Acceleration: a,
		}
	}
	return out
}

// calmStream is steady one-way scrolling at 20Hz.
func calmStream(start time.Time, n int) []MotionSample {
	out := make([]MotionSample, n)
	for i := range out {
		out[i] = MotionSample{
			Timestamp: start.Add(time.Duration(i) * 50 * time.Millisecond),
			Velocity:  100,
			Offset:    float64(i * 5),
		}
	}
	return out
}

// scripted returns the given scores in order, repeating the last one.
type scripted struct {
	mu     sync.Mutex
	scores []float64
	calls  int
}

func (s *scripted) Score(Features, float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.scores) {
		i = len(s.scores) - 1
	}
	s.calls++
	return s.scores[i], nil
}

func TestEngineThrottlesInference(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), nil)

	first := e.Ingest(MotionSample{Timestamp: at(0), Velocity: 10})
	second := e.Ingest(MotionSample{Timestamp: at(ms(500)), Velocity: 10})
	third := e.Ingest(MotionSample{Timestamp: at(ms(2100)), Velocity: 10})

	assert.True(t, first.Inferred)
	assert.False(t, second.Inferred)
	assert.True(t, third.Inferred)

	// too few samples to score either way
	assert.False(t, first.Scored)
	assert.False(t, third.Scored)
	assert.Equal(t, PhaseAccumulating, third.Phase)
	assert.Equal(t, 3, third.Samples)
}

func TestEngineSmoothsOverHistory(t *testing.T) {
	learned := &scripted{scores: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.9}}
	cfg := DefaultEngineConfig()
	cfg.InferenceInterval = time.Millisecond
	e := NewEngine(cfg, NewClassifier(learned))

	var levels []float64
	for i := 0; i < 12; i++ {
		st := e.Ingest(MotionSample{Timestamp: at(ms(i * 10)), Velocity: 50})
		assert.LessOrEqual(t, st.History, DefaultHistorySize)
		if st.Scored {
			levels = append(levels, st.Level)
			assert.Equal(t, StrategyLearned, st.Strategy)
		}
	}

	// scoring starts at the sixth sample
	require.Len(t, levels, 7)
	assert.InDelta(t, 0.1, levels[0], 1e-12)
	assert.InDelta(t, 0.15, levels[1], 1e-12)
	assert.InDelta(t, 0.3, levels[4], 1e-12)
	assert.InDelta(t, 0.4, levels[5], 1e-12)  // 0.2..0.6
	assert.InDelta(t, 0.54, levels[6], 1e-12) // 0.3, 0.4, 0.5, 0.6, 0.9
	assert.Equal(t, DefaultHistorySize, e.State().History)
}

func TestEngineThresholdIsStrict(t *testing.T) {
	learned := &scripted{scores: []float64{0.75}}
	cfg := DefaultEngineConfig()
	cfg.InferenceInterval = time.Millisecond
	cfg.Threshold = 0.75
	e := NewEngine(cfg, NewClassifier(learned))

	var st State
	for i := 0; i < 8; i++ {
		st = e.Ingest(MotionSample{Timestamp: at(ms(i * 10))})
	}
	assert.Equal(t, 0.75, st.Level)
	assert.False(t, st.Stressed)
	assert.Equal(t, PhaseCalm, st.Phase)
}

func TestEngineCalmScrolling(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), nil)

	var fired int
	e.OnIntervention(func(Intervention) { fired++ })

	var st State
	for _, s := range calmStream(epoch, 200) {
		st = e.Ingest(s)
	}
	assert.False(t, st.Stressed)
	assert.Less(t, st.Level, 0.1)
	assert.Equal(t, PhaseCalm, st.Phase)
	assert.Zero(t, fired)
}

func TestEngineCooldownLimitsInterventions(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), nil)

	var fired []Intervention
	e.OnIntervention(func(iv Intervention) { fired = append(fired, iv) })

	var sawCooldown bool
	for _, s := range stressedStream(epoch, 240) { // 72 seconds
		st := e.Ingest(s)
		if st.Phase == PhaseCooldown {
			sawCooldown = true
			assert.True(t, st.Stressed, "cooldown suppresses events, not the flag")
		}
	}

	require.GreaterOrEqual(t, len(fired), 2)
	for i := 1; i < len(fired); i++ {
		gap := fired[i].Timestamp.Sub(fired[i-1].Timestamp)
		assert.GreaterOrEqual(t, gap, DefaultCooldown)
	}
	assert.True(t, sawCooldown)
	assert.Greater(t, fired[0].Level, DefaultStressThreshold)
	assert.Equal(t, BandFor(fired[0].Level), fired[0].Band)
}

func TestEngineResetKeepsCooldown(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), nil)

	var fired int
	e.OnIntervention(func(Intervention) { fired++ })

	stream := stressedStream(epoch, 40) // 12 seconds
	for _, s := range stream {
		e.Ingest(s)
	}
	require.Equal(t, 1, fired)
	require.True(t, e.State().Stressed)

	st := e.Reset()
	assert.Zero(t, st.Level)
	assert.False(t, st.Stressed)
	assert.Zero(t, st.Samples)
	assert.Zero(t, st.History)
	assert.Equal(t, PhaseIdle, st.Phase)
	_, ok := e.Features()
	assert.False(t, ok)

	// stressed again right away: the flag comes back, the event does not
	restart := stream[len(stream)-1].Timestamp.Add(time.Second)
	var last State
	for _, s := range stressedStream(restart, 20) {
		last = e.Ingest(s)
	}
	assert.True(t, last.Stressed)
	assert.Equal(t, PhaseCooldown, last.Phase)
	assert.Equal(t, 1, fired)
}

func TestEngineAuxiliarySignal(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), nil)

	e.SetAuxiliarySignal(88)
	assert.Equal(t, 88.0, e.AuxiliarySignal())

	e.SetAuxiliarySignal(0)
	assert.Zero(t, e.AuxiliarySignal())

	e.SetAuxiliarySignal(-12)
	assert.Zero(t, e.AuxiliarySignal())
}

func TestEngineAuxiliarySignalAffectsNextCycle(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.InferenceInterval = time.Millisecond

	calm := NewEngine(cfg, nil)
	racing := NewEngine(cfg, nil)
	racing.SetAuxiliarySignal(120)

	var a, b State
	for _, s := range calmStream(epoch, 10) {
		a = calm.Ingest(s)
		b = racing.Ingest(s)
	}
	assert.Zero(t, a.Level)
	assert.InDelta(t, 0.25, b.Level, 1e-9) // only the heart-rate term contributes
}

func TestEngineDropsOutOfOrderSamples(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), nil)

	e.Ingest(MotionSample{Timestamp: at(time.Second)})
	st := e.Ingest(MotionSample{Timestamp: at(0)})

	assert.Equal(t, 1, st.Dropped)
	assert.Equal(t, 1, st.Samples)
	assert.False(t, st.Inferred)
}

func TestEnginePublishesWithoutBlocking(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.InferenceInterval = time.Millisecond
	e := NewEngine(cfg, nil)

	first := e.Subscribe(1)
	all := e.Subscribe(256)
	for _, s := range stressedStream(epoch, 100) {
		e.Ingest(s)
	}

	// The one-slot subscriber kept the first cycle, which had too few
	// samples to score, and missed the rest without stalling ingest.
	select {
	case st := <-first:
		assert.True(t, st.Inferred)
		assert.False(t, st.Scored)
		assert.Equal(t, PhaseAccumulating, st.Phase)
	default:
		t.Fatal("expected a published state")
	}

	var scored, accumulating int
	for len(all) > 0 {
		st := <-all
		if st.Scored {
			scored++
		} else if st.Phase == PhaseAccumulating {
			accumulating++
		}
	}
	assert.Equal(t, MinSamples, accumulating, "cycles before the window had enough samples")
	assert.Positive(t, scored)

	select {
	case iv := <-e.Interventions():
		assert.Greater(t, iv.Level, DefaultStressThreshold)
	default:
		t.Fatal("expected an intervention")
	}

	e.Reset()
	st := <-first
	assert.Equal(t, PhaseIdle, st.Phase)
}

func TestEngineOverflowingInputKeepsLevelFinite(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), nil)
	var cycles int
	e.OnCycle(func(Cycle) { cycles++ })

	var st State
	for i := 0; i < 20; i++ {
		v := 1e308
		if i%2 == 1 {
			v = -v
		}
		st = e.Ingest(MotionSample{Timestamp: at(ms(300 * i)), Velocity: v, Acceleration: v})
	}

	assert.Zero(t, st.Dropped, "huge finite samples are accepted")
	assert.Zero(t, cycles, "overflowing windows are never scored")
	assert.False(t, math.IsNaN(st.Level) || math.IsInf(st.Level, 0))
	assert.Zero(t, st.Level)
	assert.False(t, st.Stressed)
	assert.Equal(t, BandCalm, st.Band)
	_, err := json.Marshal(st)
	require.NoError(t, err)

	st = e.Ingest(MotionSample{Timestamp: at(10 * time.Second), Velocity: math.Inf(1)})
	assert.Equal(t, 1, st.Dropped)
}

func TestEngineRecordsCycles(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), NewClassifier(scorerFunc(func(Features, float64) (float64, error) {
		return 0, ErrModelUnavailable
	})))

	var cycles []Cycle
	e.OnCycle(func(c Cycle) { cycles = append(cycles, c) })

	for _, s := range calmStream(epoch, 100) { // 5 seconds
		e.Ingest(s)
	}

	require.Len(t, cycles, 2) // at 2.0s and 4.0s; the cycle at 0s had one sample
	for _, c := range cycles {
		assert.Equal(t, StrategyHeuristic, c.Strategy)
		assert.ErrorIs(t, c.Fallback, ErrModelUnavailable)
		assert.InDelta(t, 100, c.Features.MeanVelocity, 1e-9)
	}
}

func TestEngineConcurrentIngest(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.InferenceInterval = time.Millisecond
	e := NewEngine(cfg, nil)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, s := range calmStream(epoch, 200) {
				e.Ingest(s)
				e.SetAuxiliarySignal(70)
			}
		}()
	}
	wg.Wait()

	st := e.State()
	assert.LessOrEqual(t, st.History, DefaultHistorySize)
	assert.False(t, st.Stressed)
}
