package biometrics

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time {
	return epoch.Add(d)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func TestBufferExtractReferenceScenario(t *testing.T) {
	b := NewBuffer(DefaultWindowSpan)

	velocities := []float64{100, 100, -100, 100, 100, -100}
	accelerations := []float64{60, -60, 60, -60, 60, -60}
	for i := range velocities {
		require.NoError(t, b.Add(MotionSample{
			Timestamp:    at(ms(i * 100)),
			Velocity:     velocities[i],
			Offset:       float64(i),
			Acceleration: accelerations[i],
		}))
	}

	got, ok := b.Extract()
	require.True(t, ok)

	want := Features{
		MeanVelocity:            100,
		VelocityStdDev:          0,
		MaxVelocity:             100,
		Jerkiness:               60,
		AccelerationSignChanges: 5,
		DirectionReversals:      3, // flips at pairs (1,2), (2,3), (4,5)
		MicroPauseCount:         0, // 100ms gaps sit on the exclusive lower bound
		LongPauseCount:          0,
		WindowDurationSeconds:   0.5,
		SampleFrequencyHz:       6, // duration floored to one second
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
}

func TestBufferExtractNeedsMoreThanMinSamples(t *testing.T) {
	b := NewBuffer(DefaultWindowSpan)

	for i := 0; i < MinSamples; i++ {
		require.NoError(t, b.Add(MotionSample{Timestamp: at(ms(i * 50)), Velocity: 10}))
		_, ok := b.Extract()
		assert.False(t, ok, "extract with %d samples", b.Len())
	}

	require.NoError(t, b.Add(MotionSample{Timestamp: at(ms(MinSamples * 50)), Velocity: 10}))
	_, ok := b.Extract()
	assert.True(t, ok)
}

func TestBufferEvictsRelativeToNewestSample(t *testing.T) {
	b := NewBuffer(10 * time.Second)

	for sec := 0; sec <= 12; sec++ {
		require.NoError(t, b.Add(MotionSample{Timestamp: at(time.Duration(sec) * time.Second)}))
	}

	samples := b.Samples()
	require.Len(t, samples, 11)
	assert.Equal(t, at(2*time.Second), samples[0].Timestamp)

	newest := samples[len(samples)-1].Timestamp
	for _, s := range samples {
		assert.LessOrEqual(t, newest.Sub(s.Timestamp), 10*time.Second)
	}
}

func TestBufferKeepsBurstsWithoutCountLimit(t *testing.T) {
	b := NewBuffer(time.Second)
	for i := 0; i < 5000; i++ {
		require.NoError(t, b.Add(MotionSample{Timestamp: at(time.Duration(i) * 100 * time.Microsecond)}))
	}
	assert.Equal(t, 5000, b.Len())
}

func TestBufferRejectsOutOfOrderSamples(t *testing.T) {
	b := NewBuffer(DefaultWindowSpan)
	require.NoError(t, b.Add(MotionSample{Timestamp: at(time.Second)}))
	require.NoError(t, b.Add(MotionSample{Timestamp: at(time.Second)}), "equal timestamps are allowed")

	err := b.Add(MotionSample{Timestamp: at(500 * time.Millisecond)})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, 2, b.Len())
}

func TestBufferRejectsNonFiniteSamples(t *testing.T) {
	b := NewBuffer(DefaultWindowSpan)
	require.NoError(t, b.Add(MotionSample{Timestamp: at(0), Velocity: 1e308}), "huge but finite is fine")

	for _, s := range []MotionSample{
		{Timestamp: at(ms(100)), Velocity: math.NaN()},
		{Timestamp: at(ms(200)), Offset: math.Inf(-1)},
		{Timestamp: at(ms(300)), Acceleration: math.Inf(1)},
	} {
		assert.ErrorIs(t, b.Add(s), ErrNonFinite)
	}
	assert.Equal(t, 1, b.Len())

	// Offsets at opposite ends of the float range derive an infinite velocity.
	d := NewDeriver()
	d.Observe(at(0), -1e308)
	s, ok := d.Observe(at(ms(300)), 1e308)
	require.True(t, ok)
	assert.True(t, math.IsInf(s.Velocity, 1))
	assert.ErrorIs(t, b.Add(s), ErrNonFinite)
}

func TestFeaturesFinite(t *testing.T) {
	assert.True(t, Features{MeanVelocity: 1e308}.Finite())
	assert.False(t, Features{MeanVelocity: math.Inf(1)}.Finite())
	assert.False(t, Features{VelocityStdDev: math.NaN()}.Finite())
}

func TestBufferPauseBands(t *testing.T) {
	b := NewBuffer(time.Minute)

	// gaps: 300ms (micro), 500ms (neither), 2s (neither), 2.5s (long), 100ms (neither), 450ms (micro)
	offsets := []int{0, 300, 800, 2800, 5300, 5400, 5850}
	for _, o := range offsets {
		require.NoError(t, b.Add(MotionSample{Timestamp: at(ms(o)), Velocity: 1}))
	}

	f, ok := b.Extract()
	require.True(t, ok)
	assert.Equal(t, 2, f.MicroPauseCount)
	assert.Equal(t, 1, f.LongPauseCount)
	assert.InDelta(t, 5.85, f.WindowDurationSeconds, 1e-9)
	assert.InDelta(t, 7/5.85, f.SampleFrequencyHz, 1e-9)
}

func TestBufferTreatsZeroAsNonPositive(t *testing.T) {
	b := NewBuffer(DefaultWindowSpan)

	velocities := []float64{0, -5, 0, 5, 0, 5}
	accelerations := []float64{-1, 0, -2, 0, 3, 4}
	for i := range velocities {
		require.NoError(t, b.Add(MotionSample{
			Timestamp:    at(ms(i * 20)),
			Velocity:     velocities[i],
			Acceleration: accelerations[i],
		}))
	}

	f, ok := b.Extract()
	require.True(t, ok)
	assert.Equal(t, 3, f.DirectionReversals)      // 0->5, 5->0, 0->5
	assert.Equal(t, 1, f.AccelerationSignChanges) // 0->3
}

func TestBufferJerkinessIsRMSAboutZero(t *testing.T) {
	b := NewBuffer(DefaultWindowSpan)

	// mean 100, so a variance about the mean would be 0
	for i := 0; i < 6; i++ {
		require.NoError(t, b.Add(MotionSample{Timestamp: at(ms(i * 10)), Acceleration: 100}))
	}

	f, ok := b.Extract()
	require.True(t, ok)
	assert.InDelta(t, 100, f.Jerkiness, 1e-9)
}

func TestBufferResetEmptiesWindow(t *testing.T) {
	b := NewBuffer(DefaultWindowSpan)
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Add(MotionSample{Timestamp: at(ms(i * 10))}))
	}

	b.Reset()
	assert.Zero(t, b.Len())
	_, ok := b.Extract()
	assert.False(t, ok)

	// timestamps before the reset are fine again
	assert.NoError(t, b.Add(MotionSample{Timestamp: at(0)}))
}

func TestFeaturesVectorOrder(t *testing.T) {
	f := Features{
		MeanVelocity:            1,
		VelocityStdDev:          2,
		MaxVelocity:             3,
		Jerkiness:               4,
		AccelerationSignChanges: 5,
		DirectionReversals:      6,
		MicroPauseCount:         7,
		LongPauseCount:          8,
		WindowDurationSeconds:   9,
		SampleFrequencyHz:       10,
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, f.Vector())
	assert.Len(t, FeatureNames, len(f.Vector()))
}

func TestDeriverFiniteDifferences(t *testing.T) {
	d := NewDeriver()

	_, ok := d.Observe(at(0), 0)
	assert.False(t, ok, "first observation only primes")

	s, ok := d.Observe(at(ms(500)), 50)
	require.True(t, ok)
	assert.InDelta(t, 100, s.Velocity, 1e-9)
	assert.Zero(t, s.Acceleration)
	assert.Equal(t, 50.0, s.Offset)

	s, ok = d.Observe(at(ms(1000)), 75)
	require.True(t, ok)
	assert.InDelta(t, 50, s.Velocity, 1e-9)
	assert.InDelta(t, -100, s.Acceleration, 1e-9)

	_, ok = d.Observe(at(ms(1000)), 80)
	assert.False(t, ok, "no time elapsed")

	d.Reset()
	_, ok = d.Observe(at(ms(2000)), 0)
	assert.False(t, ok)
}
