package biometrics

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultWindowSpan is how much scroll history the buffer keeps.
	DefaultWindowSpan = 10 * time.Second

	// MinSamples is the sample count the buffer must exceed before features
	// are statistically meaningful.
	MinSamples = 5

	// Pause bands for the gap between adjacent samples.
	microPauseMin = 100 * time.Millisecond // exclusive
	microPauseMax = 500 * time.Millisecond // exclusive
	longPauseMin  = 2 * time.Second        // exclusive
)

var (
	// ErrOutOfOrder is returned when a sample is older than the newest buffered one.
	ErrOutOfOrder = errors.New("sample older than newest buffered sample")

	// ErrNonFinite is returned when a sample carries NaN or an infinity.
	ErrNonFinite = errors.New("sample has a non-finite field")
)

// FeatureNames lists the feature vector columns in the order used by Vector
// and by learned models.
var FeatureNames = []string{
	"meanVelocity",
	"velocityStdDev",
	"maxVelocity",
	"jerkiness",
	"accelerationSignChanges",
	"directionReversals",
	"microPauseCount",
	"longPauseCount",
	"windowDurationSeconds",
	"sampleFrequencyHz",
}

// Features is a statistical snapshot of the current scroll window.
type Features struct {
	// Velocity statistics over |velocity|
	MeanVelocity   float64 `json:"mean_velocity"`
	VelocityStdDev float64 `json:"velocity_std_dev"` // population
	MaxVelocity    float64 `json:"max_velocity"`

	// Jerkiness is the RMS of signed acceleration (about zero, not the mean)
	Jerkiness               float64 `json:"jerkiness"`
	AccelerationSignChanges int     `json:"acceleration_sign_changes"`

	// Pattern features
	DirectionReversals int `json:"direction_reversals"`
	MicroPauseCount    int `json:"micro_pause_count"`
	LongPauseCount     int `json:"long_pause_count"`

	// Temporal features
	WindowDurationSeconds float64 `json:"window_duration_seconds"`
	SampleFrequencyHz     float64 `json:"sample_frequency_hz"`
}

// Vector returns the features in FeatureNames order.
func (f Features) Vector() []float64 {
	return []float64{
		f.MeanVelocity,
		f.VelocityStdDev,
		f.MaxVelocity,
		f.Jerkiness,
		float64(f.AccelerationSignChanges),
		float64(f.DirectionReversals),
		float64(f.MicroPauseCount),
		float64(f.LongPauseCount),
		f.WindowDurationSeconds,
		f.SampleFrequencyHz,
	}
}

// Finite reports whether every feature is a finite number. Huge but finite
// inputs can still overflow the statistics.
func (f Features) Finite() bool {
	for _, v := range f.Vector() {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Buffer holds a time-bounded window of motion samples and extracts
// features from it. It is not safe for concurrent use; the Engine owns one
// and serializes access.
type Buffer struct {
	span    time.Duration
	samples []MotionSample
}

// NewBuffer creates a buffer retaining span worth of samples.
func NewBuffer(span time.Duration) *Buffer {
	if span <= 0 {
		span = DefaultWindowSpan
	}
	return &Buffer{
		span:    span,
		samples: make([]MotionSample, 0, 256),
	}
}

// Add appends a sample and evicts everything older than the window,
// measured from the new sample's own timestamp. Samples older than the
// newest one, or with NaN or infinite fields, are rejected.
func (b *Buffer) Add(s MotionSample) error {
	if !isFinite(s.Velocity) || !isFinite(s.Offset) || !isFinite(s.Acceleration) {
		return ErrNonFinite
	}
	if n := len(b.samples); n > 0 && s.Timestamp.Before(b.samples[n-1].Timestamp) {
		return ErrOutOfOrder
	}

	b.samples = append(b.samples, s)
	b.evict(s.Timestamp.Add(-b.span))
	return nil
}

// evict drops the stale prefix. Samples are ordered, so the first retained
// sample marks the cut.
func (b *Buffer) evict(cutoff time.Time) {
	keep := 0
	for keep < len(b.samples) && b.samples[keep].Timestamp.Before(cutoff) {
		keep++
	}
	if keep == 0 {
		return
	}
	b.samples = append(b.samples[:0], b.samples[keep:]...)
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Span returns the window length.
func (b *Buffer) Span() time.Duration {
	return b.span
}

// Samples returns a copy of the buffered samples, oldest first.
func (b *Buffer) Samples() []MotionSample {
	out := make([]MotionSample, len(b.samples))
	copy(out, b.samples)
	return out
}

// Reset clears the buffer.
func (b *Buffer) Reset() {
	b.samples = b.samples[:0]
}

// Extract computes features over the current window. It returns false when
// the buffer holds MinSamples or fewer samples.
func (b *Buffer) Extract() (Features, bool) {
	n := len(b.samples)
	if n <= MinSamples {
		return Features{}, false
	}

	speeds := make([]float64, n)
	velocities := make([]float64, n)
	accelerations := make([]float64, n)
	for i, s := range b.samples {
		speeds[i] = math.Abs(s.Velocity)
		velocities[i] = s.Velocity
		accelerations[i] = s.Acceleration
	}

	var f Features
	f.MeanVelocity, f.VelocityStdDev = stat.PopMeanStdDev(speeds, nil)
	f.MaxVelocity = floats.Max(speeds)
	f.Jerkiness = math.Sqrt(floats.Dot(accelerations, accelerations) / float64(n))
	f.AccelerationSignChanges = signChanges(accelerations)
	f.DirectionReversals = signChanges(velocities)

	for i := 1; i < n; i++ {
		gap := b.samples[i].Timestamp.Sub(b.samples[i-1].Timestamp)
		switch {
		case gap > microPauseMin && gap < microPauseMax:
			f.MicroPauseCount++
		case gap > longPauseMin:
			f.LongPauseCount++
		}
	}

	f.WindowDurationSeconds = b.samples[n-1].Timestamp.Sub(b.samples[0].Timestamp).Seconds()
	f.SampleFrequencyHz = float64(n) / math.Max(f.WindowDurationSeconds, 1.0)

	return f, true
}

// signChanges counts adjacent pairs that straddle zero. Zero counts as
// non-positive.
func signChanges(values []float64) int {
	var changes int
	for i := 1; i < len(values); i++ {
		if (values[i] > 0) != (values[i-1] > 0) {
			changes++
		}
	}
	return changes
}
