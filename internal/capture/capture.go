// Package capture defines the interface shared by every input source.
//
// The design principle: scroll input (wheel, HTTP) and physiological input
// (heart rate) are all long-running producers. Each one implements Source so
// the daemon can start, supervise and stop them uniformly.
package capture

import (
	"context"
	"time"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
)

// Source is a long-running producer of observations.
type Source interface {
	// Name returns the source identifier (e.g., "wheel", "heartrate")
	Name() string

	// Available checks if this source can run on the current system.
	// For example, wheel capture needs a readable /dev/input device.
	Available() bool

	// Run blocks, delivering observations until ctx is cancelled or the
	// source fails for good.
	Run(ctx context.Context) error
}

// SampleSink receives motion samples. *biometrics.Engine satisfies it.
type SampleSink interface {
	Ingest(s biometrics.MotionSample) biometrics.State
}

// HeartRateSink receives heart-rate readings in bpm. *biometrics.Engine
// satisfies it.
type HeartRateSink interface {
	SetAuxiliarySignal(bpm float64)
}

// OffsetFeeder turns positional observations into samples for a sink.
// It is not safe for concurrent use; give each source its own.
type OffsetFeeder struct {
	sink    SampleSink
	deriver *biometrics.Deriver
}

// NewOffsetFeeder creates a feeder delivering into sink.
func NewOffsetFeeder(sink SampleSink) *OffsetFeeder {
	return &OffsetFeeder{sink: sink, deriver: biometrics.NewDeriver()}
}

// Observe records a scroll position. It reports whether a sample reached
// the sink.
func (f *OffsetFeeder) Observe(ts time.Time, offset float64) bool {
	s, ok := f.deriver.Observe(ts, offset)
	if !ok {
		return false
	}
	f.sink.Ingest(s)
	return true
}

// Reset forgets the previous position, e.g. after a device reconnect.
func (f *OffsetFeeder) Reset() {
	f.deriver.Reset()
}
