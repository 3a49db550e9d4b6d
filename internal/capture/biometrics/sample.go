package biometrics

import (
	"time"
)

// MotionSample is one observed scroll event. Samples are created once by the
// input collaborator and never mutated after they reach the buffer.
type MotionSample struct {
	Timestamp    time.Time `json:"timestamp"`
	Velocity     float64   `json:"velocity"`     // signed, points per second
	Offset       float64   `json:"offset"`       // absolute scroll position
	Acceleration float64   `json:"acceleration"` // signed, points per second^2
}

// Deriver turns a stream of (timestamp, offset) observations into motion
// samples by finite differences. Input sources that only know positions
// (wheel ticks, browser scrollTop) feed this instead of computing velocity
// themselves.
//
// The first observation only primes the deriver. The second one yields a
// sample with velocity but zero acceleration, since there is no previous
// velocity to difference against.
type Deriver struct {
	lastTime     time.Time
	lastOffset   float64
	lastVelocity float64
	primed       bool
	hasVelocity  bool
}

// NewDeriver creates an empty deriver.
func NewDeriver() *Deriver {
	return &Deriver{}
}

// Observe records a position and returns the derived sample, if any.
// Observations that do not move forward in time are dropped.
func (d *Deriver) Observe(ts time.Time, offset float64) (MotionSample, bool) {
	if !d.primed {
		d.lastTime = ts
		d.lastOffset = offset
		d.primed = true
		return MotionSample{}, false
	}

	dt := ts.Sub(d.lastTime).Seconds()
	if dt <= 0 {
		return MotionSample{}, false
	}

	velocity := (offset - d.lastOffset) / dt
	var acceleration float64
	if d.hasVelocity {
		acceleration = (velocity - d.lastVelocity) / dt
	}

	d.lastTime = ts
	d.lastOffset = offset
	d.lastVelocity = velocity
	d.hasVelocity = true

	return MotionSample{
		Timestamp:    ts,
		Velocity:     velocity,
		Offset:       offset,
		Acceleration: acceleration,
	}, true
}

// Reset forgets the previous observation.
func (d *Deriver) Reset() {
	*d = Deriver{}
}
