// Package biometrics infers stress from scroll behaviour.
//
// The pipeline has three stages:
//   - Buffer keeps a time-bounded window of motion samples and extracts a
//     statistical feature vector from it.
//   - Classifier maps features (plus an optional heart rate) to a score in
//     [0,1], preferring a learned model and falling back to a heuristic.
//   - Engine throttles inference, smooths scores over the last few cycles,
//     thresholds the smoothed level and rate-limits interventions.
//
// Research behind the features:
//   - Erratic scrolling (high velocity variance) and abrupt motion (high
//     acceleration RMS) both rise under stress
//   - Frequent direction reversals indicate indecisive browsing
//   - Short hesitations between scroll events track cognitive load
package biometrics

import "fmt"

// Band is a coarse label for a stress level.
type Band int

const (
	BandCalm Band = iota
	BandNormal
	BandElevated
	BandHigh
	BandAnxious
)

func (b Band) String() string {
	switch b {
	case BandCalm:
		return "calm"
	case BandNormal:
		return "normal"
	case BandElevated:
		return "elevated"
	case BandHigh:
		return "high"
	case BandAnxious:
		return "anxious"
	default:
		return "unknown"
	}
}

// MarshalText makes bands render as names in JSON.
func (b Band) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// BandFor converts a level in [0,1] to a band.
func BandFor(level float64) Band {
	switch {
	case level < 0.15:
		return BandCalm
	case level < 0.35:
		return BandNormal
	case level < 0.55:
		return BandElevated
	case level < 0.75:
		return BandHigh
	default:
		return BandAnxious
	}
}

// UnmarshalText parses a band name.
func (b *Band) UnmarshalText(text []byte) error {
	for c := BandCalm; c <= BandAnxious; c++ {
		if c.String() == string(text) {
			*b = c
			return nil
		}
	}
	return fmt.Errorf("unknown stress band %q", text)
}
