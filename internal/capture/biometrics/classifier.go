package biometrics

import (
	"fmt"
	"math"
	"sort"
)

// Strategy names the scoring path that produced a prediction.
type Strategy string

const (
	StrategyHeuristic Strategy = "heuristic"
	StrategyLearned   Strategy = "learned"
)

// Scorer maps a feature vector plus an optional heart rate to a stress
// score. A heart rate <= 0 means no reading.
type Scorer interface {
	Score(f Features, heartRate float64) (float64, error)
}

// Normalize is a clamped linear ramp: 0 at or below lo, 1 at or above hi.
func Normalize(v, lo, hi float64) float64 {
	switch {
	case v <= lo:
		return 0
	case v >= hi:
		return 1
	default:
		return (v - lo) / (hi - lo)
	}
}

// ValidHeartRate reports whether v is a usable auxiliary reading.
func ValidHeartRate(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// clamp01 bounds v to [0,1]. NaN maps to 0.
func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}

// Empirical bounds: relaxed scrolling sits at the low end, stressed
// scrolling at or above the high end.
var (
	velocityStdDevBounds = [2]float64{30, 80}
	jerkinessBounds      = [2]float64{50, 150}
	reversalBounds       = [2]float64{1, 4}
	microPauseBounds     = [2]float64{2, 6}
	heartRateBounds      = [2]float64{70, 95}

	motionWeights    = [4]float64{0.35, 0.30, 0.20, 0.15}
	heartRateWeights = [5]float64{0.25, 0.25, 0.15, 0.10, 0.25}
)

// HeuristicClassifier scores features with fixed normalization bounds and
// weights. It needs no external assets and never fails.
type HeuristicClassifier struct{}

// Score implements Scorer.
func (HeuristicClassifier) Score(f Features, heartRate float64) (float64, error) {
	return HeuristicClassifier{}.Predict(f, heartRate), nil
}

// Predict returns the weighted stress score in [0,1].
func (HeuristicClassifier) Predict(f Features, heartRate float64) float64 {
	scores := []float64{
		Normalize(f.VelocityStdDev, velocityStdDevBounds[0], velocityStdDevBounds[1]),
		Normalize(f.Jerkiness, jerkinessBounds[0], jerkinessBounds[1]),
		Normalize(float64(f.DirectionReversals), reversalBounds[0], reversalBounds[1]),
		Normalize(float64(f.MicroPauseCount), microPauseBounds[0], microPauseBounds[1]),
	}

	weights := motionWeights[:]
	if ValidHeartRate(heartRate) {
		scores = append(scores, Normalize(heartRate, heartRateBounds[0], heartRateBounds[1]))
		weights = heartRateWeights[:]
	}

	var sum float64
	for i, s := range scores {
		sum += weights[i] * s
	}
	return clamp01(sum)
}

// Indicator is one motion component of the heuristic, normalized to [0,1].
type Indicator struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Indicators breaks the motion part of the heuristic into its components,
// strongest first.
func Indicators(f Features) []Indicator {
	out := []Indicator{
		{"erratic speed", Normalize(f.VelocityStdDev, velocityStdDevBounds[0], velocityStdDevBounds[1])},
		{"jerky motion", Normalize(f.Jerkiness, jerkinessBounds[0], jerkinessBounds[1])},
		{"back-and-forth scrolling", Normalize(float64(f.DirectionReversals), reversalBounds[0], reversalBounds[1])},
		{"hesitation", Normalize(float64(f.MicroPauseCount), microPauseBounds[0], microPauseBounds[1])},
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

// Prediction is the outcome of one classification.
type Prediction struct {
	Score    float64
	Strategy Strategy

	// Fallback holds the learned-model failure that forced the heuristic
	// path, if any. It is informational only.
	Fallback error
}

// Classifier tries a learned scorer first and falls back to the heuristic
// whenever the learned one is missing, errors, panics or returns a
// non-finite score.
type Classifier struct {
	learned   Scorer
	heuristic HeuristicClassifier
}

// NewClassifier creates a classifier. learned may be nil.
func NewClassifier(learned Scorer) *Classifier {
	return &Classifier{learned: learned}
}

// HasLearnedModel reports whether a learned scorer is configured.
func (c *Classifier) HasLearnedModel() bool {
	return c.learned != nil
}

// Predict always returns a score in [0,1].
func (c *Classifier) Predict(f Features, heartRate float64) Prediction {
	if c.learned == nil {
		return Prediction{
			Score:    c.heuristic.Predict(f, heartRate),
			Strategy: StrategyHeuristic,
		}
	}

	score, err := safeScore(c.learned, f, heartRate)
	if err == nil && (math.IsNaN(score) || math.IsInf(score, 0)) {
		err = fmt.Errorf("learned model returned %v", score)
	}
	if err != nil {
		return Prediction{
			Score:    c.heuristic.Predict(f, heartRate),
			Strategy: StrategyHeuristic,
			Fallback: err,
		}
	}

	return Prediction{Score: clamp01(score), Strategy: StrategyLearned}
}

// safeScore runs the scorer and turns a panic into an error.
func safeScore(s Scorer, f Features, heartRate float64) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("learned model panicked: %v", r)
		}
	}()
	return s.Score(f, heartRate)
}
