package daemon

import (
	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
)

// ReplayResult summarizes a replayed recording.
type ReplayResult struct {
	Samples       int                       `json:"samples"`
	Dropped       int                       `json:"dropped"`
	Cycles        []biometrics.Cycle        `json:"-"`
	Interventions []biometrics.Intervention `json:"interventions"`
	PeakLevel     float64                   `json:"peak_level"`
	Final         biometrics.State          `json:"final"`
}

// Replay feeds recorded samples through a fresh engine. Sample timestamps
// drive the engine clock, so a replay reproduces the recorded decisions
// without waiting in real time.
func Replay(samples []biometrics.MotionSample, cfg biometrics.EngineConfig, classifier *biometrics.Classifier) ReplayResult {
	engine := biometrics.NewEngine(cfg, classifier)

	var res ReplayResult
	engine.OnCycle(func(c biometrics.Cycle) {
		res.Cycles = append(res.Cycles, c)
		if c.Level > res.PeakLevel {
			res.PeakLevel = c.Level
		}
	})
	engine.OnIntervention(func(iv biometrics.Intervention) {
		res.Interventions = append(res.Interventions, iv)
	})

	for _, s := range samples {
		res.Final = engine.Ingest(s)
	}
	res.Samples = len(samples)
	res.Dropped = res.Final.Dropped
	return res
}
