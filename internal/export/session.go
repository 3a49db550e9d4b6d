package export

import (
	"fmt"
	"io"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
	"github.com/Atharva-Kanherkar/stressnudger/internal/storage"
)

// SessionSource reads a recorded session. *storage.Store satisfies it.
type SessionSource interface {
	Samples(sessionID string) ([]biometrics.MotionSample, error)
	Cycles(sessionID string) ([]storage.CycleRecord, error)
}

// WriteSession exports one stored session.
func WriteSession(w io.Writer, src SessionSource, sessionID string) error {
	samples, err := src.Samples(sessionID)
	if err != nil {
		return fmt.Errorf("load samples: %w", err)
	}
	cycles, err := src.Cycles(sessionID)
	if err != nil {
		return fmt.Errorf("load cycles: %w", err)
	}
	return WriteCSV(w, samples, Snapshots(cycles))
}

// Snapshots converts stored cycles to feature snapshots.
func Snapshots(cycles []storage.CycleRecord) []Snapshot {
	out := make([]Snapshot, len(cycles))
	for i, c := range cycles {
		out[i] = Snapshot{Timestamp: c.Timestamp, Features: c.Features}
	}
	return out
}
