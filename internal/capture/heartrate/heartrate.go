// Package heartrate feeds an optional heart-rate signal into the engine.
//
// Two transports are supported: a WebSocket feed (phone or watch bridge
// apps push JSON frames) and a serial sensor (Arduino-style boards printing
// one reading per line). Both deliver bpm values to a capture.HeartRateSink
// and clear the signal when the connection drops, so a stale reading never
// outlives its source.
package heartrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNoReading means a frame or line carried no usable heart rate.
var ErrNoReading = errors.New("no heart rate reading")

// Plausible human range. Anything outside is sensor noise.
const (
	MinBPM = 25
	MaxBPM = 250

	// DefaultReconnectDelay is the wait between connection attempts.
	DefaultReconnectDelay = 5 * time.Second
)

// jsonReading accepts the field names used by common bridge apps.
type jsonReading struct {
	Snake *float64 `json:"heart_rate"`
	Camel *float64 `json:"heartRate"`
	BPM   *float64 `json:"bpm"`
}

// ParseReading extracts a bpm value from a JSON frame or a text line.
//
// Accepted forms:
//
//	{"heart_rate": 82}   {"heartRate": 82}   {"bpm": 82}
//	82   82.5   HR:82   HR=82   82 bpm
func ParseReading(data []byte) (float64, error) {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, ErrNoReading
	}

	if strings.HasPrefix(s, "{") {
		var r jsonReading
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrNoReading, err)
		}
		switch {
		case r.Snake != nil:
			return checkRange(*r.Snake)
		case r.Camel != nil:
			return checkRange(*r.Camel)
		case r.BPM != nil:
			return checkRange(*r.BPM)
		}
		return 0, ErrNoReading
	}

	upper := strings.ToUpper(s)
	if i := strings.IndexAny(upper, ":="); i >= 0 {
		if key := strings.TrimSpace(upper[:i]); key != "HR" && key != "BPM" {
			return 0, fmt.Errorf("%w: unknown key %q", ErrNoReading, key)
		}
		upper = upper[i+1:]
	}
	upper = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(upper), "BPM"))

	v, err := strconv.ParseFloat(upper, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNoReading, s)
	}
	return checkRange(v)
}

func checkRange(v float64) (float64, error) {
	if v < MinBPM || v > MaxBPM {
		return 0, fmt.Errorf("%w: %v bpm out of range", ErrNoReading, v)
	}
	return v, nil
}

// sleepCtx waits for d or until ctx is done. It reports false when ctx
// ended the wait.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
