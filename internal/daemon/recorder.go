package daemon

import (
	"errors"
	"log"
	"sync"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture"
	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
)

// maxPending bounds how many samples, and separately cycles, a failing
// store can leave buffered.
const maxPending = 100_000

// SessionWriter persists a session. *storage.Store satisfies it.
type SessionWriter interface {
	SaveSamples(sessionID string, samples []biometrics.MotionSample) error
	SaveCycle(sessionID string, c biometrics.Cycle) error
}

// Recorder sits between the sources and the engine. Accepted samples and
// completed cycles are buffered and written in batches by Flush, so the
// ingest path never waits on SQLite.
type Recorder struct {
	sink          capture.SampleSink
	store         SessionWriter
	sessionID     string
	recordSamples bool

	ingestMu sync.Mutex
	dropped  int

	bufMu   sync.Mutex
	samples []biometrics.MotionSample
	cycles  []biometrics.Cycle
}

// NewRecorder creates a recorder forwarding to sink.
func NewRecorder(sink capture.SampleSink, store SessionWriter, sessionID string, recordSamples bool) *Recorder {
	return &Recorder{
		sink:          sink,
		store:         store,
		sessionID:     sessionID,
		recordSamples: recordSamples,
	}
}

// SessionID returns the session being recorded.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// Ingest forwards a sample and buffers it if the engine accepted it. The
// sample is buffered before the next one is forwarded, so recorded samples
// keep the engine's order.
func (r *Recorder) Ingest(s biometrics.MotionSample) biometrics.State {
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()

	st := r.sink.Ingest(s)
	accepted := st.Dropped == r.dropped
	r.dropped = st.Dropped

	if accepted && r.recordSamples {
		r.bufMu.Lock()
		r.samples = append(r.samples, s)
		r.bufMu.Unlock()
	}
	return st
}

// RecordCycle buffers a scoring cycle. Register it with Engine.OnCycle.
func (r *Recorder) RecordCycle(c biometrics.Cycle) {
	r.bufMu.Lock()
	r.cycles = append(r.cycles, c)
	r.bufMu.Unlock()
}

// Pending returns the number of buffered samples and cycles.
func (r *Recorder) Pending() (samples, cycles int) {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	return len(r.samples), len(r.cycles)
}

// Flush writes everything buffered so far. Whatever the store fails to
// write is put back and retried by the next Flush.
func (r *Recorder) Flush() error {
	r.bufMu.Lock()
	samples, cycles := r.samples, r.cycles
	r.samples, r.cycles = nil, nil
	r.bufMu.Unlock()

	if r.store == nil {
		return nil
	}

	var errs []error
	if len(samples) > 0 {
		if err := r.store.SaveSamples(r.sessionID, samples); err != nil {
			errs = append(errs, err)
			r.requeue(samples, nil)
		}
	}
	for i, c := range cycles {
		if err := r.store.SaveCycle(r.sessionID, c); err != nil {
			errs = append(errs, err)
			r.requeue(nil, cycles[i:])
			break
		}
	}
	return errors.Join(errs...)
}

// requeue puts unwritten entries back ahead of anything buffered since the
// flush started.
func (r *Recorder) requeue(samples []biometrics.MotionSample, cycles []biometrics.Cycle) {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()

	if len(samples) > 0 {
		r.samples = keepNewest(append(samples, r.samples...), "samples")
	}
	if len(cycles) > 0 {
		r.cycles = keepNewest(append(cycles, r.cycles...), "cycles")
	}
}

func keepNewest[T any](items []T, what string) []T {
	n := len(items) - maxPending
	if n <= 0 {
		return items
	}
	log.Printf("[recorder] Store keeps failing, discarding %d oldest %s", n, what)
	return items[n:]
}
