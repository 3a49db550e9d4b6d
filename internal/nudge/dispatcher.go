package nudge

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
	"github.com/Atharva-Kanherkar/stressnudger/internal/notify"
)

// Notifier shows a desktop notification. *notify.DesktopNotifier satisfies it.
type Notifier interface {
	Send(title, body string, urgency notify.Urgency, timeoutMs int) error
}

// Broadcaster pushes messages to watch clients. *notify.SocketServer
// satisfies it.
type Broadcaster interface {
	Broadcast(msg notify.Message)
}

// Recorder persists interventions. *storage.Store satisfies it.
type Recorder interface {
	SaveIntervention(sessionID string, iv biometrics.Intervention, notifiedDesktop bool) error
}

// notificationTimeout keeps a nudge on screen for a while but not forever.
const notificationTimeout = 10 * time.Second

// Config wires the dispatcher. Every collaborator is optional.
type Config struct {
	Desktop   Notifier
	Socket    Broadcaster
	Store     Recorder
	SessionID string

	// Features returns the window's current features for the message body.
	Features func() (biometrics.Features, bool)
}

// Dispatcher delivers interventions and state updates.
type Dispatcher struct {
	cfg Config

	mu   sync.Mutex
	sent int
	last *biometrics.Intervention
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{cfg: cfg}
}

// Run consumes engine output until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, states <-chan biometrics.State, interventions <-chan biometrics.Intervention) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-states:
			d.HandleState(st)
		case iv := <-interventions:
			d.HandleIntervention(iv)
		}
	}
}

// HandleState forwards a state update to watch clients.
func (d *Dispatcher) HandleState(st biometrics.State) {
	if d.cfg.Socket == nil {
		return
	}
	d.cfg.Socket.Broadcast(notify.Message{
		Type:  notify.MessageState,
		Time:  st.Timestamp,
		State: &st,
	})
}

// HandleIntervention notifies, records and broadcasts one intervention.
func (d *Dispatcher) HandleIntervention(iv biometrics.Intervention) {
	var features *biometrics.Features
	if d.cfg.Features != nil {
		if f, ok := d.cfg.Features(); ok {
			features = &f
		}
	}
	n := Compose(iv, features)

	log.Printf("[nudge] %s: %s", n.Title, n.Body)

	notified := false
	if d.cfg.Desktop != nil {
		if err := d.cfg.Desktop.Send(n.Title, n.Body, n.Urgency, int(notificationTimeout/time.Millisecond)); err != nil {
			log.Printf("[nudge] Desktop notification failed: %v", err)
		} else {
			notified = true
		}
	}

	if d.cfg.Store != nil && d.cfg.SessionID != "" {
		if err := d.cfg.Store.SaveIntervention(d.cfg.SessionID, iv, notified); err != nil {
			log.Printf("[nudge] Failed to save intervention: %v", err)
		}
	}

	if d.cfg.Socket != nil {
		d.cfg.Socket.Broadcast(notify.Message{
			Type:         notify.MessageIntervention,
			Time:         iv.Timestamp,
			Intervention: &iv,
			Text:         n.Body,
		})
	}

	d.mu.Lock()
	d.sent++
	d.last = &iv
	d.mu.Unlock()
}

// Sent returns how many interventions were handled.
func (d *Dispatcher) Sent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent
}

// Last returns the most recent intervention, if any.
func (d *Dispatcher) Last() (biometrics.Intervention, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return biometrics.Intervention{}, false
	}
	return *d.last, true
}
