// Package daemon provides the Manager that wires input sources to the
// stress engine and the engine to the user.
//
// Data flow:
//   - Sources (wheel, HTTP API) -> Recorder -> Engine
//   - Heart-rate feeds -> Engine.SetAuxiliarySignal
//   - Engine -> Dispatcher (desktop nudge, socket broadcast, session log)
//
// Periodic loops:
//   - Flush: every 5 seconds (batched sample and cycle writes)
//   - Status: every minute (one log line with the current level)
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Atharva-Kanherkar/stressnudger/internal/api"
	"github.com/Atharva-Kanherkar/stressnudger/internal/capture"
	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/heartrate"
	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/wheel"
	"github.com/Atharva-Kanherkar/stressnudger/internal/config"
	"github.com/Atharva-Kanherkar/stressnudger/internal/notify"
	"github.com/Atharva-Kanherkar/stressnudger/internal/nudge"
	"github.com/Atharva-Kanherkar/stressnudger/internal/platform"
	"github.com/Atharva-Kanherkar/stressnudger/internal/storage"
)

// Intervals defines how often the periodic loops run.
type Intervals struct {
	Flush  time.Duration
	Status time.Duration
}

// DefaultIntervals returns sensible default intervals.
func DefaultIntervals() Intervals {
	return Intervals{
		Flush:  5 * time.Second,
		Status: time.Minute,
	}
}

// Manager orchestrates sources, engine and delivery.
type Manager struct {
	cfg       *config.Config
	platform  *platform.Platform
	store     *storage.Store
	intervals Intervals

	engine     *biometrics.Engine
	recorder   *Recorder
	dispatcher *nudge.Dispatcher
	socket     *notify.SocketServer
	api        *api.Server
	sources    []capture.Source

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// LoadClassifier builds the classifier for cfg. A missing or broken model
// leaves the heuristic in charge.
func LoadClassifier(cfg *config.Config) *biometrics.Classifier {
	if cfg.Detection.ModelPath == "" {
		return biometrics.NewClassifier(nil)
	}

	model, err := biometrics.LoadForest(cfg.Detection.ModelPath)
	if err != nil {
		log.Printf("[engine] Using heuristic classifier: %v", err)
		return biometrics.NewClassifier(nil)
	}
	log.Printf("[engine] Loaded model %q (%d trees)", model.Name, len(model.Trees))
	return biometrics.NewClassifier(model)
}

// NewManager creates a Manager and opens a new session in store.
func NewManager(cfg *config.Config, plat *platform.Platform, store *storage.Store) (*Manager, error) {
	if store == nil {
		return nil, errors.New("daemon needs a store")
	}

	engine := biometrics.NewEngine(cfg.EngineConfig(), LoadClassifier(cfg))

	sessionID, err := store.StartSession(time.Now())
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	log.Printf("[daemon] Session %s", sessionID)

	recorder := NewRecorder(engine, store, sessionID, cfg.RecordSamples)
	engine.OnCycle(recorder.RecordCycle)

	m := &Manager{
		cfg:       cfg,
		platform:  plat,
		store:     store,
		intervals: DefaultIntervals(),
		engine:    engine,
		recorder:  recorder,
	}

	dcfg := nudge.Config{
		Store:     store,
		SessionID: sessionID,
		Features:  engine.Features,
	}
	if cfg.Notifications.Desktop && plat.HasNotifySend {
		dcfg.Desktop = notify.NewDesktopNotifier()
	}
	if cfg.Notifications.SocketPath != "" {
		m.socket = notify.NewSocketServer(cfg.Notifications.SocketPath)
		m.socket.OnCommand(m.handleCommand)
		dcfg.Socket = m.socket
	}
	m.dispatcher = nudge.NewDispatcher(dcfg)

	if cfg.API.Enabled {
		m.api = api.NewServer(api.Config{
			Listen:         cfg.API.Listen,
			Engine:         engine,
			Sink:           recorder,
			Store:          store,
			CurrentSession: recorder.SessionID,
			Flush:          recorder.Flush,
		})
	}

	m.sources = m.buildSources()
	return m, nil
}

func (m *Manager) buildSources() []capture.Source {
	var sources []capture.Source

	if m.cfg.Input.WheelEnabled {
		sources = append(sources, wheel.New(m.cfg.Input.Device, m.cfg.Input.PixelsPerDetent, m.recorder))
	}

	switch m.cfg.HeartRate.Source {
	case config.HeartRateWebSocket:
		sources = append(sources, heartrate.NewWebSocketSource(m.cfg.HeartRate.URL, m.engine))
	case config.HeartRateSerial:
		sources = append(sources, heartrate.NewSerialSource(m.cfg.HeartRate.SerialPort, m.cfg.HeartRate.BaudRate, m.engine))
	}

	return sources
}

// Engine returns the decision engine.
func (m *Manager) Engine() *biometrics.Engine {
	return m.engine
}

// SessionID returns the session being recorded.
func (m *Manager) SessionID() string {
	return m.recorder.SessionID()
}

// Start begins all loops.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)

	log.Println("Starting stress manager...")
	m.logAvailableSources()

	if m.socket != nil {
		if err := m.socket.Start(); err != nil {
			// Desktop nudges still work without watch clients
			log.Printf("[socket] Failed to start: %v", err)
		} else {
			log.Printf("[socket] Listening on %s", m.cfg.Notifications.SocketPath)
		}
	}

	states := m.engine.Subscribe(16)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dispatcher.Run(m.ctx, states, m.engine.Interventions())
	}()

	for _, src := range m.sources {
		if !src.Available() {
			continue
		}
		m.wg.Add(1)
		go m.runSource(src)
	}

	if m.api != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.api.Run(m.ctx); err != nil {
				log.Printf("[api] Server error: %v", err)
			}
		}()
	}

	m.wg.Add(2)
	go m.runLoop("flush", m.intervals.Flush, m.recorder.Flush)
	go m.runLoop("status", m.intervals.Status, m.logStatus)
}

// Stop gracefully stops everything and closes the session.
func (m *Manager) Stop() {
	log.Println("Stopping stress manager...")

	m.cancel()
	m.wg.Wait()

	if m.socket != nil {
		m.socket.Stop()
	}
	if err := m.recorder.Flush(); err != nil {
		log.Printf("[storage] Final flush failed: %v", err)
	}
	if err := m.store.EndSession(m.SessionID(), time.Now()); err != nil {
		log.Printf("[storage] Failed to close session: %v", err)
	}

	log.Printf("Stress manager stopped (%d nudges this session)", m.dispatcher.Sent())
}

// runSource runs one long-lived source.
func (m *Manager) runSource(src capture.Source) {
	defer m.wg.Done()

	log.Printf("[%s] Starting", src.Name())
	if err := src.Run(m.ctx); err != nil {
		log.Printf("[%s] Stopped: %v", src.Name(), err)
		return
	}
	log.Printf("[%s] Stopped", src.Name())
}

// runLoop runs fn at regular intervals.
func (m *Manager) runLoop(name string, interval time.Duration, fn func() error) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := fn(); err != nil {
				log.Printf("[%s] Error: %v", name, err)
			}
		}
	}
}

func (m *Manager) logStatus() error {
	st := m.engine.State()
	log.Printf("[engine] Level %.2f (%s), phase %s, %d samples in window, %d dropped",
		st.Level, st.Band, st.Phase, st.Samples, st.Dropped)
	return nil
}

// handleCommand reacts to messages from watch clients.
func (m *Manager) handleCommand(msg notify.Message) {
	switch msg.Type {
	case notify.MessageReset:
		log.Println("[socket] Reset requested")
		m.engine.Reset()
	}
}

func (m *Manager) logAvailableSources() {
	log.Printf("Platform: %s", m.platform)
	for _, src := range m.sources {
		status := "unavailable"
		if src.Available() {
			status = "available"
		}
		log.Printf("  [%s] %s", src.Name(), status)
	}
	if m.api != nil {
		log.Printf("  [api] %s", m.cfg.API.Listen)
	}
	for _, hint := range m.platform.CheckRequirements() {
		log.Printf("  missing: %s", hint)
	}
}
