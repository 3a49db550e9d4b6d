// Package api exposes the engine over a local HTTP API.
//
// Browser extensions and other apps that see scroll events the daemon
// cannot (e.g. a page's scrollTop) post them here. The API also serves
// the current state and session exports.
package api

import (
	"context"
	"log"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture"
	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
	"github.com/Atharva-Kanherkar/stressnudger/internal/export"
	"github.com/Atharva-Kanherkar/stressnudger/internal/storage"
)

// maxBatch bounds one request's samples.
const maxBatch = 10000

// SessionStore is the read side of storage the API needs.
type SessionStore interface {
	export.SessionSource
	Session(id string) (storage.Session, error)
	LatestSession() (storage.Session, error)
	Sessions(limit int) ([]storage.Session, error)
}

// Config wires the server.
type Config struct {
	Listen string
	Engine *biometrics.Engine

	// Sink receives ingested samples. Defaults to Engine; the daemon passes
	// its recorder so API input lands in the session log too.
	Sink capture.SampleSink

	// Optional session access for exports.
	Store          SessionStore
	CurrentSession func() string
	Flush          func() error // persist buffered samples before an export
}

// Server is the HTTP API server.
type Server struct {
	app  *fiber.App
	cfg  Config
	sink capture.SampleSink

	feederMu sync.Mutex
	feeder   *capture.OffsetFeeder
}

// NewServer creates the server and registers routes.
func NewServer(cfg Config) *Server {
	sink := cfg.Sink
	if sink == nil {
		sink = cfg.Engine
	}

	s := &Server{
		cfg:    cfg,
		sink:   sink,
		feeder: capture.NewOffsetFeeder(sink),
	}

	app := fiber.New(fiber.Config{
		AppName:               "StressNudger",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	api := app.Group("/api")
	api.Post("/samples", s.handleSamples)
	api.Post("/offsets", s.handleOffsets)
	api.Post("/heart-rate", s.handleHeartRate)
	api.Get("/state", s.handleState)
	api.Post("/reset", s.handleReset)
	api.Get("/sessions", s.handleSessions)
	api.Get("/sessions/:id/export.csv", s.handleExport)

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		log.Printf("[api] Listening on http://%s", s.cfg.Listen)
		errc <- s.app.Listen(s.cfg.Listen)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return s.app.Shutdown()
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	if code >= fiber.StatusInternalServerError {
		log.Printf("[api] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
