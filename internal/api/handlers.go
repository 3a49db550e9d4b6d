package api

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
	"github.com/Atharva-Kanherkar/stressnudger/internal/export"
	"github.com/Atharva-Kanherkar/stressnudger/internal/storage"
)

// IngestResponse reports what happened to a batch.
type IngestResponse struct {
	Received int              `json:"received"`
	Accepted int              `json:"accepted"`
	State    biometrics.State `json:"state"`
}

// OffsetObservation is a raw scroll position.
type OffsetObservation struct {
	Timestamp time.Time `json:"timestamp"`
	Offset    float64   `json:"offset"`
}

// HeartRateRequest is the body of POST /api/heart-rate. 0 clears the signal.
type HeartRateRequest struct {
	BPM float64 `json:"bpm"`
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	State     biometrics.State     `json:"state"`
	HeartRate float64              `json:"heart_rate"`
	Features  *biometrics.Features `json:"features,omitempty"`
	Session   string               `json:"session,omitempty"`
}

// handleSamples ingests fully-derived motion samples
func (s *Server) handleSamples(c *fiber.Ctx) error {
	var samples []biometrics.MotionSample
	if err := c.BodyParser(&samples); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid samples: "+err.Error())
	}
	if len(samples) > maxBatch {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d samples per request", maxBatch))
	}

	resp := IngestResponse{Received: len(samples), State: s.cfg.Engine.State()}
	dropped := resp.State.Dropped
	for _, smp := range samples {
		if smp.Timestamp.IsZero() {
			continue
		}
		st := s.sink.Ingest(smp)
		if st.Dropped == dropped {
			resp.Accepted++
		}
		dropped = st.Dropped
	}
	resp.State = s.cfg.Engine.State()
	return c.JSON(resp)
}

// handleOffsets derives samples from raw positions
func (s *Server) handleOffsets(c *fiber.Ctx) error {
	var obs []OffsetObservation
	if err := c.BodyParser(&obs); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid offsets: "+err.Error())
	}
	if len(obs) > maxBatch {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d offsets per request", maxBatch))
	}

	resp := IngestResponse{Received: len(obs)}
	s.feederMu.Lock()
	for _, o := range obs {
		if o.Timestamp.IsZero() {
			continue
		}
		if s.feeder.Observe(o.Timestamp, o.Offset) {
			resp.Accepted++
		}
	}
	s.feederMu.Unlock()

	resp.State = s.cfg.Engine.State()
	return c.JSON(resp)
}

// handleHeartRate sets the auxiliary signal
func (s *Server) handleHeartRate(c *fiber.Ctx) error {
	var req HeartRateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	if req.BPM != 0 && !biometrics.ValidHeartRate(req.BPM) {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("bpm must be positive, got %v", req.BPM))
	}

	s.cfg.Engine.SetAuxiliarySignal(req.BPM)
	return c.JSON(fiber.Map{
		"heart_rate": s.cfg.Engine.AuxiliarySignal(),
	})
}

// handleState returns the engine state
func (s *Server) handleState(c *fiber.Ctx) error {
	resp := StateResponse{
		State:     s.cfg.Engine.State(),
		HeartRate: s.cfg.Engine.AuxiliarySignal(),
	}
	if f, ok := s.cfg.Engine.Features(); ok {
		resp.Features = &f
	}
	if s.cfg.CurrentSession != nil {
		resp.Session = s.cfg.CurrentSession()
	}
	return c.JSON(resp)
}

// handleReset clears the window and smoothing history
func (s *Server) handleReset(c *fiber.Ctx) error {
	s.feederMu.Lock()
	s.feeder.Reset()
	s.feederMu.Unlock()

	return c.JSON(s.cfg.Engine.Reset())
}

// handleSessions lists recent sessions
func (s *Server) handleSessions(c *fiber.Ctx) error {
	if s.cfg.Store == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "session recording is disabled")
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 {
		limit = 20
	}
	sessions, err := s.cfg.Store.Sessions(limit)
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = []storage.Session{}
	}
	return c.JSON(sessions)
}

// handleExport streams a session as CSV. "current" and "latest" are
// accepted as IDs.
func (s *Server) handleExport(c *fiber.Ctx) error {
	if s.cfg.Store == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "session recording is disabled")
	}

	id, err := s.resolveSession(c.Params("id"))
	if err != nil {
		return err
	}

	if s.cfg.Flush != nil && s.cfg.CurrentSession != nil && id == s.cfg.CurrentSession() {
		if err := s.cfg.Flush(); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	if err := export.WriteSession(&buf, s.cfg.Store, id); err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="session-%s.csv"`, id))
	return c.Send(buf.Bytes())
}

func (s *Server) resolveSession(id string) (string, error) {
	switch id {
	case "current":
		if s.cfg.CurrentSession == nil || s.cfg.CurrentSession() == "" {
			return "", fiber.NewError(fiber.StatusNotFound, "no active session")
		}
		return s.cfg.CurrentSession(), nil
	case "latest":
		sess, err := s.cfg.Store.LatestSession()
		if errors.Is(err, storage.ErrSessionNotFound) {
			return "", fiber.NewError(fiber.StatusNotFound, "no sessions recorded")
		}
		if err != nil {
			return "", err
		}
		return sess.ID, nil
	}

	if _, err := s.cfg.Store.Session(id); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return "", fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return "", err
	}
	return id, nil
}
