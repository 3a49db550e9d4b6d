package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
	"github.com/Atharva-Kanherkar/stressnudger/internal/export"
	"github.com/Atharva-Kanherkar/stressnudger/internal/storage"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, store SessionStore, session string) (*Server, *biometrics.Engine) {
	t.Helper()
	engine := biometrics.NewEngine(biometrics.DefaultEngineConfig(), nil)
	srv := NewServer(Config{
		Listen:         "127.0.0.1:0",
		Engine:         engine,
		Store:          store,
		CurrentSession: func() string { return session },
	})
	return srv, engine
}

func do(t *testing.T, srv *Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

func samples(n int, gap time.Duration) []biometrics.MotionSample {
	out := make([]biometrics.MotionSample, n)
	for i := range out {
		out[i] = biometrics.MotionSample{
			Timestamp: base.Add(time.Duration(i) * gap),
			Velocity:  100,
			Offset:    float64(i * 5),
		}
	}
	return out
}

func TestPostSamples(t *testing.T) {
	srv, engine := newTestServer(t, nil, "")

	batch := samples(8, 50*time.Millisecond)
	batch = append(batch, biometrics.MotionSample{Timestamp: base, Velocity: 1}) // out of order

	resp, body := do(t, srv, http.MethodPost, "/api/samples", batch)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got IngestResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 9, got.Received)
	assert.Equal(t, 8, got.Accepted)
	assert.Equal(t, 1, got.State.Dropped)
	assert.Equal(t, 8, engine.State().Samples)
}

func TestPostSamplesBadBody(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")
	req := httptest.NewRequest(http.MethodPost, "/api/samples", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostOffsets(t *testing.T) {
	srv, engine := newTestServer(t, nil, "")

	obs := []OffsetObservation{
		{Timestamp: base, Offset: 0},
		{Timestamp: base.Add(100 * time.Millisecond), Offset: 20},
		{Timestamp: base.Add(200 * time.Millisecond), Offset: 50},
	}
	resp, body := do(t, srv, http.MethodPost, "/api/offsets", obs)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got IngestResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 3, got.Received)
	assert.Equal(t, 2, got.Accepted, "first observation primes the deriver")
	assert.Equal(t, 2, engine.State().Samples)
}

func TestHeartRate(t *testing.T) {
	srv, engine := newTestServer(t, nil, "")

	resp, _ := do(t, srv, http.MethodPost, "/api/heart-rate", HeartRateRequest{BPM: 84})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 84.0, engine.AuxiliarySignal())

	resp, _ = do(t, srv, http.MethodPost, "/api/heart-rate", HeartRateRequest{BPM: -3})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 84.0, engine.AuxiliarySignal())

	resp, _ = do(t, srv, http.MethodPost, "/api/heart-rate", HeartRateRequest{BPM: 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, engine.AuxiliarySignal())
}

func TestStateAndReset(t *testing.T) {
	srv, engine := newTestServer(t, nil, "sess-1")
	for _, s := range samples(8, 50*time.Millisecond) {
		engine.Ingest(s)
	}

	resp, body := do(t, srv, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st StateResponse
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "sess-1", st.Session)
	assert.Equal(t, 8, st.State.Samples)
	require.NotNil(t, st.Features)
	assert.Equal(t, 100.0, st.Features.MeanVelocity)

	resp, body = do(t, srv, http.MethodPost, "/api/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var after biometrics.State
	require.NoError(t, json.Unmarshal(body, &after))
	assert.Equal(t, biometrics.PhaseIdle, after.Phase)
	assert.Zero(t, engine.State().Samples)
}

func TestSessionsWithoutStore(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")
	resp, _ := do(t, srv, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/api/sessions/current/export.csv", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestExportSession(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	id, err := store.StartSession(base)
	require.NoError(t, err)
	require.NoError(t, store.SaveSamples(id, samples(3, time.Second)))
	require.NoError(t, store.SaveCycle(id, biometrics.Cycle{
		Timestamp: base.Add(time.Second),
		Features:  biometrics.Features{MeanVelocity: 100, DirectionReversals: 2},
		Strategy:  biometrics.StrategyHeuristic,
	}))

	srv, _ := newTestServer(t, store, id)
	flushed := false
	srv.cfg.Flush = func() error { flushed = true; return nil }

	for _, ref := range []string{id, "current", "latest"} {
		resp, body := do(t, srv, http.MethodGet, "/api/sessions/"+ref+"/export.csv", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")

		rows, err := export.ReadCSV(bytes.NewReader(body))
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Nil(t, rows[0].Features)
		require.NotNil(t, rows[2].Features)
		assert.Equal(t, 2, rows[2].Features.DirectionReversals)
	}
	assert.True(t, flushed)

	resp, _ := do(t, srv, http.MethodGet, "/api/sessions/unknown/export.csv", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := do(t, srv, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []storage.Session
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, int64(3), list[0].Samples)
}
