package heartrate

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	readings []float64
}

func (f *fakeSink) SetAuxiliarySignal(bpm float64) {
	f.mu.Lock()
	f.readings = append(f.readings, bpm)
	f.mu.Unlock()
}

func (f *fakeSink) values() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.readings...)
}

func TestParseReading(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{`{"heart_rate": 82}`, 82},
		{`{"heartRate": 64.5}`, 64.5},
		{`{"bpm": 120, "battery": 80}`, 120},
		{"82", 82},
		{"  91.5\r\n", 91.5},
		{"HR:77", 77},
		{"hr = 70", 70},
		{"BPM:100", 100},
		{"88 bpm", 88},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReading([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseReadingRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		`{"battery": 80}`,
		`{"bpm": "fast"}`,
		"SPO2:98",
		"hello",
		"0",
		"12",
		"400",
		"-70",
	} {
		_, err := ParseReading([]byte(in))
		assert.ErrorIs(t, err, ErrNoReading, "input %q", in)
	}
}

func TestReadLines(t *testing.T) {
	sink := &fakeSink{}
	err := readLines(strings.NewReader("booting\nHR:72\nnoise\n75\n\n999\n80\n"), sink)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []float64{72, 75, 80}, sink.values())
}

func TestSerialSourceClearsOnDisconnect(t *testing.T) {
	sink := &fakeSink{}
	src := NewSerialSource("/dev/ttyFAKE", 0, sink)
	assert.Equal(t, DefaultBaudRate, src.baud)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opens := 0
	src.reconnectDelay = time.Millisecond
	src.open = func(path string, baud int) (io.ReadCloser, error) {
		opens++
		if opens > 1 {
			cancel()
			return nil, errors.New("gone")
		}
		return io.NopCloser(strings.NewReader("HR:66\nHR:68\n")), nil
	}

	require.NoError(t, src.Run(ctx))
	vals := sink.values()
	require.GreaterOrEqual(t, len(vals), 3)
	assert.Equal(t, []float64{66, 68, 0}, vals[:3])
}

func TestSerialSourceNeedsPath(t *testing.T) {
	assert.False(t, NewSerialSource("", 9600, &fakeSink{}).Available())
}

func TestWebSocketSource(t *testing.T) {
	upgrader := websocket.Upgrader{}
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range []string{`{"heart_rate": 81}`, `garbage`, `{"bpm": 90}`} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		<-done
	}))
	defer srv.Close()
	defer close(done)

	sink := &fakeSink{}
	src := NewWebSocketSource("ws"+strings.TrimPrefix(srv.URL, "http"), sink)
	require.True(t, src.Available())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- src.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(sink.values()) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []float64{81, 90}, sink.values()[:2])

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	vals := sink.values()
	assert.Equal(t, 0.0, vals[len(vals)-1], "signal cleared when the feed stops")
}

func TestWebSocketSourceNeedsURL(t *testing.T) {
	assert.False(t, NewWebSocketSource("", &fakeSink{}).Available())
}
