package heartrate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture"
)

// WebSocketSource reads heart-rate frames from a WebSocket feed.
type WebSocketSource struct {
	url            string
	sink           capture.HeartRateSink
	dialer         websocket.Dialer
	reconnectDelay time.Duration
}

// NewWebSocketSource creates a source for the feed at url (ws:// or wss://).
func NewWebSocketSource(url string, sink capture.HeartRateSink) *WebSocketSource {
	return &WebSocketSource{
		url:  url,
		sink: sink,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		reconnectDelay: DefaultReconnectDelay,
	}
}

// Name returns the source name.
func (w *WebSocketSource) Name() string {
	return "heartrate-ws"
}

// Available reports whether a feed URL is configured. Reachability is only
// known once Run dials.
func (w *WebSocketSource) Available() bool {
	return w.url != ""
}

// Run connects, streams readings and reconnects until ctx is cancelled.
func (w *WebSocketSource) Run(ctx context.Context) error {
	for {
		err := w.stream(ctx)
		w.sink.SetAuxiliarySignal(0)
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("[heartrate] WebSocket feed lost: %v (retrying in %s)", err, w.reconnectDelay)

		if !sleepCtx(ctx, w.reconnectDelay) {
			return nil
		}
	}
}

// stream handles one connection lifetime.
func (w *WebSocketSource) stream(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log.Printf("[heartrate] Connected to %s", w.url)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("feed closed")
			}
			return err
		}

		bpm, err := ParseReading(data)
		if err != nil {
			continue
		}
		w.sink.SetAuxiliarySignal(bpm)
	}
}
