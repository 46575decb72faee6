package nostr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bitriver/livepipe/pkg/logger"
)

// relayConn is a single outbound relay connection: a write pump draining a
// buffered send channel, mirroring the teacher's WebSocket client pump
// idiom but driving event publication instead of room signaling.
type relayConn struct {
	url  string
	log  logger.Logger
	mu   sync.Mutex
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newRelayConn(url string, log logger.Logger) *relayConn {
	r := &relayConn{
		url:  url,
		log:  log,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go r.writePump()
	return r
}

func (r *relayConn) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("nostr: dial relay %s: %w", r.url, err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return nil
}

func (r *relayConn) writePump() {
	for {
		select {
		case msg, ok := <-r.send:
			if !ok {
				return
			}
			r.mu.Lock()
			conn := r.conn
			r.mu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				r.log.Warn("relay write failed", logger.NewField("relay", r.url), logger.Err(err))
			}
		case <-r.done:
			return
		}
	}
}

// publishEvent queues an "EVENT" frame for the relay, dialing lazily on
// first use. If that first dial fails its error is returned at once, with
// no retry. Once connected, a full send queue is retried with exponential
// backoff (re-dialing between attempts) until maxWait has passed.
func (r *relayConn) publishEvent(ctx context.Context, e *Event, maxWait time.Duration) error {
	r.mu.Lock()
	connected := r.conn != nil
	r.mu.Unlock()
	if !connected {
		if err := r.dial(ctx); err != nil {
			return err
		}
	}

	payload, err := e.JSON()
	if err != nil {
		return err
	}
	frame, err := json.Marshal([]interface{}{"EVENT", json.RawMessage(payload)})
	if err != nil {
		return err
	}

	backoff := 250 * time.Millisecond
	deadline := time.Now().Add(maxWait)
	var lastErr error
	for time.Now().Before(deadline) {
		select {
		case r.send <- frame:
			return nil
		default:
		}
		if err := r.dial(ctx); err != nil {
			lastErr = err
		}
		select {
		case r.send <- frame:
			return nil
		case <-time.After(backoff):
			lastErr = fmt.Errorf("nostr: relay %s busy", r.url)
		}
		backoff *= 2
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("nostr: relay %s unreachable within %s", r.url, maxWait)
	}
	return lastErr
}

func (r *relayConn) close() {
	close(r.done)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close()
	}
}
