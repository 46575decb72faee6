package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bitriver/livepipe/pkg/logger"
)

// relaySub is one inbound relay connection: it issues the firehose REQ on
// connect, reconnects with backoff on drop, and lets callers open extra
// auto-closing subscriptions (used to prime a stream's segment history)
// over the same socket. Mirrors the write-pump shape of
// pkg/nostr.relayConn, inverted for reading instead of publishing.
type relaySub struct {
	url     string
	log     logger.Logger
	onEvent func(wireEvent)

	mu        sync.Mutex
	conn      *websocket.Conn
	autoClose map[string]bool
}

func newRelaySub(url string, log logger.Logger, onEvent func(wireEvent)) *relaySub {
	return &relaySub{url: url, log: log, onEvent: onEvent, autoClose: map[string]bool{}}
}

// run dials and reads until ctx is canceled, reconnecting with exponential
// backoff (capped at 30s) on every disconnect.
func (r *relaySub) run(ctx context.Context, baseFilters []map[string]interface{}) {
	backoff := time.Second
	for ctx.Err() == nil {
		if err := r.connectAndRead(ctx, baseFilters); err != nil {
			r.log.Warn("edge: relay connection dropped", logger.String("relay", r.url), logger.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (r *relaySub) connectAndRead(ctx context.Context, baseFilters []map[string]interface{}) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("edge: dial %s: %w", r.url, err)
	}
	defer conn.Close()

	r.mu.Lock()
	r.conn = conn
	r.autoClose = map[string]bool{}
	r.mu.Unlock()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopped:
		}
	}()

	if err := r.sendREQ("firehose", baseFilters); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		r.handleFrame(data)
	}
}

func (r *relaySub) handleFrame(data []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) == 0 {
		return
	}
	var verb string
	if err := json.Unmarshal(raw[0], &verb); err != nil {
		return
	}

	switch verb {
	case "EVENT":
		if len(raw) < 3 {
			return
		}
		var ev wireEvent
		if err := json.Unmarshal(raw[2], &ev); err != nil {
			r.log.Warn("edge: failed to decode event", logger.String("relay", r.url), logger.Err(err))
			return
		}
		r.onEvent(ev)
	case "EOSE":
		if len(raw) < 2 {
			return
		}
		var subID string
		if err := json.Unmarshal(raw[1], &subID); err != nil {
			return
		}
		r.mu.Lock()
		auto := r.autoClose[subID]
		delete(r.autoClose, subID)
		r.mu.Unlock()
		if auto {
			r.sendClose(subID)
		}
	}
}

func (r *relaySub) sendREQ(subID string, filters []map[string]interface{}) error {
	msg := make([]interface{}, 0, len(filters)+2)
	msg = append(msg, "REQ", subID)
	for _, f := range filters {
		msg = append(msg, f)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.write(data)
}

func (r *relaySub) sendClose(subID string) {
	data, err := json.Marshal([]interface{}{"CLOSE", subID})
	if err != nil {
		return
	}
	_ = r.write(data)
}

func (r *relaySub) write(data []byte) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("edge: relay %s not connected", r.url)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Prime opens a one-shot, auto-closing subscription for every stored
// kind-1063 segment of eventID, backfilling a stream's history the moment
// it is first seen rather than waiting for new segments to trickle in.
func (r *relaySub) Prime(eventID string) {
	subID := "prime-" + eventID
	r.mu.Lock()
	if r.autoClose[subID] {
		r.mu.Unlock()
		return
	}
	r.autoClose[subID] = true
	r.mu.Unlock()

	filter := map[string]interface{}{
		"kinds": []int{1063},
		"#e":    []string{eventID},
		"limit": 10,
	}
	if err := r.sendREQ(subID, []map[string]interface{}{filter}); err != nil {
		r.log.Warn("edge: priming subscription failed", logger.String("relay", r.url), logger.Err(err))
	}
}
