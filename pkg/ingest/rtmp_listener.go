package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/streaming/rtmp"
	"github.com/bitriver/livepipe/pkg/types"
)

// RTMPListener adapts the RTMP chunk/handshake/AMF transport to the C5
// Ingest Listener contract: the stream key is the URL path segment RTMP's
// `publish` command carries.
type RTMPListener struct {
	addr   string
	log    logger.Logger
	server *rtmp.Server

	mu       sync.Mutex
	sessions map[string]chan RawPacket
}

// NewRTMPListener constructs a listener bound to addr (not yet listening).
func NewRTMPListener(addr string, log logger.Logger) *RTMPListener {
	return &RTMPListener{
		addr:     addr,
		log:      log,
		server:   rtmp.NewServer(addr, log),
		sessions: make(map[string]chan RawPacket),
	}
}

func (l *RTMPListener) Protocol() types.Protocol { return types.ProtocolRTMP }

// Listen binds the RTMP server and wires its publish/packet callbacks into
// the authorize + Pipeline Runner handoff.
func (l *RTMPListener) Listen(ctx context.Context, authorize Authorizer, start Starter) error {
	l.server.SetOnPublish(func(streamKey string, metadata map[string]interface{}) error {
		conn := types.ConnectionInfo{
			StreamKey:  streamKey,
			Protocol:   types.ProtocolRTMP,
			AcceptedAt: time.Now(),
		}
		decision, err := authorize.StartStream(ctx, conn)
		if err != nil {
			return fmt.Errorf("ingest: rtmp publish rejected for key %q: %w", streamKey, err)
		}

		packets := make(chan RawPacket, 256)
		closed := make(chan struct{})
		var closeOnce sync.Once

		l.mu.Lock()
		l.sessions[streamKey] = packets
		l.mu.Unlock()

		closeFn := func() {
			closeOnce.Do(func() {
				l.mu.Lock()
				delete(l.sessions, streamKey)
				l.mu.Unlock()
				close(closed)
			})
		}

		sess := &Session{Conn: conn, Packets: packets, Closed: closed, CloseFn: closeFn}
		start(ctx, sess, decision.StreamID, decision.UserID, decision.OwnerPubkey, decision.Capabilities)
		return nil
	})

	l.server.SetOnPacket(func(streamKey string, kind types.TrackKind, payload []byte, timestamp uint32) {
		l.mu.Lock()
		ch, ok := l.sessions[streamKey]
		l.mu.Unlock()
		if !ok {
			return
		}
		select {
		case ch <- RawPacket{Kind: kind, Payload: payload, Timestamp: timestamp}:
		default:
			l.log.Warn("rtmp packet dropped, pipeline not draining fast enough", logger.String("stream_key", streamKey))
		}
	})

	return l.server.Start()
}

func (l *RTMPListener) Close() error {
	return l.server.Stop()
}
