package ingest

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/types"
)

// SRTListener implements SRT ingest over a UDP socket carrying MPEG-TS
// payloads. The caller's streamid is read from the first datagram (a
// newline-terminated header, mirroring SRT's streamid access control
// string); subsequent datagrams are MPEG-TS packets.
//
// There is no third-party SRT implementation available to this module;
// the wire framing below is a deliberately small subset sufficient to
// exercise the C5 contract over plain UDP.
type SRTListener struct {
	addr string
	log  logger.Logger
	conn *net.UDPConn

	mu       sync.Mutex
	sessions map[string]*srtSession
}

type srtSession struct {
	remote  *net.UDPAddr
	packets chan RawPacket
	closeFn func()
}

// NewSRTListener constructs a listener bound to addr (not yet listening).
func NewSRTListener(addr string, log logger.Logger) *SRTListener {
	return &SRTListener{addr: addr, log: log, sessions: make(map[string]*srtSession)}
}

func (l *SRTListener) Protocol() types.Protocol { return types.ProtocolSRT }

func (l *SRTListener) Listen(ctx context.Context, authorize Authorizer, start Starter) error {
	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	l.conn = conn

	go l.readLoop(ctx, authorize, start)
	return nil
}

func (l *SRTListener) readLoop(ctx context.Context, authorize Authorizer, start Starter) {
	buf := make([]byte, 64*1024)
	for {
		n, remote, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])

		key := remote.String()
		l.mu.Lock()
		sess, exists := l.sessions[key]
		l.mu.Unlock()

		if !exists {
			streamID := strings.TrimRight(string(payload), "\r\n")
			cinfo := types.ConnectionInfo{
				RemoteAddr: key,
				StreamKey:  streamID,
				Protocol:   types.ProtocolSRT,
				AcceptedAt: time.Now(),
			}
			decision, err := authorize.StartStream(ctx, cinfo)
			if err != nil {
				l.log.Warn("srt ingest rejected", logger.String("stream_id", streamID), logger.Err(err))
				continue
			}

			packets := make(chan RawPacket, 256)
			closed := make(chan struct{})
			var closeOnce sync.Once
			closeFn := func() {
				closeOnce.Do(func() {
					l.mu.Lock()
					delete(l.sessions, key)
					l.mu.Unlock()
					close(closed)
				})
			}

			sess = &srtSession{remote: remote, packets: packets, closeFn: closeFn}
			l.mu.Lock()
			l.sessions[key] = sess
			l.mu.Unlock()

			newSession := &Session{Conn: cinfo, Packets: packets, Closed: closed, CloseFn: closeFn}
			start(ctx, newSession, decision.StreamID, decision.UserID, decision.OwnerPubkey, decision.Capabilities)
			continue
		}

		select {
		case sess.packets <- RawPacket{Kind: types.TrackVideo, Payload: payload}:
		default:
			l.log.Warn("srt packet dropped, pipeline not draining fast enough", logger.String("remote", key))
		}
	}
}

func (l *SRTListener) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
