package ingest

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/types"
)

// TCPListener implements RTMP-over-plain-TCP ingest: the stream key is the
// connection's first line (trimmed of CR/LF), and every subsequent read is
// forwarded as an opaque MPEG-TS chunk.
type TCPListener struct {
	addr     string
	log      logger.Logger
	listener net.Listener

	mu     sync.Mutex
	closed bool
}

// NewTCPListener constructs a listener bound to addr (not yet listening).
func NewTCPListener(addr string, log logger.Logger) *TCPListener {
	return &TCPListener{addr: addr, log: log}
}

func (l *TCPListener) Protocol() types.Protocol { return types.ProtocolTCP }

func (l *TCPListener) Listen(ctx context.Context, authorize Authorizer, start Starter) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.listener = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				l.mu.Lock()
				closed := l.closed
				l.mu.Unlock()
				if closed {
					return
				}
				l.log.Warn("tcp accept failed", logger.Err(err))
				continue
			}
			go l.handle(ctx, conn, authorize, start)
		}
	}()
	return nil
}

func (l *TCPListener) handle(ctx context.Context, conn net.Conn, authorize Authorizer, start Starter) {
	reader := bufio.NewReader(conn)
	streamKey, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return
	}
	streamKey = strings.TrimRight(streamKey, "\r\n")

	cinfo := types.ConnectionInfo{
		RemoteAddr: conn.RemoteAddr().String(),
		StreamKey:  streamKey,
		Protocol:   types.ProtocolTCP,
		AcceptedAt: time.Now(),
	}
	decision, err := authorize.StartStream(ctx, cinfo)
	if err != nil {
		l.log.Warn("tcp ingest rejected", logger.String("stream_key", streamKey), logger.Err(err))
		conn.Close()
		return
	}

	packets := make(chan RawPacket, 256)
	closed := make(chan struct{})
	var closeOnce sync.Once
	closeFn := func() {
		closeOnce.Do(func() {
			conn.Close()
			close(closed)
		})
	}

	sess := &Session{Conn: cinfo, Packets: packets, Closed: closed, CloseFn: closeFn}
	start(ctx, sess, decision.StreamID, decision.UserID, decision.OwnerPubkey, decision.Capabilities)

	buf := make([]byte, 64*1024)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(StallTimeout))
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case packets <- RawPacket{Kind: types.TrackVideo, Payload: chunk}:
			default:
				l.log.Warn("tcp packet dropped, pipeline not draining fast enough", logger.String("stream_key", streamKey))
			}
		}
		if err != nil {
			closeFn()
			return
		}
	}
}

func (l *TCPListener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
