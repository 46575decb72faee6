package ingest

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/bitriver/livepipe/pkg/errors"
	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/types"
)

// FileListener replays a file on local disk as an ingress source, chunked
// in fixed-size reads, used for offline transcoding and recorded-source
// testing.
type FileListener struct {
	path      string
	streamKey string
	chunkSize int
	log       logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewFileListener constructs a file-backed source reading path in
// chunkSize-byte reads (default 64 KiB when chunkSize <= 0).
func NewFileListener(path, streamKey string, chunkSize int, log logger.Logger) *FileListener {
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	return &FileListener{path: path, streamKey: streamKey, chunkSize: chunkSize, log: log}
}

func (l *FileListener) Protocol() types.Protocol { return types.ProtocolFile }

func (l *FileListener) Listen(ctx context.Context, authorize Authorizer, start Starter) error {
	f, err := os.Open(l.path)
	if err != nil {
		return errors.NewStorageError("opening ingest source file", err)
	}

	cinfo := types.ConnectionInfo{
		StreamKey:  l.streamKey,
		Protocol:   types.ProtocolFile,
		AcceptedAt: time.Now(),
	}
	decision, err := authorize.StartStream(ctx, cinfo)
	if err != nil {
		f.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	packets := make(chan RawPacket, 256)
	closed := make(chan struct{})
	var closeOnce sync.Once
	closeFn := func() {
		closeOnce.Do(func() {
			cancel()
			f.Close()
			close(closed)
		})
	}

	sess := &Session{Conn: cinfo, Packets: packets, Closed: closed, CloseFn: closeFn}
	start(ctx, sess, decision.StreamID, decision.UserID, decision.OwnerPubkey, decision.Capabilities)

	go l.stream(runCtx, f, packets, closeFn)
	return nil
}

func (l *FileListener) stream(ctx context.Context, f *os.File, packets chan<- RawPacket, closeFn func()) {
	buf := make([]byte, l.chunkSize)
	defer closeFn()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case packets <- RawPacket{Kind: types.TrackVideo, Payload: chunk}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (l *FileListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	return nil
}
