package ingest

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/types"
)

// TestPatternListener synthesizes a deterministic color-bar video + tone
// audio source on demand, for integration tests that need a live pipeline
// without a real broadcaster. It never binds a socket: Listen spawns one
// session immediately.
type TestPatternListener struct {
	log       logger.Logger
	streamKey string
	fps       float64
	tone      float64 // hz

	mu      sync.Mutex
	cancel  context.CancelFunc
}

// NewTestPatternListener constructs a synthetic source identified by
// streamKey, emitting frames at fps and a tone at toneHz.
func NewTestPatternListener(streamKey string, fps, toneHz float64, log logger.Logger) *TestPatternListener {
	return &TestPatternListener{log: log, streamKey: streamKey, fps: fps, tone: toneHz}
}

func (l *TestPatternListener) Protocol() types.Protocol { return types.ProtocolTestPattern }

func (l *TestPatternListener) Listen(ctx context.Context, authorize Authorizer, start Starter) error {
	cinfo := types.ConnectionInfo{
		StreamKey:  l.streamKey,
		Protocol:   types.ProtocolTestPattern,
		AcceptedAt: time.Now(),
	}
	decision, err := authorize.StartStream(ctx, cinfo)
	if err != nil {
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
			close(closed)
		})
	}

	sess := &Session{Conn: cinfo, Packets: packets, Closed: closed, CloseFn: closeFn}
	start(ctx, sess, decision.StreamID, decision.UserID, decision.OwnerPubkey, decision.Capabilities)

	go l.generate(runCtx, packets)
	return nil
}

// generate emits one synthetic video frame and, every other tick, one
// audio frame, at the configured frame rate, until canceled.
func (l *TestPatternListener) generate(ctx context.Context, packets chan<- RawPacket) {
	interval := time.Duration(float64(time.Second) / l.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var frameIdx uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			timestamp := uint32(float64(frameIdx) * 1000.0 / l.fps)
			videoFrame := colorBarFrame(frameIdx)
			select {
			case packets <- RawPacket{Kind: types.TrackVideo, Payload: videoFrame, Timestamp: timestamp}:
			default:
			}

			if frameIdx%2 == 0 {
				audioFrame := toneSamples(l.tone, 48000, 960)
				select {
				case packets <- RawPacket{Kind: types.TrackAudio, Payload: audioFrame, Timestamp: timestamp}:
				default:
				}
			}
			frameIdx++
		}
	}
}

// colorBarFrame produces a deterministic payload that cycles through 8
// SMPTE-style bar values, sized as a trivial placeholder frame (no real
// codec bitstream since there is no encoder attached upstream of ingest).
func colorBarFrame(frameIdx uint32) []byte {
	bars := []byte{0xFF, 0xBF, 0x7F, 0x3F, 0x00, 0x3F, 0x7F, 0xBF}
	frame := make([]byte, 16)
	for i := range frame {
		frame[i] = bars[(int(frameIdx)+i)%len(bars)]
	}
	return frame
}

// toneSamples produces a deterministic 16-bit PCM sine tone buffer.
func toneSamples(hz float64, sampleRate int, count int) []byte {
	buf := make([]byte, count*2)
	for i := 0; i < count; i++ {
		t := float64(i) / float64(sampleRate)
		sample := int16(math.Sin(2*math.Pi*hz*t) * 32767 * 0.25)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return buf
}

func (l *TestPatternListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	return nil
}
