package overseer

import (
	"context"
	"testing"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/streammanager"
	"github.com/bitriver/livepipe/pkg/types"
)

func TestComputeDeltaMsats(t *testing.T) {
	// 60,000 msats/min over a 6s segment should cost 6000 msats.
	got := ComputeDeltaMsats(60_000, 6.0)
	if got != 6_000 {
		t.Fatalf("want 6000, got %d", got)
	}
}

func TestComputeDeltaMsatsSubMinuteSegment(t *testing.T) {
	got := ComputeDeltaMsats(600_000, 1.0)
	if got != 10_000 {
		t.Fatalf("want 10000, got %d", got)
	}
}

func newTestBroadcaster(t *testing.T) *N94Broadcaster {
	t.Helper()
	log := logger.NewDefaultLogger(logger.DebugLevel, "text")
	mgr := streammanager.New(log, nil)
	t.Cleanup(mgr.Close)
	return NewN94Broadcaster(N94Config{
		Defaults: types.StreamDefaults{Title: "test stream"},
	}, nil, nil, mgr, [32]byte{1, 2, 3}, log)
}

func TestN94StartStreamIsIdempotent(t *testing.T) {
	n := newTestBroadcaster(t)
	conn := types.ConnectionInfo{RemoteAddr: "1.2.3.4:9999", Protocol: types.ProtocolRTMP, AcceptedAt: time.Now()}

	d1, err := n.StartStream(context.Background(), conn)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	d2, err := n.StartStream(context.Background(), conn)
	if err != nil {
		t.Fatalf("StartStream second call: %v", err)
	}
	if d1.StreamID != d2.StreamID {
		t.Fatalf("expected idempotent start_stream, got %q and %q", d1.StreamID, d2.StreamID)
	}
}

func TestN94OnEndRunsExactlyOnce(t *testing.T) {
	n := newTestBroadcaster(t)
	conn := types.ConnectionInfo{RemoteAddr: "1.2.3.4:9999", Protocol: types.ProtocolRTMP, AcceptedAt: time.Now()}
	d, err := n.StartStream(context.Background(), conn)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	if err := n.OnEnd(context.Background(), d.StreamID); err != nil {
		t.Fatalf("first OnEnd: %v", err)
	}
	n.mu.Lock()
	firstEndTime := n.streams[d.StreamID].EndTime
	n.mu.Unlock()

	if err := n.OnEnd(context.Background(), d.StreamID); err != nil {
		t.Fatalf("second OnEnd: %v", err)
	}
	n.mu.Lock()
	secondEndTime := n.streams[d.StreamID].EndTime
	n.mu.Unlock()

	if firstEndTime != secondEndTime {
		t.Fatal("expected OnEnd to be a no-op on the second call")
	}
}

func TestN94OnSegmentsWithoutPublisherIsNoop(t *testing.T) {
	n := newTestBroadcaster(t)
	conn := types.ConnectionInfo{RemoteAddr: "1.2.3.4:9999", Protocol: types.ProtocolRTMP, AcceptedAt: time.Now()}
	d, err := n.StartStream(context.Background(), conn)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	seg := types.SegmentDescriptor{VariantID: "v0", Index: 0, Duration: 6.0, Path: "/tmp/does-not-exist.ts"}
	if err := n.OnSegments(context.Background(), d.StreamID, []types.SegmentDescriptor{seg}, nil); err != nil {
		t.Fatalf("OnSegments should not fail without a publisher configured: %v", err)
	}
}
