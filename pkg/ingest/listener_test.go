package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/overseer"
	"github.com/bitriver/livepipe/pkg/types"
)

type fakeAuthorizer struct {
	decision overseer.StartDecision
	err      error
	gotConn  types.ConnectionInfo
}

func (f *fakeAuthorizer) StartStream(ctx context.Context, conn types.ConnectionInfo) (overseer.StartDecision, error) {
	f.gotConn = conn
	return f.decision, f.err
}

func TestTestPatternListenerProducesVideoAndAudio(t *testing.T) {
	auth := &fakeAuthorizer{decision: overseer.StartDecision{StreamID: "s1"}}
	var started *Session
	start := func(ctx context.Context, sess *Session, streamID, userID string, owner [32]byte, caps []types.EndpointCapability) {
		started = sess
	}

	l := NewTestPatternListener("test-key", 30, 440, logger.NewDefaultLogger(logger.DebugLevel, "text"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Listen(ctx, auth, start); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if started == nil {
		t.Fatal("expected a session to be started")
	}
	if auth.gotConn.StreamKey != "test-key" {
		t.Fatalf("expected authorize to see stream key, got %q", auth.gotConn.StreamKey)
	}

	var sawVideo, sawAudio bool
	timeout := time.After(2 * time.Second)
	for !sawVideo || !sawAudio {
		select {
		case pkt := <-started.Packets:
			if pkt.Kind == types.TrackVideo {
				sawVideo = true
			}
			if pkt.Kind == types.TrackAudio {
				sawAudio = true
			}
		case <-timeout:
			t.Fatalf("timed out waiting for both video and audio packets (video=%v audio=%v)", sawVideo, sawAudio)
		}
	}
	l.Close()
}

func TestTestPatternListenerRejectedByAuthorizer(t *testing.T) {
	auth := &fakeAuthorizer{err: errRejected}
	start := func(ctx context.Context, sess *Session, streamID, userID string, owner [32]byte, caps []types.EndpointCapability) {
		t.Fatal("start should not be called when authorization fails")
	}
	l := NewTestPatternListener("bad-key", 30, 440, logger.NewDefaultLogger(logger.DebugLevel, "text"))
	if err := l.Listen(context.Background(), auth, start); err == nil {
		t.Fatal("expected Listen to propagate authorization failure")
	}
}

var errRejected = &rejectedErr{}

type rejectedErr struct{}

func (*rejectedErr) Error() string { return "rejected" }
