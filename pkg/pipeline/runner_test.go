package pipeline

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bitriver/livepipe/pkg/ingest"
	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/overseer"
	"github.com/bitriver/livepipe/pkg/types"
)

func TestCanTransition(t *testing.T) {
	if !canTransition(StateProbing, StateConfiguring) {
		t.Fatal("expected Probing -> Configuring to be valid")
	}
	if canTransition(StateProbing, StateRunning) {
		t.Fatal("expected Probing -> Running to be invalid")
	}
	if canTransition(StateEnded, StateProbing) {
		t.Fatal("expected no transitions out of Ended")
	}
}

type fakeWriter struct {
	mu    sync.Mutex
	index int64
	wrote int
}

func (w *fakeWriter) WriteSegment(data []byte, duration time.Duration) (types.SegmentDescriptor, []types.SegmentDescriptor, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wrote++
	desc := types.SegmentDescriptor{Index: w.index, Duration: duration.Seconds(), Path: "seg.ts"}
	w.index++
	return desc, nil, nil
}

func (w *fakeWriter) Close() ([]types.SegmentDescriptor, error) { return nil, nil }

type fakeEgress struct{ writer *fakeWriter }

func (e *fakeEgress) OpenVariant(streamID string, v types.VariantStream, segmentLength time.Duration) (VariantWriter, error) {
	return e.writer, nil
}

type fakeOverseer struct {
	mu       sync.Mutex
	segments int
	ended    bool
}

func (f *fakeOverseer) StartStream(ctx context.Context, conn types.ConnectionInfo) (overseer.StartDecision, error) {
	return overseer.StartDecision{}, nil
}

func (f *fakeOverseer) OnSegments(ctx context.Context, streamID string, added, deleted []types.SegmentDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments += len(added)
	return nil
}

func (f *fakeOverseer) OnThumbnail(ctx context.Context, streamID, path string) error { return nil }

func (f *fakeOverseer) OnVariantsPlanned(ctx context.Context, streamID string, variants []types.VariantDescriptor) error {
	return nil
}

func (f *fakeOverseer) OnEnd(ctx context.Context, streamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
	return nil
}

func (f *fakeOverseer) OnStats(ctx context.Context, streamID string, viewerCount int) error { return nil }

func (f *fakeOverseer) CheckStreams(ctx context.Context) error { return nil }

func TestRunnerProbeConfigureRunDrainEnd(t *testing.T) {
	packets := make(chan ingest.RawPacket, 16)
	closed := make(chan struct{})
	var closeOnce sync.Once
	sess := &ingest.Session{
		Conn:    types.ConnectionInfo{StreamKey: "k1", Protocol: types.ProtocolTestPattern},
		Packets: packets,
		Closed:  closed,
		CloseFn: func() { closeOnce.Do(func() { close(closed) }) },
	}

	ov := &fakeOverseer{}
	eg := &fakeEgress{writer: &fakeWriter{}}
	log := logger.NewDefaultLogger(logger.DebugLevel, "text")

	cfg := Config{SegmentLength: 10 * time.Millisecond, ThumbnailInterval: time.Hour, StatsInterval: time.Hour}
	decision := overseer.StartDecision{
		StreamID:     "s1",
		Capabilities: []types.EndpointCapability{types.SourceCopyCapability()},
	}
	r := New(sess, "s1", "u1", [32]byte{}, decision, ov, eg, nil, log, cfg)

	go func() {
		for i := 0; i < 20; i++ {
			packets <- ingest.RawPacket{Kind: types.TrackVideo, Payload: []byte{byte(i)}, Timestamp: uint32(i * 33)}
		}
		time.Sleep(20 * time.Millisecond)
		closeOnce.Do(func() { close(closed) })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.State() != StateEnded {
		t.Fatalf("expected final state Ended, got %s", r.State())
	}
	ov.mu.Lock()
	defer ov.mu.Unlock()
	if !ov.ended {
		t.Fatal("expected OnEnd to have been called")
	}
	if ov.segments == 0 {
		t.Fatal("expected at least one segment to be reported")
	}
}

func TestRunnerRecordsDVRMarkedVariant(t *testing.T) {
	dir := t.TempDir()
	packets := make(chan ingest.RawPacket, 16)
	closed := make(chan struct{})
	var closeOnce sync.Once
	sess := &ingest.Session{
		Conn:    types.ConnectionInfo{StreamKey: "k3", Protocol: types.ProtocolTestPattern},
		Packets: packets,
		Closed:  closed,
		CloseFn: func() { closeOnce.Do(func() { close(closed) }) },
	}

	ov := &fakeOverseer{}
	eg := &fakeEgress{writer: &fakeWriter{}}
	log := logger.NewDefaultLogger(logger.DebugLevel, "text")

	cfg := Config{
		SegmentLength:     10 * time.Millisecond,
		ThumbnailInterval: time.Hour,
		StatsInterval:     time.Hour,
		RecordingDir:      dir,
	}
	decision := overseer.StartDecision{
		StreamID: "s3",
		Capabilities: []types.EndpointCapability{
			types.VariantCapability(720, 4_000_000),
			types.DVRCapability(720),
		},
	}
	r := New(sess, "s3", "u1", [32]byte{}, decision, ov, eg, nil, log, cfg)

	go func() {
		for i := 0; i < 10; i++ {
			packets <- ingest.RawPacket{Kind: types.TrackVideo, Payload: []byte("frame-data"), Timestamp: uint32(i * 33)}
		}
		time.Sleep(20 * time.Millisecond)
		closeOnce.Do(func() { close(closed) })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var found bool
	for _, p := range r.Planned().Variants {
		if p.IsVideo() && p.DVR {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the planned ladder to contain a DVR-marked video variant")
	}

	entries, err := os.ReadDir(dir + "/s3")
	if err != nil {
		t.Fatalf("expected a recording directory for the stream: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one recorded segment file on disk")
	}
}

func TestRunnerProbeTimesOutWithoutVideo(t *testing.T) {
	packets := make(chan ingest.RawPacket)
	closed := make(chan struct{})
	sess := &ingest.Session{
		Conn:    types.ConnectionInfo{StreamKey: "k2"},
		Packets: packets,
		Closed:  closed,
		CloseFn: func() {},
	}
	ov := &fakeOverseer{}
	eg := &fakeEgress{writer: &fakeWriter{}}
	log := logger.NewDefaultLogger(logger.DebugLevel, "text")

	r := New(sess, "s2", "u1", [32]byte{}, overseer.StartDecision{}, ov, eg, nil, log, Config{})

	// Shrink the probe wait by racing a short context instead of the full
	// ProbeTimeout constant.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to fail when context is canceled before any video packet arrives")
	}
}
