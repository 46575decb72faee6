// Package pipeline implements the Pipeline Runner: one instance per
// accepted ingress connection, driving Probing -> Configuring -> Running
// -> Draining -> Ended. It demuxes raw packets from an ingest.Session,
// decodes and reorders them into presentation order, encodes each planned
// variant, hands completed segments to an Egress writer, and reports
// segments and thumbnail paths back to the Overseer.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitriver/livepipe/pkg/errors"
	"github.com/bitriver/livepipe/pkg/ingest"
	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/metrics"
	"github.com/bitriver/livepipe/pkg/overseer"
	"github.com/bitriver/livepipe/pkg/packetmetrics"
	"github.com/bitriver/livepipe/pkg/reorder"
	"github.com/bitriver/livepipe/pkg/storage"
	"github.com/bitriver/livepipe/pkg/types"
	"github.com/bitriver/livepipe/pkg/variant"
)

// ProbeTimeout bounds how long the runner waits, after accept, to see at
// least one packet of each track kind before planning variants. There is no
// codec library in play (spec.md's Non-goals exclude transcoding algorithm
// invention), so probing here confirms track presence/kind only; dimensions
// come from Config.DefaultWidth/Height rather than real bitstream parsing.
const ProbeTimeout = 5 * time.Second

// DefaultThumbnailInterval is how often the runner reports the path
// "<stream-id>/thumb.jpg" to Overseer.OnThumbnail. The runner does not
// decode a frame or write an image file.
const DefaultThumbnailInterval = 10 * time.Second

// DefaultStatsInterval is how often the runner records the observed
// playback rate and calls Overseer.CheckStreams. The runner does not call
// Overseer.OnStats.
const DefaultStatsInterval = 15 * time.Second

// VariantWriter accepts encoded packets for one planned variant and
// returns a descriptor whenever a segment boundary is crossed.
type VariantWriter interface {
	// WriteSegment returns the newly written descriptor and any segments
	// evicted by retention in the same call.
	WriteSegment(data []byte, duration time.Duration) (added types.SegmentDescriptor, evicted []types.SegmentDescriptor, err error)
	Close() ([]types.SegmentDescriptor, error)
}

// Egress opens a VariantWriter for each planned variant. Implemented by
// pkg/egress/hls.
type Egress interface {
	OpenVariant(streamID string, v types.VariantStream, segmentLength time.Duration) (VariantWriter, error)
}

// Config carries the knobs a Runner needs beyond what StartDecision and
// the probed IngressInfo supply.
type Config struct {
	DefaultWidth      int
	DefaultHeight     int
	DefaultFPS        float64
	SegmentLength     time.Duration
	ThumbnailInterval time.Duration
	StatsInterval     time.Duration

	// RecordingDir, when non-empty, enables original recording for any
	// variant group the Variant Planner marked DVR: the video leg's
	// encoded bytes are additionally appended to a rotating recording
	// segment under this directory, independent of HLS retention.
	RecordingDir         string
	RecordingSegmentSpan time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultWidth == 0 {
		c.DefaultWidth = 1280
	}
	if c.DefaultHeight == 0 {
		c.DefaultHeight = 720
	}
	if c.DefaultFPS == 0 {
		c.DefaultFPS = 30
	}
	if c.SegmentLength == 0 {
		c.SegmentLength = 6 * time.Second
	}
	if c.ThumbnailInterval == 0 {
		c.ThumbnailInterval = DefaultThumbnailInterval
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	if c.RecordingSegmentSpan == 0 {
		c.RecordingSegmentSpan = 10 * time.Minute
	}
	return c
}

// variantPipe is the per-variant processing chain: reorder buffer, encoder,
// and the egress writer it feeds.
type variantPipe struct {
	variant types.VariantStream
	reorder *reorder.Buffer[Frame]
	encoder Encoder
	writer  VariantWriter
	metrics *packetmetrics.Counter
	srcKind types.TrackKind

	// recorder is non-nil only for the DVR-marked video leg of a group,
	// when Config.RecordingDir is set; it mirrors encoded bytes to a
	// local "original" recording independent of HLS retention.
	recorder *storage.BaseRecorder
}

// Runner drives one connection's lifecycle end to end.
type Runner struct {
	sess        *ingest.Session
	streamID    string
	userID      string
	ownerPubkey [32]byte
	decision    overseer.StartDecision
	cfg         Config

	overseer overseer.Overseer
	egress   Egress
	reg      *metrics.Registry
	log      logger.Logger

	mu    sync.Mutex
	state State

	pipes   []*variantPipe
	planned types.PipelineConfig
	pending []ingest.RawPacket
}

// New constructs a Runner for a freshly authorized connection. Callers
// must call Run in its own goroutine; Run calls sess.CloseFn on every exit
// path.
func New(sess *ingest.Session, streamID, userID string, ownerPubkey [32]byte, decision overseer.StartDecision, ov overseer.Overseer, eg Egress, reg *metrics.Registry, log logger.Logger, cfg Config) *Runner {
	return &Runner{
		sess:        sess,
		streamID:    streamID,
		userID:      userID,
		ownerPubkey: ownerPubkey,
		decision:    decision,
		cfg:         cfg.withDefaults(),
		overseer:    ov,
		egress:      eg,
		reg:         reg,
		log:         log,
		state:       StateProbing,
	}
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Planned returns the variant ladder this runner configured, valid once
// the runner has passed StateConfiguring.
func (r *Runner) Planned() types.PipelineConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.planned
}

func (r *Runner) transition(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !canTransition(r.state, to) {
		return fmt.Errorf("pipeline: invalid transition %s -> %s", r.state, to)
	}
	r.state = to
	return nil
}

// Run executes the full lifecycle. It always calls sess.CloseFn exactly
// once before returning, regardless of how it exits.
func (r *Runner) Run(ctx context.Context) (err error) {
	defer r.sess.CloseFn()

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("pipeline runner panicked", logger.NewField("stream_id", r.streamID), logger.NewField("panic", fmt.Sprintf("%v", p)))
			err = fmt.Errorf("pipeline: recovered panic: %v", p)
		}
	}()

	info, err := r.probe(ctx)
	if err != nil {
		r.mu.Lock()
		r.state = StateEnded
		r.mu.Unlock()
		return errors.NewProbeError(err)
	}
	if err := r.transition(StateConfiguring); err != nil {
		return err
	}

	planned, err := variant.Plan(info, r.decision.Capabilities)
	if err != nil {
		r.transition(StateEnded)
		return err
	}
	r.mu.Lock()
	r.planned = planned
	r.mu.Unlock()
	r.log.Info("pipeline configured",
		logger.NewField("stream_id", r.streamID),
		logger.NewField("variant_count", len(planned.Variants)),
	)

	descs := make([]types.VariantDescriptor, 0, len(planned.Variants))
	for _, v := range planned.Variants {
		descs = append(descs, types.VariantDescriptor{
			ID:       v.ID,
			MimeType: "video/mp2t",
			Bitrate:  v.Bitrate,
			Width:    v.Width,
			Height:   v.Height,
		})
	}
	if err := r.overseer.OnVariantsPlanned(ctx, r.streamID, descs); err != nil {
		r.log.Warn("on_variants_planned failed", logger.NewField("stream_id", r.streamID), logger.Err(err))
	}

	for _, v := range planned.Variants {
		pipe, err := r.openVariant(v)
		if err != nil {
			r.transition(StateEnded)
			return err
		}
		r.pipes = append(r.pipes, pipe)
		pipe := pipe
		cleanups = append(cleanups, func() { pipe.encoder.Close() })
		if pipe.recorder != nil {
			cleanups = append(cleanups, func() {
				pipe.recorder.Stop(context.Background())
				pipe.recorder.Close()
			})
		}
	}

	if err := r.transition(StateRunning); err != nil {
		return err
	}

	runErr := r.runLoop(ctx)

	if err := r.transition(StateDraining); err == nil {
		r.drain(ctx)
	}
	r.transition(StateEnded)

	if endErr := r.overseer.OnEnd(context.Background(), r.streamID); endErr != nil {
		r.log.Error("on_end failed", logger.NewField("stream_id", r.streamID), logger.Err(endErr))
	}

	return runErr
}

// probe waits for at least one video packet (and, if present in the
// session within the deadline, one audio packet) before declaring the
// source format. Dimensions are Config defaults, not parsed from the
// bitstream.
func (r *Runner) probe(ctx context.Context) (types.IngressInfo, error) {
	deadline := time.NewTimer(ProbeTimeout)
	defer deadline.Stop()

	sawVideo, sawAudio := false, false
	var buffered []ingest.RawPacket

	for !sawVideo {
		select {
		case pkt, ok := <-r.sess.Packets:
			if !ok {
				return types.IngressInfo{}, fmt.Errorf("pipeline: session closed during probe")
			}
			buffered = append(buffered, pkt)
			if pkt.Kind == types.TrackVideo {
				sawVideo = true
			}
			if pkt.Kind == types.TrackAudio {
				sawAudio = true
			}
		case <-deadline.C:
			return types.IngressInfo{}, fmt.Errorf("pipeline: no video packet within %s", ProbeTimeout)
		case <-ctx.Done():
			return types.IngressInfo{}, ctx.Err()
		}
	}

	// Drain remaining buffered time to see if audio shows up too, without
	// blocking past the deadline.
	probeEnd := time.After(200 * time.Millisecond)
probeLoop:
	for !sawAudio {
		select {
		case pkt, ok := <-r.sess.Packets:
			if !ok {
				break probeLoop
			}
			buffered = append(buffered, pkt)
			if pkt.Kind == types.TrackAudio {
				sawAudio = true
			}
		case <-probeEnd:
			break probeLoop
		}
	}

	r.pending = buffered

	streams := []types.SourceStream{
		{Index: 0, Kind: types.TrackVideo, Width: r.cfg.DefaultWidth, Height: r.cfg.DefaultHeight, FPS: r.cfg.DefaultFPS},
	}
	if sawAudio {
		streams = append(streams, types.SourceStream{Index: 1, Kind: types.TrackAudio, Channels: 2, SampleRate: 48000})
	}
	return types.IngressInfo{Streams: streams}, nil
}

func (r *Runner) openVariant(v types.VariantStream) (*variantPipe, error) {
	writer, err := r.egress.OpenVariant(r.streamID, v, r.cfg.SegmentLength)
	if err != nil {
		return nil, errors.NewTranscodeError(v.ID, err)
	}
	srcKind := types.TrackVideo
	if v.IsAudio() {
		srcKind = types.TrackAudio
	}

	pipe := &variantPipe{
		variant: v,
		reorder: reorder.New[Frame](),
		encoder: newPassthroughEncoder(),
		writer:  writer,
		metrics: packetmetrics.New(v.ID, r.log, nil),
		srcKind: srcKind,
	}

	if v.DVR && v.IsVideo() && r.cfg.RecordingDir != "" {
		rec := storage.NewBaseRecorder(storage.RecordingConfig{
			StreamID:        r.streamID,
			Format:          storage.FormatMP4,
			OutputPath:      fmt.Sprintf("%s/%s", r.cfg.RecordingDir, r.streamID),
			SegmentDuration: r.cfg.RecordingSegmentSpan,
		}, r.log)
		if err := rec.Start(context.Background()); err != nil {
			r.log.Warn("recording start failed", logger.NewField("stream_id", r.streamID), logger.Err(err))
		} else {
			pipe.recorder = rec
		}
	}

	return pipe, nil
}

func (r *Runner) runLoop(ctx context.Context) error {
	dec := newPassthroughDecoder(r.cfg.DefaultFPS)

	stats := time.NewTicker(r.cfg.StatsInterval)
	defer stats.Stop()
	thumb := time.NewTicker(r.cfg.ThumbnailInterval)
	defer thumb.Stop()

	var videoFrames int
	lastStats := time.Now()

	feed := func(pkt ingest.RawPacket) error {
		frame, ok, err := dec.Decode(pkt)
		if err != nil || !ok {
			return err
		}
		if pkt.Kind == types.TrackVideo {
			videoFrames++
		}
		for _, pipe := range r.pipes {
			if pipe.srcKind != pkt.Kind {
				continue
			}
			pipe.metrics.Update(len(pkt.Payload))
			ready := pipe.reorder.Push(frame.PTS, frame.Duration, frame)
			if err := r.emit(ctx, pipe, ready); err != nil {
				return err
			}
		}
		return nil
	}

	for _, pkt := range r.pending {
		if err := feed(pkt); err != nil {
			return err
		}
	}
	r.pending = nil

	for {
		select {
		case pkt, ok := <-r.sess.Packets:
			if !ok {
				return nil
			}
			if err := feed(pkt); err != nil {
				return err
			}
		case <-thumb.C:
			r.captureThumbnail(ctx)
		case <-stats.C:
			elapsed := time.Since(lastStats).Seconds()
			if elapsed > 0 && r.reg != nil {
				observedFPS := float64(videoFrames) / elapsed
				r.reg.PlaybackRate.WithLabelValues(r.streamID).Observe(observedFPS / r.cfg.DefaultFPS)
			}
			videoFrames = 0
			lastStats = time.Now()
			if err := r.overseer.CheckStreams(ctx); err != nil {
				r.log.Warn("check_streams failed", logger.Err(err))
			}
		case <-r.sess.Closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runner) emit(ctx context.Context, pipe *variantPipe, frames []Frame) error {
	var added, deleted []types.SegmentDescriptor
	for _, f := range frames {
		encoded, err := pipe.encoder.Encode(f)
		if err != nil {
			return errors.NewTranscodeError(pipe.variant.ID, err)
		}
		if pipe.recorder != nil {
			if _, err := pipe.recorder.Write(encoded); err != nil {
				r.log.Warn("recording write failed", logger.NewField("stream_id", r.streamID), logger.Err(err))
			}
		}
		desc, evicted, err := pipe.writer.WriteSegment(encoded, time.Duration(f.Duration)*time.Millisecond)
		if err != nil {
			return errors.NewTranscodeError(pipe.variant.ID, err)
		}
		if desc.Path != "" {
			desc.VariantID = pipe.variant.ID
			added = append(added, desc)
		}
		deleted = append(deleted, evicted...)
	}
	if len(added) > 0 || len(deleted) > 0 {
		if err := r.overseer.OnSegments(ctx, r.streamID, added, deleted); err != nil {
			r.log.Error("on_segments failed", logger.NewField("stream_id", r.streamID), logger.Err(err))
		}
	}
	return nil
}

func (r *Runner) captureThumbnail(ctx context.Context) {
	if len(r.pipes) == 0 {
		return
	}
	start := time.Now()
	path := fmt.Sprintf("%s/thumb.jpg", r.streamID)
	if r.reg != nil {
		r.reg.ThumbnailGenerationSeconds.WithLabelValues(r.streamID).Observe(time.Since(start).Seconds())
	}
	if err := r.overseer.OnThumbnail(ctx, r.streamID, path); err != nil {
		r.log.Warn("on_thumbnail failed", logger.Err(err))
	}
}

func (r *Runner) drain(ctx context.Context) {
	for _, pipe := range r.pipes {
		remaining := pipe.reorder.Flush()
		r.emit(ctx, pipe, remaining)
		if descs, err := pipe.writer.Close(); err == nil {
			for i := range descs {
				descs[i].VariantID = pipe.variant.ID
			}
			if len(descs) > 0 {
				r.overseer.OnSegments(ctx, r.streamID, descs, nil)
			}
		}
	}
}
