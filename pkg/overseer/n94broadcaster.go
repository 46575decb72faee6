package overseer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitriver/livepipe/pkg/blossom"
	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/nostr"
	"github.com/bitriver/livepipe/pkg/streammanager"
	"github.com/bitriver/livepipe/pkg/types"
)

// N94Config is the CLI-declared configuration for the ownership-less N94
// broadcaster variant.
type N94Config struct {
	Capabilities []types.EndpointCapability
	Defaults     types.StreamDefaults
	BridgeURL    string // optional edge aggregator URL for the NIP-53 bridge
	PublishNIP53 bool
}

// N94Broadcaster is the ownership-less Overseer variant driven from a CLI.
// It never touches a database: every stream it accepts belongs to the
// broadcaster's own signing key, and billing does not apply.
type N94Broadcaster struct {
	cfg       N94Config
	publisher *nostr.Publisher
	blobs     *blossom.Publisher
	manager   *streammanager.Manager
	pubkey    [32]byte
	log       logger.Logger

	mu      sync.Mutex
	streams map[string]*types.ActiveStream
	ended   map[string]bool
}

// NewN94Broadcaster constructs the CLI-driven Overseer variant.
func NewN94Broadcaster(cfg N94Config, publisher *nostr.Publisher, blobs *blossom.Publisher, manager *streammanager.Manager, pubkey [32]byte, log logger.Logger) *N94Broadcaster {
	return &N94Broadcaster{
		cfg:       cfg,
		publisher: publisher,
		blobs:     blobs,
		manager:   manager,
		pubkey:    pubkey,
		log:       log,
		streams:   make(map[string]*types.ActiveStream),
		ended:     make(map[string]bool),
	}
}

// StartStream accepts every connection unconditionally (there is no
// per-user balance to check) and publishes the initial stream-announce
// plus, if configured, the NIP-53 bridge event.
func (n *N94Broadcaster) StartStream(ctx context.Context, conn types.ConnectionInfo) (StartDecision, error) {
	n.mu.Lock()
	for _, st := range n.streams {
		if st.State == types.StreamStateLive {
			decision := StartDecision{StreamID: st.StreamID, OwnerPubkey: n.pubkey, Capabilities: n.cfg.Capabilities, Defaults: n.cfg.Defaults}
			n.mu.Unlock()
			return decision, nil
		}
	}
	n.mu.Unlock()

	streamID := uuid.NewString()
	active := &types.ActiveStream{
		StreamID:    streamID,
		OwnerPubkey: n.pubkey,
		StartTime:   conn.AcceptedAt,
		State:       types.StreamStateLive,
	}
	n.mu.Lock()
	n.streams[streamID] = active
	n.mu.Unlock()

	if n.manager != nil {
		n.manager.TrackStart(streamID, conn.AcceptedAt)
	}

	if n.publisher != nil {
		meta := n.streamMeta(active)
		ev, err := n.publisher.AnnounceStream(ctx, meta)
		if err != nil {
			n.log.Warn("initial stream-announce publish failed", logger.String("stream_id", streamID), logger.Err(err))
		} else {
			n.mu.Lock()
			active.StreamEventID = hexEventID(ev)
			n.mu.Unlock()
		}
		if n.cfg.PublishNIP53 {
			if _, err := n.publisher.BridgeEvent(ctx, meta, n.cfg.BridgeURL); err != nil {
				n.log.Warn("NIP-53 bridge publish failed", logger.String("stream_id", streamID), logger.Err(err))
			}
		}
	}

	return StartDecision{StreamID: streamID, OwnerPubkey: n.pubkey, Capabilities: n.cfg.Capabilities, Defaults: n.cfg.Defaults}, nil
}

func hexEventID(ev *nostr.Event) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(ev.ID)*2)
	for i, b := range ev.ID {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

func (n *N94Broadcaster) streamMeta(active *types.ActiveStream) nostr.StreamMeta {
	status := "live"
	if active.State == types.StreamStateEnded {
		status = "ended"
	}
	return nostr.StreamMeta{
		StreamID:       active.StreamID,
		Title:          n.cfg.Defaults.Title,
		Summary:        n.cfg.Defaults.Summary,
		Image:          n.cfg.Defaults.Image,
		Tags:           n.cfg.Defaults.Tags,
		ContentWarning: n.cfg.Defaults.ContentWarning,
		Goal:           n.cfg.Defaults.Goal,
		Starts:         active.StartTime.Unix(),
		Status:         status,
		Variants:       active.Variants,
		ViewerCount:    active.ViewerCount,
	}
}

// OnSegments uploads each added segment to the broadcaster's mirrors and
// publishes segment metadata; there is no billing to tick.
func (n *N94Broadcaster) OnSegments(ctx context.Context, streamID string, added, deleted []types.SegmentDescriptor) error {
	n.mu.Lock()
	active, ok := n.streams[streamID]
	n.mu.Unlock()
	if !ok {
		return nil
	}

	for _, seg := range added {
		n.mu.Lock()
		active.LastSegmentAt = time.Now()
		active.AccumulatedSecs += seg.Duration
		n.mu.Unlock()

		if n.manager != nil {
			n.manager.TrackSegment(streamID, active.LastSegmentAt)
		}

		if n.blobs == nil || n.publisher == nil {
			continue
		}
		descs, err := n.blobs.UploadFile(ctx, seg.Path, "video/mp2t")
		if err != nil {
			n.log.Warn("blob upload failed, segment retained locally", logger.String("stream_id", streamID), logger.Err(err))
			continue
		}
		sm := nostr.SegmentMetadata{
			StreamEventID: active.StreamEventID,
			VariantID:     seg.VariantID,
			Index:         seg.Index,
			Duration:      seg.Duration,
			MimeType:      "video/mp2t",
			ExpiresAt:     time.Now().Add(24 * time.Hour).Unix(),
			Blob:          descs[0],
			ExtraMirrors:  descs[1:],
		}
		if _, err := n.publisher.PublishSegment(ctx, sm); err != nil {
			n.log.Warn("segment metadata publish failed", logger.String("stream_id", streamID), logger.Err(err))
		}
	}
	return nil
}

// OnThumbnail logs thumbnail capture; the broadcaster has no database to
// persist it to.
func (n *N94Broadcaster) OnThumbnail(ctx context.Context, streamID string, path string) error {
	n.log.Debug("thumbnail captured", logger.String("stream_id", streamID), logger.String("path", path))
	return nil
}

// OnVariantsPlanned records the variant ladder the Pipeline Runner planned
// for streamID once probing completes, and republishes the stream-announce
// so its ["variant", …] tags reflect the ladder.
func (n *N94Broadcaster) OnVariantsPlanned(ctx context.Context, streamID string, variants []types.VariantDescriptor) error {
	n.mu.Lock()
	active, ok := n.streams[streamID]
	if ok {
		active.Variants = variants
	}
	n.mu.Unlock()
	if !ok || n.publisher == nil {
		return nil
	}
	_, err := n.publisher.AnnounceStream(ctx, n.streamMeta(active))
	return err
}

// OnEnd publishes a terminal status=ended stream-announce exactly once.
func (n *N94Broadcaster) OnEnd(ctx context.Context, streamID string) error {
	n.mu.Lock()
	if n.ended[streamID] {
		n.mu.Unlock()
		return nil
	}
	active, ok := n.streams[streamID]
	if !ok {
		n.mu.Unlock()
		return nil
	}
	n.ended[streamID] = true
	active.State = types.StreamStateEnded
	now := time.Now()
	active.EndTime = &now
	n.mu.Unlock()

	if n.manager != nil {
		n.manager.Untrack(streamID)
	}

	if n.publisher == nil {
		return nil
	}
	meta := n.streamMeta(active)
	_, err := n.publisher.AnnounceStream(ctx, meta)
	return err
}

// OnStats republishes the stream-announce when the Stream Manager decides
// the viewer-count bucket or max-interval rule requires it.
func (n *N94Broadcaster) OnStats(ctx context.Context, streamID string, viewerCount int) error {
	n.mu.Lock()
	active, ok := n.streams[streamID]
	if ok {
		active.ViewerCount = viewerCount
	}
	n.mu.Unlock()
	if !ok || n.manager == nil || !n.manager.NeedsRepublish(streamID, viewerCount, time.Now()) {
		return nil
	}
	if n.publisher == nil {
		return nil
	}
	_, err := n.publisher.AnnounceStream(ctx, n.streamMeta(active))
	return err
}

// CheckStreams is a no-op; staleness sweeping is delegated to the Stream
// Manager's own ticker.
func (n *N94Broadcaster) CheckStreams(ctx context.Context) error {
	return nil
}
