package overseer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitriver/livepipe/pkg/blossom"
	"github.com/bitriver/livepipe/pkg/errors"
	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/nostr"
	"github.com/bitriver/livepipe/pkg/streammanager"
	"github.com/bitriver/livepipe/pkg/types"
)

// SelfHosted is the Postgres-backed Overseer variant. It owns the
// user/stream tables, authorizes connections against account balance, and
// ticks billing atomically on every segment.
type SelfHosted struct {
	pool            *pgxpool.Pool
	publisher       *nostr.Publisher
	blobs           *blossom.Publisher
	manager         *streammanager.Manager
	rateMsatsPerMin int64
	gracePeriod     time.Duration
	log             logger.Logger

	mu      sync.Mutex
	streams map[string]*types.ActiveStream
	ended   map[string]bool
}

// NewSelfHosted opens a Postgres pool against dsn and constructs the
// self-hosted Overseer. The caller owns the publisher/blob/manager
// lifecycle; SelfHosted only calls into them.
func NewSelfHosted(ctx context.Context, dsn string, maxConns int32, publisher *nostr.Publisher, blobs *blossom.Publisher, manager *streammanager.Manager, rateMsatsPerMin int64, gracePeriod time.Duration, log logger.Logger) (*SelfHosted, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("overseer: parse postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("overseer: open postgres pool: %w", err)
	}
	return &SelfHosted{
		pool:            pool,
		publisher:       publisher,
		blobs:           blobs,
		manager:         manager,
		rateMsatsPerMin: rateMsatsPerMin,
		gracePeriod:     gracePeriod,
		log:             log,
		streams:         make(map[string]*types.ActiveStream),
		ended:           make(map[string]bool),
	}, nil
}

// Close releases the Postgres pool.
func (s *SelfHosted) Close() {
	s.pool.Close()
}

type userRow struct {
	id              string
	pubkey          []byte
	balanceMsats    int64
	streamKey       string
	isAdmin         bool
	isBlocked       bool
	title           string
	summary         string
	image           string
	tags            []string
	contentWarning  string
	goal            string
}

func (s *SelfHosted) resolveUser(ctx context.Context, streamKey string) (userRow, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, pubkey, balance_msats, stream_key, is_admin, is_blocked,
       default_title, default_summary, default_image, default_tags,
       default_content_warning, default_goal
FROM users
WHERE stream_key = $1
`, streamKey)
	var u userRow
	if err := row.Scan(&u.id, &u.pubkey, &u.balanceMsats, &u.streamKey, &u.isAdmin, &u.isBlocked,
		&u.title, &u.summary, &u.image, &u.tags, &u.contentWarning, &u.goal); err != nil {
		if err == pgx.ErrNoRows {
			return u, errors.NewAuthenticationError("unknown stream key")
		}
		return u, fmt.Errorf("overseer: resolving stream key: %w", err)
	}
	return u, nil
}

// StartStream resolves conn.StreamKey to a user, authorizes on
// balance > 0 and not blocked, and idempotently creates the active stream
// row. Calling it twice for the same connection returns the same decision.
// The decision carries no capabilities; cmd/ingestserver plans from its
// Ingest.Capabilities configuration instead.
func (s *SelfHosted) StartStream(ctx context.Context, conn types.ConnectionInfo) (StartDecision, error) {
	u, err := s.resolveUser(ctx, conn.StreamKey)
	if err != nil {
		return StartDecision{}, err
	}
	if u.isBlocked {
		return StartDecision{}, errors.NewUnauthorizedError("account is blocked")
	}
	if u.balanceMsats <= 0 {
		return StartDecision{}, errors.NewUnauthorizedError("insufficient balance")
	}

	s.mu.Lock()
	for _, st := range s.streams {
		if st.UserID == u.id && st.State == types.StreamStateLive {
			decision := StartDecision{StreamID: st.StreamID, UserID: u.id, OwnerPubkey: st.OwnerPubkey}
			s.mu.Unlock()
			return decision, nil
		}
	}
	s.mu.Unlock()

	var pubkey [32]byte
	copy(pubkey[:], u.pubkey)

	streamID := uuid.NewString()
	_, err = s.pool.Exec(ctx, `
INSERT INTO streams (id, user_id, state, started_at)
VALUES ($1, $2, $3, $4)
`, streamID, u.id, string(types.StreamStateLive), conn.AcceptedAt.UTC())
	if err != nil {
		return StartDecision{}, errors.NewBillingError("creating stream row", err)
	}

	active := &types.ActiveStream{
		StreamID:    streamID,
		UserID:      u.id,
		OwnerPubkey: pubkey,
		StartTime:   conn.AcceptedAt,
		State:       types.StreamStateLive,
		Defaults: types.StreamDefaults{
			Title:          u.title,
			Summary:        u.summary,
			Image:          u.image,
			Tags:           u.tags,
			ContentWarning: u.contentWarning,
			Goal:           u.goal,
		},
	}
	s.mu.Lock()
	s.streams[streamID] = active
	s.mu.Unlock()

	if s.manager != nil {
		s.manager.TrackStart(streamID, conn.AcceptedAt)
	}

	if s.publisher != nil {
		ev, err := s.publisher.AnnounceStream(ctx, s.streamMeta(active))
		if err != nil {
			s.log.Warn("initial stream-announce publish failed", logger.String("stream_id", streamID), logger.Err(err))
		} else {
			s.mu.Lock()
			active.StreamEventID = hexEventID(ev)
			s.mu.Unlock()
		}
	}

	return StartDecision{StreamID: streamID, UserID: u.id, OwnerPubkey: pubkey}, nil
}

// streamMeta builds the stream-announce payload for active, pulling the
// user's default metadata snapshotted at StartStream and the variant
// ladder populated once OnVariantsPlanned runs.
func (s *SelfHosted) streamMeta(active *types.ActiveStream) nostr.StreamMeta {
	status := "live"
	if active.State == types.StreamStateEnded {
		status = "ended"
	}
	return nostr.StreamMeta{
		StreamID:       active.StreamID,
		Title:          active.Defaults.Title,
		Summary:        active.Defaults.Summary,
		Image:          active.Defaults.Image,
		Tags:           active.Defaults.Tags,
		ContentWarning: active.Defaults.ContentWarning,
		Goal:           active.Defaults.Goal,
		Starts:         active.StartTime.Unix(),
		Status:         status,
		Variants:       active.Variants,
		ViewerCount:    active.ViewerCount,
	}
}

// OnSegments ticks billing for every added segment inside a single
// transaction per segment, guaranteeing {stream.cost += Δ, user.balance -=
// Δ} atomicity, then dispatches blob upload and segment-metadata
// publication. A post-debit negative balance ends the stream.
func (s *SelfHosted) OnSegments(ctx context.Context, streamID string, added, deleted []types.SegmentDescriptor) error {
	s.mu.Lock()
	active, ok := s.streams[streamID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("overseer: unknown stream %s", streamID)
	}

	for _, seg := range added {
		delta := ComputeDeltaMsats(s.rateMsatsPerMin, seg.Duration)
		newBalance, err := s.tickBilling(ctx, active.UserID, streamID, delta, seg.Duration)
		if err != nil {
			return err
		}

		s.mu.Lock()
		active.AccumulatedMsats += delta
		active.AccumulatedSecs += seg.Duration
		active.LastSegmentAt = time.Now()
		s.mu.Unlock()

		if s.manager != nil {
			s.manager.TrackSegment(streamID, active.LastSegmentAt)
		}

		if newBalance < 0 {
			s.log.Warn("stream exhausted balance, ending", logger.String("stream_id", streamID))
			return s.OnEnd(ctx, streamID)
		}

		if s.blobs != nil {
			if descs, err := s.blobs.UploadFile(ctx, seg.Path, mimeForSegment(seg)); err != nil {
				s.log.Warn("blob upload failed, segment retained locally", logger.String("stream_id", streamID), logger.Err(err))
			} else if s.publisher != nil {
				sm := nostr.SegmentMetadata{
					StreamEventID: active.StreamEventID,
					VariantID:     seg.VariantID,
					Index:         seg.Index,
					Duration:      seg.Duration,
					MimeType:      mimeForSegment(seg),
					ExpiresAt:     time.Now().Add(24 * time.Hour).Unix(),
					Blob:          descs[0],
					ExtraMirrors:  descs[1:],
				}
				if _, err := s.publisher.PublishSegment(ctx, sm); err != nil {
					s.log.Warn("segment metadata publish failed", logger.String("stream_id", streamID), logger.Err(err))
				}
			}
		}
	}
	return nil
}

func mimeForSegment(seg types.SegmentDescriptor) string {
	return "video/mp2t"
}

// tickBilling applies the debit/credit pair inside one transaction and
// returns the post-debit balance.
func (s *SelfHosted) tickBilling(ctx context.Context, userID, streamID string, delta int64, segDuration float64) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, errors.NewBillingError("starting billing transaction", err)
	}
	defer tx.Rollback(ctx)

	var newBalance int64
	row := tx.QueryRow(ctx, `
UPDATE users SET balance_msats = balance_msats - $1 WHERE id = $2 RETURNING balance_msats
`, delta, userID)
	if err := row.Scan(&newBalance); err != nil {
		return 0, errors.NewBillingError("debiting user balance", err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE streams SET accumulated_msats = accumulated_msats + $1, accumulated_secs = accumulated_secs + $2 WHERE id = $3
`, delta, segDuration, streamID); err != nil {
		return 0, errors.NewBillingError("crediting stream cost", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.NewBillingError("committing billing transaction", err)
	}
	return newBalance, nil
}

// OnThumbnail records a thumbnail path; the self-hosted variant doesn't
// persist it beyond logging, the HLS directory layout already fixes the
// well-known path.
func (s *SelfHosted) OnThumbnail(ctx context.Context, streamID string, path string) error {
	s.log.Debug("thumbnail captured", logger.String("stream_id", streamID), logger.String("path", path))
	return nil
}

// OnVariantsPlanned records the variant ladder the Pipeline Runner planned
// for streamID once probing completes, and republishes the stream-announce
// so its ["variant", …] tags reflect the ladder.
func (s *SelfHosted) OnVariantsPlanned(ctx context.Context, streamID string, variants []types.VariantDescriptor) error {
	s.mu.Lock()
	active, ok := s.streams[streamID]
	if ok {
		active.Variants = variants
	}
	s.mu.Unlock()
	if !ok || s.publisher == nil {
		return nil
	}
	_, err := s.publisher.AnnounceStream(ctx, s.streamMeta(active))
	return err
}

// OnEnd transitions streamID to ended exactly once, persists the
// terminal state, and republishes a status=ended stream-announce.
func (s *SelfHosted) OnEnd(ctx context.Context, streamID string) error {
	s.mu.Lock()
	if s.ended[streamID] {
		s.mu.Unlock()
		return nil
	}
	active, ok := s.streams[streamID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	s.ended[streamID] = true
	active.State = types.StreamStateEnded
	now := time.Now()
	active.EndTime = &now
	s.mu.Unlock()

	if _, err := s.pool.Exec(ctx, `
UPDATE streams SET state = $1, ended_at = $2 WHERE id = $3
`, string(types.StreamStateEnded), now.UTC(), streamID); err != nil {
		s.log.Error("failed to persist stream end", logger.String("stream_id", streamID), logger.Err(err))
	}

	if s.manager != nil {
		s.manager.Untrack(streamID)
	}

	if s.publisher != nil {
		ends := now.Unix()
		meta := s.streamMeta(active)
		meta.Ends = &ends
		if _, err := s.publisher.AnnounceStream(ctx, meta); err != nil {
			s.log.Warn("terminal stream-announce publish failed", logger.String("stream_id", streamID), logger.Err(err))
		}
	}
	return nil
}

// OnStats asks the Stream Manager whether the viewer count change warrants
// a republish, and if so issues it.
func (s *SelfHosted) OnStats(ctx context.Context, streamID string, viewerCount int) error {
	s.mu.Lock()
	active, ok := s.streams[streamID]
	if ok {
		active.ViewerCount = viewerCount
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if s.manager == nil || !s.manager.NeedsRepublish(streamID, viewerCount, time.Now()) {
		return nil
	}
	if s.publisher == nil {
		return nil
	}
	_, err := s.publisher.AnnounceStream(ctx, s.streamMeta(active))
	return err
}

// CheckStreams is a no-op for the self-hosted variant: staleness sweeping
// is delegated entirely to the Stream Manager's own ticker, whose onStale
// callback (wired by cmd/ingestserver) calls OnEnd.
func (s *SelfHosted) CheckStreams(ctx context.Context) error {
	return nil
}
