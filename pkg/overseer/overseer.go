// Package overseer implements the billing/lifecycle coordinator: it
// authorizes incoming streams, drives the planned->live->ended state
// machine, ticks per-segment billing, and fans completed segments out to
// the blob and event publishers. Two concrete variants are provided: a
// self-hosted variant backed by Postgres, and an ownership-less N94
// broadcaster variant driven from CLI flags.
package overseer

import (
	"context"
	"time"

	"github.com/bitriver/livepipe/pkg/types"
)

// StartDecision is returned by StartStream on acceptance.
type StartDecision struct {
	StreamID     string
	UserID       string
	OwnerPubkey  [32]byte
	Capabilities []types.EndpointCapability
	Defaults     types.StreamDefaults
}

// Overseer is the polymorphic capability set the Pipeline Runner and HLS
// Egress drive: start_stream, on_segments, on_thumbnail,
// on_variants_planned, on_end, on_stats, check_streams.
type Overseer interface {
	// StartStream resolves a stream key to a user/stream, authorizes the
	// connection, and returns the capability list to plan variants from.
	// Calling it twice for the same connection is a no-op returning the
	// same decision.
	StartStream(ctx context.Context, conn types.ConnectionInfo) (StartDecision, error)

	// OnSegments reports newly added and expired segments for a stream.
	// It ticks billing and dispatches publication.
	OnSegments(ctx context.Context, streamID string, added, deleted []types.SegmentDescriptor) error

	// OnThumbnail reports a freshly captured thumbnail path.
	OnThumbnail(ctx context.Context, streamID string, path string) error

	// OnVariantsPlanned reports the variant ladder the Pipeline Runner
	// planned for streamID once probing completes, and republishes the
	// stream-announce so its variant tags reflect the ladder.
	OnVariantsPlanned(ctx context.Context, streamID string, variants []types.VariantDescriptor) error

	// OnEnd transitions a stream to ended and publishes the terminal
	// stream-announce. It is guaranteed to run at most once per stream;
	// subsequent calls are no-ops.
	OnEnd(ctx context.Context, streamID string) error

	// OnStats reports periodic health/viewer information, used to decide
	// whether to republish the stream-announce event.
	OnStats(ctx context.Context, streamID string, viewerCount int) error

	// CheckStreams is invoked periodically to sweep for stale streams.
	CheckStreams(ctx context.Context) error
}

// BillingTick is one debit/credit pair applied atomically.
type BillingTick struct {
	StreamID   string
	UserID     string
	DeltaMsats int64
	At         time.Time
}

// ComputeDeltaMsats implements Δcost_msats = rate_msats_per_min ×
// segment_duration / 60.
func ComputeDeltaMsats(rateMsatsPerMin int64, segmentDuration float64) int64 {
	return int64(float64(rateMsatsPerMin) * segmentDuration / 60.0)
}
