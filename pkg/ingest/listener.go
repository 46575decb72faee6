// Package ingest implements protocol-specific connection acceptance: each
// Listener variant binds an address, accepts connections, resolves the
// caller's stream key, asks the Overseer to authorize the connection, and
// on acceptance hands a packet stream off to a newly spawned Pipeline
// Runner. Listeners run independently and never share state.
package ingest

import (
	"context"
	"time"

	"github.com/bitriver/livepipe/pkg/overseer"
	"github.com/bitriver/livepipe/pkg/types"
)

// RawPacket is one demuxed audio/video access unit handed from a Listener
// to the Pipeline Runner's frame loop.
type RawPacket struct {
	Kind      types.TrackKind
	Payload   []byte
	Timestamp uint32
}

// Session is a single accepted ingress connection: its metadata, the
// channel of demuxed packets, and a way to learn when the underlying
// transport closes.
type Session struct {
	Conn     types.ConnectionInfo
	Packets  <-chan RawPacket
	Closed   <-chan struct{}
	CloseFn  func()
}

// StallTimeout drops an ingress connection that produces no bytes for this
// long.
const StallTimeout = 60 * time.Second

// Starter is called by a Listener once a connection has been authorized by
// the Overseer, to spawn the Pipeline Runner. The Pipeline Runner owns
// sess from this point and must call sess.CloseFn on every exit path.
type Starter func(ctx context.Context, sess *Session, streamID, userID string, ownerPubkey [32]byte, capabilities []types.EndpointCapability)

// Authorizer is the subset of the Overseer a Listener needs: resolving a
// connection into a start decision or an error (rejected).
type Authorizer interface {
	StartStream(ctx context.Context, conn types.ConnectionInfo) (overseer.StartDecision, error)
}

// Listener is the polymorphic ingest transport contract: {SRT, RTMP, TCP,
// Test-pattern, File} all implement it.
type Listener interface {
	// Listen binds and begins accepting connections until ctx is canceled.
	Listen(ctx context.Context, authorize Authorizer, start Starter) error
	// Close unbinds the listener and terminates the accept loop.
	Close() error
	// Protocol identifies the transport this listener implements.
	Protocol() types.Protocol
}
