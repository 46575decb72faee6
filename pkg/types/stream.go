package types

import "time"

// StreamState is the lifecycle state of an active stream, per the overseer's
// state machine: unknown -> planned -> live -> ended. Ended is terminal.
type StreamState string

const (
	StreamStateUnknown StreamState = "unknown"
	StreamStatePlanned StreamState = "planned"
	StreamStateLive    StreamState = "live"
	StreamStateEnded   StreamState = "ended"
)

// TrackKind identifies the kind of a probed source stream.
type TrackKind string

const (
	TrackVideo    TrackKind = "video"
	TrackAudio    TrackKind = "audio"
	TrackSubtitle TrackKind = "subtitle"
)

// SourceStream describes one demuxed track discovered during probing.
// Immutable once IngressInfo is constructed.
type SourceStream struct {
	Index      int
	Kind       TrackKind
	Width      int
	Height     int
	FPS        float64
	Channels   int
	SampleRate int
	CodecID    string
}

// IngressInfo is the result of probing an ingress connection: an ordered
// list of source streams. Immutable after probe.
type IngressInfo struct {
	Streams []SourceStream
}

// VideoSource returns the first video track, if any.
func (i IngressInfo) VideoSource() (SourceStream, bool) {
	for _, s := range i.Streams {
		if s.Kind == TrackVideo {
			return s, true
		}
	}
	return SourceStream{}, false
}

// AudioSource returns the first audio track, if any.
func (i IngressInfo) AudioSource() (SourceStream, bool) {
	for _, s := range i.Streams {
		if s.Kind == TrackAudio {
			return s, true
		}
	}
	return SourceStream{}, false
}

// Protocol identifies the ingress transport.
type Protocol string

const (
	ProtocolRTMP        Protocol = "rtmp"
	ProtocolSRT         Protocol = "srt"
	ProtocolTCP         Protocol = "tcp"
	ProtocolTestPattern Protocol = "test-pattern"
	ProtocolFile        Protocol = "file"
)

// ConnectionInfo describes a newly accepted ingress connection, created on
// accept and destroyed on disconnect. Drives exactly one Pipeline Runner.
type ConnectionInfo struct {
	RemoteAddr string
	StreamKey  string
	Protocol   Protocol
	AcceptedAt time.Time
}

// SegmentType is the container format used for emitted HLS segments.
type SegmentType string

const (
	SegmentMPEGTS SegmentType = "mpegts"
	SegmentFMP4   SegmentType = "fmp4"
)

// SegmentDescriptor is emitted by the egress layer to the overseer for every
// completed segment.
type SegmentDescriptor struct {
	VariantID string
	Index     int64
	Duration  float64
	Path      string
	SHA256    [32]byte
}

// BlobDescriptor is the result of a successful mirror upload.
type BlobDescriptor struct {
	URL        string
	SHA256Hex  string
	Size       int64
	MimeType   string
	NIP94Attrs [][2]string
}

// ActiveStream is the overseer's live view of one stream, created on ingest
// accept and ended on disconnect or billing-out.
type ActiveStream struct {
	StreamID          string
	UserID            string
	OwnerPubkey       [32]byte
	StartTime         time.Time
	EndTime           *time.Time
	State             StreamState
	ViewerCount       int
	Variants          []VariantDescriptor
	LastSegmentAt     time.Time
	AccumulatedMsats  int64
	AccumulatedSecs   float64
	LastPublishedJSON string
	StreamEventID     string
	Defaults          StreamDefaults
}

// VariantDescriptor is the compact public-facing description of one output
// variant, used by stream-announce events and HTTP playlist responses.
type VariantDescriptor struct {
	ID       string
	MimeType string
	Bitrate  int
	Width    int
	Height   int
}
