package nostr

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/types"
)

// StreamMeta is the per-stream metadata the Event Publisher folds into a
// stream-announce event.
type StreamMeta struct {
	StreamID        string
	Title           string
	Summary         string
	Image           string
	Thumb           string
	Tags            []string
	ContentWarning  string
	Goal            string
	Pinned          string
	Starts          int64
	Ends            *int64
	Status          string // "live" or "ended"
	Variants        []types.VariantDescriptor
	Relays          []string
	ViewerCount     int
}

// Publisher authors and signs events, then fans them out to every
// configured relay. It tracks, per (pubkey, d-tag), the created_at of the
// last published stream-announce to guarantee monotonic ordering on
// republish, and serializes segment-metadata publication per variant so
// index order is preserved on the wire.
type Publisher struct {
	signer  *Signer
	relays  []*relayConn
	log     logger.Logger
	maxWait time.Duration

	mu           sync.Mutex
	lastCreated  map[string]int64 // stream id -> created_at of last announce
	variantLocks map[string]*sync.Mutex
}

// NewPublisher dials no relays eagerly; connections are established lazily
// on first publish.
func NewPublisher(signer *Signer, relayURLs []string, maxWait time.Duration, log logger.Logger) *Publisher {
	p := &Publisher{
		signer:       signer,
		log:          log,
		maxWait:      maxWait,
		lastCreated:  make(map[string]int64),
		variantLocks: make(map[string]*sync.Mutex),
	}
	for _, u := range relayURLs {
		p.relays = append(p.relays, newRelayConn(u, log))
	}
	return p
}

// Close tears down every relay connection.
func (p *Publisher) Close() {
	for _, r := range p.relays {
		r.close()
	}
}

// publishToAllRelays fans the event out to every relay concurrently, capped
// implicitly by the small relay count, and succeeds if at least one relay
// accepts it. Individual relay failures are logged, never propagated.
func (p *Publisher) publishToAllRelays(ctx context.Context, e *Event) error {
	if len(p.relays) == 0 {
		return fmt.Errorf("nostr: no relays configured")
	}

	var g errgroup.Group
	var mu sync.Mutex
	accepted := 0

	for _, r := range p.relays {
		r := r
		g.Go(func() error {
			if err := r.publishEvent(ctx, e, p.maxWait); err != nil {
				p.log.Warn("relay publish failed", logger.String("relay", r.url), logger.Err(err))
				return nil
			}
			mu.Lock()
			accepted++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if accepted == 0 {
		return fmt.Errorf("nostr: all relays rejected event kind %d", e.Kind)
	}
	return nil
}

// nextCreatedAt bumps created_at to prev+1 when the wall clock would
// otherwise produce a non-increasing value for the same stream id.
func (p *Publisher) nextCreatedAt(streamID string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().Unix()
	prev, ok := p.lastCreated[streamID]
	if ok && now <= prev {
		now = prev + 1
	}
	p.lastCreated[streamID] = now
	return now
}

// AnnounceStream authors and publishes a kind-1053 stream-announce event,
// republished whenever status, viewer count, or the variant set changes.
func (p *Publisher) AnnounceStream(ctx context.Context, m StreamMeta) (*Event, error) {
	var tags []Tag
	tags = append(tags, Tag{"d", m.StreamID})
	if m.Title != "" {
		tags = append(tags, Tag{"title", m.Title})
	}
	if m.Summary != "" {
		tags = append(tags, Tag{"summary", m.Summary})
	}
	if m.Image != "" {
		tags = append(tags, Tag{"image", m.Image})
	} else if m.Thumb != "" {
		tags = append(tags, Tag{"image", m.Thumb})
	}
	for _, t := range m.Tags {
		if t == "" {
			continue
		}
		tags = append(tags, Tag{"t", t})
	}
	tags = append(tags, Tag{"starts", strconv.FormatInt(m.Starts, 10)})
	if m.Ends != nil {
		tags = append(tags, Tag{"ends", strconv.FormatInt(*m.Ends, 10)})
	}
	tags = append(tags, Tag{"status", m.Status})
	if m.ContentWarning != "" {
		tags = append(tags, Tag{"content_warning", m.ContentWarning})
	}
	if m.Goal != "" {
		tags = append(tags, Tag{"goal", m.Goal})
	}
	if m.Pinned != "" {
		tags = append(tags, Tag{"pinned", m.Pinned})
	}
	for _, v := range m.Variants {
		tags = append(tags, Tag{
			"variant",
			fmt.Sprintf("d %s", v.ID),
			fmt.Sprintf("m %s", v.MimeType),
			fmt.Sprintf("bitrate %d", v.Bitrate),
			fmt.Sprintf("dim %dx%d", v.Width, v.Height),
		})
	}
	if len(m.Relays) > 0 {
		relayTag := append(Tag{"relays"}, m.Relays...)
		tags = append(tags, relayTag)
	}
	if m.Status == "live" {
		tags = append(tags, Tag{"current_participants", strconv.Itoa(m.ViewerCount)})
	}

	if alt, err := EncodeNaddr(KindStreamAnnounce, p.signer.PublicKey(), m.StreamID); err == nil {
		tags = append(tags, Tag{"alt", fmt.Sprintf("Watch live: nostr:%s", alt)})
	}

	ev := &Event{
		Kind:      KindStreamAnnounce,
		Tags:      tags,
		CreatedAt: p.nextCreatedAt(m.StreamID),
	}
	if err := p.signer.Sign(ev); err != nil {
		return nil, err
	}
	if err := p.publishToAllRelays(ctx, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// SegmentMetadata is the input to PublishSegment.
type SegmentMetadata struct {
	StreamEventID string
	VariantID     string
	Index         int64
	Duration      float64
	MimeType      string
	ExpiresAt     int64
	Blob          types.BlobDescriptor
	ExtraMirrors  []types.BlobDescriptor
}

func (p *Publisher) variantLock(variantID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.variantLocks[variantID]
	if !ok {
		l = &sync.Mutex{}
		p.variantLocks[variantID] = l
	}
	return l
}

// PublishSegment authors and publishes a kind-1063 segment-metadata event.
// Publication is serialized per variant id so index order is preserved on
// the wire even under concurrent segment completion.
func (p *Publisher) PublishSegment(ctx context.Context, sm SegmentMetadata) (*Event, error) {
	lock := p.variantLock(sm.VariantID)
	lock.Lock()
	defer lock.Unlock()

	tags := []Tag{
		{"e", sm.StreamEventID},
		{"d", sm.VariantID},
		{"url", sm.Blob.URL},
		{"x", sm.Blob.SHA256Hex},
		{"size", strconv.FormatInt(sm.Blob.Size, 10)},
		{"m", sm.MimeType},
		{"index", strconv.FormatInt(sm.Index, 10)},
		{"duration", strconv.FormatFloat(sm.Duration, 'f', 3, 64)},
		{"expiration", strconv.FormatInt(sm.ExpiresAt, 10)},
	}
	for _, mirror := range sm.ExtraMirrors {
		tags = append(tags, Tag{"url", mirror.URL})
	}

	ev := &Event{
		Kind:      KindSegmentMetadata,
		Tags:      tags,
		CreatedAt: time.Now().Unix(),
	}
	if err := p.signer.Sign(ev); err != nil {
		return nil, err
	}
	if err := p.publishToAllRelays(ctx, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// BridgeEvent authors and publishes the optional kind-30313 NIP-53 legacy
// bridge event, pointing legacy players at the edge aggregator.
func (p *Publisher) BridgeEvent(ctx context.Context, m StreamMeta, bridgeURL string) (*Event, error) {
	tags := []Tag{
		{"d", m.StreamID},
		{"status", m.Status},
	}
	if m.Title != "" {
		tags = append(tags, Tag{"title", m.Title})
	}
	if m.Summary != "" {
		tags = append(tags, Tag{"summary", m.Summary})
	}
	if m.Image != "" {
		tags = append(tags, Tag{"image", m.Image})
	}
	if thumb := m.Thumb; thumb != "" || m.Image != "" {
		if thumb == "" {
			thumb = m.Image
		}
		tags = append(tags, Tag{"thumb", thumb})
	}
	if m.ContentWarning != "" {
		tags = append(tags, Tag{"content_warning", m.ContentWarning})
	}
	if m.Goal != "" {
		tags = append(tags, Tag{"goal", m.Goal})
	}
	if m.Pinned != "" {
		tags = append(tags, Tag{"pinned", m.Pinned})
	}
	for _, t := range m.Tags {
		tags = append(tags, Tag{"t", t})
	}
	tags = append(tags, Tag{"starts", strconv.FormatInt(m.Starts, 10)})
	if m.Ends != nil {
		tags = append(tags, Tag{"ends", strconv.FormatInt(*m.Ends, 10)})
	}
	if m.Status == "live" && bridgeURL != "" {
		tags = append(tags, Tag{"streaming", fmt.Sprintf("%s/%s.m3u8", bridgeURL, m.StreamID)})
	}

	ev := &Event{
		Kind:      KindNIP53Bridge,
		Tags:      tags,
		CreatedAt: time.Now().Unix(),
	}
	if err := p.signer.Sign(ev); err != nil {
		return nil, err
	}
	if err := p.publishToAllRelays(ctx, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// ParseVariantTag parses a stream-announce "variant" tag's inner
// space-separated forms ("d <id>", "m <mime>", "bitrate <n>", "dim <w>x<h>")
// into a VariantDescriptor, for the Edge Aggregator.
func ParseVariantTag(tag Tag) (types.VariantDescriptor, error) {
	var vd types.VariantDescriptor
	for _, field := range tag[1:] {
		var key, val string
		if idx := indexByte(field, ' '); idx >= 0 {
			key, val = field[:idx], field[idx+1:]
		} else {
			continue
		}
		switch key {
		case "d":
			vd.ID = val
		case "m":
			vd.MimeType = val
		case "bitrate":
			n, err := strconv.Atoi(val)
			if err != nil {
				return vd, fmt.Errorf("nostr: invalid bitrate tag %q: %w", val, err)
			}
			vd.Bitrate = n
		case "dim":
			var w, h int
			if _, err := fmt.Sscanf(val, "%dx%d", &w, &h); err == nil {
				vd.Width, vd.Height = w, h
			}
		}
	}
	if vd.ID == "" {
		return vd, fmt.Errorf("nostr: variant tag missing d field")
	}
	return vd, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// SortSegmentsByIndex sorts segment descriptors ascending by index, used by
// the edge aggregator when assembling a media playlist.
func SortSegmentsByIndex(segs []types.SegmentDescriptor) {
	sort.Slice(segs, func(i, j int) bool { return segs[i].Index < segs[j].Index })
}
