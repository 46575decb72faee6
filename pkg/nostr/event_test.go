package nostr

import (
	"testing"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	s, err := NewSigner(key)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestSignProducesVerifiableEvent(t *testing.T) {
	s := testSigner(t)
	e := &Event{
		Kind:      KindStreamAnnounce,
		CreatedAt: 1700000000,
		Tags:      []Tag{{"d", "abc123"}},
		Content:   "",
	}
	if err := s.Sign(e); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ok, err := e.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}
}

func TestComputeIDDeterministic(t *testing.T) {
	s := testSigner(t)
	mk := func() *Event {
		return &Event{
			Pubkey:    s.PublicKey(),
			Kind:      KindSegmentMetadata,
			CreatedAt: 42,
			Tags:      []Tag{{"e", "stream1"}, {"index", "3"}},
			Content:   "",
		}
	}
	e1, e2 := mk(), mk()
	if err := e1.ComputeID(); err != nil {
		t.Fatalf("ComputeID e1: %v", err)
	}
	if err := e2.ComputeID(); err != nil {
		t.Fatalf("ComputeID e2: %v", err)
	}
	if e1.ID != e2.ID {
		t.Fatal("expected identical event id for identical fields")
	}
}

func TestComputeIDChangesWithContent(t *testing.T) {
	s := testSigner(t)
	base := &Event{Pubkey: s.PublicKey(), Kind: 1053, CreatedAt: 1, Tags: []Tag{{"d", "x"}}}
	if err := base.ComputeID(); err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	changed := &Event{Pubkey: s.PublicKey(), Kind: 1053, CreatedAt: 1, Tags: []Tag{{"d", "y"}}}
	if err := changed.ComputeID(); err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	if base.ID == changed.ID {
		t.Fatal("expected different ids for different tags")
	}
}

func TestVerifyFailsOnTamperedTags(t *testing.T) {
	s := testSigner(t)
	e := &Event{Kind: KindStreamAnnounce, CreatedAt: 100, Tags: []Tag{{"d", "a"}}}
	if err := s.Sign(e); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	e.Tags = []Tag{{"d", "b"}}
	ok, err := e.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("expected verification to fail after tampering")
	}
}

func TestEncodeNaddrRoundTripsHRP(t *testing.T) {
	s := testSigner(t)
	addr, err := EncodeNaddr(KindStreamAnnounce, s.PublicKey(), "stream-1")
	if err != nil {
		t.Fatalf("EncodeNaddr: %v", err)
	}
	if len(addr) < 6 || addr[:5] != "naddr" {
		t.Fatalf("expected naddr-prefixed bech32 string, got %q", addr)
	}
}
