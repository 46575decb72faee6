package viewer

import (
	"strings"
	"testing"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
)

func ua(s string) *string { return &s }

func TestGenerateTokenDeterministic(t *testing.T) {
	tok1 := GenerateToken("192.168.1.1", ua("Mozilla/5.0"))
	tok2 := GenerateToken("192.168.1.1", ua("Mozilla/5.0"))
	if tok1 != tok2 {
		t.Fatalf("expected deterministic token, got %q vs %q", tok1, tok2)
	}
	if !strings.HasPrefix(tok1, "vt1") {
		t.Fatalf("expected vt1 prefix, got %q", tok1)
	}
	if len(tok1) <= 10 {
		t.Fatalf("expected token length > 10, got %d", len(tok1))
	}
}

func TestGenerateTokenDiffersByIP(t *testing.T) {
	tok1 := GenerateToken("192.168.1.1", ua("Mozilla/5.0"))
	tok2 := GenerateToken("192.168.1.2", ua("Mozilla/5.0"))
	if tok1 == tok2 {
		t.Fatalf("expected different tokens for different IPs")
	}
}

func TestTrackAndCount(t *testing.T) {
	tr := New(logger.NewDefaultLogger(logger.DebugLevel, "text"))
	defer tr.Close()

	tok := GenerateToken("10.0.0.1", nil)
	tr.Track(tok, "stream-a")
	if got := tr.Count("stream-a"); got != 1 {
		t.Fatalf("expected count 1, got %d", got)
	}
	if got := tr.Count("stream-b"); got != 0 {
		t.Fatalf("expected count 0 for unrelated stream, got %d", got)
	}
}

func TestSweepRemovesExpiredViewers(t *testing.T) {
	tr := New(logger.NewDefaultLogger(logger.DebugLevel, "text"))
	defer tr.Close()

	tok := GenerateToken("10.0.0.2", nil)
	tr.Track(tok, "stream-a")
	tr.Sweep(time.Now().Add(ExpiryWindow + time.Second))
	if got := tr.Count("stream-a"); got != 0 {
		t.Fatalf("expected expired viewer to be swept, got count %d", got)
	}
}
