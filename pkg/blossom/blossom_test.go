package blossom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/nostr"
	"github.com/bitriver/livepipe/pkg/types"
)

func testSigner(t *testing.T) *nostr.Signer {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 9)
	}
	s, err := nostr.NewSigner(key)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func okMirror(t *testing.T, url string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Error("expected Authorization header on upload")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.BlobDescriptor{
			URL:       url,
			SHA256Hex: "abc",
			Size:      3,
			MimeType:  "application/octet-stream",
		})
	}))
}

func failMirror() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("nope"))
	}))
}

func TestUploadSucceedsWithOneGoodMirror(t *testing.T) {
	good := okMirror(t, "https://good.example/abc")
	defer good.Close()
	bad := failMirror()
	defer bad.Close()

	log := logger.NewDefaultLogger(logger.DebugLevel, "text")
	p := New(testSigner(t), []string{good.URL, bad.URL}, 2, 2*time.Second, log)

	descs, err := p.Upload(context.Background(), []byte("abc"), "text/plain")
	if err != nil {
		t.Fatalf("expected success with one good mirror: %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("expected exactly one descriptor, got %d", len(descs))
	}
}

func TestUploadFailsWhenAllMirrorsFail(t *testing.T) {
	bad1 := failMirror()
	defer bad1.Close()
	bad2 := failMirror()
	defer bad2.Close()

	log := logger.NewDefaultLogger(logger.DebugLevel, "text")
	p := New(testSigner(t), []string{bad1.URL, bad2.URL}, 2, 2*time.Second, log)

	if _, err := p.Upload(context.Background(), []byte("xyz"), "text/plain"); err == nil {
		t.Fatal("expected failure when every mirror fails")
	}
}

func TestUploadFailsWithNoMirrors(t *testing.T) {
	log := logger.NewDefaultLogger(logger.DebugLevel, "text")
	p := New(testSigner(t), nil, 2, 2*time.Second, log)
	if _, err := p.Upload(context.Background(), []byte("x"), ""); err == nil {
		t.Fatal("expected failure with no mirrors configured")
	}
}

func TestServerListExtractsServerTags(t *testing.T) {
	ev := &nostr.Event{
		Kind: nostr.KindMirrorList,
		Tags: []nostr.Tag{
			{"server", "https://mirror-a.example"},
			{"server", "https://mirror-b.example"},
			{"other", "ignored"},
		},
	}
	servers := ServerList(ev)
	if len(servers) != 2 || servers[0] != "https://mirror-a.example" || servers[1] != "https://mirror-b.example" {
		t.Fatalf("unexpected server list: %v", servers)
	}
}
