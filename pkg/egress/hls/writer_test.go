package hls

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/types"
)

func testWriter(t *testing.T) (*Writer, string) {
	dir := t.TempDir()
	return New(dir, 3, logger.NewDefaultLogger(logger.DebugLevel, "text")), dir
}

func TestOpenVariantWritesMasterPlaylist(t *testing.T) {
	w, dir := testWriter(t)
	v := types.VariantStream{ID: "v0", Kind: types.VariantVideo, Width: 1280, Height: 720, Bitrate: 2_000_000}

	vw, err := w.OpenVariant("stream1", v, 6*time.Second)
	if err != nil {
		t.Fatalf("OpenVariant: %v", err)
	}
	if vw == nil {
		t.Fatal("expected a non-nil VariantWriter")
	}

	masterPath := filepath.Join(dir, "stream1", "live.m3u8")
	data, err := os.ReadFile(masterPath)
	if err != nil {
		t.Fatalf("expected master playlist to exist: %v", err)
	}
	if !strings.Contains(string(data), "v0/live.m3u8") {
		t.Fatalf("expected master playlist to reference variant, got:\n%s", data)
	}
}

func TestWriteSegmentPersistsAndUpdatesPlaylist(t *testing.T) {
	w, dir := testWriter(t)
	v := types.VariantStream{ID: "v0", Kind: types.VariantVideo}
	vw, err := w.OpenVariant("stream1", v, 2*time.Second)
	if err != nil {
		t.Fatalf("OpenVariant: %v", err)
	}

	desc, evicted, err := vw.WriteSegment([]byte("fake-ts-payload"), 2*time.Second)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if evicted != nil {
		t.Fatalf("expected no eviction below retention, got %v", evicted)
	}
	if desc.Path == "" {
		t.Fatal("expected a non-empty segment path")
	}
	if _, err := os.Stat(desc.Path); err != nil {
		t.Fatalf("expected segment file to exist: %v", err)
	}

	playlistPath := filepath.Join(dir, "stream1", "v0", "live.m3u8")
	data, err := os.ReadFile(playlistPath)
	if err != nil {
		t.Fatalf("expected media playlist to exist: %v", err)
	}
	if !strings.Contains(string(data), "#EXTINF") {
		t.Fatalf("expected media playlist to contain a segment entry, got:\n%s", data)
	}
}

func TestWriteSegmentEvictsBeyondRetention(t *testing.T) {
	w, _ := testWriter(t)
	v := types.VariantStream{ID: "v0", Kind: types.VariantVideo}
	vw, err := w.OpenVariant("stream1", v, time.Second)
	if err != nil {
		t.Fatalf("OpenVariant: %v", err)
	}

	var lastEvicted []types.SegmentDescriptor
	var firstPath string
	for i := 0; i < 5; i++ {
		desc, evicted, err := vw.WriteSegment([]byte("payload"), time.Second)
		if err != nil {
			t.Fatalf("WriteSegment %d: %v", i, err)
		}
		if i == 0 {
			firstPath = desc.Path
		}
		if len(evicted) > 0 {
			lastEvicted = evicted
		}
	}
	if len(lastEvicted) == 0 {
		t.Fatal("expected at least one eviction once retention (3) was exceeded")
	}
	if _, err := os.Stat(firstPath); !os.IsNotExist(err) {
		t.Fatalf("expected the first segment file to have been removed, stat err=%v", err)
	}
}

func TestCloseMarksPlaylistEnded(t *testing.T) {
	w, dir := testWriter(t)
	v := types.VariantStream{ID: "v0", Kind: types.VariantVideo}
	vw, err := w.OpenVariant("stream1", v, time.Second)
	if err != nil {
		t.Fatalf("OpenVariant: %v", err)
	}
	if _, _, err := vw.WriteSegment([]byte("payload"), time.Second); err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if _, err := vw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "stream1", "v0", "live.m3u8"))
	if err != nil {
		t.Fatalf("read playlist: %v", err)
	}
	if !strings.Contains(string(data), "#EXT-X-ENDLIST") {
		t.Fatalf("expected ended playlist to contain ENDLIST, got:\n%s", data)
	}
}
