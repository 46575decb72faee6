package gateway

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/viewer"
)

func testGateway(t *testing.T) (*Gateway, string) {
	t.Helper()
	dir := t.TempDir()
	log := logger.NewDefaultLogger(logger.DebugLevel, "text")
	tr := viewer.New(log)
	t.Cleanup(tr.Close)
	return New(dir, tr, log), dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMasterPlaylistInjectsViewerToken(t *testing.T) {
	g, dir := testGateway(t)
	writeFile(t, filepath.Join(dir, "stream1", "live.m3u8"),
		"#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000000\n720p30/live.m3u8\n")

	req := httptest.NewRequest(http.MethodGet, "/stream1/live.m3u8", nil)
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "720p30/live.m3u8?vt=") {
		t.Fatalf("expected variant URI to carry a vt token, got:\n%s", body)
	}
	if strings.Contains(strings.SplitN(body, "\n", 2)[0], "?vt=") {
		t.Fatal("did not expect the #EXTM3U comment line to be rewritten")
	}
}

func TestMasterPlaylistUnknownStreamIs404(t *testing.T) {
	g, _ := testGateway(t)
	req := httptest.NewRequest(http.MethodGet, "/missing/live.m3u8", nil)
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestVariantPlaylistPassthroughTracksViewer(t *testing.T) {
	g, dir := testGateway(t)
	writeFile(t, filepath.Join(dir, "stream1", "720p30", "live.m3u8"),
		"#EXTM3U\n#EXTINF:6.0,\n0.ts\n")

	req := httptest.NewRequest(http.MethodGet, "/stream1/720p30/live.m3u8?vt=vt1abc", nil)
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "#EXTM3U\n#EXTINF:6.0,\n0.ts\n" {
		t.Fatalf("expected passthrough body, got:\n%s", rec.Body.String())
	}
	if got := g.tracker.Count("stream1"); got != 1 {
		t.Fatalf("expected viewer to be tracked, count=%d", got)
	}
}

func TestSegmentServesFullBody(t *testing.T) {
	g, dir := testGateway(t)
	writeFile(t, filepath.Join(dir, "stream1", "720p30", "0.ts"), "segment-bytes")

	req := httptest.NewRequest(http.MethodGet, "/stream1/720p30/0.ts", nil)
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "segment-bytes" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "video/mp2t" {
		t.Fatalf("expected video/mp2t, got %q", rec.Header().Get("Content-Type"))
	}
}

func TestSegmentServesValidRange(t *testing.T) {
	g, dir := testGateway(t)
	writeFile(t, filepath.Join(dir, "stream1", "720p30", "0.ts"), "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/stream1/720p30/0.ts", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if rec.Body.String() != "234" {
		t.Fatalf("expected body '234', got %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Range") != "bytes 2-4/10" {
		t.Fatalf("unexpected Content-Range: %q", rec.Header().Get("Content-Range"))
	}
}

func TestSegmentUnsatisfiableRangeIs416(t *testing.T) {
	g, dir := testGateway(t)
	writeFile(t, filepath.Join(dir, "stream1", "720p30", "0.ts"), "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/stream1/720p30/0.ts", nil)
	req.Header.Set("Range", "bytes=50-60")
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", rec.Code)
	}
}

func TestSegmentPathTraversalRejected(t *testing.T) {
	g, dir := testGateway(t)
	writeFile(t, filepath.Join(dir, "live.m3u8"), "secret")

	req := httptest.NewRequest(http.MethodGet, "/..%2F..%2Flive.m3u8", nil)
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatal("expected path traversal attempt to be rejected")
	}
}

func TestSegmentHeadRequestOmitsBody(t *testing.T) {
	g, dir := testGateway(t)
	writeFile(t, filepath.Join(dir, "stream1", "720p30", "0.ts"), "0123456789")

	req := httptest.NewRequest(http.MethodHead, "/stream1/720p30/0.ts", nil)
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body for HEAD, got %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Length") != "10" {
		t.Fatalf("expected Content-Length 10, got %q", rec.Header().Get("Content-Length"))
	}
}

func TestClientIPPrefersXForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.RemoteAddr = "192.168.1.1:5555"

	if got := clientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected 203.0.113.9, got %q", got)
	}
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:5555"

	if got := clientIP(req); got != "192.168.1.1" {
		t.Fatalf("expected 192.168.1.1, got %q", got)
	}
}
