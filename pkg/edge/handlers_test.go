package edge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testEventID = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"

func TestIndexListsTrackedStreams(t *testing.T) {
	a := testAggregator()
	a.handleEvent(streamAnnounceEvent(testEventID))
	h := NewHandler(a)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), testEventID) {
		t.Fatalf("expected index to list the tracked stream, got:\n%s", rec.Body.String())
	}
}

func TestMasterPlaylistServesKnownStream(t *testing.T) {
	a := testAggregator()
	a.handleEvent(streamAnnounceEvent(testEventID))
	h := NewHandler(a)

	req := httptest.NewRequest(http.MethodGet, "/"+testEventID+".m3u8", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, testEventID+"/720p30.m3u8") {
		t.Fatalf("expected master playlist to reference the variant, got:\n%s", body)
	}
}

func TestMasterPlaylistUnknownStreamIs404(t *testing.T) {
	h := NewHandler(testAggregator())
	req := httptest.NewRequest(http.MethodGet, "/"+testEventID+".m3u8", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMasterPlaylistMalformedIDIs400(t *testing.T) {
	h := NewHandler(testAggregator())
	req := httptest.NewRequest(http.MethodGet, "/not-an-event-id.m3u8", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestVariantPlaylistServesActiveSegments(t *testing.T) {
	a := testAggregator()
	a.handleEvent(streamAnnounceEvent(testEventID))
	a.handleEvent(segmentEvent(testEventID, "720p30", 0, "https://mirror.example/0.ts", nil))
	a.handleEvent(segmentEvent(testEventID, "720p30", 1, "https://mirror.example/1.ts", nil))
	h := NewHandler(a)

	req := httptest.NewRequest(http.MethodGet, "/"+testEventID+"/720p30.m3u8", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "https://mirror.example/0.ts") || !strings.Contains(body, "https://mirror.example/1.ts") {
		t.Fatalf("expected both segment URLs in playlist, got:\n%s", body)
	}
}

func TestVariantPlaylistUnknownVariantIs404(t *testing.T) {
	a := testAggregator()
	a.handleEvent(streamAnnounceEvent(testEventID))
	h := NewHandler(a)

	req := httptest.NewRequest(http.MethodGet, "/"+testEventID+"/does-not-exist.m3u8", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestOptionsRequestReturnsOKWithCORSHeaders(t *testing.T) {
	h := NewHandler(testAggregator())
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header on OPTIONS response")
	}
}
