package edge

import (
	"fmt"
	"net/http"
	"strings"

	teacherhls "github.com/bitriver/livepipe/pkg/streaming/hls"
)

// Handler serves the Edge Aggregator's HTTP surface: a master playlist and
// per-variant media playlists reassembled from relay state, plus a
// human-browsable index. Grounded on the teacher's pkg/api.Server chain
// idiom (net/http.ServeMux with a middleware chain) rather than a web
// framework, since the aggregator needs nothing beyond CORS.
type Handler struct {
	agg *Aggregator
}

// NewHandler builds a Handler over an already-running Aggregator.
func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg}
}

// Mux returns the http.Handler serving every Edge Aggregator route.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.withCORS(h.route))
	return mux
}

func (h *Handler) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func (h *Handler) route(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	if path == "" {
		h.index(w, r)
		return
	}
	if parts := strings.SplitN(path, "/", 2); len(parts) == 2 {
		h.variantPlaylist(w, r, parts[0], parts[1])
		return
	}
	h.masterPlaylist(w, r, path)
}

func (h *Handler) masterPlaylist(w http.ResponseWriter, r *http.Request, raw string) {
	id := trimExt(raw)
	if !isValidEventID(id) {
		http.Error(w, "bad event id", http.StatusBadRequest)
		return
	}
	stream, ok := h.agg.Stream(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	pl := teacherhls.NewMasterPlaylist()
	for _, v := range stream.Variants {
		resolution := ""
		if v.Width > 0 && v.Height > 0 {
			resolution = fmt.Sprintf("%dx%d", v.Width, v.Height)
		}
		pl.AddVariant(&teacherhls.Variant{
			Name:       v.ID,
			Bandwidth:  v.Bitrate,
			Resolution: resolution,
			URI:        fmt.Sprintf("%s/%s.m3u8", id, v.ID),
		})
	}
	pl.SortVariantsByBandwidth()

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Write([]byte(pl.Render()))
}

func (h *Handler) variantPlaylist(w http.ResponseWriter, r *http.Request, rawEvent, rawVariant string) {
	id := trimExt(rawEvent)
	variantID := trimExt(rawVariant)
	if !isValidEventID(id) {
		http.Error(w, "bad event id", http.StatusBadRequest)
		return
	}

	segs, targetDuration, minIndex, ok := h.agg.ActiveSegments(id, variantID)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	pl := teacherhls.NewMediaPlaylist(int(targetDuration+0.5), teacherhls.PlaylistTypeLive)
	pl.MediaSequence = uint64(minIndex)
	for _, seg := range segs {
		pl.AddSegment(&teacherhls.Segment{Index: uint64(seg.Index), Duration: seg.Duration, Filename: seg.URL})
	}
	// AddSegment grows TargetDuration to the widest segment seen; the
	// aggregator tracks the last segment's duration instead.
	pl.TargetDuration = int(targetDuration + 0.5)

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Write([]byte(pl.Render()))
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	streams := h.agg.Streams()

	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>livepipe edge</title></head><body>")
	b.WriteString("<h1>Active streams</h1>")
	if len(streams) == 0 {
		b.WriteString("<p>No active streams.</p>")
	} else {
		b.WriteString("<ul>")
		for _, s := range streams {
			fmt.Fprintf(&b, "<li><a href=\"/%s.m3u8\">%s</a> (%d variants)</li>", s.EventID, s.EventID, len(s.Variants))
		}
		b.WriteString("</ul>")
	}
	b.WriteString("</body></html>")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(b.String()))
}
