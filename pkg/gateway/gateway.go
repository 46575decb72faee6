// Package gateway implements the Viewer Playlist Gateway: the front door
// players hit, serving master/media playlists and segments straight off
// the HLS egress directory tree while tracking viewers.
package gateway

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/viewer"
)

// DefaultRateLimit and DefaultRateLimitWindow bound each viewer IP to 20
// requests per 5 seconds, enough for a player's initial playlist/segment
// burst without enabling a basic flood from one address.
const (
	DefaultRateLimit       = 20
	DefaultRateLimitWindow = 5 * time.Second
)

// Gateway serves HLS playlists and segments from outputDir, the same
// directory tree the HLS Egress (pkg/egress/hls) writes to, rewriting
// master playlists with a per-viewer token and forwarding media-playlist
// hits to the viewer tracker.
type Gateway struct {
	outputDir string
	tracker   *viewer.Tracker
	limiter   *IPRateLimiter
	log       logger.Logger
}

// New constructs a Gateway rooted at outputDir, rate-limited per viewer IP
// at DefaultRateLimit/DefaultRateLimitWindow.
func New(outputDir string, tracker *viewer.Tracker, log logger.Logger) *Gateway {
	return &Gateway{
		outputDir: outputDir,
		tracker:   tracker,
		limiter:   NewIPRateLimiter(DefaultRateLimit, DefaultRateLimit, DefaultRateLimitWindow),
		log:       log,
	}
}

// Mux returns the http.Handler serving every gateway route.
func (g *Gateway) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", g.rateLimited(g.route))
	return mux
}

func (g *Gateway) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.limiter.Allow(clientIP(r)) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (g *Gateway) route(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch len(parts) {
	case 2:
		if parts[1] != "live.m3u8" {
			http.NotFound(w, r)
			return
		}
		g.masterPlaylist(w, r, parts[0])
	case 3:
		if parts[2] == "live.m3u8" {
			g.variantPlaylist(w, r, parts[0], parts[1])
			return
		}
		g.segment(w, r, parts[0], parts[1], parts[2])
	default:
		http.NotFound(w, r)
	}
}

// safeJoin joins base with parts, rejecting any result that escapes base
// (a ".." segment in the request path, for instance).
func safeJoin(base string, parts ...string) (string, bool) {
	cleanBase := filepath.Clean(base)
	p := filepath.Join(append([]string{cleanBase}, parts...)...)
	if p != cleanBase && !strings.HasPrefix(p, cleanBase+string(filepath.Separator)) {
		return "", false
	}
	return p, true
}

func (g *Gateway) masterPlaylist(w http.ResponseWriter, r *http.Request, streamID string) {
	path, ok := safeJoin(g.outputDir, streamID, "live.m3u8")
	if !ok {
		http.NotFound(w, r)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	token := viewer.GenerateToken(clientIP(r), userAgent(r))
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	io.WriteString(w, injectToken(string(data), token))
}

// injectToken appends "vt=<token>" to every non-comment, non-blank line of
// an m3u8 document: the variant URIs.
func injectToken(playlist, token string) string {
	lines := strings.Split(playlist, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		sep := "?"
		if strings.Contains(trimmed, "?") {
			sep = "&"
		}
		lines[i] = trimmed + sep + "vt=" + token
	}
	return strings.Join(lines, "\n")
}

func (g *Gateway) variantPlaylist(w http.ResponseWriter, r *http.Request, streamID, variantID string) {
	path, ok := safeJoin(g.outputDir, streamID, variantID, "live.m3u8")
	if !ok {
		http.NotFound(w, r)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if token := r.URL.Query().Get("vt"); token != "" && g.tracker != nil {
		g.tracker.Track(token, streamID)
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Write(data)
}

func (g *Gateway) segment(w http.ResponseWriter, r *http.Request, streamID, variantID, segment string) {
	path, ok := safeJoin(g.outputDir, streamID, variantID, segment)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "stat failed", http.StatusInternalServerError)
		return
	}
	size := info.Size()

	w.Header().Set("Content-Type", segmentContentType(segment))
	w.Header().Set("Accept-Ranges", "bytes")

	start, end, hasRange, ok := ParseRange(r.Header.Get("Range"), size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "invalid range", http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if !hasRange {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, f)
		}
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		g.log.Warn("gateway: seek failed serving range", logger.Err(err))
		return
	}
	io.CopyN(w, f, length)
}

func segmentContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".ts"):
		return "video/mp2t"
	case strings.HasSuffix(name, ".m4s"):
		return "video/iso.segment"
	default:
		return "application/octet-stream"
	}
}

// clientIP extracts the request's client IP, preferring proxy headers over
// the raw connection address. Grounded on the teacher's
// pkg/api/middleware.go getClientIP.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func userAgent(r *http.Request) *string {
	ua := r.Header.Get("User-Agent")
	if ua == "" {
		return nil
	}
	return &ua
}
