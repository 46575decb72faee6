package ingest

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/bitriver/livepipe/pkg/logger"
)

// NewFromURL builds a Listener from one of the Ingest.Listen config
// strings: "rtmp://<addr>", "srt://<addr>", "tcp://<addr>",
// "test-pattern://<stream-key>?fps=30&tone=440", or
// "file://<path>?key=<stream-key>&chunk=4096".
func NewFromURL(raw string, log logger.Logger) (Listener, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse listen url %q: %w", raw, err)
	}

	switch u.Scheme {
	case "rtmp":
		return NewRTMPListener(u.Host, log), nil
	case "srt":
		return NewSRTListener(u.Host, log), nil
	case "tcp":
		return NewTCPListener(u.Host, log), nil
	case "test-pattern":
		streamKey := u.Host
		if streamKey == "" {
			streamKey = "test"
		}
		fps := floatParam(u, "fps", 30)
		tone := floatParam(u, "tone", 440)
		return NewTestPatternListener(streamKey, fps, tone, log), nil
	case "file":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		streamKey := u.Query().Get("key")
		if streamKey == "" {
			streamKey = "file"
		}
		chunk := intParam(u, "chunk", 4096)
		return NewFileListener(path, streamKey, chunk, log), nil
	default:
		return nil, fmt.Errorf("ingest: unsupported listen scheme %q", u.Scheme)
	}
}

func floatParam(u *url.URL, key string, def float64) float64 {
	v := u.Query().Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func intParam(u *url.URL, key string, def int) int {
	v := u.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
