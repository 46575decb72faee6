// Package blossom implements content-addressed blob publication to
// Blossom-compatible mirror servers: concurrency-capped parallel upload,
// Nostr-authorized PUT/DELETE, and response parsing into BlobDescriptor.
package blossom

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bitriver/livepipe/pkg/errors"
	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/nostr"
	"github.com/bitriver/livepipe/pkg/types"
)

// Defaults matching the spec's mirror fan-out.
const (
	DefaultMaxConcurrent = 3
	DefaultUploadTimeout = 30 * time.Second
	authEventLifetime    = 5 * time.Second
)

// Publisher uploads segments to a fixed set of mirror URLs.
type Publisher struct {
	signer        *nostr.Signer
	mirrors       []string
	maxConcurrent int
	uploadTimeout time.Duration
	client        *http.Client
	log           logger.Logger
}

// New constructs a Publisher targeting the given mirror base URLs.
func New(signer *nostr.Signer, mirrors []string, maxConcurrent int, uploadTimeout time.Duration, log logger.Logger) *Publisher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if uploadTimeout <= 0 {
		uploadTimeout = DefaultUploadTimeout
	}
	return &Publisher{
		signer:        signer,
		mirrors:       mirrors,
		maxConcurrent: maxConcurrent,
		uploadTimeout: uploadTimeout,
		client:        &http.Client{Timeout: uploadTimeout},
		log:           log,
	}
}

func (p *Publisher) authEvent(tag string, sha [32]byte) (*nostr.Event, error) {
	ev := &nostr.Event{
		Kind:      nostr.KindBlobAuth,
		CreatedAt: time.Now().Unix(),
		Tags: []nostr.Tag{
			{"t", tag},
			{"x", hex.EncodeToString(sha[:])},
			{"expiration", strconv.FormatInt(time.Now().Add(authEventLifetime).Unix(), 10)},
		},
	}
	if err := p.signer.Sign(ev); err != nil {
		return nil, fmt.Errorf("blossom: signing auth event: %w", err)
	}
	return ev, nil
}

func authHeader(ev *nostr.Event) (string, error) {
	raw, err := ev.JSON()
	if err != nil {
		return "", err
	}
	return "Nostr " + base64.StdEncoding.EncodeToString(raw), nil
}

// uploadResult captures a single mirror's outcome.
type uploadResult struct {
	mirror string
	desc   types.BlobDescriptor
	err    error
}

// UploadFile reads path once, computes its SHA-256, and fans the upload out
// to every configured mirror with at most maxConcurrent in flight at once.
// Succeeds if at least one mirror returns a parseable BlobDescriptor within
// the upload timeout; individual mirror failures are logged, not fatal.
func (p *Publisher) UploadFile(ctx context.Context, path, mimeType string) ([]types.BlobDescriptor, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewUploadError("reading segment file", err)
	}
	return p.Upload(ctx, body, mimeType)
}

// Upload fans out the given payload to every mirror, as UploadFile does.
func (p *Publisher) Upload(ctx context.Context, body []byte, mimeType string) ([]types.BlobDescriptor, error) {
	if len(p.mirrors) == 0 {
		return nil, errors.NewUploadError("no mirrors configured", nil)
	}
	sha := sha256.Sum256(body)

	results := make([]uploadResult, len(p.mirrors))
	g, gctx := errgroup.WithContext(context.Background())
	sem := make(chan struct{}, p.maxConcurrent)

	for i, mirror := range p.mirrors {
		i, mirror := i, mirror
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = uploadResult{mirror: mirror, err: ctx.Err()}
				return nil
			}
			desc, err := p.uploadOne(gctx, mirror, body, mimeType, sha)
			if err != nil {
				p.log.Warn("blossom mirror upload failed", logger.String("mirror", mirror), logger.Err(err))
				results[i] = uploadResult{mirror: mirror, err: err}
				return nil
			}
			results[i] = uploadResult{mirror: mirror, desc: desc}
			return nil
		})
	}
	_ = g.Wait()

	var out []types.BlobDescriptor
	for _, r := range results {
		if r.err == nil {
			out = append(out, r.desc)
		}
	}
	if len(out) == 0 {
		return nil, errors.NewUploadError("all mirrors rejected upload", nil)
	}
	return out, nil
}

func (p *Publisher) uploadOne(ctx context.Context, mirror string, body []byte, mimeType string, sha [32]byte) (types.BlobDescriptor, error) {
	var desc types.BlobDescriptor

	ev, err := p.authEvent("upload", sha)
	if err != nil {
		return desc, err
	}
	header, err := authHeader(ev)
	if err != nil {
		return desc, err
	}

	uploadCtx, cancel := context.WithTimeout(ctx, p.uploadTimeout)
	defer cancel()

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	req, err := http.NewRequestWithContext(uploadCtx, http.MethodPut, mirror+"/upload", bytes.NewReader(body))
	if err != nil {
		return desc, err
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", header)
	req.ContentLength = int64(len(body))

	resp, err := p.client.Do(req)
	if err != nil {
		return desc, fmt.Errorf("blossom: PUT %s: %w", mirror, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return desc, fmt.Errorf("blossom: mirror %s returned status %d: %s", mirror, resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, &desc); err != nil {
		return desc, fmt.Errorf("blossom: mirror %s returned unparseable descriptor: %s", mirror, string(respBody))
	}
	return desc, nil
}

// Delete issues a parallel DELETE to every mirror with an analogous
// authorization event, best-effort.
func (p *Publisher) Delete(ctx context.Context, sha [32]byte) error {
	if len(p.mirrors) == 0 {
		return errors.NewUploadError("no mirrors configured", nil)
	}
	ev, err := p.authEvent("delete", sha)
	if err != nil {
		return err
	}
	header, err := authHeader(ev)
	if err != nil {
		return err
	}

	hash := hex.EncodeToString(sha[:])
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.maxConcurrent)
	var succeeded int32

	for _, mirror := range p.mirrors {
		mirror := mirror
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return nil
			}
			deleteCtx, cancel := context.WithTimeout(gctx, p.uploadTimeout)
			defer cancel()
			req, err := http.NewRequestWithContext(deleteCtx, http.MethodDelete, mirror+"/"+hash, nil)
			if err != nil {
				return nil
			}
			req.Header.Set("Authorization", header)
			resp, err := p.client.Do(req)
			if err != nil {
				p.log.Warn("blossom mirror delete failed", logger.String("mirror", mirror), logger.Err(err))
				return nil
			}
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()
	if succeeded == 0 {
		return errors.NewUploadError("all mirrors rejected delete", nil)
	}
	return nil
}

// ServerList extracts the "server" tags of an already-decoded kind-10063
// mirror-list event, in tag order. It does not contact any relay.
func ServerList(ev *nostr.Event) []string {
	var servers []string
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "server" {
			servers = append(servers, tag[1])
		}
	}
	return servers
}
