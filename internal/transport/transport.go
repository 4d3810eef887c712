// Package transport implements Abraxas's bulk, surgical, and
// cache-only acquisition fetchers (§4.F domain stack): a plain
// net/http GET for bulk traffic, a token-bucket-gated fetch for the
// budget-constrained surgical path, and a cache-only lookup that never
// touches the network.
//
// Grounded on acquisition/transport.py.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/antigravity-dev/abraxas/internal/cas"
)

// Result is one fetch's outcome, raw bytes already landed in the CAS.
type Result struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	RawRef      cas.Ref
	Method      string
	DecodoUsed  bool
}

// SandboxFetcher performs one isolated GET outside the host process.
// DockerSandboxedFetcher (build tag "docker") is the only implementation;
// a nil SandboxFetcher means the surgical path runs over plain net/http.
type SandboxFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, int, error)
}

// Client performs bulk and surgical fetches against real HTTP targets.
// Surgical fetches are additionally rate-limited per SurgicalLimiter,
// mirroring the original's Decodo request budget, and — when Sandbox is
// set — run inside an isolated container rather than the host process.
type Client struct {
	HTTP             *http.Client
	SurgicalLimiter  *rate.Limiter
	MaxResponseBytes int64
	Sandbox          SandboxFetcher
}

// NewClient builds a Client with sane defaults: a 60s HTTP timeout and
// a surgical limiter allowing 1 request/second, burst 1.
func NewClient() *Client {
	return &Client{
		HTTP:             &http.Client{Timeout: 60 * time.Second},
		SurgicalLimiter:  rate.NewLimiter(rate.Limit(1), 1),
		MaxResponseBytes: 5_000_000,
	}
}

// AcquireBulk performs an unthrottled GET and stores the response body
// content-addressed under subdir "raw".
func (c *Client) AcquireBulk(ctx context.Context, store *cas.Store, sourceID, url string, recordedAt time.Time) (Result, error) {
	return c.fetch(ctx, store, sourceID, url, "bulk", false, recordedAt)
}

// AcquireSurgical performs a GET gated by SurgicalLimiter, standing in
// for the original's policy-fenced Decodo proxy path. When c.Sandbox is
// set, the GET itself runs inside an isolated container instead of the
// host process.
func (c *Client) AcquireSurgical(ctx context.Context, store *cas.Store, sourceID, url string, recordedAt time.Time) (Result, error) {
	if err := c.SurgicalLimiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("transport: surgical rate limit: %w", err)
	}
	if c.Sandbox != nil {
		return c.fetchSandboxed(ctx, store, sourceID, url, recordedAt)
	}
	return c.fetch(ctx, store, sourceID, url, "surgical", true, recordedAt)
}

func (c *Client) fetchSandboxed(ctx context.Context, store *cas.Store, sourceID, url string, recordedAt time.Time) (Result, error) {
	body, status, err := c.Sandbox.Fetch(ctx, url)
	if err != nil {
		return Result{}, fmt.Errorf("transport: sandboxed surgical fetch for %s: %w", url, err)
	}

	ref, err := store.PutBytes(body, "raw", ".bin", url, recordedAt, map[string]any{"source_id": sourceID, "method": "surgical", "sandboxed": true})
	if err != nil {
		return Result{}, fmt.Errorf("transport: storing sandboxed raw bytes for %s: %w", url, err)
	}

	return Result{
		URL:        url,
		StatusCode: status,
		Body:       body,
		RawRef:     ref,
		Method:     "surgical",
		DecodoUsed: true,
	}, nil
}

func (c *Client) fetch(ctx context.Context, store *cas.Store, sourceID, url, method string, decodoUsed bool, recordedAt time.Time) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("transport: building request for %s: %w", url, err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transport: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	limit := c.MaxResponseBytes
	if limit <= 0 {
		limit = 5_000_000
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return Result{}, fmt.Errorf("transport: reading body for %s: %w", url, err)
	}

	ref, err := store.PutBytes(body, "raw", ".bin", url, recordedAt, map[string]any{"source_id": sourceID, "method": method})
	if err != nil {
		return Result{}, fmt.Errorf("transport: storing raw bytes for %s: %w", url, err)
	}

	return Result{
		URL:         url,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		RawRef:      ref,
		Method:      method,
		DecodoUsed:  decodoUsed,
	}, nil
}

// AcquireCacheOnly looks up a URL already present in the CAS index
// without any network access, returning (zero, false) on a miss.
func AcquireCacheOnly(store *cas.Store, url string) (Result, bool, error) {
	entry, found, err := store.LookupURL(url)
	if err != nil {
		return Result{}, false, err
	}
	if !found {
		return Result{}, false, nil
	}

	body, err := store.ReadBytes(entry.ContentHash, entry.Subdir, entry.Suffix)
	if err != nil {
		return Result{}, false, err
	}

	return Result{
		URL:         url,
		StatusCode:  200,
		ContentType: "application/octet-stream",
		Body:        body,
		RawRef:      cas.Ref{ContentHash: entry.ContentHash, BytesLen: len(body), Subdir: entry.Subdir, Suffix: entry.Suffix},
		Method:      "cache_only",
		DecodoUsed:  false,
	}, true, nil
}
