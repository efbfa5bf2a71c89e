// Package fetch implements the timeout-bounded HTTP Fetcher used by macro
// collectors and universe expansion: fetchJSON/fetchText with a hard
// deadline and source-reference bookkeeping.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/r3e-network/selun-engine/infrastructure/errors"
	"github.com/r3e-network/selun-engine/infrastructure/ratelimit"
	"github.com/tidwall/gjson"
)

// HardTimeout is the fixed per-request deadline applied to every fetch.
const HardTimeout = 12 * time.Second

// SourceReference records provenance for a single fetched document.
type SourceReference struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Endpoint  string    `json:"endpoint"`
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fetcher performs timeout-bounded JSON/text fetches over a shared client,
// holding each provider to its own rate-limit budget so a noisy one can't
// starve the others.
type Fetcher struct {
	client     *http.Client
	limiterCfg ratelimit.RateLimitConfig
	mu         sync.Mutex
	limiters   map[string]*ratelimit.RateLimiter
}

// New constructs a Fetcher. client may be nil, in which case a client with
// HardTimeout is constructed. Per-provider rate limiting uses
// ratelimit.DefaultConfig (100 req/s, burst 200) unless overridden with
// WithRateLimit.
func New(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: HardTimeout}
	}
	return &Fetcher{
		client:     client,
		limiterCfg: ratelimit.DefaultConfig(),
		limiters:   make(map[string]*ratelimit.RateLimiter),
	}
}

// WithRateLimit overrides the per-provider rate-limit budget used for every
// provider first seen after this call.
func (f *Fetcher) WithRateLimit(cfg ratelimit.RateLimitConfig) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limiterCfg = cfg
	return f
}

func (f *Fetcher) limiterFor(provider string) *ratelimit.RateLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[provider]
	if !ok {
		l = ratelimit.New(f.limiterCfg)
		f.limiters[provider] = l
	}
	return l
}

func (f *Fetcher) do(ctx context.Context, url, provider string, headers map[string]string) (*http.Response, error) {
	if provider != "" {
		if err := f.limiterFor(provider).Wait(ctx); err != nil {
			return nil, errors.ExternalAPIError(url, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, HardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.InvalidInput("url", err.Error())
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.ExternalAPIError(url, err)
	}
	return resp, nil
}

// FetchJSON fetches url and parses it as JSON, returning a gjson.Result so
// callers can defensively pluck fields from heterogeneous provider
// payloads without per-provider struct definitions. provider/toolCallID
// are recorded in the returned SourceReference.
func (f *Fetcher) FetchJSON(ctx context.Context, url, toolCallID, provider string, headers map[string]string) (gjson.Result, SourceReference, error) {
	resp, err := f.do(ctx, url, provider, headers)
	if err != nil {
		return gjson.Result{}, SourceReference{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return gjson.Result{}, SourceReference{}, errors.ExternalAPIError(url, err)
	}
	if resp.StatusCode >= 400 {
		return gjson.Result{}, SourceReference{}, errors.ExternalAPIError(url, fmt.Errorf("status %d", resp.StatusCode))
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, SourceReference{}, errors.InvalidFormat("response_body", "json")
	}

	ref := SourceReference{ID: toolCallID, Provider: provider, Endpoint: url, URL: url, FetchedAt: time.Now()}
	return gjson.ParseBytes(body), ref, nil
}

// FetchText fetches url and returns the raw body text.
func (f *Fetcher) FetchText(ctx context.Context, url, toolCallID, provider string, headers map[string]string) (string, SourceReference, error) {
	resp, err := f.do(ctx, url, provider, headers)
	if err != nil {
		return "", SourceReference{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", SourceReference{}, errors.ExternalAPIError(url, err)
	}
	if resp.StatusCode >= 400 {
		return "", SourceReference{}, errors.ExternalAPIError(url, fmt.Errorf("status %d", resp.StatusCode))
	}

	ref := SourceReference{ID: toolCallID, Provider: provider, Endpoint: url, URL: url, FetchedAt: time.Now()}
	return string(body), ref, nil
}
