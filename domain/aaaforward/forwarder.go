// Package aaaforward implements the outbound AAA webhook: an HMAC-signed
// POST of a finalised allocation's job reference.
package aaaforward

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/r3e-network/selun-engine/infrastructure/errors"
	"github.com/r3e-network/selun-engine/infrastructure/resilience"
)

// Config configures the forwarder's target and signing secret.
type Config struct {
	BaseURL    string
	Secret     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Forwarder dispatches the AAA allocate webhook. A circuit breaker protects
// a downstream that is down from being hammered across many jobs, and each
// attempt is retried once on a transient send failure.
type Forwarder struct {
	cfg     Config
	breaker *resilience.CircuitBreaker
}

func New(cfg Config) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Forwarder{cfg: cfg, breaker: resilience.New(resilience.DefaultConfig())}
}

type payload struct {
	JobID        string `json:"job_id"`
	SelunBaseURL string `json:"selun_base_url"`
}

// Forward sends the webhook for jobID, returning a WebhookFailure error on
// any non-2xx response or timeout. Portfolio construction still completes
// on failure; the caller records the failure on the job. Repeated failures
// trip the breaker so later jobs fail fast instead of each waiting out the
// full timeout against a downstream that is already known to be down.
func (f *Forwarder) Forward(ctx context.Context, jobID, selunBaseURL string) error {
	body, err := json.Marshal(payload{JobID: jobID, SelunBaseURL: selunBaseURL})
	if err != nil {
		return errors.Internal("marshal aaa webhook payload", err)
	}

	url := f.cfg.BaseURL + "/selun/allocate"
	breakerErr := f.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, resilience.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: 150 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2,
			Jitter:       0.1,
		}, func() error {
			return f.send(ctx, url, body)
		})
	})
	if breakerErr == resilience.ErrCircuitOpen || breakerErr == resilience.ErrTooManyRequests {
		return errors.WebhookFailure(url, breakerErr)
	}
	return breakerErr
}

func (f *Forwarder) send(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.WebhookFailure(url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("x-selun-timestamp", timestamp)
	req.Header.Set("x-selun-signature", "sha256="+sign(f.cfg.Secret, timestamp, body))

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return errors.WebhookFailure(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.WebhookFailure(url, fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
