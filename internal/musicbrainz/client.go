// Package musicbrainz is the rate-limited HTTP client (§4.A) and the
// metadata resolver + memoization cache (§4.B) for MusicBrainz and the
// Cover Art Archive. Grounded on other_examples' MusicBrainz clients
// (yourflock-roost, sherlockholmesat221b, AlexFalzone) for the request
// shape, and on this repo's own retry/backoff helpers for the
// rate-limit/retry/cache pattern. The serial dispatch queue uses
// golang.org/x/time/rate (one token per MinInterval, burst 1); a
// sony/gobreaker/v2 circuit breaker sits in front of it so a prolonged
// run of 503s fails fast instead of retrying into a wall.
package musicbrainz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// ErrMissingUserAgent is returned by New when userAgent is empty — a
// fatal startup error per §4.A.
var ErrMissingUserAgent = errors.New("musicbrainz: User-Agent is required")

// ErrNotFound represents a domain "not found" (HTTP 404), not an error
// (§4.A, §7).
var ErrNotFound = errors.New("musicbrainz: not found")

// Config configures the rate-limited client.
type Config struct {
	UserAgent          string
	MusicBrainzBaseURL string
	CoverArtBaseURL    string
	MinInterval        time.Duration
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	RetryMaxAttempts   int
	RequestTimeout     time.Duration
}

// Client is the serialized, rate-limited MusicBrainz/Cover-Art-Archive
// HTTP client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

// New constructs a Client. Returns ErrMissingUserAgent if cfg.UserAgent
// is empty (§4.A: "a missing value is a fatal startup error").
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, ErrMissingUserAgent
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 1100 * time.Millisecond
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 60 * time.Second
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 5
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MusicBrainzBaseURL == "" {
		cfg.MusicBrainzBaseURL = "https://musicbrainz.org/ws/2"
	}
	if cfg.CoverArtBaseURL == "" {
		cfg.CoverArtBaseURL = "https://coverartarchive.org"
	}

	breakerSettings := gobreaker.Settings{
		Name:        "musicbrainz",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.RetryMaxAttempts)
		},
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		breaker:    gobreaker.NewCircuitBreaker[[]byte](breakerSettings),
	}, nil
}

// get performs a serialized, rate-limited, retrying GET against the
// MusicBrainz API and returns the raw response body.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		return c.doWithRetry(ctx, c.cfg.MusicBrainzBaseURL+path, true)
	})
}

// getCoverArt performs a GET against the Cover Art Archive. It bypasses
// the serial queue (§4.A: "a different rate-limited endpoint with gentler
// limits") and never retries — failures downgrade to "no image" at the
// resolver layer.
func (c *Client) getCoverArt(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.CoverArtBaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building cover art request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cover art archive: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// doWithRetry serializes through the rate limiter and retries 503s and
// transient network errors with capped exponential backoff and jitter
// (§4.A). Other non-2xx statuses are returned without retry; 404 becomes
// ErrNotFound.
func (c *Client) doWithRetry(ctx context.Context, url string, serialize bool) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.cfg.RetryMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay, attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if serialize {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, retryable, err := c.doOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("musicbrainz: exhausted %d attempts: %w", c.cfg.RetryMaxAttempts, lastErr)
}

// doOnce performs a single request. The bool return indicates whether the
// error, if any, is retryable (503 or a transient network error).
func (c *Client) doOnce(ctx context.Context, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTransient(err) {
			return nil, true, err
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, true, fmt.Errorf("musicbrainz: 503 service unavailable")
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("musicbrainz: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("reading response body: %w", err)
	}
	return body, false, nil
}

// isTransient reports whether err looks like a connection
// reset/refused/timeout/DNS failure (§4.A).
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// backoffDelay computes attempt N's delay: base * 2^(N-1), capped, with
// ±20% jitter (§4.A).
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > cap {
			d = cap
			break
		}
	}
	jitterFactor := 0.8 + rand.Float64()*0.4 // [0.8, 1.2)
	return time.Duration(float64(d) * jitterFactor)
}

func decodeJSON(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decoding musicbrainz response: %w", err)
	}
	return nil
}
