package musicbrainz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig(mbURL, coverURL string) Config {
	return Config{
		UserAgent:          "scrobbld-test/1.0",
		MusicBrainzBaseURL: mbURL,
		CoverArtBaseURL:    coverURL,
		MinInterval:        time.Millisecond,
		RetryBaseDelay:     time.Millisecond,
		RetryMaxDelay:      5 * time.Millisecond,
		RetryMaxAttempts:   3,
		RequestTimeout:     2 * time.Second,
	}
}

func TestNew_MissingUserAgent(t *testing.T) {
	_, err := New(Config{})
	if err != ErrMissingUserAgent {
		t.Fatalf("New() error = %v, want ErrMissingUserAgent", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{UserAgent: "scrobbld-test/1.0"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.cfg.MinInterval != 1100*time.Millisecond {
		t.Errorf("MinInterval default = %v, want 1.1s", c.cfg.MinInterval)
	}
	if c.cfg.RetryMaxAttempts != 5 {
		t.Errorf("RetryMaxAttempts default = %d, want 5", c.cfg.RetryMaxAttempts)
	}
	if c.cfg.MusicBrainzBaseURL != "https://musicbrainz.org/ws/2" {
		t.Errorf("MusicBrainzBaseURL default = %q", c.cfg.MusicBrainzBaseURL)
	}
	if c.cfg.CoverArtBaseURL != "https://coverartarchive.org" {
		t.Errorf("CoverArtBaseURL default = %q", c.cfg.CoverArtBaseURL)
	}
}

func TestClient_Get_RetriesOn503ThenSucceeds(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"recordings":[{"id":"abc","score":95}]}`))
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL, server.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	body, err := c.get(context.Background(), "/recording?query=test")
	if err != nil {
		t.Fatalf("get() error = %v", err)
	}
	if len(body) == 0 {
		t.Fatal("get() returned empty body")
	}
	if count := requestCount.Load(); count != 3 {
		t.Errorf("expected 3 requests (2 retried 503s + 1 success), got %d", count)
	}
}

func TestClient_Get_RetryExhausted(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL, server.URL)
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.get(context.Background(), "/recording?query=test")
	if err == nil {
		t.Fatal("get() error = nil, want a retries-exhausted error")
	}
	if count := requestCount.Load(); count != int32(cfg.RetryMaxAttempts) {
		t.Errorf("expected %d requests, got %d", cfg.RetryMaxAttempts, count)
	}
}

func TestClient_Get_NotFoundNotRetried(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL, server.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.get(context.Background(), "/recording/missing")
	if err != ErrNotFound {
		t.Fatalf("get() error = %v, want ErrNotFound", err)
	}
	if count := requestCount.Load(); count != 1 {
		t.Errorf("404 should not be retried: expected 1 request, got %d", count)
	}
}

func TestClient_CircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL, server.URL)
	cfg.RetryMaxAttempts = 2 // breaker trips at 2 consecutive Execute failures
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Two calls, each exhausting its own retries, trips the breaker.
	if _, err := c.get(context.Background(), "/recording?query=a"); err == nil {
		t.Fatal("expected first call to fail")
	}
	if _, err := c.get(context.Background(), "/recording?query=b"); err == nil {
		t.Fatal("expected second call to fail")
	}
	countBeforeOpen := requestCount.Load()

	// The breaker should now be open and short-circuit without hitting the server.
	if _, err := c.get(context.Background(), "/recording?query=c"); err == nil {
		t.Fatal("expected third call to fail via open breaker")
	}
	if count := requestCount.Load(); count != countBeforeOpen {
		t.Errorf("open breaker should not reach the server: requests went from %d to %d", countBeforeOpen, count)
	}
}

func TestClient_GetCoverArt_NotFoundNoRetry(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL, server.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.getCoverArt(context.Background(), "/release/missing")
	if err != ErrNotFound {
		t.Fatalf("getCoverArt() error = %v, want ErrNotFound", err)
	}
	if count := requestCount.Load(); count != 1 {
		t.Errorf("expected 1 request, got %d", count)
	}
}

func TestClient_GetCoverArt_ServerErrorNoRetry(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL, server.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.getCoverArt(context.Background(), "/release/x")
	if err == nil {
		t.Fatal("getCoverArt() error = nil, want an error")
	}
	// Cover Art Archive calls never retry (§4.A) and bypass the serial
	// queue/breaker entirely, unlike get().
	if count := requestCount.Load(); count != 1 {
		t.Errorf("cover art should never retry: expected 1 request, got %d", count)
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	maxDelay := 60 * time.Second

	for attempt := 1; attempt <= 6; attempt++ {
		d := backoffDelay(base, maxDelay, attempt)
		if d <= 0 {
			t.Fatalf("attempt %d: backoffDelay returned non-positive %v", attempt, d)
		}
		if d > time.Duration(float64(maxDelay)*1.2)+time.Millisecond {
			t.Errorf("attempt %d: backoffDelay %v exceeds jittered cap", attempt, d)
		}
	}
}
