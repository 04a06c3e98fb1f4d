// Package config loads scrobbld's runtime configuration from environment
// variables: one struct per concern, os.Getenv with sane defaults, a
// sentinel error for anything required that is missing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrMissingRequired is returned when a required environment variable is unset.
var ErrMissingRequired = errors.New("missing required environment variable")

// Database holds Postgres connection configuration.
type Database struct {
	URL string
}

// Spotify holds the streaming provider's OAuth client configuration.
type Spotify struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// MusicBrainz holds the metadata service client configuration (§4.A).
type MusicBrainz struct {
	UserAgent          string
	MinInterval        time.Duration
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	RetryMaxAttempts   int
	RequestTimeout     time.Duration
	CoverArtBaseURL    string
	MusicBrainzBaseURL string
}

// Session holds the Playback Session Engine's tunables (§4.D).
type Session struct {
	PollInterval        time.Duration
	MinPlaySeconds      int
	MinPlayPercent      int
	WrapMinToleranceMs  int64
	WrapThresholdPct    int
	MaxDeltaMs          int64
	StaleSessionMs      int64
	SkipThresholdPct    int
	EndMarginMs         int64
	FastLoopDedupeSecs  int
}

// Reconcile holds the Recently-Played Reconciler's tunables (§4.E).
type Reconcile struct {
	Interval           time.Duration
	DedupeWindow       time.Duration
	RecentlyPlayedCap  int
}

// Jobs holds the Enrichment Job Queue's tunables (§4.F).
type Jobs struct {
	LeaseTimeout      time.Duration
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffCap        time.Duration
	ReapInterval      time.Duration
	ReapTTL           time.Duration
	ClaimBatchSize    int
}

// Worker holds the Enrichment Worker's pacing tunables (§4.G).
type Worker struct {
	JobDelay     time.Duration
	PollInterval time.Duration
	Count        int
	SafetyMargin time.Duration
	ID           string
}

// API holds the read-side HTTP API's configuration.
type API struct {
	Addr      string
	JWTSecret string
}

// Config aggregates every component's configuration.
type Config struct {
	Database    Database
	Spotify     Spotify
	MusicBrainz MusicBrainz
	Session     Session
	Reconcile   Reconcile
	Jobs        Jobs
	Worker      Worker
	API         API
	LogLevel    string
}

// Load reads Config from the environment. Returns ErrMissingRequired
// wrapped with the variable name when a required value is absent.
func Load() (*Config, error) {
	dbURL, err := required("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	clientID, err := required("SPOTIFY_CLIENT_ID")
	if err != nil {
		return nil, err
	}
	clientSecret, err := required("SPOTIFY_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}
	userAgent, err := required("METADATA_USER_AGENT")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: Database{URL: dbURL},
		Spotify: Spotify{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURI:  getEnv("SPOTIFY_REDIRECT_URI", "http://127.0.0.1:8080/callback"),
		},
		MusicBrainz: MusicBrainz{
			UserAgent:          userAgent,
			MinInterval:        getDuration("MB_MIN_INTERVAL_MS", 1100*time.Millisecond, time.Millisecond),
			RetryBaseDelay:     getDuration("MB_RETRY_BASE_MS", 2000*time.Millisecond, time.Millisecond),
			RetryMaxDelay:      getDuration("MB_RETRY_MAX_MS", 60000*time.Millisecond, time.Millisecond),
			RetryMaxAttempts:   getInt("MB_RETRY_MAX_ATTEMPTS", 5),
			RequestTimeout:     getDuration("MB_REQUEST_TIMEOUT_MS", 10000*time.Millisecond, time.Millisecond),
			CoverArtBaseURL:    getEnv("COVERART_BASE_URL", "https://coverartarchive.org"),
			MusicBrainzBaseURL: getEnv("MUSICBRAINZ_BASE_URL", "https://musicbrainz.org/ws/2"),
		},
		Session: Session{
			PollInterval:       getDuration("POLL_INTERVAL_MS", 8000*time.Millisecond, time.Millisecond),
			MinPlaySeconds:     getInt("MIN_PLAY_SECONDS", 30),
			MinPlayPercent:     getInt("MIN_PLAY_PERCENT", 50),
			WrapMinToleranceMs: getInt64("WRAP_MIN_TOLERANCE_MS", 15000),
			WrapThresholdPct:   getInt("WRAP_THRESHOLD_PERCENT", 35),
			MaxDeltaMs:         getInt64("MAX_DELTA_MS", 30000),
			StaleSessionMs:     getInt64("STALE_SESSION_MS", 1_800_000),
			SkipThresholdPct:   getInt("SKIP_THRESHOLD_PERCENT", 90),
			EndMarginMs:        getInt64("END_MARGIN_MS", 15000),
			FastLoopDedupeSecs: getInt("FAST_LOOP_DEDUPE_SECONDS", 5),
		},
		Reconcile: Reconcile{
			Interval:          getDuration("RECENTLY_PLAYED_INTERVAL_MS", 60000*time.Millisecond, time.Millisecond),
			DedupeWindow:      getDuration("RECONCILE_DEDUPE_WINDOW_MINUTES", 10*time.Minute, time.Minute),
			RecentlyPlayedCap: getInt("RECENTLY_PLAYED_LIMIT", 50),
		},
		Jobs: Jobs{
			LeaseTimeout:      getDuration("JOB_LEASE_TIMEOUT_MINUTES", 30*time.Minute, time.Minute),
			BackoffBase:       getDuration("JOB_BACKOFF_BASE_SECONDS", 60*time.Second, time.Second),
			BackoffMultiplier: getFloat("JOB_BACKOFF_MULTIPLIER", 2.0),
			BackoffCap:        getDuration("JOB_BACKOFF_CAP_HOURS", time.Hour, time.Hour),
			ReapInterval:      getDuration("JOB_REAP_INTERVAL_HOURS", time.Hour, time.Hour),
			ReapTTL:           getDuration("JOB_REAP_TTL_DAYS", 3*24*time.Hour, 24*time.Hour),
			ClaimBatchSize:    getInt("JOB_CLAIM_BATCH_SIZE", 10),
		},
		Worker: Worker{
			JobDelay:     getDuration("WORKER_JOB_DELAY_MS", 3000*time.Millisecond, time.Millisecond),
			PollInterval: getDuration("WORKER_POLL_INTERVAL_MS", 30000*time.Millisecond, time.Millisecond),
			Count:        getInt("WORKER_COUNT", 1),
			SafetyMargin: getDuration("TOKEN_SAFETY_MARGIN_SECONDS", 60*time.Second, time.Second),
			ID:           getEnv("WORKER_ID", hostnameOrDefault()),
		},
		API: API{
			Addr:      getEnv("API_ADDR", "127.0.0.1:8090"),
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

func required(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s: %w", key, ErrMissingRequired)
	}
	return v, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getDuration reads an integer environment variable in units of `unit`
// (e.g. milliseconds) and returns it as a time.Duration.
func getDuration(key string, def time.Duration, unit time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * unit
		}
	}
	return def
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "worker-1"
	}
	return h
}
