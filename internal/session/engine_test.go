package session

import (
	"testing"
	"time"

	"github.com/justestif/scrobbld/internal/config"
	"github.com/justestif/scrobbld/internal/store"
)

func TestMeetsThreshold(t *testing.T) {
	tests := []struct {
		name           string
		accumulatedMs  int64
		durationMs     int64
		minPlaySeconds int
		minPlayPercent int
		want           bool
	}{
		{"below both", 10_000, 300_000, 30, 50, false},
		{"meets absolute floor", 30_000, 300_000, 30, 50, true},
		{"meets percentage floor on a short track", 20_000, 30_000, 30, 50, true},
		{"exactly at absolute floor", 30_000, 1_000_000, 30, 50, true},
		{"just under absolute floor, under percentage too", 29_999, 1_000_000, 30, 50, false},
		{"zero duration never meets percentage but can meet absolute", 30_000, 0, 30, 50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := meetsThreshold(tt.accumulatedMs, tt.durationMs, tt.minPlaySeconds, tt.minPlayPercent)
			if got != tt.want {
				t.Errorf("meetsThreshold(%d, %d, %d, %d) = %v, want %v",
					tt.accumulatedMs, tt.durationMs, tt.minPlaySeconds, tt.minPlayPercent, got, tt.want)
			}
		})
	}
}

func TestWrapThreshold(t *testing.T) {
	tests := []struct {
		name               string
		durationMs         int64
		wrapMinToleranceMs int64
		wrapThresholdPct   int
		want               int64
	}{
		{"percentage dominates on a long track", 300_000, 5_000, 10, 30_000},
		{"floor dominates on a short track", 20_000, 5_000, 10, 5_000},
		{"exactly equal keeps the floor", 50_000, 5_000, 10, 5_000},
		{"zero duration always uses the floor", 0, 5_000, 10, 5_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapThreshold(tt.durationMs, tt.wrapMinToleranceMs, tt.wrapThresholdPct)
			if got != tt.want {
				t.Errorf("wrapThreshold(%d, %d, %d) = %d, want %d",
					tt.durationMs, tt.wrapMinToleranceMs, tt.wrapThresholdPct, got, tt.want)
			}
		})
	}
}

// TestIsLoopWrap covers wrap/loop-false-positive avoidance: ordinary
// seek-back jitter within tolerance must never be mistaken for a
// loop-back-to-start replay.
func TestIsLoopWrap(t *testing.T) {
	tests := []struct {
		name      string
		delta     int64
		threshold int64
		want      bool
	}{
		{"forward progress is never a wrap", 3_000, 5_000, false},
		{"no movement is never a wrap", 0, 5_000, false},
		{"small seek-back within tolerance is jitter, not a wrap", -2_000, 5_000, false},
		{"seek-back exactly at tolerance is still jitter", -5_000, 5_000, false},
		{"seek-back one past tolerance is a wrap", -5_001, 5_000, true},
		{"large backward jump past track start is a wrap", -250_000, 5_000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isLoopWrap(tt.delta, tt.threshold)
			if got != tt.want {
				t.Errorf("isLoopWrap(%d, %d) = %v, want %v", tt.delta, tt.threshold, got, tt.want)
			}
		})
	}
}

// TestCappedDelta covers the pause->resume scenario: while paused, polls
// report a flat (non-advancing) progress and must accumulate nothing;
// resuming with a normal forward delta accumulates it, and an
// abnormally large delta (e.g. after a long poll gap) is capped.
func TestCappedDelta(t *testing.T) {
	tests := []struct {
		name       string
		delta      int64
		maxDeltaMs int64
		want       int64
	}{
		{"paused: no progress advances nothing", 0, 5_000, 0},
		{"paused then resumed to an earlier point: negative delta adds nothing", -1_000, 5_000, 0},
		{"normal forward progress accumulates in full", 3_000, 5_000, 3_000},
		{"delta exactly at cap accumulates in full", 5_000, 5_000, 5_000},
		{"delta past cap is capped", 9_000, 5_000, 5_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cappedDelta(tt.delta, tt.maxDeltaMs)
			if got != tt.want {
				t.Errorf("cappedDelta(%d, %d) = %d, want %d", tt.delta, tt.maxDeltaMs, got, tt.want)
			}
		})
	}
}

func TestEffectivePlayedMs(t *testing.T) {
	tests := []struct {
		name         string
		accumulatedMs int64
		durationMs    int64
		endMarginMs   int64
		want          int64
	}{
		{"well short of the end keeps accumulated value", 100_000, 300_000, 15_000, 100_000},
		{"within end margin snaps up to full duration", 290_000, 300_000, 15_000, 300_000},
		{"exactly at the margin boundary snaps up", 285_000, 300_000, 15_000, 300_000},
		{"one short of the margin boundary does not snap", 284_999, 300_000, 15_000, 284_999},
		{"already past duration snaps up", 305_000, 300_000, 15_000, 300_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := effectivePlayedMs(tt.accumulatedMs, tt.durationMs, tt.endMarginMs)
			if got != tt.want {
				t.Errorf("effectivePlayedMs(%d, %d, %d) = %d, want %d",
					tt.accumulatedMs, tt.durationMs, tt.endMarginMs, got, tt.want)
			}
		})
	}
}

func TestIsSkipped(t *testing.T) {
	tests := []struct {
		name             string
		effectiveMs      int64
		durationMs       int64
		skipThresholdPct int
		want             bool
	}{
		{"well under threshold is skipped", 50_000, 300_000, 90, true},
		{"at threshold is not skipped", 270_000, 300_000, 90, false},
		{"full play is not skipped", 300_000, 300_000, 90, false},
		{"one under threshold is skipped", 269_999, 300_000, 90, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isSkipped(tt.effectiveMs, tt.durationMs, tt.skipThresholdPct)
			if got != tt.want {
				t.Errorf("isSkipped(%d, %d, %d) = %v, want %v",
					tt.effectiveMs, tt.durationMs, tt.skipThresholdPct, got, tt.want)
			}
		})
	}
}

// TestEngine_IsStale covers stale-session handling: a session with no
// poll activity for longer than StaleSessionMs should be treated as
// abandoned so handleNoContent can finalize and clear it.
func TestEngine_IsStale(t *testing.T) {
	e := &Engine{cfg: config.Session{StaleSessionMs: 1_800_000}} // 30 minutes

	tests := []struct {
		name       string
		lastSeenAt time.Time
		want       bool
	}{
		{"just seen is not stale", time.Now().UTC(), false},
		{"seen 5 minutes ago is not stale", time.Now().UTC().Add(-5 * time.Minute), false},
		{"seen 31 minutes ago is stale", time.Now().UTC().Add(-31 * time.Minute), true},
		{"seen exactly at the threshold is stale", time.Now().UTC().Add(-30 * time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &store.PlaybackSession{LastSeenAt: tt.lastSeenAt}
			got := e.isStale(s)
			if got != tt.want {
				t.Errorf("isStale(lastSeenAt=%v) = %v, want %v", tt.lastSeenAt, got, tt.want)
			}
		})
	}
}
