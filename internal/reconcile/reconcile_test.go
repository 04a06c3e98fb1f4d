package reconcile

import (
	"testing"
	"time"

	provider "github.com/justestif/scrobbld/internal/provider/spotify"
)

func TestSortAscending(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plays := []provider.RecentPlay{
		{Track: provider.TrackInfo{URI: "c"}, PlayedAt: base.Add(2 * time.Hour)},
		{Track: provider.TrackInfo{URI: "a"}, PlayedAt: base},
		{Track: provider.TrackInfo{URI: "b"}, PlayedAt: base.Add(1 * time.Hour)},
	}

	sortAscending(plays)

	want := []string{"a", "b", "c"}
	for i, uri := range want {
		if plays[i].Track.URI != uri {
			t.Fatalf("position %d: got %q, want %q", i, plays[i].Track.URI, uri)
		}
	}
}

func TestSortAscending_alreadySorted(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plays := []provider.RecentPlay{
		{Track: provider.TrackInfo{URI: "a"}, PlayedAt: base},
		{Track: provider.TrackInfo{URI: "b"}, PlayedAt: base.Add(time.Hour)},
	}
	sortAscending(plays)
	if plays[0].Track.URI != "a" || plays[1].Track.URI != "b" {
		t.Fatalf("order changed unexpectedly: %v", plays)
	}
}

func TestEstimateDurationMs(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plays := []provider.RecentPlay{
		{Track: provider.TrackInfo{DurationMs: 200_000}, PlayedAt: base},
		{Track: provider.TrackInfo{DurationMs: 180_000}, PlayedAt: base.Add(90 * time.Second)},
		{Track: provider.TrackInfo{DurationMs: 210_000}, PlayedAt: base.Add(90*time.Second + 300*time.Second)},
	}

	if got := estimateDurationMs(plays, 0); got != 90_000 {
		t.Errorf("first play: got %d, want 90000 (gap-limited)", got)
	}
	if got := estimateDurationMs(plays, 1); got != 180_000 {
		t.Errorf("second play: got %d, want 180000 (gap exceeds duration, use full duration)", got)
	}
	if got := estimateDurationMs(plays, 2); got != 210_000 {
		t.Errorf("last play: got %d, want full track duration 210000", got)
	}
}
