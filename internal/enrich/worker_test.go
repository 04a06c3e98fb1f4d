package enrich

import (
	"testing"
	"time"

	"github.com/justestif/scrobbld/internal/store"
)

func TestBackoffDelay(t *testing.T) {
	base := 30 * time.Second
	cap := 10 * time.Minute
	mult := 2.0

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
		{10, cap}, // 30s * 2^9 = 15360s, well past the cap
	}
	for _, tt := range tests {
		got := backoffDelay(base, cap, mult, tt.attempt)
		if got != tt.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRawEqual(t *testing.T) {
	str := func(s string) *string { return &s }

	if !rawEqual(nil, nil) {
		t.Error("nil, nil should be equal")
	}
	if rawEqual(nil, str("1987")) {
		t.Error("nil, non-nil should not be equal")
	}
	if !rawEqual(str("1987"), str("1987")) {
		t.Error("equal strings should be equal")
	}
	if rawEqual(str("1987"), str("1988")) {
		t.Error("different strings should not be equal")
	}
}

func TestMapArtistType(t *testing.T) {
	tests := []struct {
		in   string
		want store.ArtistType
	}{
		{"", store.ArtistType("")}, // handled separately below
		{"Person", store.ArtistTypePerson},
		{"Group", store.ArtistTypeGroup},
		{"Orchestra", store.ArtistTypeOrchestra},
		{"Choir", store.ArtistTypeChoir},
		{"Character", store.ArtistTypeCharacter},
		{"Unknown Thing", store.ArtistTypeOther},
	}
	for _, tt := range tests {
		if tt.in == "" {
			if got := mapArtistType(tt.in); got != nil {
				t.Errorf("mapArtistType(\"\") = %v, want nil", *got)
			}
			continue
		}
		got := mapArtistType(tt.in)
		if got == nil || *got != tt.want {
			t.Errorf("mapArtistType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
