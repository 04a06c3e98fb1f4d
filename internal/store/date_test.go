package store

import (
	"testing"
	"time"
)

func TestParseDatePrecision(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    time.Time
		wantOK  bool
	}{
		{"empty", "", time.Time{}, false},
		{"year only", "1987", time.Date(1987, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"year and month", "1987-05", time.Date(1987, 5, 1, 0, 0, 0, 0, time.UTC), true},
		{"full date", "1987-05-14", time.Date(1987, 5, 14, 0, 0, 0, 0, time.UTC), true},
		{"malformed year", "abcd", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDatePrecision(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func strPtr(s string) *string { return &s }

func TestPrefixCompatible(t *testing.T) {
	tests := []struct {
		name string
		a, b *string
		want bool
	}{
		{"both nil", nil, nil, true},
		{"a nil", nil, strPtr("1987"), true},
		{"a empty", strPtr(""), strPtr("1987"), true},
		{"compatible prefix", strPtr("1987"), strPtr("1987-05"), true},
		{"compatible full", strPtr("1987-05-14"), strPtr("1987-05"), true},
		{"incompatible", strPtr("1987"), strPtr("1990-05"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PrefixCompatible(tt.a, tt.b); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefines(t *testing.T) {
	tests := []struct {
		name             string
		stored, candidate *string
		want             bool
	}{
		{"nil candidate", strPtr("1987"), nil, false},
		{"empty candidate", strPtr("1987"), strPtr(""), false},
		{"nil stored, non-empty candidate", nil, strPtr("1987"), true},
		{"strictly longer", strPtr("1987"), strPtr("1987-05"), true},
		{"same length", strPtr("1987"), strPtr("1988"), false},
		{"shorter candidate", strPtr("1987-05"), strPtr("1987"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Refines(tt.stored, tt.candidate); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
