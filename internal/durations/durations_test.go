package durations

import (
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"10m", 10 * time.Minute},
		{"2H", 2 * time.Hour},
		{"1d", 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := Parse(tt.raw)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("Parse(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "10", "m", "0m", "1.5h", "-1m", "10y", "5 m", "99999999999999999999w"} {
		if _, err := Parse(raw); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Parse(%q) expected ErrInvalid, got %v", raw, err)
		}
	}
}

func TestParseBounded(t *testing.T) {
	if _, err := ParseBounded("30s", time.Minute, time.Hour); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected below-min duration to be rejected, got %v", err)
	}
	if _, err := ParseBounded("2h", time.Minute, time.Hour); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected above-max duration to be rejected, got %v", err)
	}
	got, err := ParseBounded("1h", time.Minute, time.Hour)
	if err != nil || got != time.Hour {
		t.Fatalf("expected 1h to be accepted, got %v, %v", got, err)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{1500 * time.Millisecond, "2 seconds"},
		{time.Second, "1 second"},
		{90 * time.Minute, "1 hour 30 minutes"},
		{26*time.Hour + 5*time.Minute + 3*time.Second, "1 day 2 hours"},
	}
	for _, tt := range tests {
		if got := Format(tt.d); got != tt.want {
			t.Fatalf("Format(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
