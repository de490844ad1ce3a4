// Package durations parses the compact duration arguments used by chat
// commands ("10m", "2h", "1w") and renders durations for replies.
package durations

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hako/durafmt"
)

// ErrInvalid is returned for arguments that are not <number><unit>.
var ErrInvalid = errors.New("invalid duration")

var pattern = regexp.MustCompile(`^(\d+)([smhdw])$`)

var units = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// Parse reads "<n><s|m|h|d|w>". Zero is rejected.
func Parse(raw string) (time.Duration, error) {
	match := pattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(raw)))
	if match == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	n, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	unit := units[match[2]]
	if n > int64((1<<63-1)/unit) {
		return 0, fmt.Errorf("%w: %q is too long", ErrInvalid, raw)
	}
	return time.Duration(n) * unit, nil
}

// ParseBounded parses raw and checks it lies within [min, max].
func ParseBounded(raw string, min, max time.Duration) (time.Duration, error) {
	d, err := Parse(raw)
	if err != nil {
		return 0, err
	}
	if d < min || d > max {
		return 0, fmt.Errorf("%w: %s is outside %s..%s", ErrInvalid, Format(d), Format(min), Format(max))
	}
	return d, nil
}

// Format renders d with its two largest units, rounding up to whole seconds.
func Format(d time.Duration) string {
	if d <= 0 {
		return "0 seconds"
	}
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return durafmt.Parse(d).LimitFirstN(2).String()
}
