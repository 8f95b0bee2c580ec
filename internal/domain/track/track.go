// Package track provides the Track domain entity.
package track

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidDuration is returned when a duration is not an ISO-8601 time duration.
var ErrInvalidDuration = errors.New("invalid ISO-8601 duration")

// Track represents a playlist entry as the coordinator reports it.
// Tracks are immutable once added to a playlist.
type Track struct {
	ID           string // Stable media identifier (e.g. a video ID)
	Title        string // Display title
	Channel      string // Channel or author name
	ThumbnailURL string // Thumbnail URL
	DurationISO  string // ISO-8601 duration, e.g. "PT3M25S"
	AddedBy      string // Member name who added the track (optional)
}

var isoDurationPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?$`)

// ParseISODuration parses an ISO-8601 time duration such as "PT1H2M3S".
func ParseISODuration(s string) (time.Duration, error) {
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil || s == "PT" {
		return 0, errors.Wrapf(ErrInvalidDuration, "%q", s)
	}

	var d time.Duration
	if m[1] != "" {
		h, _ := strconv.Atoi(m[1])
		d += time.Duration(h) * time.Hour
	}
	if m[2] != "" {
		min, _ := strconv.Atoi(m[2])
		d += time.Duration(min) * time.Minute
	}
	if m[3] != "" {
		sec, _ := strconv.ParseFloat(m[3], 64)
		d += time.Duration(sec * float64(time.Second))
	}
	return d, nil
}

// Duration returns the parsed duration of the track.
// Returns 0 if the duration string is missing or malformed.
func (t *Track) Duration() time.Duration {
	d, err := ParseISODuration(t.DurationISO)
	if err != nil {
		return 0
	}
	return d
}

// FormatDuration renders the track duration as "m:ss", or "-" when unknown.
func (t *Track) FormatDuration() string {
	if _, err := ParseISODuration(t.DurationISO); err != nil {
		return "-"
	}
	return FormatClock(t.Duration().Seconds())
}

// FormatClock renders seconds as "m:ss". Hours are folded into minutes.
func FormatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
