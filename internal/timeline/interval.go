// Package timeline provides the half-open time intervals that segments and
// locks are keyed by.
package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrBadInterval = errors.New("malformed interval")

// Granularity controls how an interval is split into segment-sized chunks.
type Granularity string

const (
	GranularityDay  Granularity = "day"
	GranularityHour Granularity = "hour"
)

// Interval is a half-open time range [Start, End). On the wire it is the
// "start/end" string form understood by Parse.
type Interval struct {
	Start time.Time
	End   time.Time
}

// New returns the interval [start, end). Start must precede end.
func New(start, end time.Time) (Interval, error) {
	if !start.Before(end) {
		return Interval{}, fmt.Errorf("%w: start %s not before end %s", ErrBadInterval, start, end)
	}
	return Interval{Start: start.UTC(), End: end.UTC()}, nil
}

// MustParse is New+Parse for literals in tests and fixtures; panics on error.
func MustParse(s string) Interval {
	iv, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return iv
}

// Parse accepts "start/end" where end is either an RFC3339-ish timestamp or a
// day-count duration like "P2D" relative to start, e.g. "2010-01-01/P2D".
func Parse(s string) (Interval, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return Interval{}, fmt.Errorf("%w: %q", ErrBadInterval, s)
	}
	start, err := parseTime(parts[0])
	if err != nil {
		return Interval{}, fmt.Errorf("%w: %q: %v", ErrBadInterval, s, err)
	}
	var end time.Time
	if strings.HasPrefix(parts[1], "P") && strings.HasSuffix(parts[1], "D") {
		days, convErr := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(parts[1], "P"), "D"))
		if convErr != nil || days <= 0 {
			return Interval{}, fmt.Errorf("%w: %q", ErrBadInterval, s)
		}
		end = start.AddDate(0, 0, days)
	} else {
		end, err = parseTime(parts[1])
		if err != nil {
			return Interval{}, fmt.Errorf("%w: %q: %v", ErrBadInterval, s, err)
		}
	}
	return New(start, end)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func (iv Interval) String() string {
	return iv.Start.UTC().Format(time.RFC3339) + "/" + iv.End.UTC().Format(time.RFC3339)
}

func (iv Interval) IsZero() bool {
	return iv.Start.IsZero() && iv.End.IsZero()
}

func (iv Interval) MarshalJSON() ([]byte, error) {
	if iv.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(iv.String())
}

func (iv *Interval) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*iv = Interval{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*iv = parsed
	return nil
}

// Overlaps reports whether the two half-open intervals share any instant.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains reports whether other lies entirely within iv.
func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

// ContainsTime reports whether t falls inside the interval.
func (iv Interval) ContainsTime(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Equal reports whether both endpoints coincide.
func (iv Interval) Equal(other Interval) bool {
	return iv.Start.Equal(other.Start) && iv.End.Equal(other.End)
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Split chops the interval into granule-aligned sub-intervals. The first and
// last granules are truncated to the interval's bounds.
func (iv Interval) Split(g Granularity) []Interval {
	step := granuleFloor(g)
	var out []Interval
	cur := step.floor(iv.Start)
	for cur.Before(iv.End) {
		next := step.next(cur)
		chunk := Interval{Start: maxTime(cur, iv.Start), End: minTime(next, iv.End)}
		out = append(out, chunk)
		cur = next
	}
	return out
}

// Granule returns the granule-aligned interval containing t.
func Granule(t time.Time, g Granularity) Interval {
	step := granuleFloor(g)
	start := step.floor(t.UTC())
	return Interval{Start: start, End: step.next(start)}
}

type granuleStep struct {
	floor func(time.Time) time.Time
	next  func(time.Time) time.Time
}

func granuleFloor(g Granularity) granuleStep {
	switch g {
	case GranularityHour:
		return granuleStep{
			floor: func(t time.Time) time.Time { return t.UTC().Truncate(time.Hour) },
			next:  func(t time.Time) time.Time { return t.Add(time.Hour) },
		}
	default: // day
		return granuleStep{
			floor: func(t time.Time) time.Time {
				y, m, d := t.UTC().Date()
				return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
			},
			next: func(t time.Time) time.Time { return t.AddDate(0, 0, 1) },
		}
	}
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
