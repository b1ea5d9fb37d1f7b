package task

import (
	"time"

	"ingestq/internal/timeline"
)

// VersionLayout is fixed-width so that later versions always compare greater
// byte-wise, which segment/lock version matching relies on.
const VersionLayout = "2006-01-02T15:04:05.000000000Z"

// Lock grants its group exclusive write authority over a data source
// interval. The version is assigned at acquisition and immutable afterwards.
type Lock struct {
	GroupID    string            `json:"group_id"`
	DataSource string            `json:"data_source"`
	Interval   timeline.Interval `json:"interval"`
	Version    string            `json:"version"`
}

// FormatVersion renders t as a lock/segment version string.
func FormatVersion(t time.Time) string {
	return t.UTC().Format(VersionLayout)
}

// Covers reports whether the lock authorizes writing the given segment: same
// data source, containing interval, byte-identical version.
func (l Lock) Covers(seg Segment) bool {
	return l.DataSource == seg.DataSource &&
		l.Interval.Contains(seg.Interval) &&
		l.Version == seg.Version
}
