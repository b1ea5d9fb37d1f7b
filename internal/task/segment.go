package task

import (
	"fmt"

	"ingestq/internal/timeline"
)

// Segment describes one immutable, versioned unit of committed data. Segments
// are created only by a successful publish action and never mutated.
type Segment struct {
	DataSource    string            `json:"data_source"`
	Interval      timeline.Interval `json:"interval"`
	Version       string            `json:"version"`
	Shard         int               `json:"shard"`
	Dimensions    []string          `json:"dimensions"`
	Metrics       []string          `json:"metrics"`
	LoadSpec      map[string]any    `json:"load_spec,omitempty"`
	Size          int64             `json:"size"`
	BinaryVersion int               `json:"binary_version"`
}

// ID returns the canonical segment identifier:
// dataSource_start_end_version_shard.
func (s Segment) ID() string {
	return fmt.Sprintf("%s_%s_%s_%d", s.DataSource, s.Interval, s.Version, s.Shard)
}
