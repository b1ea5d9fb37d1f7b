package runner

import (
	"context"
	"fmt"
	"time"
)

// Row is one parsed input event. Parsing real inputs is out of scope; rows
// arrive through a Firehose the caller supplies.
type Row struct {
	Timestamp  time.Time          `json:"timestamp"`
	Dimensions map[string]string  `json:"dimensions"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Firehose is a stream of input rows consumed by ingestion tasks.
type Firehose interface {
	HasMore() bool
	NextRow() (Row, error)
	Close() error
}

// FirehoseFactory connects a firehose. Task definitions reference factories
// by name so definitions stay serializable.
type FirehoseFactory interface {
	Connect(ctx context.Context) (Firehose, error)
}

// SliceFirehoseFactory serves a fixed slice of rows; used by tests and demo
// configurations.
type SliceFirehoseFactory struct {
	Rows []Row
}

func (f *SliceFirehoseFactory) Connect(context.Context) (Firehose, error) {
	rows := make([]Row, len(f.Rows))
	copy(rows, f.Rows)
	return &sliceFirehose{rows: rows}, nil
}

type sliceFirehose struct {
	rows []Row
	pos  int
}

func (f *sliceFirehose) HasMore() bool { return f.pos < len(f.rows) }

func (f *sliceFirehose) NextRow() (Row, error) {
	if f.pos >= len(f.rows) {
		return Row{}, fmt.Errorf("firehose exhausted")
	}
	row := f.rows[f.pos]
	f.pos++
	return row, nil
}

func (f *sliceFirehose) Close() error { return nil }
