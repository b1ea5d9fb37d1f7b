package gateway

import (
	"context"

	"ingestq/internal/task"
	"ingestq/internal/timeline"
)

// MetadataStore is the external segment-metadata collaborator. Announce must
// be idempotent: re-announcing an already-known segment is a no-op and the
// segment is simply absent from the returned set.
type MetadataStore interface {
	Announce(ctx context.Context, segments []task.Segment) (added []task.Segment, err error)
	ListUnused(ctx context.Context, dataSource string, interval timeline.Interval) ([]task.Segment, error)
	Delete(ctx context.Context, segments []task.Segment) error
}

// DeepStorage moves segment artifacts to and from long-term storage.
type DeepStorage interface {
	Push(ctx context.Context, localPath string, seg task.Segment) (task.Segment, error)
	Delete(ctx context.Context, seg task.Segment) error
}
