package history

import "context"

// Repo persists finished diagnosis runs.
type Repo interface {
	Append(ctx context.Context, entry Entry) error
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]Entry, error)
	Latest(ctx context.Context, deviceID string) (Entry, error)
}
