package history

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepo stores history in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu       sync.RWMutex
	byDevice map[string][]Entry
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byDevice: make(map[string][]Entry)}
}

// Append stores the entry, assigning an id when missing.
func (r *MemoryRepo) Append(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDevice[entry.DeviceID] = append(r.byDevice[entry.DeviceID], entry)
	return nil
}

// ListByDevice returns entries newest first.
func (r *MemoryRepo) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)
	r.mu.RLock()
	items := append([]Entry(nil), r.byDevice[deviceID]...)
	r.mu.RUnlock()

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].FinishedAt.After(items[j].FinishedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Latest returns the most recent entry for the device.
func (r *MemoryRepo) Latest(ctx context.Context, deviceID string) (Entry, error) {
	items, err := r.ListByDevice(ctx, deviceID, 1)
	if err != nil {
		return Entry{}, err
	}
	if len(items) == 0 {
		return Entry{}, ErrNotFound
	}
	return items[0], nil
}

var _ Repo = (*MemoryRepo)(nil)
