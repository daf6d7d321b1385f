package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"signalcraft-client/internal/shared/util"
)

// Factory builds the controller for a device on first use.
type Factory func(deviceID string) (*Controller, error)

// Registry holds one controller per device id.
type Registry struct {
	build Factory

	mu          sync.Mutex
	controllers map[string]*Controller
	closed      bool
}

// NewRegistry returns a registry backed by build.
func NewRegistry(build Factory) *Registry {
	return &Registry{build: build, controllers: make(map[string]*Controller)}
}

// Get returns the controller for deviceID, creating it if needed.
func (r *Registry) Get(deviceID string) (*Controller, error) {
	if err := util.ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if c, ok := r.controllers[deviceID]; ok {
		return c, nil
	}
	c, err := r.build(deviceID)
	if err != nil {
		return nil, err
	}
	r.controllers[deviceID] = c
	return c, nil
}

// Lookup returns an existing controller without creating one.
func (r *Registry) Lookup(deviceID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[deviceID]
	return c, ok
}

// Devices lists the device ids with a controller, sorted.
func (r *Registry) Devices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.controllers))
	for id := range r.controllers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResetAll resets every existing controller, ending any poll in flight.
func (r *Registry) ResetAll(ctx context.Context) error {
	var errs []error
	for _, id := range r.Devices() {
		c, ok := r.Lookup(id)
		if !ok {
			continue
		}
		if err := c.Reset(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every controller. Later Get calls fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	controllers := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		controllers = append(controllers, c)
	}
	r.mu.Unlock()

	var errs []error
	for _, c := range controllers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
