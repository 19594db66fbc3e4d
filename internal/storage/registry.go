package storage

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/eliterp/cloudstore/internal/logging"
)

// Registry routes between configured backends by disk name. Every file
// row records the disk it was written to, so a deployment can change its
// default disk without stranding historical content.
type Registry struct {
	mu          sync.RWMutex
	backends    map[string]Backend
	defaultDisk string
}

// NewRegistry creates an empty registry whose Default() resolves to
// defaultDisk once that disk is registered.
func NewRegistry(defaultDisk string) *Registry {
	return &Registry{
		backends:    make(map[string]Backend),
		defaultDisk: defaultDisk,
	}
}

// Register adds a backend under a disk name, replacing any previous one.
func (r *Registry) Register(disk string, b Backend) {
	r.mu.Lock()
	if old, ok := r.backends[disk]; ok && old != nil {
		old.Close()
	}
	r.backends[disk] = b
	r.mu.Unlock()

	logging.Info("storage backend registered",
		zap.String("disk", disk),
		zap.String("type", b.Type()))
}

// ForDisk returns the backend serving the named disk.
func (r *Registry) ForDisk(disk string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[disk]
	if !ok {
		return nil, fmt.Errorf("disk %q: %w", disk, ErrUnknownDisk)
	}
	return b, nil
}

// Default returns the backend new uploads go to.
func (r *Registry) Default() (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[r.defaultDisk]
	if !ok {
		return nil, fmt.Errorf("default disk %q: %w", r.defaultDisk, ErrUnknownDisk)
	}
	return b, nil
}

// DefaultDisk returns the disk name new uploads are recorded under.
func (r *Registry) DefaultDisk() string {
	return r.defaultDisk
}

// Close closes all registered backends.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.backends {
		if b != nil {
			b.Close()
		}
	}
	return nil
}
