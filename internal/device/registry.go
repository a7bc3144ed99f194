package device

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry maps device IDs to device state.
//
// It wraps a Repository with a write-through cache. Every mutation holds the
// write lock across the persistence call and the cache update, so a reader
// sees either the old device or the new one, never a mix. Returned devices
// are deep copies.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	loaded  bool
	cacheMu sync.RWMutex
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates a device registry backed by repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// timestamp returns the current time at the precision the repository stores.
func (r *Registry) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Second)
}

// RefreshCache reloads every device from the repository.
// Call it once on startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].DeepCopy()
	}
	r.loaded = true

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Register stores a new device with the given initial status.
//
// An empty status defaults to IDLE. It fails with ErrDeviceExists if the ID
// is taken, ErrInvalidDevice for a malformed ID or metadata, and
// ErrInvalidStatus for an unknown status or BUSY.
func (r *Registry) Register(ctx context.Context, id string, status Status, metadata Metadata) (*Device, error) {
	if status == "" {
		status = StatusIdle
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ValidateInitialStatus(status); err != nil {
		return nil, err
	}
	if err := ValidateMetadata(metadata); err != nil {
		return nil, err
	}

	now := r.timestamp()
	d := &Device{
		ID:        id,
		Status:    status,
		Metadata:  maps.Clone(metadata),
		LastSeen:  &now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if _, exists := r.cache[id]; exists {
		return nil, ErrDeviceExists
	}
	// The repository's primary key catches IDs not yet cached.
	if err := r.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	r.cache[id] = d.DeepCopy()

	r.logger.Info("device registered", "device_id", id, "status", status)
	return d, nil
}

// Get returns the device with the given ID or ErrDeviceNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	loaded := r.loaded
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	if loaded {
		return nil, ErrDeviceNotFound
	}

	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	if _, exists := r.cache[id]; !exists {
		r.cache[id] = d.DeepCopy()
	}
	r.cacheMu.Unlock()

	return d, nil
}

// Exists returns nil if the device is registered and ErrDeviceNotFound
// otherwise.
func (r *Registry) Exists(ctx context.Context, id string) error {
	_, err := r.Get(ctx, id)
	return err
}

// List returns a snapshot of every device ordered by ID.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	loaded := r.loaded
	if loaded {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.DeepCopy())
		}
		r.cacheMu.RUnlock()
		sortByID(devices)
		return devices, nil
	}
	r.cacheMu.RUnlock()

	return r.repo.List(ctx)
}

// SetStatus sets a device's status and bumps its last_seen time.
//
// Any valid status is accepted, including BUSY. Callers that must not assign
// BUSY check that themselves. The device is replaced in the cache rather
// than modified in place.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status) (*Device, error) {
	if err := ValidateStatus(status); err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	current, err := r.lockedGet(ctx, id)
	if err != nil {
		return nil, err
	}

	now := r.timestamp()
	if err := r.repo.UpdateStatus(ctx, id, status, now); err != nil {
		return nil, err
	}

	updated := current.DeepCopy()
	updated.Status = status
	updated.LastSeen = &now
	updated.UpdatedAt = now
	r.cache[id] = updated

	r.logger.Debug("device status updated", "device_id", id, "from", current.Status, "to", status)
	return updated.DeepCopy(), nil
}

// Touch records that the device was heard from without changing its status.
func (r *Registry) Touch(ctx context.Context, id string) error {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	current, err := r.lockedGet(ctx, id)
	if err != nil {
		return err
	}

	now := r.timestamp()
	if err := r.repo.Touch(ctx, id, now); err != nil {
		return err
	}

	updated := current.DeepCopy()
	updated.LastSeen = &now
	r.cache[id] = updated
	return nil
}

// lockedGet reads through the cache. The caller holds cacheMu for writing.
func (r *Registry) lockedGet(ctx context.Context, id string) (*Device, error) {
	if d, ok := r.cache[id]; ok {
		return d, nil
	}
	if r.loaded {
		return nil, ErrDeviceNotFound
	}
	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache[id] = d
	return d, nil
}

// Count returns the number of cached devices.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats summarises the registry for the metrics endpoint.
type Stats struct {
	TotalDevices int            `json:"total"`
	ByStatus     map[Status]int `json:"by_status"`
}

// GetStats returns device counts by status.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByStatus:     make(map[Status]int, len(AllStatuses())),
	}
	for _, s := range AllStatuses() {
		stats.ByStatus[s] = 0
	}
	for _, d := range r.cache {
		stats.ByStatus[d.Status]++
	}
	return stats
}

func sortByID(devices []Device) {
	slices.SortFunc(devices, func(a, b Device) int { return strings.Compare(a.ID, b.ID) })
}
