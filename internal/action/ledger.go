package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Ledger.
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

// DeviceChecker is what the ledger needs from the device registry: an
// existence check. It returns the registry's not-found error for unknown IDs.
type DeviceChecker interface {
	Exists(ctx context.Context, deviceID string) error
}

// DeviceCheckerFunc adapts a function to DeviceChecker.
type DeviceCheckerFunc func(ctx context.Context, deviceID string) error

// Exists implements DeviceChecker.
func (f DeviceCheckerFunc) Exists(ctx context.Context, deviceID string) error {
	return f(ctx, deviceID)
}

// Ledger is the authoritative store of action records.
//
// Non-terminal actions are cached together with a device -> active action
// index that enforces the one-active-action rule. Every mutation holds mu
// across the repository write and the cache update, and the repository
// update is itself conditional on the previous status, so transitions are
// totally ordered per action and never regress.
type Ledger struct {
	repo      Repository
	devices   DeviceChecker
	catalogue *Catalogue
	logger    Logger

	mu     sync.RWMutex
	live   map[string]*Action // non-terminal actions by ID
	active map[string]string  // device ID -> non-terminal action ID

	timeout time.Duration
	newID   func() string
	now     func() time.Time
}

// NewLedger creates a ledger. catalogue may be nil for DefaultCatalogue.
func NewLedger(repo Repository, devices DeviceChecker, catalogue *Catalogue) *Ledger {
	if catalogue == nil {
		catalogue = DefaultCatalogue()
	}
	return &Ledger{
		repo:      repo,
		devices:   devices,
		catalogue: catalogue,
		logger:    noopLogger{},
		live:      make(map[string]*Action),
		active:    make(map[string]string),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// SetLogger sets the logger for the ledger.
func (l *Ledger) SetLogger(logger Logger) {
	l.logger = logger
}

// SetActionTimeout sets how long after creation an action's deadline falls.
// Zero leaves new actions without a deadline.
func (l *Ledger) SetActionTimeout(d time.Duration) {
	l.timeout = d
}

// SetIDGenerator replaces the UUID generator, for deterministic tests.
func (l *Ledger) SetIDGenerator(fn func() string) {
	l.newID = fn
}

// Catalogue returns the action types this ledger accepts.
func (l *Ledger) Catalogue() *Catalogue {
	return l.catalogue
}

func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Millisecond)
}

// Load rebuilds the active index from the repository. Call it once on
// startup before accepting requests.
func (l *Ledger) Load(ctx context.Context) error {
	pending, err := l.repo.ListByStatus(ctx, StatusPending, StatusRunning)
	if err != nil {
		return fmt.Errorf("loading active actions: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.live = make(map[string]*Action, len(pending))
	l.active = make(map[string]string, len(pending))
	for i := range pending {
		a := pending[i].DeepCopy()
		l.live[a.ID] = a
		l.active[a.DeviceID] = a.ID
	}

	l.logger.Info("action ledger loaded", "active", len(pending))
	return nil
}

// Create records a new PENDING action.
//
// Checks run in order: the device must exist, the type and params must be
// valid, and the device must not have a non-terminal action. The busy check
// and the insert happen under one lock, so two concurrent calls for the same
// device cannot both succeed.
func (l *Ledger) Create(ctx context.Context, deviceID string, typ Type, params Params) (*Action, error) {
	if err := l.devices.Exists(ctx, deviceID); err != nil {
		return nil, err
	}

	normalised, err := l.catalogue.Validate(typ, params)
	if err != nil {
		return nil, err
	}

	now := l.timestamp()
	a := &Action{
		ID:        l.newID(),
		DeviceID:  deviceID,
		Type:      typ,
		Params:    normalised,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if l.timeout > 0 {
		deadline := now.Add(l.timeout)
		a.Deadline = &deadline
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if current, busy := l.active[deviceID]; busy {
		return nil, fmt.Errorf("%w: %s has action %s in flight", ErrDeviceBusy, deviceID, current)
	}
	if err := l.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	l.live[a.ID] = a.DeepCopy()
	l.active[deviceID] = a.ID

	l.logger.Info("action created",
		"action_id", a.ID,
		"device_id", deviceID,
		"action_type", typ,
	)
	return a, nil
}

// Get returns the latest committed state of an action.
func (l *Ledger) Get(ctx context.Context, id string) (*Action, error) {
	l.mu.RLock()
	cached, ok := l.live[id]
	if ok {
		a := cached.DeepCopy()
		l.mu.RUnlock()
		return a, nil
	}
	l.mu.RUnlock()

	// Terminal actions are immutable, so reading them outside the lock
	// cannot return a stale status.
	return l.repo.GetByID(ctx, id)
}

// Active returns the non-terminal action on a device, or nil.
func (l *Ledger) Active(deviceID string) *Action {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.active[deviceID]
	if !ok {
		return nil
	}
	return l.live[id].DeepCopy()
}

// ListActive returns every non-terminal action.
func (l *Ledger) ListActive() []Action {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Action, 0, len(l.live))
	for _, a := range l.live {
		out = append(out, *a.DeepCopy())
	}
	return out
}

// ActiveCount returns the number of non-terminal actions.
func (l *Ledger) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.live)
}

// ListByDevice returns a device's action history in creation order.
func (l *Ledger) ListByDevice(ctx context.Context, deviceID string) ([]Action, error) {
	if err := l.devices.Exists(ctx, deviceID); err != nil {
		return nil, err
	}
	return l.repo.ListByDevice(ctx, deviceID)
}

// Transition moves an action to a new status.
//
// Only PENDING->RUNNING, PENDING->FAILED, RUNNING->COMPLETED and
// RUNNING->FAILED are legal. Anything else, including re-applying a terminal
// status, fails with ErrInvalidTransition. result is recorded on terminal
// transitions.
func (l *Ledger) Transition(ctx context.Context, id string, to Status, result Result) (*Action, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.live[id]
	if !ok {
		stored, err := l.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		current = stored
	}

	if !CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}

	now := l.timestamp()
	next := current.DeepCopy()
	next.Status = to
	next.UpdatedAt = now

	switch {
	case to == StatusRunning:
		next.StartedAt = &now
	case to.IsTerminal():
		next.CompletedAt = &now
		next.Result = result.Message
		if to == StatusFailed {
			next.FailureReason = result.Reason
			if next.FailureReason == "" {
				next.FailureReason = ReasonInternal
			}
		}
	}

	if err := l.repo.Update(ctx, current.Status, next); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// The stored row moved underneath the cache; drop the stale copy.
			delete(l.live, id)
		}
		return nil, err
	}

	if to.IsTerminal() {
		delete(l.live, id)
		if l.active[next.DeviceID] == id {
			delete(l.active, next.DeviceID)
		}
	} else {
		l.live[id] = next.DeepCopy()
		l.active[next.DeviceID] = id
	}

	l.logger.Info("action transitioned",
		"action_id", id,
		"device_id", next.DeviceID,
		"from", current.Status,
		"to", to,
		"reason", next.FailureReason,
	)
	return next, nil
}
