package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/telemetry"
)

const (
	defaultDispatchTimeout         = 10 * time.Second
	defaultMaxConcurrentDispatches = 16
	instrumentationName            = "github.com/nerrad567/gray-logic-fleet/internal/orchestrator"
)

// Config holds the orchestrator's timing and concurrency settings.
type Config struct {
	// ActionTimeout is how long an action may stay non-terminal before the
	// watchdog fails it. Zero disables the watchdog.
	ActionTimeout time.Duration

	// DispatchTimeout bounds a single Executor.Dispatch call.
	DispatchTimeout time.Duration

	// MaxConcurrentDispatches bounds in-flight Dispatch calls.
	MaxConcurrentDispatches int64
}

// Deps holds the collaborators of an Orchestrator. Devices, Ledger and at
// least one Executor are required.
type Deps struct {
	Devices   *device.Registry
	Ledger    *action.Ledger
	Executors []Executor
	Hub       WSHub
	Audit     Auditor
	History   HistoryRecorder
	Config    Config
	Logger    Logger
}

// Orchestrator drives actions from creation to a terminal status and keeps
// device status consistent with them.
//
// Mutations of one device and its active action run under a per-device
// mutex. Dispatch happens on background goroutines, and outcomes arrive
// later through ReportOutcome or the watchdog.
type Orchestrator struct {
	devices   *device.Registry
	ledger    *action.Ledger
	executors map[action.Type]Executor
	hub       WSHub
	audit     Auditor
	history   HistoryRecorder
	logger    Logger
	cfg       Config

	locks     cmap.ConcurrentMap[string, *sync.Mutex]
	watchdogs cmap.ConcurrentMap[string, *time.Timer]
	dispatch  *semaphore.Weighted

	tracer  trace.Tracer
	metrics *instruments

	ctx    context.Context //nolint:containedctx // lifetime of background work
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates an Orchestrator. It sets the ledger's action timeout from
// deps.Config so new actions carry a deadline.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Devices == nil {
		return nil, errors.New("orchestrator: device registry is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("orchestrator: action ledger is required")
	}
	if len(deps.Executors) == 0 {
		return nil, errors.New("orchestrator: at least one executor is required")
	}

	executors := make(map[action.Type]Executor, len(deps.Executors))
	for _, exec := range deps.Executors {
		if !deps.Ledger.Catalogue().Has(exec.Type()) {
			return nil, fmt.Errorf("orchestrator: executor for unknown action type %q", exec.Type())
		}
		if _, dup := executors[exec.Type()]; dup {
			return nil, fmt.Errorf("orchestrator: duplicate executor for %q", exec.Type())
		}
		executors[exec.Type()] = exec
	}

	cfg := deps.Config
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaultDispatchTimeout
	}
	if cfg.MaxConcurrentDispatches <= 0 {
		cfg.MaxConcurrentDispatches = defaultMaxConcurrentDispatches
	}

	o := &Orchestrator{
		devices:   deps.Devices,
		ledger:    deps.Ledger,
		executors: executors,
		hub:       deps.Hub,
		audit:     deps.Audit,
		history:   deps.History,
		logger:    deps.Logger,
		cfg:       cfg,
		locks:     cmap.New[*sync.Mutex](),
		watchdogs: cmap.New[*time.Timer](),
		dispatch:  semaphore.NewWeighted(cfg.MaxConcurrentDispatches),
		tracer:    telemetry.Tracer(instrumentationName),
	}
	if o.hub == nil {
		o.hub = noopHub{}
	}
	if o.audit == nil {
		o.audit = noopAuditor{}
	}
	if o.history == nil {
		o.history = noopHistory{}
	}
	if o.logger == nil {
		o.logger = noopLogger{}
	}

	metrics, err := newInstruments(telemetry.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator metrics: %w", err)
	}
	o.metrics = metrics

	o.ledger.SetActionTimeout(cfg.ActionTimeout)
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o, nil
}

// Close stops the watchdogs, cancels in-flight dispatches, closes executors
// that implement io.Closer and waits for background work to finish.
// Non-terminal actions stay as they are and are handled by Recover on the
// next start.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	for _, id := range o.watchdogs.Keys() {
		o.stopWatchdog(id)
	}
	o.cancel()
	o.wg.Wait()

	var errs []error
	for _, exec := range o.executors {
		if c, ok := exec.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s executor: %w", exec.Type(), err))
			}
		}
	}

	o.logger.Info("orchestrator stopped")
	return errors.Join(errs...)
}

// Stats is a snapshot of orchestrator state for the metrics endpoint.
type Stats struct {
	ActiveActions int      `json:"active_actions"`
	Watchdogs     int      `json:"watchdogs"`
	Executors     []string `json:"executors"`
}

// GetStats returns orchestrator statistics.
func (o *Orchestrator) GetStats() Stats {
	types := o.ledger.Catalogue().Types()
	names := make([]string, 0, len(types))
	for _, t := range types {
		if _, ok := o.executors[t]; ok {
			names = append(names, string(t))
		}
	}
	return Stats{
		ActiveActions: o.ledger.ActiveCount(),
		Watchdogs:     o.watchdogs.Count(),
		Executors:     names,
	}
}

// lockDevice takes the per-device mutex and returns its unlock function.
func (o *Orchestrator) lockDevice(deviceID string) func() {
	mu := o.locks.Upsert(deviceID, nil, func(exist bool, valueInMap, _ *sync.Mutex) *sync.Mutex {
		if exist {
			return valueInMap
		}
		return &sync.Mutex{}
	})
	mu.Lock()
	return mu.Unlock
}

// spawn runs fn on a tracked goroutine unless the orchestrator is closed.
func (o *Orchestrator) spawn(fn func(ctx context.Context)) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return false
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(o.ctx)
	}()
	return true
}

func (o *Orchestrator) isClosed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}

// armWatchdog schedules the timeout for an action at its deadline.
func (o *Orchestrator) armWatchdog(a *action.Action) {
	if a.Deadline == nil {
		return
	}
	id := a.ID
	deviceID := a.DeviceID
	delay := time.Until(*a.Deadline)
	if delay < 0 {
		delay = 0
	}

	timer := time.AfterFunc(delay, func() {
		o.spawn(func(ctx context.Context) {
			o.expire(ctx, id, deviceID)
		})
	})
	if old, ok := o.watchdogs.Pop(id); ok {
		old.Stop()
	}
	o.watchdogs.Set(id, timer)
}

func (o *Orchestrator) stopWatchdog(actionID string) {
	if timer, ok := o.watchdogs.Pop(actionID); ok {
		timer.Stop()
	}
}

// expire fails an action whose deadline passed while still non-terminal.
func (o *Orchestrator) expire(ctx context.Context, actionID, deviceID string) {
	unlock := o.lockDevice(deviceID)
	defer unlock()

	o.watchdogs.Remove(actionID)

	current, err := o.ledger.Get(ctx, actionID)
	if err != nil {
		o.logger.Error("watchdog lookup failed", "action_id", actionID, "error", err)
		return
	}
	if current.IsTerminal() {
		return
	}

	o.logger.Warn("action deadline exceeded", "action_id", actionID, "device_id", deviceID, "status", current.Status)
	if _, err := o.finishLocked(ctx, current, action.StatusFailed, action.Result{
		Message: "no outcome reported before deadline",
		Reason:  action.ReasonTimeout,
	}); err != nil {
		o.logger.Error("failing timed out action", "action_id", actionID, "error", err)
	}
}
