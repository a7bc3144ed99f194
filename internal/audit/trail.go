package audit

import (
	"context"
	"sync"
	"time"
)

const (
	defaultBufferSize = 256
	writeTimeout      = 5 * time.Second
)

// Logger defines the logging interface used by the Trail.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Trail writes audit entries asynchronously through a single writer
// goroutine. Record never blocks: when the buffer is full the entry is
// dropped and a warning logged.
type Trail struct {
	repo   Repository
	source string
	logger Logger

	entries chan *Entry
	stop    chan struct{}
	done    chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewTrail creates a trail writing to repo. source tags every entry (e.g.
// "fleetd"). bufferSize <= 0 uses the default.
func NewTrail(repo Repository, source string, bufferSize int) *Trail {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Trail{
		repo:    repo,
		source:  source,
		logger:  noopLogger{},
		entries: make(chan *Entry, bufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger for write failures and dropped entries.
func (t *Trail) SetLogger(logger Logger) {
	t.logger = logger
}

// Start launches the writer goroutine.
func (t *Trail) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.closed {
		return
	}
	t.started = true
	go t.run()
}

// Record enqueues an entry.
func (t *Trail) Record(_ context.Context, event, entityType, entityID string, details map[string]any) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}

	entry := &Entry{
		Event:      event,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     t.source,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	select {
	case t.entries <- entry:
	default:
		t.logger.Warn("audit buffer full, dropping entry",
			"event", event,
			"entity_type", entityType,
			"entity_id", entityID,
		)
	}
}

// Close stops accepting entries, writes what is buffered and waits for the
// writer to exit.
func (t *Trail) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	started := t.started
	t.mu.Unlock()

	if !started {
		t.drain()
		return
	}
	close(t.stop)
	<-t.done
}

func (t *Trail) run() {
	defer close(t.done)
	for {
		select {
		case e := <-t.entries:
			t.write(e)
		case <-t.stop:
			t.drain()
			return
		}
	}
}

func (t *Trail) drain() {
	for {
		select {
		case e := <-t.entries:
			t.write(e)
		default:
			return
		}
	}
}

func (t *Trail) write(e *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := t.repo.Create(ctx, e); err != nil {
		t.logger.Error("audit write failed",
			"event", e.Event,
			"entity_id", e.EntityID,
			"error", err,
		)
	}
}
