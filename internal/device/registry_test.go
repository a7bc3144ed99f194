package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	devices map[string]*Device

	createErr error
	updateErr error
	creates   int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{devices: make(map[string]*Device)}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok {
		return d.DeepCopy(), nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d.DeepCopy())
	}
	sortByID(devices)
	return devices, nil
}

func (m *MockRepository) Create(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.devices[d.ID]; exists {
		return ErrDeviceExists
	}
	m.creates++
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

func (m *MockRepository) UpdateStatus(_ context.Context, id string, status Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.Status = status
	d.LastSeen = &at
	d.UpdatedAt = at
	return nil
}

func (m *MockRepository) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.LastSeen = &at
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *MockRepository) {
	t.Helper()
	repo := NewMockRepository()
	reg := NewRegistry(repo)
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	return reg, repo
}

func TestRegistry_Register(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	d, err := reg.Register(ctx, "dev-1", StatusIdle, Metadata{"site": "lab"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if d.ID != "dev-1" || d.Status != StatusIdle {
		t.Errorf("Register() = %+v", d)
	}
	if d.LastSeen == nil || d.CreatedAt.IsZero() {
		t.Error("Register() should set last_seen and created_at")
	}
	if _, err := repo.GetByID(ctx, "dev-1"); err != nil {
		t.Errorf("device not persisted: %v", err)
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
}

func TestRegistry_RegisterDefaultsToIdle(t *testing.T) {
	reg, _ := newTestRegistry(t)
	d, err := reg.Register(context.Background(), "dev-1", "", nil)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if d.Status != StatusIdle {
		t.Errorf("Status = %s, want IDLE", d.Status)
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, "d1", StatusIdle, nil); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	_, err := reg.Register(ctx, "d1", StatusIdle, nil)
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("second Register() error = %v, want ErrDeviceExists", err)
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		status Status
		meta   Metadata
		want   error
	}{
		{"empty id", "", StatusIdle, nil, ErrInvalidDevice},
		{"topic wildcard in id", "dev/+", StatusIdle, nil, ErrInvalidDevice},
		{"unknown status", "dev-1", "SLEEPING", nil, ErrInvalidStatus},
		{"busy at registration", "dev-1", StatusBusy, nil, ErrInvalidStatus},
		{"empty metadata key", "dev-1", StatusIdle, Metadata{"": "x"}, ErrInvalidDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, repo := newTestRegistry(t)
			_, err := reg.Register(context.Background(), tt.id, tt.status, tt.meta)
			if !errors.Is(err, tt.want) {
				t.Errorf("Register() error = %v, want %v", err, tt.want)
			}
			if repo.creates != 0 {
				t.Error("invalid registration must not reach the repository")
			}
		})
	}
}

func TestRegistry_ConcurrentRegisterSameID(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	const workers = 20
	var succeeded, existed atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Register(ctx, "dev-race", StatusIdle, nil)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrDeviceExists):
				existed.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 1 || existed.Load() != workers-1 {
		t.Errorf("succeeded=%d existed=%d, want 1 and %d", succeeded.Load(), existed.Load(), workers-1)
	}
	if repo.creates != 1 {
		t.Errorf("repository creates = %d, want 1", repo.creates)
	}
}

func TestRegistry_Get(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Get(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrDeviceNotFound", err)
	}

	if _, err := reg.Register(ctx, "dev-1", StatusOffline, Metadata{"k": "v"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	first, err := reg.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	first.Metadata["k"] = "mutated"
	first.Status = StatusBusy

	second, err := reg.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if second.Metadata["k"] != "v" || second.Status != StatusOffline {
		t.Errorf("cache was mutated through a returned copy: %+v", second)
	}
}

func TestRegistry_GetFallsBackBeforeRefresh(t *testing.T) {
	repo := NewMockRepository()
	repo.devices["dev-1"] = &Device{ID: "dev-1", Status: StatusUnknown}
	reg := NewRegistry(repo)

	d, err := reg.Get(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.Status != StatusUnknown {
		t.Errorf("Status = %s, want UNKNOWN", d.Status)
	}

	devices, err := reg.List(context.Background())
	if err != nil || len(devices) != 1 {
		t.Errorf("List() = %v, %v; want one device from repository", devices, err)
	}
}

func TestRegistry_ListOrderedByID(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		if _, err := reg.Register(ctx, id, StatusIdle, nil); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}

	devices, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	got := make([]string, len(devices))
	for i, d := range devices {
		got[i] = d.ID
	}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List() order = %v, want %v", got, want)
		}
	}
}

func TestRegistry_SetStatus(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	clock := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }

	if _, err := reg.Register(ctx, "dev-1", StatusIdle, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	clock = clock.Add(time.Minute)
	d, err := reg.SetStatus(ctx, "dev-1", StatusBusy)
	if err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if d.Status != StatusBusy {
		t.Errorf("Status = %s, want BUSY", d.Status)
	}
	if d.LastSeen == nil || !d.LastSeen.Equal(clock) {
		t.Errorf("LastSeen = %v, want %v", d.LastSeen, clock)
	}

	stored, _ := repo.GetByID(ctx, "dev-1")
	if stored.Status != StatusBusy {
		t.Errorf("repository status = %s, want BUSY", stored.Status)
	}

	if _, err := reg.SetStatus(ctx, "missing", StatusIdle); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetStatus(missing) error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := reg.SetStatus(ctx, "dev-1", "BROKEN"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("SetStatus(BROKEN) error = %v, want ErrInvalidStatus", err)
	}
}

func TestRegistry_SetStatusRepositoryFailureKeepsCache(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, "dev-1", StatusIdle, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	repo.updateErr = errors.New("disk full")
	if _, err := reg.SetStatus(ctx, "dev-1", StatusOffline); err == nil {
		t.Fatal("SetStatus() should surface the repository error")
	}

	d, _ := reg.Get(ctx, "dev-1")
	if d.Status != StatusIdle {
		t.Errorf("cached status = %s after failed write, want IDLE", d.Status)
	}
}

func TestRegistry_ConcurrentReadsSeeWholeStatus(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, "dev-1", StatusIdle, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < 200; i++ {
			next := StatusBusy
			if i%2 == 1 {
				next = StatusIdle
			}
			if _, err := reg.SetStatus(ctx, "dev-1", next); err != nil {
				t.Errorf("SetStatus() error = %v", err)
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			wg.Wait()
			return
		default:
		}
		d, err := reg.Get(ctx, "dev-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if d.Status != StatusIdle && d.Status != StatusBusy {
			t.Fatalf("observed status %q", d.Status)
		}
	}
}

func TestRegistry_Touch(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	clock := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }
	if _, err := reg.Register(ctx, "dev-1", StatusOffline, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	clock = clock.Add(time.Hour)
	if err := reg.Touch(ctx, "dev-1"); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	d, _ := reg.Get(ctx, "dev-1")
	if !d.LastSeen.Equal(clock) || d.Status != StatusOffline {
		t.Errorf("after Touch() = %+v", d)
	}

	if err := reg.Touch(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Touch(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_GetStats(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for id, s := range map[string]Status{"a": StatusIdle, "b": StatusIdle, "c": StatusOffline} {
		if _, err := reg.Register(ctx, id, s, nil); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}

	stats := reg.GetStats()
	if stats.TotalDevices != 3 {
		t.Errorf("TotalDevices = %d, want 3", stats.TotalDevices)
	}
	if stats.ByStatus[StatusIdle] != 2 || stats.ByStatus[StatusOffline] != 1 || stats.ByStatus[StatusBusy] != 0 {
		t.Errorf("ByStatus = %v", stats.ByStatus)
	}
}
