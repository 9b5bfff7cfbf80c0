package machinepool

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftcloud/agentcore/internal/common/config"
	"github.com/driftcloud/agentcore/internal/common/logger"
	"github.com/driftcloud/agentcore/internal/storage"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(t.TempDir(), "pool.db")
	store, closeFn, err := storage.Provide(cfg)
	if err != nil {
		t.Fatalf("Provide: %v", err)
	}
	t.Cleanup(func() { _ = closeFn() })
	return store
}

// fakeProvisioner hands back deterministic, counter-based machines and
// records Acquire/Release calls without touching any real remote API.
type fakeProvisioner struct {
	next      int64
	acquired  int64
	released  int64
	acquireFn func() (*ProvisionedMachine, error)
}

func (f *fakeProvisioner) Acquire(ctx context.Context) (*ProvisionedMachine, error) {
	atomic.AddInt64(&f.acquired, 1)
	if f.acquireFn != nil {
		return f.acquireFn()
	}
	id := atomic.AddInt64(&f.next, 1)
	return &ProvisionedMachine{
		MachineID: fmt.Sprintf("machine-%d", id),
		Address:   fmt.Sprintf("10.0.0.%d:8443", id),
		SharedKey: "shared-key",
	}, nil
}

func (f *fakeProvisioner) Release(ctx context.Context, machineID string) error {
	atomic.AddInt64(&f.released, 1)
	return nil
}

func TestPoolReserveAndWaitForAssignment(t *testing.T) {
	store := newTestStore(t)
	log := newTestLogger(t)
	provisioner := &fakeProvisioner{}

	pool := New(store.Reservations, store.CustomMachines, provisioner, 2, log)
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resID, err := pool.Reserve(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	coords, err := pool.WaitForAssignment(ctx, resID)
	if err != nil {
		t.Fatalf("WaitForAssignment: %v", err)
	}
	if coords.MachineID == "" || coords.Address == "" {
		t.Errorf("expected populated machine coords, got %+v", coords)
	}
	if pool.GetActiveCount() != 1 {
		t.Errorf("expected active count 1, got %d", pool.GetActiveCount())
	}

	if err := pool.Fulfill(ctx, resID); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}

	if err := pool.Release(ctx, coords.MachineID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if pool.GetActiveCount() != 0 {
		t.Errorf("expected active count 0 after release, got %d", pool.GetActiveCount())
	}
}

func TestPoolRespectsMaxActive(t *testing.T) {
	store := newTestStore(t)
	log := newTestLogger(t)
	provisioner := &fakeProvisioner{}

	pool := New(store.Reservations, store.CustomMachines, provisioner, 1, log)
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res1, err := pool.Reserve(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	res2, err := pool.Reserve(ctx, "agent-2")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if _, err := pool.WaitForAssignment(ctx, res1); err != nil {
		t.Fatalf("WaitForAssignment(res1): %v", err)
	}

	// res2 must stay queued while maxActive==1 is saturated.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer shortCancel()
	if _, err := pool.WaitForAssignment(shortCtx, res2); err == nil {
		t.Error("expected res2 to remain unassigned while the pool is saturated")
	}
	if pool.GetActiveCount() != 1 {
		t.Errorf("expected active count capped at 1, got %d", pool.GetActiveCount())
	}
}

func TestPoolMetrics(t *testing.T) {
	store := newTestStore(t)
	log := newTestLogger(t)
	provisioner := &fakeProvisioner{}

	pool := New(store.Reservations, store.CustomMachines, provisioner, 5, log)
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resID, err := pool.Reserve(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := pool.WaitForAssignment(ctx, resID); err != nil {
		t.Fatalf("WaitForAssignment: %v", err)
	}

	metrics, err := pool.GetParkingMetrics(ctx)
	if err != nil {
		t.Fatalf("GetParkingMetrics: %v", err)
	}
	if metrics.ActiveMachines != 1 || metrics.MaxActive != 5 {
		t.Errorf("unexpected metrics: %+v", metrics)
	}
}

func TestPoolCancelReservation(t *testing.T) {
	store := newTestStore(t)
	log := newTestLogger(t)
	provisioner := &fakeProvisioner{}

	// Zero capacity: the reservation never leaves the queue until
	// cancelled, exercising Cancel's terminal-state path independent of
	// the scheduler.
	pool := New(store.Reservations, store.CustomMachines, provisioner, 0, log)
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resID, err := pool.Reserve(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := pool.Cancel(ctx, resID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if _, err := pool.WaitForAssignment(ctx, resID); err == nil {
		t.Error("expected WaitForAssignment to fail for a cancelled reservation")
	}
}

func TestPoolCustomMachineClaimRelease(t *testing.T) {
	store := newTestStore(t)
	log := newTestLogger(t)
	provisioner := &fakeProvisioner{}
	pool := New(store.Reservations, store.CustomMachines, provisioner, 1, log)
	defer pool.Stop()

	ctx := context.Background()
	custom := &v1.CustomMachine{
		ID:        "custom-1",
		UserID:    "user-1",
		Address:   "custom.example.com:8443",
		SharedKey: "custom-key",
	}
	if err := store.CustomMachines.Register(ctx, custom); err != nil {
		t.Fatalf("Register: %v", err)
	}

	coords, err := pool.ClaimCustom(ctx, custom.ID, "agent-1")
	if err != nil {
		t.Fatalf("ClaimCustom: %v", err)
	}
	if coords.MachineID != custom.ID || coords.Address != custom.Address {
		t.Errorf("unexpected coords: %+v", coords)
	}

	if err := pool.ReleaseCustom(ctx, custom.ID); err != nil {
		t.Fatalf("ReleaseCustom: %v", err)
	}
}
