// Package machinepool abstracts acquisition and release of worker
// machines. It is the sole authority on who holds a machine: the
// controller must never assign or release one outside this package.
package machinepool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/common/logger"
	"github.com/driftcloud/agentcore/internal/storage"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

const (
	waitPollInterval        = 2 * time.Second
	maxRestoredReservations = 10000
)

// Pool is the machine-pool collaborator: a queue of reservations drained
// against a capacity-bounded provisioner, plus claim/release for
// user-registered custom machines.
type Pool struct {
	reservations *storage.ReservationRepository
	customs      *storage.CustomMachineRepository
	provisioner  MachineProvisioner
	log          *logger.Logger

	queue         *reservationQueue
	maxActive     int
	activeCount   int64
	schedulerStop chan struct{}
	schedulerWG   sync.WaitGroup

	mu      sync.Mutex
	machine map[string]*ProvisionedMachine // machineID -> coords, for Release/deleteMachine
}

// New builds a Pool and starts its background scheduler, which drains
// queued reservations one at a time as capacity allows.
func New(reservations *storage.ReservationRepository, customs *storage.CustomMachineRepository, provisioner MachineProvisioner, maxActive int, log *logger.Logger) *Pool {
	p := &Pool{
		reservations:  reservations,
		customs:       customs,
		provisioner:   provisioner,
		log:           log.WithFields(zap.String("component", "machinepool")),
		queue:         newReservationQueue(),
		maxActive:     maxActive,
		schedulerStop: make(chan struct{}),
		machine:       make(map[string]*ProvisionedMachine),
	}
	p.restoreQueue()
	p.schedulerWG.Add(1)
	go p.runScheduler()
	return p
}

// restoreQueue reloads queued reservations from storage so the scheduler
// picks up where it left off across a controller restart.
func (p *Pool) restoreQueue() {
	pending, err := p.reservations.ListQueued(context.Background(), maxRestoredReservations)
	if err != nil {
		p.log.Error("failed to restore reservation queue", zap.Error(err))
		return
	}
	for _, res := range pending {
		p.queue.push(res.ID, res.AgentID, res.RequestedAt)
	}
}

// Stop halts the background scheduler. It does not release machines
// already assigned.
func (p *Pool) Stop() {
	close(p.schedulerStop)
	p.schedulerWG.Wait()
}

// Reserve inserts a new queued reservation and returns its id.
func (p *Pool) Reserve(ctx context.Context, agentID string) (string, error) {
	res := &v1.Reservation{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		Status:      v1.ReservationQueued,
		RequestedAt: time.Now().UTC(),
	}
	if err := p.reservations.Create(ctx, res); err != nil {
		return "", fmt.Errorf("machinepool: create reservation: %w", err)
	}
	p.queue.push(res.ID, agentID, res.RequestedAt)
	return res.ID, nil
}

// WaitForAssignment blocks, polling every 2 seconds, until the
// reservation is marked assigned (or a terminal state, or ctx expires).
func (p *Pool) WaitForAssignment(ctx context.Context, reservationID string) (*v1.MachineCoords, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		res, err := p.reservations.Get(ctx, reservationID)
		if err != nil {
			return nil, fmt.Errorf("machinepool: get reservation: %w", err)
		}
		switch res.Status {
		case v1.ReservationAssigned, v1.ReservationFulfilled:
			p.mu.Lock()
			machine := p.machine[res.MachineID]
			p.mu.Unlock()
			if machine == nil {
				return nil, fmt.Errorf("machinepool: reservation %s assigned but machine %s not tracked", reservationID, res.MachineID)
			}
			return &v1.MachineCoords{
				MachineID:    machine.MachineID,
				Address:      machine.Address,
				SharedKey:    machine.SharedKey,
				DesktopURL:   machine.DesktopURL,
				DesktopToken: machine.DesktopToken,
			}, nil
		case v1.ReservationCancelled:
			return nil, fmt.Errorf("machinepool: reservation %s was cancelled", reservationID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Fulfill marks a reservation terminal once the agent has taken
// possession of its machine.
func (p *Pool) Fulfill(ctx context.Context, reservationID string) error {
	return p.reservations.Fulfill(ctx, reservationID)
}

// Cancel marks a reservation terminal without granting a machine.
func (p *Pool) Cancel(ctx context.Context, reservationID string) error {
	return p.reservations.Cancel(ctx, reservationID)
}

// ClaimCustom atomically claims a user-registered machine for an agent.
func (p *Pool) ClaimCustom(ctx context.Context, machineID, agentID string) (*v1.MachineCoords, error) {
	if err := p.customs.Claim(ctx, machineID, agentID); err != nil {
		return nil, err
	}
	m, err := p.customs.Get(ctx, machineID)
	if err != nil {
		return nil, err
	}
	return &v1.MachineCoords{MachineID: m.ID, Address: m.Address, SharedKey: m.SharedKey}, nil
}

// ReleaseCustom returns a custom machine to the available pool after a
// failed provisioning attempt.
func (p *Pool) ReleaseCustom(ctx context.Context, machineID string) error {
	return p.customs.Release(ctx, machineID)
}

// Release returns a pool-provisioned machine: destroys the underlying
// remote machine and forgets it.
func (p *Pool) Release(ctx context.Context, machineID string) error {
	if err := p.provisioner.Release(ctx, machineID); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.machine, machineID)
	p.mu.Unlock()
	atomic.AddInt64(&p.activeCount, -1)
	return nil
}

// DeleteMachine is the administrative counterpart of Release for custom
// machines — removes the registration entirely.
func (p *Pool) DeleteMachine(ctx context.Context, machineID string) error {
	return p.customs.Delete(ctx, machineID)
}

// CleanupAll releases every pool-provisioned machine this process knows
// about. Used on administrative reset.
func (p *Pool) CleanupAll(ctx context.Context) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.machine))
	for id := range p.machine {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := p.Release(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetActiveCount reports how many pool machines are currently held.
func (p *Pool) GetActiveCount() int {
	return int(atomic.LoadInt64(&p.activeCount))
}

// GetParkingMetrics reports pool capacity for administrative endpoints.
func (p *Pool) GetParkingMetrics(ctx context.Context) (*v1.PoolMetrics, error) {
	queued, err := p.reservations.CountByStatus(ctx, v1.ReservationQueued)
	if err != nil {
		return nil, err
	}
	return &v1.PoolMetrics{
		ActiveMachines: p.GetActiveCount(),
		QueuedCount:    queued,
		MaxActive:      p.maxActive,
	}, nil
}

// runScheduler drains the reservation queue, provisioning one machine at
// a time per freed slot, up to maxActive concurrent machines.
func (p *Pool) runScheduler() {
	defer p.schedulerWG.Done()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.schedulerStop:
			return
		case <-ticker.C:
			p.drainOnce()
		}
	}
}

func (p *Pool) drainOnce() {
	for int(atomic.LoadInt64(&p.activeCount)) < p.maxActive {
		next := p.queue.pop()
		if next == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), spriteCreateTimeout)
		machine, err := p.provisioner.Acquire(ctx)
		cancel()
		if err != nil {
			p.log.Error("failed to acquire machine for reservation",
				zap.String("reservation_id", next.reservationID), zap.Error(err))
			_ = p.reservations.Cancel(context.Background(), next.reservationID)
			continue
		}

		atomic.AddInt64(&p.activeCount, 1)
		p.mu.Lock()
		p.machine[machine.MachineID] = machine
		p.mu.Unlock()

		if err := p.reservations.Assign(context.Background(), next.reservationID, machine.MachineID); err != nil {
			p.log.Error("failed to mark reservation assigned",
				zap.String("reservation_id", next.reservationID), zap.Error(err))
		}
	}
}
