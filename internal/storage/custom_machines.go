package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/driftcloud/agentcore/internal/db"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// CustomMachineRepository stores user-registered, manually-owned workers
// outside the pool. Claim/release are transactional: the pool is
// authoritative for who holds a machine.
type CustomMachineRepository struct {
	pool   *db.Pool
	driver string
}

const customMachineColumns = `id, user_id, address, shared_key, status, agent_id, created_at`

func scanCustomMachine(row interface{ Scan(dest ...any) error }) (*v1.CustomMachine, error) {
	m := &v1.CustomMachine{}
	if err := row.Scan(&m.ID, &m.UserID, &m.Address, &m.SharedKey, &m.Status, &m.AgentID, &m.CreatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

// Get fetches a custom machine by id.
func (r *CustomMachineRepository) Get(ctx context.Context, id string) (*v1.CustomMachine, error) {
	row := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(
		`SELECT `+customMachineColumns+` FROM custom_machines WHERE id = ?`), id)
	return scanCustomMachine(row)
}

// Claim atomically stamps a machine in_use by an agent, failing if it is
// already in_use (owned by another agent) — the one-transaction claim
// the provisioning algorithm requires for custom machines.
func (r *CustomMachineRepository) Claim(ctx context.Context, machineID, agentID string) error {
	tx, err := r.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE custom_machines SET status = ?, agent_id = ?
		WHERE id = ? AND status != ?
	`), v1.CustomMachineInUse, agentID, machineID, v1.CustomMachineInUse)
	if err != nil {
		return fmt.Errorf("claim machine: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("machine %s is already in use", machineID)
	}
	return tx.Commit()
}

// Release is the compensating transaction for a failed provisioning
// attempt: returns the machine to `available` and clears its agent.
func (r *CustomMachineRepository) Release(ctx context.Context, machineID string) error {
	tx, err := r.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE custom_machines SET status = ?, agent_id = '' WHERE id = ?
	`), v1.CustomMachineAvailable, machineID)
	if err != nil {
		return fmt.Errorf("release machine: %w", err)
	}
	return tx.Commit()
}

// Register inserts a newly-added custom machine, available by default.
func (r *CustomMachineRepository) Register(ctx context.Context, m *v1.CustomMachine) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = v1.CustomMachineAvailable
	}
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		INSERT INTO custom_machines (`+customMachineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), m.ID, m.UserID, m.Address, m.SharedKey, m.Status, m.AgentID, m.CreatedAt)
	return err
}

// Delete removes a custom machine registration — the administrative
// deleteMachine operation.
func (r *CustomMachineRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(
		`DELETE FROM custom_machines WHERE id = ?`), id)
	return err
}
