package storage

import (
	"context"
	"time"

	"github.com/driftcloud/agentcore/internal/db"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// ReservationRepository stores the machine-pool queue row per agent. The
// pool scheduler is the only writer of `status`; the controller only
// reads it while waiting for assignment.
type ReservationRepository struct {
	pool   *db.Pool
	driver string
}

const reservationColumns = `id, agent_id, status, machine_id, requested_at, assigned_at`

func scanReservation(row interface{ Scan(dest ...any) error }) (*v1.Reservation, error) {
	res := &v1.Reservation{}
	if err := row.Scan(&res.ID, &res.AgentID, &res.Status, &res.MachineID, &res.RequestedAt, &res.AssignedAt); err != nil {
		return nil, err
	}
	return res, nil
}

// Create inserts a new `queued` reservation.
func (r *ReservationRepository) Create(ctx context.Context, res *v1.Reservation) error {
	if res.RequestedAt.IsZero() {
		res.RequestedAt = time.Now().UTC()
	}
	if res.Status == "" {
		res.Status = v1.ReservationQueued
	}
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		INSERT INTO machine_reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`), res.ID, res.AgentID, res.Status, res.MachineID, res.RequestedAt, res.AssignedAt)
	return err
}

// Get fetches a reservation by id — what waitForAssignment polls every 2s.
func (r *ReservationRepository) Get(ctx context.Context, id string) (*v1.Reservation, error) {
	row := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(
		`SELECT `+reservationColumns+` FROM machine_reservations WHERE id = ?`), id)
	return scanReservation(row)
}

// ListQueued returns queued reservations oldest-first, the order the pool
// scheduler's priority queue drains in.
func (r *ReservationRepository) ListQueued(ctx context.Context, limit int) ([]*v1.Reservation, error) {
	rows, err := r.pool.Reader().QueryxContext(ctx, r.pool.Reader().Rebind(`
		SELECT `+reservationColumns+` FROM machine_reservations
		WHERE status = ?
		ORDER BY requested_at ASC
		LIMIT ?
	`), v1.ReservationQueued, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*v1.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Assign stamps a reservation `assigned` with the machine it was given.
func (r *ReservationRepository) Assign(ctx context.Context, id, machineID string) error {
	now := time.Now().UTC()
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		UPDATE machine_reservations SET status = ?, machine_id = ?, assigned_at = ? WHERE id = ?
	`), v1.ReservationAssigned, machineID, now, id)
	return err
}

// Fulfill marks a reservation terminal once the agent has taken
// possession of the machine.
func (r *ReservationRepository) Fulfill(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, v1.ReservationFulfilled)
}

// Cancel marks a reservation terminal without a machine being granted.
func (r *ReservationRepository) Cancel(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, v1.ReservationCancelled)
}

func (r *ReservationRepository) setStatus(ctx context.Context, id string, status v1.ReservationStatus) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(
		`UPDATE machine_reservations SET status = ? WHERE id = ?`), status, id)
	return err
}

// CountByStatus reports queue depth for a given status — feeds pool
// metrics (queuedCount, activeMachines).
func (r *ReservationRepository) CountByStatus(ctx context.Context, status v1.ReservationStatus) (int, error) {
	var count int
	err := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(
		`SELECT COUNT(*) FROM machine_reservations WHERE status = ?`), status).Scan(&count)
	return count, err
}
