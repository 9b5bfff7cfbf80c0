package v1

import "time"

// ReservationStatus is the lifecycle of a machine-pool queue entry.
type ReservationStatus string

const (
	ReservationQueued    ReservationStatus = "queued"
	ReservationAssigned  ReservationStatus = "assigned"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Reservation is a row in the machine-pool queue.
type Reservation struct {
	ID          string            `db:"id" json:"id"`
	AgentID     string            `db:"agent_id" json:"agentId"`
	Status      ReservationStatus `db:"status" json:"status"`
	MachineID   string            `db:"machine_id" json:"machineId,omitempty"`
	RequestedAt time.Time         `db:"requested_at" json:"requestedAt"`
	AssignedAt  *time.Time        `db:"assigned_at" json:"assignedAt,omitempty"`
}

// MachineCoords is what the pool hands back once a reservation is assigned.
type MachineCoords struct {
	MachineID       string `json:"machineId"`
	Address         string `json:"address"`
	SharedKey       string `json:"sharedKey"`
	DesktopURL      string `json:"desktopUrl,omitempty"`
	DesktopToken    string `json:"desktopToken,omitempty"`
}

// CustomMachineStatus is the claim state of a user-registered machine.
type CustomMachineStatus string

const (
	CustomMachineAvailable CustomMachineStatus = "available"
	CustomMachineInUse     CustomMachineStatus = "in_use"
)

// CustomMachine is a user-owned, manually registered worker not in the pool.
type CustomMachine struct {
	ID        string              `db:"id" json:"id"`
	UserID    string              `db:"user_id" json:"userId"`
	Address   string              `db:"address" json:"address"`
	SharedKey string              `db:"shared_key" json:"-"`
	Status    CustomMachineStatus `db:"status" json:"status"`
	AgentID   string              `db:"agent_id" json:"agentId,omitempty"`
	CreatedAt time.Time           `db:"created_at" json:"createdAt"`
}

// PoolMetrics reports pool capacity for administrative endpoints.
type PoolMetrics struct {
	ActiveMachines int `json:"activeMachines"`
	QueuedCount    int `json:"queuedCount"`
	MaxActive      int `json:"maxActive"`
}
