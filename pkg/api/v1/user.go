package v1

import "time"

// User is the minimal identity the controller needs to attribute an agent
// to its owner. Authentication and profile management are out of scope.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
