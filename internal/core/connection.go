package core

import "time"

// ConnectionID is an opaque identifier of trainer-client pairing
type ConnectionID string

type ConnectionStatus string

const (
	ConnectionPending   ConnectionStatus = "pending"
	ConnectionActive    ConnectionStatus = "active"
	ConnectionCancelled ConnectionStatus = "cancelled"
)

// IsOpen reports whether the pairing still blocks a new request to the same trainer
func (s ConnectionStatus) IsOpen() bool {
	return s == ConnectionPending || s == ConnectionActive
}

type User struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email,omitempty" db:"email"`
}

type Trainer struct {
	ID        string `json:"id" db:"id"`
	User      User   `json:"user"`
	Specialty string `json:"specialty,omitempty" db:"specialty"`
}

type Connection struct {
	ID        ConnectionID     `json:"id" db:"id"`
	Status    ConnectionStatus `json:"status" db:"status"`
	User      User             `json:"user"`
	Trainer   Trainer          `json:"trainer"`
	CreatedAt time.Time        `json:"createdAt,omitempty" db:"created_at"`
}

// IsActive reports whether chat and calls are allowed.
// Statuses this package does not know about are never actionable.
func (c Connection) IsActive() bool {
	return c.Status == ConnectionActive
}

// Counterpart returns the name of the other party for the given role
func (c Connection) Counterpart(role Role) string {
	if role.IsTrainer() {
		return c.User.Name
	}
	return c.Trainer.User.Name
}

// ConnectionIDs returns ids of all connections in list order
func ConnectionIDs(connections []Connection) []ConnectionID {
	ids := make([]ConnectionID, 0, len(connections))
	for _, c := range connections {
		ids = append(ids, c.ID)
	}
	return ids
}
