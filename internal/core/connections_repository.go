package core

import (
	"github.com/jmoiron/sqlx"
)

// ParticipantConnection is a connection row with both party user ids resolved
type ParticipantConnection struct {
	ID            ConnectionID     `db:"id"`
	Status        ConnectionStatus `db:"status"`
	ClientUserID  string           `db:"client_user_id"`
	TrainerUserID string           `db:"trainer_user_id"`
}

func (c *ParticipantConnection) IsActive() bool {
	return c.Status == ConnectionActive
}

// ConnectionsStorer is used by the signaling relay to authorize rooms
type ConnectionsStorer interface {
	FindForParticipant(id ConnectionID, userID string) (*ParticipantConnection, error)
}

type ConnectionsRepository struct {
	db *sqlx.DB
}

func NewConnectionsRepository(db *sqlx.DB) *ConnectionsRepository {
	return &ConnectionsRepository{
		db: db,
	}
}

// FindForParticipant returns sql.ErrNoRows when the user is neither the client nor the trainer
func (r *ConnectionsRepository) FindForParticipant(id ConnectionID, userID string) (*ParticipantConnection, error) {
	conn := &ParticipantConnection{}

	err := r.db.Get(conn, `SELECT c.id, c.status, c.user_id AS client_user_id, t.user_id AS trainer_user_id
		FROM connections c
		JOIN trainers t ON t.id = c.trainer_id
		WHERE c.id = $1 AND (c.user_id = $2 OR t.user_id = $2)
		LIMIT 1`,
		id,
		userID,
	)
	if err != nil {
		return nil, err
	}

	return conn, nil
}
