package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/dispatch-engine/internal/domain"
)

// ParticipantRepository stores session participants. Upsert is idempotent
// per (session, role): repeating a join changes nothing.
type ParticipantRepository interface {
	// Upsert inserts the participant unless the (session, role) slot is
	// already filled, and reports whether a row was inserted. The stored
	// participant for the slot is returned either way.
	Upsert(ctx context.Context, participant *domain.Participant) (bool, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.Participant, error)
}

type participantRepository struct {
	pool *pgxpool.Pool
}

// NewParticipantRepository instantiates the repository.
func NewParticipantRepository(pool *pgxpool.Pool) ParticipantRepository {
	return &participantRepository{pool: pool}
}

func (r *participantRepository) Upsert(ctx context.Context, participant *domain.Participant) (bool, error) {
	const insert = `
        INSERT INTO session_participants (id, session_id, user_id, role)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (session_id, role) DO NOTHING`
	cmd, err := r.pool.Exec(ctx, insert,
		participant.ID, participant.SessionID, participant.UserID, participant.Role)
	if err != nil {
		return false, err
	}
	inserted := cmd.RowsAffected() > 0

	const query = `
        SELECT id, session_id, user_id, role, joined_at
        FROM session_participants WHERE session_id=$1 AND role=$2`
	if err := r.pool.QueryRow(ctx, query, participant.SessionID, participant.Role).Scan(
		&participant.ID,
		&participant.SessionID,
		&participant.UserID,
		&participant.Role,
		&participant.JoinedAt,
	); err != nil {
		return false, err
	}
	return inserted, nil
}

func (r *participantRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	const query = `
        SELECT id, session_id, user_id, role, joined_at
        FROM session_participants WHERE session_id=$1 ORDER BY joined_at ASC`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Participant
	for rows.Next() {
		var participant domain.Participant
		if err := rows.Scan(
			&participant.ID,
			&participant.SessionID,
			&participant.UserID,
			&participant.Role,
			&participant.JoinedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, participant)
	}
	return result, rows.Err()
}
