package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/dispatch-engine/internal/domain"
)

const sessionColumns = `id, request_id, customer_id, worker_id, kind, status, scheduled_for,
               created_at, updated_at, started_at, ended_at`

// SessionRepository encapsulates session persistence. Status mutations are
// conditional updates keyed on the current status.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)

	// MarkLive moves the session to live and stamps started_at, only if the
	// row still carries the expected status. Returns pgx.ErrNoRows on a miss.
	MarkLive(ctx context.Context, id string, expected domain.SessionStatus, startedAt time.Time) (*domain.Session, error)

	// MarkEnded moves the session to a terminal status and stamps ended_at,
	// only if the row still carries the expected status.
	MarkEnded(ctx context.Context, id string, expected, terminal domain.SessionStatus, endedAt time.Time) (*domain.Session, error)

	TransitionIfStatus(ctx context.Context, id string, from, to domain.SessionStatus) (bool, error)

	CountActiveByWorker(ctx context.Context, workerID string) (int, error)
	ListStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]domain.Session, error)
}

type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository instantiates the repository.
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

func (r *sessionRepository) Create(ctx context.Context, session *domain.Session) error {
	const query = `
        INSERT INTO sessions (id, request_id, customer_id, worker_id, kind, status, scheduled_for)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		session.ID,
		session.RequestID,
		session.CustomerID,
		session.WorkerID,
		session.Kind,
		session.Status,
		session.ScheduledFor,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE id=$1`
	var session domain.Session
	if err := scanSessionRow(r.pool.QueryRow(ctx, query, id), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) MarkLive(ctx context.Context, id string, expected domain.SessionStatus, startedAt time.Time) (*domain.Session, error) {
	const query = `
        UPDATE sessions
        SET status=$1, started_at=COALESCE(started_at, $2), updated_at=NOW()
        WHERE id=$3 AND status=$4
        RETURNING ` + sessionColumns
	var session domain.Session
	if err := scanSessionRow(r.pool.QueryRow(ctx, query,
		domain.SessionStatusLive, startedAt, id, expected,
	), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) MarkEnded(ctx context.Context, id string, expected, terminal domain.SessionStatus, endedAt time.Time) (*domain.Session, error) {
	const query = `
        UPDATE sessions
        SET status=$1, ended_at=COALESCE(ended_at, $2), updated_at=NOW()
        WHERE id=$3 AND status=$4
        RETURNING ` + sessionColumns
	var session domain.Session
	if err := scanSessionRow(r.pool.QueryRow(ctx, query,
		terminal, endedAt, id, expected,
	), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) TransitionIfStatus(ctx context.Context, id string, from, to domain.SessionStatus) (bool, error) {
	const query = `
        UPDATE sessions SET status=$1, updated_at=NOW()
        WHERE id=$2 AND status=$3`
	cmd, err := r.pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *sessionRepository) CountActiveByWorker(ctx context.Context, workerID string) (int, error) {
	const query = `
        SELECT COUNT(*) FROM sessions
        WHERE worker_id=$1 AND status IN ($2,$3,$4,$5)`
	var count int
	err := r.pool.QueryRow(ctx, query, workerID,
		domain.SessionStatusPending,
		domain.SessionStatusScheduled,
		domain.SessionStatusWaiting,
		domain.SessionStatusLive,
	).Scan(&count)
	return count, err
}

func (r *sessionRepository) ListStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 200
	}
	const query = `SELECT ` + sessionColumns + `
        FROM sessions
        WHERE status IN ($1,$2) AND created_at < $3
        ORDER BY created_at ASC LIMIT $4`
	rows, err := r.pool.Query(ctx, query,
		domain.SessionStatusWaiting, domain.SessionStatusLive, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSessionRow(row pgx.Row, session *domain.Session) error {
	return row.Scan(
		&session.ID,
		&session.RequestID,
		&session.CustomerID,
		&session.WorkerID,
		&session.Kind,
		&session.Status,
		&session.ScheduledFor,
		&session.CreatedAt,
		&session.UpdatedAt,
		&session.StartedAt,
		&session.EndedAt,
	)
}

func scanSessions(rows pgx.Rows) ([]domain.Session, error) {
	var result []domain.Session
	for rows.Next() {
		var session domain.Session
		if err := scanSessionRow(rows, &session); err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	return result, rows.Err()
}
