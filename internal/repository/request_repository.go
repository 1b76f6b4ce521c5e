package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/dispatch-engine/internal/domain"
)

const requestColumns = `id, customer_id, kind, summary, target_worker_id, required_workshop_id,
               preferred_start, status, worker_id, linked_session_id, created_at, updated_at, accepted_at`

// RequestRepository encapsulates service request persistence. All status
// mutations are conditional on the current status column, which is the
// engine's sole concurrency-control primitive.
type RequestRepository interface {
	Create(ctx context.Context, request *domain.ServiceRequest) error
	GetByID(ctx context.Context, id string) (*domain.ServiceRequest, error)
	ListPending(ctx context.Context, limit int) ([]domain.ServiceRequest, error)
	ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]domain.ServiceRequest, error)

	// Claim atomically moves the request from pending to accepted, recording
	// the worker and acceptance time in the same statement. It returns
	// pgx.ErrNoRows when the request was no longer pending.
	Claim(ctx context.Context, requestID, workerID string, acceptedAt time.Time) (*domain.ServiceRequest, error)

	// Release is the compensating transition: accepted back to pending with
	// worker and acceptance time cleared. Conditional on status=accepted.
	Release(ctx context.Context, requestID string) error

	LinkSession(ctx context.Context, requestID, sessionID string) error

	// TransitionIfStatus commits from -> to only if the row still carries
	// from; it reports whether the row was updated.
	TransitionIfStatus(ctx context.Context, id string, from, to domain.RequestStatus) (bool, error)

	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.ServiceRequest, error)
	ListAcceptedUnlinked(ctx context.Context, limit int) ([]domain.ServiceRequest, error)
}

type requestRepository struct {
	pool *pgxpool.Pool
}

// NewRequestRepository instantiates the repository.
func NewRequestRepository(pool *pgxpool.Pool) RequestRepository {
	return &requestRepository{pool: pool}
}

func (r *requestRepository) Create(ctx context.Context, request *domain.ServiceRequest) error {
	const query = `
        INSERT INTO service_requests (id, customer_id, kind, summary, target_worker_id, required_workshop_id, preferred_start, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		request.ID,
		request.CustomerID,
		request.Kind,
		request.Summary,
		request.TargetWorkerID,
		request.RequiredWorkshopID,
		request.PreferredStart,
		request.Status,
	).Scan(&request.CreatedAt, &request.UpdatedAt)
}

func (r *requestRepository) GetByID(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM service_requests WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *requestRepository) ListPending(ctx context.Context, limit int) ([]domain.ServiceRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT ` + requestColumns + `
        FROM service_requests WHERE status=$1 ORDER BY created_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, domain.RequestStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (r *requestRepository) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]domain.ServiceRequest, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT ` + requestColumns + `
        FROM service_requests WHERE customer_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (r *requestRepository) Claim(ctx context.Context, requestID, workerID string, acceptedAt time.Time) (*domain.ServiceRequest, error) {
	const query = `
        UPDATE service_requests
        SET status=$1, worker_id=$2, accepted_at=$3, updated_at=NOW()
        WHERE id=$4 AND status=$5
        RETURNING ` + requestColumns
	var request domain.ServiceRequest
	if err := scanRequestRow(r.pool.QueryRow(ctx, query,
		domain.RequestStatusAccepted, workerID, acceptedAt, requestID, domain.RequestStatusPending,
	), &request); err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *requestRepository) Release(ctx context.Context, requestID string) error {
	const query = `
        UPDATE service_requests
        SET status=$1, worker_id=NULL, accepted_at=NULL, linked_session_id=NULL, updated_at=NOW()
        WHERE id=$2 AND status=$3`
	cmd, err := r.pool.Exec(ctx, query, domain.RequestStatusPending, requestID, domain.RequestStatusAccepted)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *requestRepository) LinkSession(ctx context.Context, requestID, sessionID string) error {
	const query = `
        UPDATE service_requests SET linked_session_id=$1, updated_at=NOW()
        WHERE id=$2 AND linked_session_id IS NULL`
	cmd, err := r.pool.Exec(ctx, query, sessionID, requestID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *requestRepository) TransitionIfStatus(ctx context.Context, id string, from, to domain.RequestStatus) (bool, error) {
	const query = `
        UPDATE service_requests SET status=$1, updated_at=NOW()
        WHERE id=$2 AND status=$3`
	cmd, err := r.pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *requestRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.ServiceRequest, error) {
	if limit <= 0 {
		limit = 200
	}
	const query = `SELECT ` + requestColumns + `
        FROM service_requests WHERE status=$1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, domain.RequestStatusPending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (r *requestRepository) ListAcceptedUnlinked(ctx context.Context, limit int) ([]domain.ServiceRequest, error) {
	if limit <= 0 {
		limit = 200
	}
	const query = `SELECT ` + requestColumns + `
        FROM service_requests WHERE status=$1 AND linked_session_id IS NULL ORDER BY created_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, domain.RequestStatusAccepted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (r *requestRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.ServiceRequest, error) {
	var request domain.ServiceRequest
	if err := scanRequestRow(r.pool.QueryRow(ctx, query, arg), &request); err != nil {
		return nil, err
	}
	return &request, nil
}

func scanRequestRow(row pgx.Row, request *domain.ServiceRequest) error {
	return row.Scan(
		&request.ID,
		&request.CustomerID,
		&request.Kind,
		&request.Summary,
		&request.TargetWorkerID,
		&request.RequiredWorkshopID,
		&request.PreferredStart,
		&request.Status,
		&request.WorkerID,
		&request.LinkedSessionID,
		&request.CreatedAt,
		&request.UpdatedAt,
		&request.AcceptedAt,
	)
}

func scanRequests(rows pgx.Rows) ([]domain.ServiceRequest, error) {
	var result []domain.ServiceRequest
	for rows.Next() {
		var request domain.ServiceRequest
		if err := scanRequestRow(rows, &request); err != nil {
			return nil, err
		}
		result = append(result, request)
	}
	return result, rows.Err()
}
