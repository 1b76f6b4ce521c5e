package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/dispatch-engine/internal/domain"
)

// AuditRepository stores the append-only timeline. The engine only ever
// appends; ordering is established on read by created_at.
type AuditRepository interface {
	Append(ctx context.Context, record *domain.AuditRecord) error
	ListByEntity(ctx context.Context, entityType domain.AuditEntityType, entityID string, limit int) ([]domain.AuditRecord, error)
}

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository instantiates the repository.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Append(ctx context.Context, record *domain.AuditRecord) error {
	const query = `
        INSERT INTO audit_log (id, entity_type, entity_id, action, actor_type, actor_id, from_status, to_status, detail)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		record.ID,
		record.EntityType,
		record.EntityID,
		record.Action,
		record.ActorType,
		record.ActorID,
		record.FromStatus,
		record.ToStatus,
		record.Detail,
	).Scan(&record.CreatedAt)
}

func (r *auditRepository) ListByEntity(ctx context.Context, entityType domain.AuditEntityType, entityID string, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	const query = `
        SELECT id, entity_type, entity_id, action, actor_type, actor_id, from_status, to_status, detail, created_at
        FROM audit_log WHERE entity_type=$1 AND entity_id=$2
        ORDER BY created_at ASC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AuditRecord
	for rows.Next() {
		var record domain.AuditRecord
		if err := rows.Scan(
			&record.ID,
			&record.EntityType,
			&record.EntityID,
			&record.Action,
			&record.ActorType,
			&record.ActorID,
			&record.FromStatus,
			&record.ToStatus,
			&record.Detail,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}
