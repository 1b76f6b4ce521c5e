package dto

import (
	"time"

	"github.com/spec-kit/dispatch-engine/internal/domain"
)

// CreateRequestRequest payload.
type CreateRequestRequest struct {
	Kind               domain.SessionKind `json:"kind"`
	Summary            string             `json:"summary"`
	TargetWorkerID     *string            `json:"target_worker_id"`
	RequiredWorkshopID *string            `json:"required_workshop_id"`
	PreferredStart     *time.Time         `json:"preferred_start"`
}

// RequestSummary response.
type RequestSummary struct {
	ID                 string               `json:"id"`
	CustomerID         string               `json:"customer_id"`
	Kind               domain.SessionKind   `json:"kind"`
	Summary            string               `json:"summary"`
	Status             domain.RequestStatus `json:"status"`
	TargetWorkerID     *string              `json:"target_worker_id,omitempty"`
	RequiredWorkshopID *string              `json:"required_workshop_id,omitempty"`
	PreferredStart     *time.Time           `json:"preferred_start,omitempty"`
	WorkerID           *string              `json:"worker_id,omitempty"`
	LinkedSessionID    *string              `json:"linked_session_id,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	AcceptedAt         *time.Time           `json:"accepted_at,omitempty"`
}

// AuditRecordResponse is one timeline entry.
type AuditRecordResponse struct {
	ID         string                 `json:"id"`
	EntityType domain.AuditEntityType `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Action     domain.AuditAction     `json:"action"`
	ActorType  domain.ActorType       `json:"actor_type"`
	ActorID    *string                `json:"actor_id,omitempty"`
	FromStatus *string                `json:"from_status,omitempty"`
	ToStatus   *string                `json:"to_status,omitempty"`
	Detail     map[string]any         `json:"detail,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
