package dto

import (
	"time"

	"github.com/spec-kit/dispatch-engine/internal/domain"
)

// JoinSessionRequest payload.
type JoinSessionRequest struct {
	Role domain.ParticipantRole `json:"role"`
}

// EndSessionRequest payload.
type EndSessionRequest struct {
	Outcome domain.SessionStatus `json:"outcome"`
}

// SessionResponse carries full session state.
type SessionResponse struct {
	ID           string               `json:"id"`
	RequestID    string               `json:"request_id"`
	CustomerID   string               `json:"customer_id"`
	WorkerID     string               `json:"worker_id"`
	Kind         domain.SessionKind   `json:"kind"`
	Status       domain.SessionStatus `json:"status"`
	ScheduledFor *time.Time           `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	EndedAt      *time.Time           `json:"ended_at,omitempty"`
	DurationMS   *int64               `json:"duration_ms,omitempty"`
}
