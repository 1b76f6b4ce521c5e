package events

import (
	"time"

	"github.com/spec-kit/dispatch-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventRequestCreated   EventType = "request_created"
	EventRequestClaimed   EventType = "request_claimed"
	EventRequestCancelled EventType = "request_cancelled"
	EventRequestSwept     EventType = "request_swept"
	EventSessionStarted   EventType = "session_started"
	EventSessionEnded     EventType = "session_ended"
	EventSessionSwept     EventType = "session_swept"
)

// Actor encapsulates who triggered an event.
type Actor struct {
	Type   domain.ActorType `json:"type"`
	UserID *string          `json:"user_id,omitempty"`
}

// Event represents a domain event emitted by the engine.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RequestCreatedPayload payload.
type RequestCreatedPayload struct {
	CustomerID string             `json:"customer_id"`
	Kind       domain.SessionKind `json:"kind"`
	Targeted   bool               `json:"targeted"`
}

// RequestClaimedPayload payload.
type RequestClaimedPayload struct {
	CustomerID string               `json:"customer_id"`
	WorkerID   string               `json:"worker_id"`
	SessionID  string               `json:"session_id"`
	Status     domain.SessionStatus `json:"session_status"`
}

// RequestSweptPayload payload.
type RequestSweptPayload struct {
	CustomerID string               `json:"customer_id"`
	OldStatus  domain.RequestStatus `json:"old_status"`
	NewStatus  domain.RequestStatus `json:"new_status"`
}

// SessionStartedPayload payload.
type SessionStartedPayload struct {
	CustomerID string    `json:"customer_id"`
	WorkerID   string    `json:"worker_id"`
	StartedAt  time.Time `json:"started_at"`
}

// SessionEndedPayload payload.
type SessionEndedPayload struct {
	CustomerID string               `json:"customer_id"`
	WorkerID   string               `json:"worker_id"`
	Outcome    domain.SessionStatus `json:"outcome"`
	Swept      bool                 `json:"swept"`
	Forced     bool                 `json:"forced"`
	DurationMS *int64               `json:"duration_ms,omitempty"`
}
