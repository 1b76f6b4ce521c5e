package domain

import "time"

// AuditEntityType names the table an audit record refers to.
type AuditEntityType string

const (
	AuditEntityRequest AuditEntityType = "request"
	AuditEntitySession AuditEntityType = "session"
)

// AuditAction captures what happened.
type AuditAction string

const (
	AuditActionCreated           AuditAction = "created"
	AuditActionTransition        AuditAction = "status_transition"
	AuditActionSessionCreated    AuditAction = "session_created"
	AuditActionParticipantJoined AuditAction = "participant_joined"
)

// ActorType identifies who drove a change.
type ActorType string

const (
	ActorCustomer ActorType = "customer"
	ActorWorker   ActorType = "worker"
	ActorOperator ActorType = "operator"
	ActorSystem   ActorType = "system"
)

// AuditRecord is an immutable timeline entry. Records are append-only and
// tolerate out-of-order arrival; ordering is by created_at on read.
type AuditRecord struct {
	ID         string
	EntityType AuditEntityType
	EntityID   string
	Action     AuditAction
	ActorType  ActorType
	ActorID    *string
	FromStatus *string
	ToStatus   *string
	Detail     map[string]any
	CreatedAt  time.Time
}
