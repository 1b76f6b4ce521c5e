package domain

import "time"

// ParticipantRole binds a user to one side of a session.
type ParticipantRole string

const (
	RoleCustomer ParticipantRole = "customer"
	RoleWorker   ParticipantRole = "worker"
)

// Participant records that a user joined a session. A session carries exactly
// one customer-role and at most one worker-role participant.
type Participant struct {
	ID        string
	SessionID string
	UserID    string
	Role      ParticipantRole
	JoinedAt  time.Time
}
