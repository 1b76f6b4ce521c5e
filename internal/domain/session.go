package domain

import "time"

// SessionStatus enumerates lifecycle states for sessions.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusWaiting   SessionStatus = "waiting"
	SessionStatusLive      SessionStatus = "live"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusExpired   SessionStatus = "expired"
)

// SessionKind enumerates the kinds of help a session delivers.
type SessionKind string

const (
	SessionKindChat       SessionKind = "chat"
	SessionKindVideo      SessionKind = "video"
	SessionKindDiagnostic SessionKind = "diagnostic"
)

// RemoteEligible reports whether the kind can be served without workshop
// presence. Diagnostic work needs the vehicle on site.
func (k SessionKind) RemoteEligible() bool {
	return k == SessionKindChat || k == SessionKindVideo
}

// Session is the live unit of work once a request is claimed. It is created
// exclusively by the assignment coordinator and mutated only through
// status-conditional updates.
type Session struct {
	ID           string
	RequestID    string
	CustomerID   string
	WorkerID     string
	Kind         SessionKind
	Status       SessionStatus
	ScheduledFor *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
}

// Duration returns elapsed time between start and end, or nil when the
// session never actually started.
func (s *Session) Duration() *time.Duration {
	if s.StartedAt == nil || s.EndedAt == nil {
		return nil
	}
	d := s.EndedAt.Sub(*s.StartedAt)
	return &d
}
