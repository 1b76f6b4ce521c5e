// Package fsm is the single source of truth for request and session status
// transitions. Every mutation path in the engine funnels through AssertRequestTransition
// or AssertSessionTransition; no call site computes legality itself.
package fsm

import (
	"fmt"
	"net/http"

	"github.com/spec-kit/dispatch-engine/internal/domain"
	apperrors "github.com/spec-kit/dispatch-engine/pkg/util"
)

// TransitionError reports an illegal edge, carrying (from, to) for
// diagnostics. Callers surface it as a conflict and never retry blindly.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition: %s -> %s", e.Entity, e.From, e.To)
}

func newTransitionError(entity, from, to string) error {
	return &apperrors.DomainError{
		Code:       apperrors.CodeIllegalTransition,
		Message:    fmt.Sprintf("illegal %s transition", entity),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"from": from, "to": to},
		Err:        &TransitionError{Entity: entity, From: from, To: to},
	}
}

// The tables are total: every known state has a defined, possibly empty,
// edge set. States with an empty set are terminal.
var requestTransitions = map[domain.RequestStatus][]domain.RequestStatus{
	domain.RequestStatusPending: {
		domain.RequestStatusAccepted,
		domain.RequestStatusCancelled,
		domain.RequestStatusUnattended,
		domain.RequestStatusExpired,
	},
	// accepted is terminal from the request's point of view; control passes
	// to the session.
	domain.RequestStatusAccepted:   {},
	domain.RequestStatusCancelled:  {},
	domain.RequestStatusUnattended: {},
	domain.RequestStatusExpired:    {},
}

var sessionTransitions = map[domain.SessionStatus][]domain.SessionStatus{
	domain.SessionStatusPending: {
		domain.SessionStatusScheduled,
		domain.SessionStatusWaiting,
		domain.SessionStatusCancelled,
	},
	domain.SessionStatusScheduled: {
		domain.SessionStatusWaiting,
		domain.SessionStatusLive,
		domain.SessionStatusCancelled,
	},
	domain.SessionStatusWaiting: {
		domain.SessionStatusLive,
		domain.SessionStatusCancelled,
		domain.SessionStatusExpired,
	},
	domain.SessionStatusLive: {
		domain.SessionStatusCompleted,
		domain.SessionStatusCancelled,
	},
	domain.SessionStatusCompleted: {},
	domain.SessionStatusCancelled: {},
	domain.SessionStatusExpired:   {},
}

// RequestTransitionAllowed reports whether a request may move from one
// status to another.
func RequestTransitionAllowed(from, to domain.RequestStatus) bool {
	for _, candidate := range requestTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// AssertRequestTransition returns an IllegalTransition error when the edge
// is not in the table.
func AssertRequestTransition(from, to domain.RequestStatus) error {
	if !RequestTransitionAllowed(from, to) {
		return newTransitionError("request", string(from), string(to))
	}
	return nil
}

// RequestTerminal reports whether a request status has no outgoing edges.
func RequestTerminal(status domain.RequestStatus) bool {
	return len(requestTransitions[status]) == 0
}

// SessionTransitionAllowed reports whether a session may move from one
// status to another.
func SessionTransitionAllowed(from, to domain.SessionStatus) bool {
	for _, candidate := range sessionTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// AssertSessionTransition returns an IllegalTransition error when the edge
// is not in the table.
func AssertSessionTransition(from, to domain.SessionStatus) error {
	if !SessionTransitionAllowed(from, to) {
		return newTransitionError("session", string(from), string(to))
	}
	return nil
}

// SessionTerminal reports whether a session status has no outgoing edges.
// Terminal sessions are frozen: append the audit record, then no further
// field mutation.
func SessionTerminal(status domain.SessionStatus) bool {
	return len(sessionTransitions[status]) == 0
}

// NextSessionStatuses returns the valid next statuses from a given status,
// for diagnostics and error details.
func NextSessionStatuses(from domain.SessionStatus) []domain.SessionStatus {
	out := make([]domain.SessionStatus, len(sessionTransitions[from]))
	copy(out, sessionTransitions[from])
	return out
}
