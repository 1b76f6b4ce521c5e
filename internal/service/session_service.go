package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/dispatch-engine/internal/domain"
	"github.com/spec-kit/dispatch-engine/internal/events"
	"github.com/spec-kit/dispatch-engine/internal/fsm"
	"github.com/spec-kit/dispatch-engine/internal/repository"
	apperrors "github.com/spec-kit/dispatch-engine/pkg/util"
)

// SessionService drives a session through join/start/end. Every mutation is
// a conditional update keyed on the session's current status, so concurrent
// calls resolve deterministically: the first committer wins.
type SessionService struct {
	sessions     repository.SessionRepository
	participants repository.ParticipantRepository
	audit        repository.AuditRepository
	dispatcher   events.Dispatcher
	logger       *zap.Logger
	now          func() time.Time
}

// SessionDependencies bundles collaborators.
type SessionDependencies struct {
	SessionRepo     repository.SessionRepository
	ParticipantRepo repository.ParticipantRepository
	AuditRepo       repository.AuditRepository
	Dispatcher      events.Dispatcher
	Logger          *zap.Logger
	Now             func() time.Time
}

// NewSessionService creates the runtime.
func NewSessionService(deps SessionDependencies) *SessionService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &SessionService{
		sessions:     deps.SessionRepo,
		participants: deps.ParticipantRepo,
		audit:        deps.AuditRepo,
		dispatcher:   deps.Dispatcher,
		logger:       deps.Logger,
		now:          now,
	}
}

// Get returns a session the caller participates in.
func (s *SessionService) Get(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	session, err := s.fetch(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CustomerID != userID && session.WorkerID != userID {
		return nil, apperrors.NewForbidden("not a session participant")
	}
	return session, nil
}

// Join records a participant. The upsert is idempotent: repeating a join is
// a no-op. A user may only join the side of the session they belong to.
func (s *SessionService) Join(ctx context.Context, sessionID, userID string, role domain.ParticipantRole) (*domain.Session, error) {
	session, err := s.fetch(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if fsm.SessionTerminal(session.Status) {
		return nil, apperrors.NewConflict("session already ended",
			map[string]any{"session_id": sessionID, "status": string(session.Status)})
	}

	switch role {
	case domain.RoleCustomer:
		if session.CustomerID != userID {
			return nil, apperrors.NewForbidden("not the session customer")
		}
	case domain.RoleWorker:
		if session.WorkerID != userID {
			return nil, apperrors.NewForbidden("not the session worker")
		}
	default:
		return nil, apperrors.NewValidationError("unknown participant role", map[string]any{"role": string(role)})
	}

	participant := &domain.Participant{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
	}
	inserted, err := s.participants.Upsert(ctx, participant)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if participant.UserID != userID {
		return nil, apperrors.NewConflict("role already held by another participant",
			map[string]any{"session_id": sessionID, "role": string(role)})
	}

	if inserted {
		s.appendAudit(ctx, &domain.AuditRecord{
			EntityType: domain.AuditEntitySession,
			EntityID:   sessionID,
			Action:     domain.AuditActionParticipantJoined,
			ActorType:  actorForRole(role),
			ActorID:    &userID,
			Detail:     map[string]any{"role": string(role)},
		})
	}
	return session, nil
}

// Start moves the session to live. Both participant roles must be present.
// Calling start on a session that is already live is an error, not a
// no-op: duplicate start triggers indicate a bug worth surfacing.
func (s *SessionService) Start(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	session, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	if err := fsm.AssertSessionTransition(session.Status, domain.SessionStatusLive); err != nil {
		return nil, err
	}

	joined, err := s.participants.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !rolesPresent(joined, domain.RoleCustomer, domain.RoleWorker) {
		return nil, apperrors.NewConflict("both participants must join before start",
			map[string]any{"session_id": sessionID})
	}

	startedAt := s.now()
	updated, err := s.sessions.MarkLive(ctx, sessionID, session.Status, startedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the conditional update: someone else moved the session.
			return nil, apperrors.NewConflict("session status changed concurrently",
				map[string]any{"session_id": sessionID})
		}
		return nil, apperrors.MapError(err)
	}

	s.appendAudit(ctx, &domain.AuditRecord{
		EntityType: domain.AuditEntitySession,
		EntityID:   sessionID,
		Action:     domain.AuditActionTransition,
		ActorType:  s.actorFor(updated, userID),
		ActorID:    &userID,
		FromStatus: statusPtr(string(session.Status)),
		ToStatus:   statusPtr(string(domain.SessionStatusLive)),
	})
	s.publish(ctx, events.Event{
		Type:      events.EventSessionStarted,
		RequestID: updated.RequestID,
		SessionID: updated.ID,
		Actor:     events.Actor{Type: s.actorFor(updated, userID), UserID: &userID},
		Payload: events.SessionStartedPayload{
			CustomerID: updated.CustomerID,
			WorkerID:   updated.WorkerID,
			StartedAt:  startedAt,
		},
	})
	return updated, nil
}

// End moves the session to completed or cancelled. Ending an already-ended
// session is deliberately tolerant: the frozen session is returned as a
// success with no mutation and no audit record, so double-submission from
// the UI stays idempotent.
func (s *SessionService) End(ctx context.Context, sessionID, userID string, outcome domain.SessionStatus) (*domain.Session, error) {
	if outcome != domain.SessionStatusCompleted && outcome != domain.SessionStatusCancelled {
		return nil, apperrors.NewValidationError("outcome must be completed or cancelled",
			map[string]any{"outcome": string(outcome)})
	}

	session, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if fsm.SessionTerminal(session.Status) {
		return session, nil
	}

	if err := fsm.AssertSessionTransition(session.Status, outcome); err != nil {
		return nil, err
	}

	updated, err := s.sessions.MarkEnded(ctx, sessionID, session.Status, outcome, s.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent end calls resolve deterministically: the loser
			// re-reads and, if the session is now terminal, reports success.
			current, fetchErr := s.fetch(ctx, sessionID)
			if fetchErr == nil && fsm.SessionTerminal(current.Status) {
				return current, nil
			}
			return nil, apperrors.NewConflict("session status changed concurrently",
				map[string]any{"session_id": sessionID})
		}
		return nil, apperrors.MapError(err)
	}

	s.finishSession(ctx, updated, session.Status, s.actorFor(updated, userID), &userID, false, false)
	return updated, nil
}

// ForceEnd is the emergency override: it closes the session regardless of
// participant action, choosing completed when work started and cancelled
// when it did not. The route carrying it is operator-only, and the audit
// record is marked forced=true to distinguish it from sweeper closure.
func (s *SessionService) ForceEnd(ctx context.Context, sessionID, operatorID string) (*domain.Session, error) {
	session, err := s.fetch(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if fsm.SessionTerminal(session.Status) {
		return session, nil
	}

	outcome := domain.SessionStatusCancelled
	if session.StartedAt != nil {
		outcome = domain.SessionStatusCompleted
	}
	if err := fsm.AssertSessionTransition(session.Status, outcome); err != nil {
		return nil, err
	}

	updated, err := s.sessions.MarkEnded(ctx, sessionID, session.Status, outcome, s.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, fetchErr := s.fetch(ctx, sessionID)
			if fetchErr == nil && fsm.SessionTerminal(current.Status) {
				return current, nil
			}
			return nil, apperrors.NewConflict("session status changed concurrently",
				map[string]any{"session_id": sessionID})
		}
		return nil, apperrors.MapError(err)
	}

	s.finishSession(ctx, updated, session.Status, domain.ActorOperator, &operatorID, false, true)
	return updated, nil
}

// Timeline returns the ordered audit records for a session or request.
func (s *SessionService) Timeline(ctx context.Context, entityType domain.AuditEntityType, entityID string) ([]domain.AuditRecord, error) {
	records, err := s.audit.ListByEntity(ctx, entityType, entityID, 0)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return records, nil
}

func (s *SessionService) finishSession(ctx context.Context, session *domain.Session, from domain.SessionStatus, actorType domain.ActorType, actorID *string, swept, forced bool) {
	detail := map[string]any{}
	if swept {
		detail["swept"] = true
	}
	if forced {
		detail["forced"] = true
	}
	if len(detail) == 0 {
		detail = nil
	}

	s.appendAudit(ctx, &domain.AuditRecord{
		EntityType: domain.AuditEntitySession,
		EntityID:   session.ID,
		Action:     domain.AuditActionTransition,
		ActorType:  actorType,
		ActorID:    actorID,
		FromStatus: statusPtr(string(from)),
		ToStatus:   statusPtr(string(session.Status)),
		Detail:     detail,
	})

	payload := events.SessionEndedPayload{
		CustomerID: session.CustomerID,
		WorkerID:   session.WorkerID,
		Outcome:    session.Status,
		Swept:      swept,
		Forced:     forced,
	}
	if duration := session.Duration(); duration != nil {
		ms := duration.Milliseconds()
		payload.DurationMS = &ms
	}
	s.publish(ctx, events.Event{
		Type:      events.EventSessionEnded,
		RequestID: session.RequestID,
		SessionID: session.ID,
		Actor:     events.Actor{Type: actorType, UserID: actorID},
		Payload:   payload,
	})
}

func (s *SessionService) fetch(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("session", map[string]any{"session_id": sessionID})
		}
		return nil, apperrors.MapError(err)
	}
	return session, nil
}

func (s *SessionService) actorFor(session *domain.Session, userID string) domain.ActorType {
	if session.WorkerID == userID {
		return domain.ActorWorker
	}
	return domain.ActorCustomer
}

func (s *SessionService) appendAudit(ctx context.Context, record *domain.AuditRecord) {
	record.ID = uuid.NewString()
	if err := s.audit.Append(ctx, record); err != nil {
		s.logger.Error("audit append failed",
			zap.String("entity_id", record.EntityID),
			zap.String("action", string(record.Action)),
			zap.Error(err))
	}
}

func (s *SessionService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	s.dispatcher.Publish(ctx, event)
}

func actorForRole(role domain.ParticipantRole) domain.ActorType {
	if role == domain.RoleWorker {
		return domain.ActorWorker
	}
	return domain.ActorCustomer
}

func rolesPresent(participants []domain.Participant, roles ...domain.ParticipantRole) bool {
	present := make(map[domain.ParticipantRole]bool, len(participants))
	for _, participant := range participants {
		present[participant.Role] = true
	}
	for _, role := range roles {
		if !present[role] {
			return false
		}
	}
	return true
}
