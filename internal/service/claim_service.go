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
	"github.com/spec-kit/dispatch-engine/internal/observability"
	"github.com/spec-kit/dispatch-engine/internal/repository"
	apperrors "github.com/spec-kit/dispatch-engine/pkg/util"
)

// storeRetryBackoff is applied once before retrying a transient store
// failure inside the coordinator.
const storeRetryBackoff = 100 * time.Millisecond

// ClaimService converts a claim attempt into an atomic, race-free commit
// establishing the request -> worker -> session binding exactly once. The
// conditional update in the request repository is the sole correctness
// mechanism; no external lock is taken.
type ClaimService struct {
	requests     repository.RequestRepository
	sessions     repository.SessionRepository
	participants repository.ParticipantRepository
	audit        repository.AuditRepository
	router       *RouterService
	dispatcher   events.Dispatcher
	metrics      *observability.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

// ClaimDependencies bundles collaborators.
type ClaimDependencies struct {
	RequestRepo     repository.RequestRepository
	SessionRepo     repository.SessionRepository
	ParticipantRepo repository.ParticipantRepository
	AuditRepo       repository.AuditRepository
	Router          *RouterService
	Dispatcher      events.Dispatcher
	Metrics         *observability.Metrics
	Logger          *zap.Logger
	Now             func() time.Time
}

// NewClaimService creates the coordinator.
func NewClaimService(deps ClaimDependencies) *ClaimService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &ClaimService{
		requests:     deps.RequestRepo,
		sessions:     deps.SessionRepo,
		participants: deps.ParticipantRepo,
		audit:        deps.AuditRepo,
		router:       deps.Router,
		dispatcher:   deps.Dispatcher,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          now,
	}
}

// Claim attempts to commit the request to the worker. Exactly one of any
// set of concurrent claims on the same request succeeds; the rest receive
// ALREADY_CLAIMED and should pick another request.
func (s *ClaimService) Claim(ctx context.Context, requestID, workerID string) (*domain.Session, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("request", map[string]any{"request_id": requestID})
		}
		return nil, apperrors.MapError(err)
	}

	if request.Status != domain.RequestStatusPending {
		s.metrics.RecordClaim("lost")
		return nil, apperrors.NewAlreadyClaimed(requestID)
	}

	eligible, err := s.router.CanClaim(ctx, workerID, request)
	if err != nil {
		return nil, err
	}
	if !eligible {
		s.metrics.RecordClaim("ineligible")
		return nil, apperrors.NewIneligible("worker not eligible for request",
			map[string]any{"worker_id": workerID, "request_id": requestID})
	}

	active, err := s.sessions.CountActiveByWorker(ctx, workerID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if active > 0 {
		return nil, apperrors.NewConflict("worker already has an active session",
			map[string]any{"worker_id": workerID})
	}

	if err := fsm.AssertRequestTransition(request.Status, domain.RequestStatusAccepted); err != nil {
		return nil, err
	}

	// The conditional commit: pending -> accepted only if still pending,
	// recording the worker and acceptance time in the same statement.
	acceptedAt := s.now()
	accepted, err := s.claimWithRetry(ctx, requestID, workerID, acceptedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.metrics.RecordClaim("lost")
			return nil, apperrors.NewAlreadyClaimed(requestID)
		}
		return nil, apperrors.MapError(err)
	}

	session, err := s.createSession(ctx, accepted)
	if err != nil {
		s.compensate(ctx, accepted, err)
		return nil, apperrors.MapError(err)
	}

	if err := s.requests.LinkSession(ctx, accepted.ID, session.ID); err != nil {
		// The session exists; the accepted/no-link window is closed by the
		// sweeper's reconciliation pass if this log line is all that remains.
		s.logger.Error("failed to link session to request",
			zap.String("request_id", accepted.ID),
			zap.String("session_id", session.ID),
			zap.Error(err))
	}
	accepted.LinkedSessionID = &session.ID

	s.appendAudit(ctx, &domain.AuditRecord{
		EntityType: domain.AuditEntityRequest,
		EntityID:   accepted.ID,
		Action:     domain.AuditActionTransition,
		ActorType:  domain.ActorWorker,
		ActorID:    &workerID,
		FromStatus: statusPtr(string(domain.RequestStatusPending)),
		ToStatus:   statusPtr(string(domain.RequestStatusAccepted)),
	})
	s.appendAudit(ctx, &domain.AuditRecord{
		EntityType: domain.AuditEntitySession,
		EntityID:   session.ID,
		Action:     domain.AuditActionSessionCreated,
		ActorType:  domain.ActorWorker,
		ActorID:    &workerID,
		ToStatus:   statusPtr(string(session.Status)),
		Detail:     map[string]any{"request_id": accepted.ID},
	})

	s.metrics.RecordClaim("won")
	s.publish(ctx, events.Event{
		Type:      events.EventRequestClaimed,
		RequestID: accepted.ID,
		SessionID: session.ID,
		Actor:     events.Actor{Type: domain.ActorWorker, UserID: &workerID},
		Payload: events.RequestClaimedPayload{
			CustomerID: accepted.CustomerID,
			WorkerID:   workerID,
			SessionID:  session.ID,
			Status:     session.Status,
		},
	})

	return session, nil
}

// claimWithRetry retries the conditional update once after a short backoff
// on transient store errors. A conditional miss (ErrNoRows) is not
// transient and is returned immediately.
func (s *ClaimService) claimWithRetry(ctx context.Context, requestID, workerID string, acceptedAt time.Time) (*domain.ServiceRequest, error) {
	accepted, err := s.requests.Claim(ctx, requestID, workerID, acceptedAt)
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return accepted, err
	}

	s.logger.Warn("claim store error, retrying once",
		zap.String("request_id", requestID), zap.Error(err))

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(storeRetryBackoff):
	}
	return s.requests.Claim(ctx, requestID, workerID, acceptedAt)
}

func (s *ClaimService) createSession(ctx context.Context, request *domain.ServiceRequest) (*domain.Session, error) {
	status := domain.SessionStatusWaiting
	if request.PreferredStart != nil && request.PreferredStart.After(s.now()) {
		status = domain.SessionStatusScheduled
	}
	if err := fsm.AssertSessionTransition(domain.SessionStatusPending, status); err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:           uuid.NewString(),
		RequestID:    request.ID,
		CustomerID:   request.CustomerID,
		WorkerID:     *request.WorkerID,
		Kind:         request.Kind,
		Status:       status,
		ScheduledFor: request.PreferredStart,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// compensate rolls the request back to pending after session creation
// failed. A request must never remain accepted with no session.
func (s *ClaimService) compensate(ctx context.Context, request *domain.ServiceRequest, cause error) {
	s.logger.Error("session creation failed after claim commit, releasing request",
		zap.String("request_id", request.ID),
		zap.Error(cause))

	if err := s.requests.Release(ctx, request.ID); err != nil {
		inconsistent := apperrors.NewInconsistent("request accepted with no session and release failed",
			map[string]any{"request_id": request.ID})
		s.logger.Error("compensating release failed, flagging for reconciliation",
			zap.String("request_id", request.ID),
			zap.NamedError("release_error", err),
			zap.Error(inconsistent))
		return
	}

	s.appendAudit(ctx, &domain.AuditRecord{
		EntityType: domain.AuditEntityRequest,
		EntityID:   request.ID,
		Action:     domain.AuditActionTransition,
		ActorType:  domain.ActorSystem,
		FromStatus: statusPtr(string(domain.RequestStatusAccepted)),
		ToStatus:   statusPtr(string(domain.RequestStatusPending)),
		Detail:     map[string]any{"compensated": true},
	})
}

func (s *ClaimService) appendAudit(ctx context.Context, record *domain.AuditRecord) {
	record.ID = uuid.NewString()
	if err := s.audit.Append(ctx, record); err != nil {
		// Audit append failures never roll back the transition they record.
		s.logger.Error("audit append failed",
			zap.String("entity_id", record.EntityID),
			zap.String("action", string(record.Action)),
			zap.Error(err))
	}
}

func (s *ClaimService) publish(ctx context.Context, event events.Event) {
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

func statusPtr(status string) *string {
	return &status
}
