package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/dispatch-engine/internal/config"
	"github.com/spec-kit/dispatch-engine/internal/domain"
	"github.com/spec-kit/dispatch-engine/internal/events"
	"github.com/spec-kit/dispatch-engine/internal/fsm"
	"github.com/spec-kit/dispatch-engine/internal/observability"
	"github.com/spec-kit/dispatch-engine/internal/repository"
	apperrors "github.com/spec-kit/dispatch-engine/pkg/util"
)

// SweeperService force-transitions requests and sessions that overstayed a
// state-specific deadline. Every transition uses the same conditional-update
// pattern as the coordinator and runtime, so overlapping sweeps (or a live
// participant racing a sweep) skip rows already moved on, never
// double-process them. Row failures are logged and never abort the batch.
type SweeperService struct {
	requests   repository.RequestRepository
	sessions   repository.SessionRepository
	audit      repository.AuditRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	cfg        config.SweeperConfig
	now        func() time.Time
}

// SweeperDependencies bundles collaborators.
type SweeperDependencies struct {
	RequestRepo repository.RequestRepository
	SessionRepo repository.SessionRepository
	AuditRepo   repository.AuditRepository
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Config      config.SweeperConfig
	Now         func() time.Time
}

// NewSweeperService creates the sweeper. Now is injected so tests can
// simulate elapsed time deterministically.
func NewSweeperService(deps SweeperDependencies) *SweeperService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &SweeperService{
		requests:   deps.RequestRepo,
		sessions:   deps.SessionRepo,
		audit:      deps.AuditRepo,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		cfg:        deps.Config,
		now:        now,
	}
}

// SweepStats counts what a pass transitioned.
type SweepStats struct {
	RequestsUnattended int
	RequestsExpired    int
	SessionsCompleted  int
	SessionsCancelled  int
	RequestsRepaired   int
}

// Total sums all transitions in the pass.
func (s SweepStats) Total() int {
	return s.RequestsUnattended + s.RequestsExpired + s.SessionsCompleted + s.SessionsCancelled + s.RequestsRepaired
}

// Sweep runs one full pass over all policies.
func (s *SweeperService) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats
	now := s.now()

	// Expired first: a request past T2 must not be picked up by the T1
	// policy in the same pass.
	stats.RequestsExpired = s.sweepPendingRequests(ctx,
		now.Add(-s.cfg.ExpireAfter()), domain.RequestStatusExpired)
	stats.RequestsUnattended = s.sweepPendingRequests(ctx,
		now.Add(-s.cfg.UnattendedAfter()), domain.RequestStatusUnattended)

	completed, cancelled := s.sweepStaleSessions(ctx, now.Add(-s.cfg.SessionStaleAfter()))
	stats.SessionsCompleted = completed
	stats.SessionsCancelled = cancelled

	stats.RequestsRepaired = s.reconcileAcceptedRequests(ctx, now)

	s.metrics.RecordSweep("requests_unattended", stats.RequestsUnattended)
	s.metrics.RecordSweep("requests_expired", stats.RequestsExpired)
	s.metrics.RecordSweep("sessions_completed", stats.SessionsCompleted)
	s.metrics.RecordSweep("sessions_cancelled", stats.SessionsCancelled)
	s.metrics.RecordSweep("requests_repaired", stats.RequestsRepaired)
	return stats
}

func (s *SweeperService) sweepPendingRequests(ctx context.Context, cutoff time.Time, target domain.RequestStatus) int {
	stale, err := s.requests.ListPendingOlderThan(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("sweep: list pending requests failed", zap.Error(err))
		return 0
	}

	swept := 0
	for _, request := range stale {
		if err := fsm.AssertRequestTransition(request.Status, target); err != nil {
			s.logger.Error("sweep: illegal request transition skipped",
				zap.String("request_id", request.ID), zap.Error(err))
			continue
		}
		moved, err := s.requests.TransitionIfStatus(ctx, request.ID, domain.RequestStatusPending, target)
		if err != nil {
			s.logger.Error("sweep: request transition failed",
				zap.String("request_id", request.ID), zap.Error(err))
			continue
		}
		if !moved {
			// Claimed or cancelled since listing; another writer won.
			continue
		}
		swept++

		s.appendAudit(ctx, &domain.AuditRecord{
			EntityType: domain.AuditEntityRequest,
			EntityID:   request.ID,
			Action:     domain.AuditActionTransition,
			ActorType:  domain.ActorSystem,
			FromStatus: statusPtr(string(domain.RequestStatusPending)),
			ToStatus:   statusPtr(string(target)),
			Detail:     map[string]any{"swept": true},
		})
		s.publish(ctx, events.Event{
			Type:      events.EventRequestSwept,
			RequestID: request.ID,
			Actor:     events.Actor{Type: domain.ActorSystem},
			Payload: events.RequestSweptPayload{
				CustomerID: request.CustomerID,
				OldStatus:  domain.RequestStatusPending,
				NewStatus:  target,
			},
		})
	}
	return swept
}

func (s *SweeperService) sweepStaleSessions(ctx context.Context, cutoff time.Time) (completed, cancelled int) {
	stale, err := s.sessions.ListStaleActive(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("sweep: list stale sessions failed", zap.Error(err))
		return 0, 0
	}

	for _, session := range stale {
		// Work that started gets closed as completed; work that never
		// started is cancelled.
		outcome := domain.SessionStatusCancelled
		if session.StartedAt != nil {
			outcome = domain.SessionStatusCompleted
		}
		if err := fsm.AssertSessionTransition(session.Status, outcome); err != nil {
			s.logger.Error("sweep: illegal session transition skipped",
				zap.String("session_id", session.ID), zap.Error(err))
			continue
		}

		updated, err := s.sessions.MarkEnded(ctx, session.ID, session.Status, outcome, s.now())
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// A participant or concurrent sweep got there first.
				continue
			}
			s.logger.Error("sweep: session transition failed",
				zap.String("session_id", session.ID), zap.Error(err))
			continue
		}

		if outcome == domain.SessionStatusCompleted {
			completed++
		} else {
			cancelled++
		}

		s.appendAudit(ctx, &domain.AuditRecord{
			EntityType: domain.AuditEntitySession,
			EntityID:   session.ID,
			Action:     domain.AuditActionTransition,
			ActorType:  domain.ActorSystem,
			FromStatus: statusPtr(string(session.Status)),
			ToStatus:   statusPtr(string(outcome)),
			Detail:     map[string]any{"swept": true},
		})

		payload := events.SessionEndedPayload{
			CustomerID: updated.CustomerID,
			WorkerID:   updated.WorkerID,
			Outcome:    outcome,
			Swept:      true,
		}
		if duration := updated.Duration(); duration != nil {
			ms := duration.Milliseconds()
			payload.DurationMS = &ms
		}
		s.publish(ctx, events.Event{
			Type:      events.EventSessionSwept,
			RequestID: updated.RequestID,
			SessionID: updated.ID,
			Actor:     events.Actor{Type: domain.ActorSystem},
			Payload:   payload,
		})
	}
	return completed, cancelled
}

// reconcileAcceptedRequests repairs requests left accepted with no linked
// session (a coordinator crash window). Young requests go back to the pool;
// older ones are closed as unattended.
func (s *SweeperService) reconcileAcceptedRequests(ctx context.Context, now time.Time) int {
	orphaned, err := s.requests.ListAcceptedUnlinked(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("sweep: list orphaned requests failed", zap.Error(err))
		return 0
	}

	repaired := 0
	for _, request := range orphaned {
		inconsistent := apperrors.NewInconsistent("request accepted with no linked session",
			map[string]any{"request_id": request.ID})
		s.logger.Error("sweep: reconciliation event",
			zap.String("request_id", request.ID),
			zap.Error(inconsistent))

		if request.AcceptedAt != nil && now.Sub(*request.AcceptedAt) < s.cfg.UnattendedAfter() {
			if err := s.requests.Release(ctx, request.ID); err != nil {
				if !errors.Is(err, pgx.ErrNoRows) {
					s.logger.Error("sweep: release failed",
						zap.String("request_id", request.ID), zap.Error(err))
				}
				continue
			}
			repaired++
			s.appendAudit(ctx, &domain.AuditRecord{
				EntityType: domain.AuditEntityRequest,
				EntityID:   request.ID,
				Action:     domain.AuditActionTransition,
				ActorType:  domain.ActorSystem,
				FromStatus: statusPtr(string(domain.RequestStatusAccepted)),
				ToStatus:   statusPtr(string(domain.RequestStatusPending)),
				Detail:     map[string]any{"repaired": true},
			})
			continue
		}

		moved, err := s.requests.TransitionIfStatus(ctx, request.ID, domain.RequestStatusAccepted, domain.RequestStatusUnattended)
		if err != nil {
			s.logger.Error("sweep: unattended transition failed",
				zap.String("request_id", request.ID), zap.Error(err))
			continue
		}
		if moved {
			repaired++
			s.appendAudit(ctx, &domain.AuditRecord{
				EntityType: domain.AuditEntityRequest,
				EntityID:   request.ID,
				Action:     domain.AuditActionTransition,
				ActorType:  domain.ActorSystem,
				FromStatus: statusPtr(string(domain.RequestStatusAccepted)),
				ToStatus:   statusPtr(string(domain.RequestStatusUnattended)),
				Detail:     map[string]any{"repaired": true},
			})
		}
	}
	return repaired
}

func (s *SweeperService) appendAudit(ctx context.Context, record *domain.AuditRecord) {
	record.ID = uuid.NewString()
	if err := s.audit.Append(ctx, record); err != nil {
		s.logger.Error("audit append failed",
			zap.String("entity_id", record.EntityID),
			zap.String("action", string(record.Action)),
			zap.Error(err))
	}
}

func (s *SweeperService) publish(ctx context.Context, event events.Event) {
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
