package service

import (
	"context"
	"errors"
	"strings"
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

// RequestService covers the customer-facing request lifecycle: intake and
// cancellation. Claiming belongs to the coordinator.
type RequestService struct {
	requests   repository.RequestRepository
	audit      repository.AuditRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// RequestCreateInput describes intake payload.
type RequestCreateInput struct {
	Kind               domain.SessionKind
	Summary            string
	TargetWorkerID     *string
	RequiredWorkshopID *string
	PreferredStart     *time.Time
}

// NewRequestService constructs the service.
func NewRequestService(requests repository.RequestRepository, audit repository.AuditRepository, dispatcher events.Dispatcher, logger *zap.Logger, now func() time.Time) *RequestService {
	if now == nil {
		now = time.Now
	}
	return &RequestService{
		requests:   requests,
		audit:      audit,
		dispatcher: dispatcher,
		logger:     logger,
		now:        now,
	}
}

// Create registers a pending request for a customer.
func (s *RequestService) Create(ctx context.Context, customerID string, input RequestCreateInput) (*domain.ServiceRequest, error) {
	switch input.Kind {
	case domain.SessionKindChat, domain.SessionKindVideo, domain.SessionKindDiagnostic:
	default:
		return nil, apperrors.NewValidationError("unknown session kind", map[string]any{"kind": string(input.Kind)})
	}

	request := &domain.ServiceRequest{
		ID:                 uuid.NewString(),
		CustomerID:         customerID,
		Kind:               input.Kind,
		Summary:            strings.TrimSpace(input.Summary),
		TargetWorkerID:     input.TargetWorkerID,
		RequiredWorkshopID: input.RequiredWorkshopID,
		PreferredStart:     input.PreferredStart,
		Status:             domain.RequestStatusPending,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.appendAudit(ctx, &domain.AuditRecord{
		EntityType: domain.AuditEntityRequest,
		EntityID:   request.ID,
		Action:     domain.AuditActionCreated,
		ActorType:  domain.ActorCustomer,
		ActorID:    &customerID,
		ToStatus:   statusPtr(string(domain.RequestStatusPending)),
	})
	s.publish(ctx, events.Event{
		Type:      events.EventRequestCreated,
		RequestID: request.ID,
		Actor:     events.Actor{Type: domain.ActorCustomer, UserID: &customerID},
		Payload: events.RequestCreatedPayload{
			CustomerID: customerID,
			Kind:       request.Kind,
			Targeted:   request.TargetWorkerID != nil,
		},
	})
	return request, nil
}

// ListForCustomer returns the customer's own requests.
func (s *RequestService) ListForCustomer(ctx context.Context, customerID string, limit, offset int) ([]domain.ServiceRequest, error) {
	requests, err := s.requests.ListByCustomer(ctx, customerID, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return requests, nil
}

// Cancel moves a customer's pending request to cancelled.
func (s *RequestService) Cancel(ctx context.Context, customerID, requestID string) (*domain.ServiceRequest, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("request", map[string]any{"request_id": requestID})
		}
		return nil, apperrors.MapError(err)
	}
	if request.CustomerID != customerID {
		return nil, apperrors.NewForbidden("not the request owner")
	}

	if err := fsm.AssertRequestTransition(request.Status, domain.RequestStatusCancelled); err != nil {
		return nil, err
	}
	moved, err := s.requests.TransitionIfStatus(ctx, requestID, request.Status, domain.RequestStatusCancelled)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !moved {
		return nil, apperrors.NewConflict("request status changed concurrently",
			map[string]any{"request_id": requestID})
	}
	request.Status = domain.RequestStatusCancelled

	s.appendAudit(ctx, &domain.AuditRecord{
		EntityType: domain.AuditEntityRequest,
		EntityID:   requestID,
		Action:     domain.AuditActionTransition,
		ActorType:  domain.ActorCustomer,
		ActorID:    &customerID,
		FromStatus: statusPtr(string(domain.RequestStatusPending)),
		ToStatus:   statusPtr(string(domain.RequestStatusCancelled)),
	})
	s.publish(ctx, events.Event{
		Type:      events.EventRequestCancelled,
		RequestID: requestID,
		Actor:     events.Actor{Type: domain.ActorCustomer, UserID: &customerID},
	})
	return request, nil
}

// GetForViewer returns a request visible to its owner or assigned worker.
func (s *RequestService) GetForViewer(ctx context.Context, viewerID, requestID string) (*domain.ServiceRequest, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("request", map[string]any{"request_id": requestID})
		}
		return nil, apperrors.MapError(err)
	}
	if request.CustomerID != viewerID && (request.WorkerID == nil || *request.WorkerID != viewerID) {
		return nil, apperrors.NewForbidden("not a request participant")
	}
	return request, nil
}

func (s *RequestService) appendAudit(ctx context.Context, record *domain.AuditRecord) {
	record.ID = uuid.NewString()
	if err := s.audit.Append(ctx, record); err != nil {
		s.logger.Error("audit append failed",
			zap.String("entity_id", record.EntityID),
			zap.String("action", string(record.Action)),
			zap.Error(err))
	}
}

func (s *RequestService) publish(ctx context.Context, event events.Event) {
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
