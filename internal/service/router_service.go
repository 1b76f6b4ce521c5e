package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/dispatch-engine/internal/domain"
	"github.com/spec-kit/dispatch-engine/internal/eligibility"
	"github.com/spec-kit/dispatch-engine/internal/repository"
	apperrors "github.com/spec-kit/dispatch-engine/pkg/util"
)

// RouterService matches pending requests against the pool of eligible
// workers. It is a pure read-side filter with no side effects.
type RouterService struct {
	requests    repository.RequestRepository
	eligibility eligibility.Provider
	logger      *zap.Logger
}

// NewRouterService creates the service.
func NewRouterService(requests repository.RequestRepository, provider eligibility.Provider, logger *zap.Logger) *RouterService {
	return &RouterService{requests: requests, eligibility: provider, logger: logger}
}

// VisibleRequests returns the pending requests the worker may claim.
func (s *RouterService) VisibleRequests(ctx context.Context, workerID string) ([]domain.ServiceRequest, error) {
	elig, err := s.eligibility.Lookup(ctx, workerID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !elig.CanAcceptSessions {
		return nil, apperrors.NewIneligible("worker not approved to accept sessions", map[string]any{"worker_id": workerID})
	}

	pending, err := s.requests.ListPending(ctx, 0)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	visible := make([]domain.ServiceRequest, 0, len(pending))
	for _, request := range pending {
		if visibleTo(elig, &request) {
			visible = append(visible, request)
		}
	}
	return visible, nil
}

// CanClaim reports whether the worker is eligible for the request. The
// claim path calls this before attempting the conditional commit.
func (s *RouterService) CanClaim(ctx context.Context, workerID string, request *domain.ServiceRequest) (bool, error) {
	elig, err := s.eligibility.Lookup(ctx, workerID)
	if err != nil {
		return false, apperrors.MapError(err)
	}
	if !elig.CanAcceptSessions {
		return false, nil
	}
	return visibleTo(elig, request), nil
}

// visibleTo applies the routing rules in order; first match wins.
func visibleTo(elig *domain.WorkerEligibility, request *domain.ServiceRequest) bool {
	// Targeted requests are visible only to the targeted worker.
	if request.TargetWorkerID != nil && *request.TargetWorkerID != elig.WorkerID {
		return false
	}

	if elig.Tier == domain.TierWorkshop {
		// Workshop-scoped workers see their own workshop's requests and the
		// general pool.
		if request.RequiredWorkshopID != nil {
			return elig.WorkshopID != nil && *request.RequiredWorkshopID == *elig.WorkshopID
		}
		return true
	}

	// Unrestricted workers see the general pool; workshop-bound requests
	// only when the kind can be served remotely.
	if request.RequiredWorkshopID == nil {
		return true
	}
	return request.Kind.RemoteEligible()
}
