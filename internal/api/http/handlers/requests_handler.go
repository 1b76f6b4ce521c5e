package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dispatch-engine/internal/api/dto"
	"github.com/spec-kit/dispatch-engine/internal/auth"
	"github.com/spec-kit/dispatch-engine/internal/domain"
	"github.com/spec-kit/dispatch-engine/internal/service"
	apperrors "github.com/spec-kit/dispatch-engine/pkg/util"
)

// RequestsHandler manages customer request intake and the worker-facing feed.
type RequestsHandler struct {
	requests *service.RequestService
	router   *service.RouterService
	claims   *service.ClaimService
	sessions *service.SessionService
}

// NewRequestsHandler constructs handler.
func NewRequestsHandler(requests *service.RequestService, router *service.RouterService, claims *service.ClaimService, sessions *service.SessionService) *RequestsHandler {
	return &RequestsHandler{requests: requests, router: router, claims: claims, sessions: sessions}
}

// CreateRequest POST /requests.
func (h *RequestsHandler) CreateRequest(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("customer required")
	}
	var req dto.CreateRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Summary) == "" {
		return apperrors.NewValidationError("summary required", nil)
	}

	request, err := h.requests.Create(c.Context(), principal.SubjectID, service.RequestCreateInput{
		Kind:               req.Kind,
		Summary:            req.Summary,
		TargetWorkerID:     req.TargetWorkerID,
		RequiredWorkshopID: req.RequiredWorkshopID,
		PreferredStart:     req.PreferredStart,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": requestSummary(request)})
}

// ListRequests GET /requests.
func (h *RequestsHandler) ListRequests(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("customer required")
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	requests, err := h.requests.ListForCustomer(c.Context(), principal.SubjectID, pageSize, (page-1)*pageSize)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestSummaries(requests)})
}

// GetRequest GET /requests/:id.
func (h *RequestsHandler) GetRequest(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	request, err := h.requests.GetForViewer(c.Context(), principal.SubjectID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestSummary(request)})
}

// CancelRequest POST /requests/:id/cancel.
func (h *RequestsHandler) CancelRequest(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("customer required")
	}
	request, err := h.requests.Cancel(c.Context(), principal.SubjectID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestSummary(request)})
}

// RequestTimeline GET /requests/:id/timeline.
func (h *RequestsHandler) RequestTimeline(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	requestID := c.Params("id")
	if _, err := h.requests.GetForViewer(c.Context(), principal.SubjectID, requestID); err != nil {
		return err
	}
	records, err := h.sessions.Timeline(c.Context(), domain.AuditEntityRequest, requestID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": auditResponses(records)})
}

// Feed GET /feed. Workers see requests routed to them.
func (h *RequestsHandler) Feed(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("worker required")
	}
	requests, err := h.router.VisibleRequests(c.Context(), principal.SubjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestSummaries(requests)})
}

// ClaimRequest POST /requests/:id/claim.
func (h *RequestsHandler) ClaimRequest(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("worker required")
	}
	session, err := h.claims.Claim(c.Context(), c.Params("id"), principal.SubjectID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": sessionResponse(session)})
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func requestSummary(request *domain.ServiceRequest) dto.RequestSummary {
	return dto.RequestSummary{
		ID:                 request.ID,
		CustomerID:         request.CustomerID,
		Kind:               request.Kind,
		Summary:            request.Summary,
		Status:             request.Status,
		TargetWorkerID:     request.TargetWorkerID,
		RequiredWorkshopID: request.RequiredWorkshopID,
		PreferredStart:     request.PreferredStart,
		WorkerID:           request.WorkerID,
		LinkedSessionID:    request.LinkedSessionID,
		CreatedAt:          request.CreatedAt,
		UpdatedAt:          request.UpdatedAt,
		AcceptedAt:         request.AcceptedAt,
	}
}

func requestSummaries(requests []domain.ServiceRequest) []dto.RequestSummary {
	items := make([]dto.RequestSummary, 0, len(requests))
	for i := range requests {
		items = append(items, requestSummary(&requests[i]))
	}
	return items
}

func auditResponses(records []domain.AuditRecord) []dto.AuditRecordResponse {
	items := make([]dto.AuditRecordResponse, 0, len(records))
	for _, record := range records {
		items = append(items, dto.AuditRecordResponse{
			ID:         record.ID,
			EntityType: record.EntityType,
			EntityID:   record.EntityID,
			Action:     record.Action,
			ActorType:  record.ActorType,
			ActorID:    record.ActorID,
			FromStatus: record.FromStatus,
			ToStatus:   record.ToStatus,
			Detail:     record.Detail,
			CreatedAt:  record.CreatedAt,
		})
	}
	return items
}
