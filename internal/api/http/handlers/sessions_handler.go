package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dispatch-engine/internal/api/dto"
	"github.com/spec-kit/dispatch-engine/internal/auth"
	"github.com/spec-kit/dispatch-engine/internal/domain"
	"github.com/spec-kit/dispatch-engine/internal/service"
	apperrors "github.com/spec-kit/dispatch-engine/pkg/util"
)

// SessionsHandler manages the session runtime endpoints.
type SessionsHandler struct {
	sessions *service.SessionService
}

// NewSessionsHandler constructs handler.
func NewSessionsHandler(sessions *service.SessionService) *SessionsHandler {
	return &SessionsHandler{sessions: sessions}
}

// GetSession GET /sessions/:id.
func (h *SessionsHandler) GetSession(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	session, err := h.sessions.Get(c.Context(), c.Params("id"), principal.SubjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionResponse(session)})
}

// JoinSession POST /sessions/:id/join.
func (h *SessionsHandler) JoinSession(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.JoinSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	role := req.Role
	if role == "" {
		// Default to the role matching the caller's actor type.
		switch principal.Actor {
		case domain.ActorCustomer:
			role = domain.RoleCustomer
		case domain.ActorWorker:
			role = domain.RoleWorker
		}
	}
	session, err := h.sessions.Join(c.Context(), c.Params("id"), principal.SubjectID, role)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionResponse(session)})
}

// StartSession POST /sessions/:id/start.
func (h *SessionsHandler) StartSession(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	session, err := h.sessions.Start(c.Context(), c.Params("id"), principal.SubjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionResponse(session)})
}

// EndSession POST /sessions/:id/end.
func (h *SessionsHandler) EndSession(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.EndSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	outcome := req.Outcome
	if outcome == "" {
		outcome = domain.SessionStatusCompleted
	}
	session, err := h.sessions.End(c.Context(), c.Params("id"), principal.SubjectID, outcome)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionResponse(session)})
}

// SessionTimeline GET /sessions/:id/timeline.
func (h *SessionsHandler) SessionTimeline(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	sessionID := c.Params("id")
	if _, err := h.sessions.Get(c.Context(), sessionID, principal.SubjectID); err != nil {
		return err
	}
	records, err := h.sessions.Timeline(c.Context(), domain.AuditEntitySession, sessionID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": auditResponses(records)})
}

// ForceEndSession POST /internal/sessions/:id/force-end.
func (h *SessionsHandler) ForceEndSession(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("operator required")
	}
	session, err := h.sessions.ForceEnd(c.Context(), c.Params("id"), principal.SubjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionResponse(session)})
}

func sessionResponse(session *domain.Session) dto.SessionResponse {
	resp := dto.SessionResponse{
		ID:           session.ID,
		RequestID:    session.RequestID,
		CustomerID:   session.CustomerID,
		WorkerID:     session.WorkerID,
		Kind:         session.Kind,
		Status:       session.Status,
		ScheduledFor: session.ScheduledFor,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
		StartedAt:    session.StartedAt,
		EndedAt:      session.EndedAt,
	}
	if d := session.Duration(); d != nil {
		ms := d.Milliseconds()
		resp.DurationMS = &ms
	}
	return resp
}
