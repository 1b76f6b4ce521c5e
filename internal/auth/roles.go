package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dispatch-engine/internal/domain"
	apperrors "github.com/spec-kit/dispatch-engine/pkg/util"
)

// RequireCustomer ensures a customer is authenticated.
func RequireCustomer() fiber.Handler {
	return requireActor(domain.ActorCustomer, "customer required")
}

// RequireWorker ensures a worker is authenticated.
func RequireWorker() fiber.Handler {
	return requireActor(domain.ActorWorker, "worker required")
}

// RequireOperator gates the emergency override surface. Forced transitions
// are operator-only.
func RequireOperator() fiber.Handler {
	return requireActor(domain.ActorOperator, "operator required")
}

func requireActor(actor domain.ActorType, message string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if principal.Actor != actor {
			return apperrors.NewForbidden(message)
		}
		return c.Next()
	}
}
