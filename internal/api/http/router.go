package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dispatch-engine/internal/api/http/handlers"
	"github.com/spec-kit/dispatch-engine/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Requests       *handlers.RequestsHandler
	Sessions       *handlers.SessionsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	// Customer surface.
	requests := app.Group("/requests", cfg.AuthMiddleware.Handle)
	requests.Post("", auth.RequireCustomer(), cfg.Requests.CreateRequest)
	requests.Get("", auth.RequireCustomer(), cfg.Requests.ListRequests)
	requests.Get("/:id", cfg.Requests.GetRequest)
	requests.Post("/:id/cancel", auth.RequireCustomer(), cfg.Requests.CancelRequest)
	requests.Get("/:id/timeline", cfg.Requests.RequestTimeline)
	requests.Post("/:id/claim", auth.RequireWorker(), cfg.Requests.ClaimRequest)

	// Worker surface.
	app.Get("/feed", cfg.AuthMiddleware.Handle, auth.RequireWorker(), cfg.Requests.Feed)

	// Session runtime, shared by both participants.
	sessions := app.Group("/sessions", cfg.AuthMiddleware.Handle)
	sessions.Get("/:id", cfg.Sessions.GetSession)
	sessions.Post("/:id/join", cfg.Sessions.JoinSession)
	sessions.Post("/:id/start", cfg.Sessions.StartSession)
	sessions.Post("/:id/end", cfg.Sessions.EndSession)
	sessions.Get("/:id/timeline", cfg.Sessions.SessionTimeline)

	// Operator surface.
	internal := app.Group("/internal", cfg.AuthMiddleware.Handle, auth.RequireOperator())
	internal.Post("/sessions/:id/force-end", cfg.Sessions.ForceEndSession)
	internal.Get("/metrics", cfg.Health.Metrics)
}
