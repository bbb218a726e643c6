// Package router wires handlers and middleware onto the Echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rafidhiya/baby-spa-backend/internal/handler"
	"github.com/rafidhiya/baby-spa-backend/internal/middleware"
)

// Handlers bundles every handler the router registers.
type Handlers struct {
	Auth          *handler.AuthHandler
	Catalog       *handler.CatalogHandler
	Reservations  *handler.ReservationHandler
	Owner         *handler.OwnerHandler
	Notifications *handler.NotificationHandler
	Callback      *handler.CallbackHandler
	Cron          *handler.CronHandler
}

// Register wires all routes. Public browse endpoints and the webhook
// carry no JWT; the customer and owner groups are protected by
// JWTAuth plus role checks.
func Register(e *echo.Echo, h Handlers, jwtSecret string) {
	// Operational endpoints.
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/scheduler/cron", h.Cron.Sweep)

	// Gateway webhook. Authenticated by HMAC signature, not JWT.
	e.POST("/payment/callback", h.Callback.Handle)

	// Auth endpoints.
	auth := e.Group("/v1/auth")
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/logout", h.Auth.Logout)

	// Public browse endpoints: catalog, availability, channels.
	e.GET("/v1/services", h.Catalog.ListServices)
	e.GET("/v1/sessions", h.Catalog.ListSessions)
	e.GET("/v1/payment-channels", h.Catalog.ListPaymentChannels)

	// Customer endpoints.
	customer := e.Group("/v1")
	customer.Use(middleware.JWTAuth(jwtSecret))
	customer.Use(middleware.RequireRole("CUSTOMER", "OWNER"))
	customer.GET("/me", h.Auth.Me)
	customer.POST("/auth/logout-all", h.Auth.LogoutAll)
	customer.POST("/reservations", h.Reservations.Create)
	customer.GET("/reservations", h.Reservations.List)
	customer.GET("/reservations/:id", h.Reservations.Get)
	customer.GET("/notifications", h.Notifications.List)
	customer.PATCH("/notifications/:id/read", h.Notifications.MarkRead)

	// Owner endpoints.
	owner := e.Group("/v1/owner")
	owner.Use(middleware.JWTAuth(jwtSecret))
	owner.Use(middleware.RequireRole("OWNER"))
	owner.GET("/reservations", h.Owner.ListReservations)
	owner.PATCH("/reservations/:id/status", h.Owner.UpdateReservationStatus)
	owner.POST("/sessions", h.Owner.GenerateSessions)
	owner.GET("/stats", h.Owner.Stats)
}
