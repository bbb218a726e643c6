package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rafidhiya/baby-spa-backend/internal/gateway"
	"github.com/rafidhiya/baby-spa-backend/internal/repository"
)

// channelLister is the slice of the gateway client the catalog needs.
type channelLister interface {
	ListChannels(ctx context.Context, retries int) ([]gateway.Channel, error)
}

// CatalogHandler serves the public browse endpoints: the service
// catalog, session availability and payment channels. No
// authentication is applied; clients browse before registering.
type CatalogHandler struct {
	Services *repository.ServiceRepo
	Sessions *repository.SessionRepo
	Gateway  channelLister
}

func NewCatalogHandler(sv *repository.ServiceRepo, ss *repository.SessionRepo, gw channelLister) *CatalogHandler {
	return &CatalogHandler{Services: sv, Sessions: ss, Gateway: gw}
}

// ListServices handles GET /v1/services. It returns every active
// service with its price tiers.
func (h *CatalogHandler) ListServices(c echo.Context) error {
	entries, err := h.Services.ListActive(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load services"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": entries})
}

// ListSessions handles GET /v1/sessions?date=2006-01-02&staff_id=N.
// The date is required; staff_id optionally narrows the schedule to
// one staff member. Booked slots are included so clients can render
// the full day.
func (h *CatalogHandler) ListSessions(c echo.Context) error {
	day, err := time.Parse("2006-01-02", c.QueryParam("date"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date is required (YYYY-MM-DD)"})
	}
	var staffID uint64
	if raw := c.QueryParam("staff_id"); raw != "" {
		staffID, err = strconv.ParseUint(raw, 10, 64)
		if err != nil || staffID == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid staff_id"})
		}
	}

	sessions, err := h.Sessions.ListByDate(c.Request().Context(), day, staffID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load sessions"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": sessions})
}

// ListPaymentChannels handles GET /v1/payment-channels. The gateway
// call is retried on transient failures; a gateway outage maps to 503.
func (h *CatalogHandler) ListPaymentChannels(c echo.Context) error {
	channels, err := h.Gateway.ListChannels(c.Request().Context(), 2)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "payment gateway unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": channels})
}
