package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rafidhiya/baby-spa-backend/internal/model"
	"github.com/rafidhiya/baby-spa-backend/internal/repository"
)

// statusUpdater is the slice of the reservation service the owner
// endpoints need.
type statusUpdater interface {
	UpdateStatus(ctx context.Context, reservationID uint64, to string) (model.Reservation, error)
}

// OwnerHandler exposes the owner-side management endpoints:
// reservation oversight, schedule generation and the dashboard stats.
// RequireRole("OWNER") runs before every method.
type OwnerHandler struct {
	Service      statusUpdater
	Reservations *repository.ReservationRepo
	Sessions     *repository.SessionRepo
}

func NewOwnerHandler(svc statusUpdater, res *repository.ReservationRepo, ss *repository.SessionRepo) *OwnerHandler {
	return &OwnerHandler{Service: svc, Reservations: res, Sessions: ss}
}

// ListReservations handles GET /v1/owner/reservations?status=S. The
// optional status filter is validated against the known lifecycle
// values.
func (h *OwnerHandler) ListReservations(c echo.Context) error {
	status := strings.ToUpper(strings.TrimSpace(c.QueryParam("status")))
	if status != "" && !validReservationStatus(status) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown status"})
	}
	items, err := h.Reservations.ListForOwner(c.Request().Context(), status)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load reservations"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

type updateStatusReq struct {
	Status string `json:"status"`
}

// UpdateReservationStatus handles PATCH /v1/owner/reservations/:id/status.
// Transitions outside the lifecycle graph answer 400; cancelling a
// reservation also releases its session and fails a pending payment.
func (h *OwnerHandler) UpdateReservationStatus(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	var req updateStatusReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	status := strings.ToUpper(strings.TrimSpace(req.Status))
	if !validReservationStatus(status) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown status"})
	}

	res, err := h.Service.UpdateStatus(c.Request().Context(), id, status)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrReservationNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
		case errors.Is(err, repository.ErrInvalidTransition):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status transition"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update status"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":     res.ID,
		"status": res.Status,
	})
}

type generateSessionsReq struct {
	StaffID     uint64 `json:"staff_id"`
	Date        string `json:"date"`         // YYYY-MM-DD
	StartHour   int    `json:"start_hour"`   // 0-23, inclusive
	EndHour     int    `json:"end_hour"`     // 1-24, exclusive
	SlotMinutes int    `json:"slot_minutes"` // length of each session
}

// GenerateSessions handles POST /v1/owner/sessions. It bulk-creates
// the availability slots for one staff member on one day.
func (h *OwnerHandler) GenerateSessions(c echo.Context) error {
	var req generateSessionsReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date is required (YYYY-MM-DD)"})
	}
	if req.StaffID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "staff_id is required"})
	}
	if req.StartHour < 0 || req.EndHour > 24 || req.StartHour >= req.EndHour {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid hour range"})
	}
	if req.SlotMinutes <= 0 || req.SlotMinutes > 480 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot_minutes"})
	}

	ctx := c.Request().Context()
	exists, err := h.Sessions.StaffExists(ctx, req.StaffID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if !exists {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "staff not found"})
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), req.StartHour, 0, 0, 0, time.UTC)
	end := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC).Add(time.Duration(req.EndHour) * time.Hour)
	slot := time.Duration(req.SlotMinutes) * time.Minute

	sessions := make([]model.Session, 0)
	for t := start; !t.Add(slot).After(end); t = t.Add(slot) {
		sessions = append(sessions, model.Session{
			StaffID:  req.StaffID,
			StartsAt: t,
			EndsAt:   t.Add(slot),
		})
	}
	if len(sessions) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "range produces no sessions"})
	}
	if err := h.Sessions.CreateBulk(ctx, sessions); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create sessions"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"created": len(sessions)})
}

// Stats handles GET /v1/owner/stats: reservation counts per status and
// revenue from settled bookings.
func (h *OwnerHandler) Stats(c echo.Context) error {
	stats, err := h.Reservations.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load stats"})
	}
	return c.JSON(http.StatusOK, stats)
}

func validReservationStatus(s string) bool {
	switch s {
	case model.ReservationPending, model.ReservationConfirmed, model.ReservationInProgress,
		model.ReservationCompleted, model.ReservationCancelled, model.ReservationExpired:
		return true
	}
	return false
}
