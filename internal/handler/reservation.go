package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rafidhiya/baby-spa-backend/internal/gateway"
	"github.com/rafidhiya/baby-spa-backend/internal/repository"
	"github.com/rafidhiya/baby-spa-backend/internal/service"
)

// bookingCreator is the slice of the reservation service the booking
// endpoint needs.
type bookingCreator interface {
	Create(ctx context.Context, in service.CreateInput) (*service.CreateResult, error)
}

// ReservationHandler exposes the customer booking endpoints. JWT and
// role middleware run before every method; the workflow itself lives
// in the service layer and this handler only translates errors into
// status codes.
type ReservationHandler struct {
	Service      bookingCreator
	Reservations *repository.ReservationRepo
}

func NewReservationHandler(svc bookingCreator, res *repository.ReservationRepo) *ReservationHandler {
	return &ReservationHandler{Service: svc, Reservations: res}
}

type createReservationReq struct {
	ServiceID     uint64 `json:"service_id"`
	SessionID     uint64 `json:"session_id"`
	BabyName      string `json:"baby_name"`
	BabyAgeMonths uint32 `json:"baby_age_months"`
	PriceTierID   uint64 `json:"price_tier_id"`
	Notes         string `json:"notes"`
	PaymentMethod string `json:"payment_method"`
}

// Create handles POST /v1/reservations. On success it returns 201 with
// the reservation and the gateway checkout data. Error mapping:
// validation 400, unknown service/session 404, slot already booked
// 409, no price tier for the age or a rejected gateway transaction
// 422, gateway outage 503.
func (h *ReservationHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createReservationReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result, err := h.Service.Create(c.Request().Context(), service.CreateInput{
		CustomerID:    userID,
		ServiceID:     req.ServiceID,
		SessionID:     req.SessionID,
		BabyName:      req.BabyName,
		BabyAgeMonths: req.BabyAgeMonths,
		PriceTierID:   req.PriceTierID,
		Notes:         req.Notes,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation), errors.Is(err, gateway.ErrInvalidOrder):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		case errors.Is(err, repository.ErrServiceNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "service not found"})
		case errors.Is(err, repository.ErrSessionNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		case errors.Is(err, repository.ErrSessionTaken):
			return c.JSON(http.StatusConflict, echo.Map{"error": "session already booked"})
		case errors.Is(err, repository.ErrPriceUnavailable):
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "no price available for this age"})
		case errors.Is(err, gateway.ErrTransactionFailed):
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "payment gateway rejected the transaction, booking rolled back"})
		case errors.Is(err, gateway.ErrGatewayUnavailable):
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "payment gateway unavailable, booking rolled back"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create reservation"})
	}
	return c.JSON(http.StatusCreated, result)
}

// List handles GET /v1/reservations. It returns the caller's
// reservations, newest first.
func (h *ReservationHandler) List(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.Reservations.ListByCustomer(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load reservations"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Get handles GET /v1/reservations/:id. Ownership is enforced in the
// query itself, so a foreign reservation answers 404 rather than
// leaking its existence.
func (h *ReservationHandler) Get(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	detail, err := h.Reservations.GetDetailForCustomer(c.Request().Context(), id, userID)
	if err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch reservation"})
	}
	return c.JSON(http.StatusOK, echo.Map{"item": detail})
}
