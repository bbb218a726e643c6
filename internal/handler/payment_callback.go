package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rafidhiya/baby-spa-backend/internal/metrics"
	"github.com/rafidhiya/baby-spa-backend/internal/model"
	"github.com/rafidhiya/baby-spa-backend/internal/queue"
	"github.com/rafidhiya/baby-spa-backend/internal/repository"
	"github.com/rafidhiya/baby-spa-backend/internal/service"
)

// signatureVerifier is the slice of the gateway client the callback
// needs.
type signatureVerifier interface {
	VerifyCallbackSignature(headerSignature, merchantRef, reference, status string) bool
}

// CallbackHandler processes the gateway's payment webhooks. The
// contract with the provider is to always answer 200 once a payload
// was readable; anything else triggers redelivery storms. Real
// processing errors are logged, counted and swallowed. Idempotency
// rests on the PENDING gate: the conditional update flips the payment
// exactly once no matter how often the callback is delivered or how it
// races the expiry timer.
type CallbackHandler struct {
	DB           *sql.DB
	Payments     *repository.PaymentRepo
	Reservations *repository.ReservationRepo
	Sessions     *repository.SessionRepo
	Verifier     signatureVerifier
	Scheduler    service.ExpiryScheduler
	Publisher    service.Publisher
	VerifySig    bool // enforced in production only
	Log          zerolog.Logger
}

func NewCallbackHandler(
	db *sql.DB,
	payments *repository.PaymentRepo,
	reservations *repository.ReservationRepo,
	sessions *repository.SessionRepo,
	verifier signatureVerifier,
	sched service.ExpiryScheduler,
	pub service.Publisher,
	verifySig bool,
	log zerolog.Logger,
) *CallbackHandler {
	return &CallbackHandler{
		DB:           db,
		Payments:     payments,
		Reservations: reservations,
		Sessions:     sessions,
		Verifier:     verifier,
		Scheduler:    sched,
		Publisher:    pub,
		VerifySig:    verifySig,
		Log:          log.With().Str("component", "payment-callback").Logger(),
	}
}

type callbackPayload struct {
	Reference   string  `json:"reference"`
	MerchantRef string  `json:"merchant_ref"`
	Status      string  `json:"status"`
	TotalAmount float64 `json:"total_amount"`
	FeeMerchant float64 `json:"fee_merchant"`
	PaidAt      int64   `json:"paid_at"`
	Note        string  `json:"note"`
}

// Handle processes POST /payment/callback. 400 is returned only for an
// unreadable body or a payload missing reference/status; every other
// outcome, including signature mismatches and unknown references,
// answers 200 so the provider stops retrying.
func (h *CallbackHandler) Handle(c echo.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.Log.Error().Interface("panic", r).Msg("callback handler panicked")
			err = c.JSON(http.StatusOK, echo.Map{"success": false})
		}
	}()

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	var payload callbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid json"})
	}
	if payload.Reference == "" || payload.Status == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "reference/status required"})
	}

	log := h.Log.With().Str("reference", payload.Reference).Str("status", payload.Status).Logger()

	if h.VerifySig {
		sig := c.Request().Header.Get("X-Callback-Signature")
		if !h.Verifier.VerifyCallbackSignature(sig, payload.MerchantRef, payload.Reference, payload.Status) {
			log.Warn().Msg("callback signature mismatch")
			metrics.IncCallback("signature_mismatch")
			return c.JSON(http.StatusOK, echo.Map{"success": false})
		}
	}

	ctx := c.Request().Context()
	bc, err := h.Payments.ContextByReference(ctx, payload.Reference)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			log.Warn().Msg("callback for unknown reference")
			return c.JSON(http.StatusOK, echo.Map{"success": false})
		}
		log.Error().Err(err).Msg("load payment failed")
		return c.JSON(http.StatusOK, echo.Map{"success": false})
	}
	if bc.Payment.Status != model.PaymentPending {
		// Redelivery of an already settled payment. Nothing to do.
		log.Info().Str("payment_status", bc.Payment.Status).Msg("callback ignored, payment already settled")
		return c.JSON(http.StatusOK, echo.Map{"success": true})
	}

	status := model.ParseProviderStatus(payload.Status)
	transition, known := model.MapProviderStatus(status)
	if !known {
		log.Warn().Str("raw_status", status.Raw).Msg("unknown provider status")
		metrics.IncCallback("unknown")
		return c.JSON(http.StatusOK, echo.Map{"success": false})
	}

	// Stop the expiry timer before touching state. If the timer already
	// fired, the conditional update below loses and this becomes a no-op.
	h.Scheduler.CancelExpiry(bc.Payment.ID)

	applied, err := h.apply(ctx, bc, transition, payload, raw)
	if err != nil {
		log.Error().Err(err).Msg("apply callback failed")
		return c.JSON(http.StatusOK, echo.Map{"success": false})
	}
	metrics.IncCallback(status.Tag)
	if !applied {
		log.Info().Msg("callback lost race, payment already settled")
		return c.JSON(http.StatusOK, echo.Map{"success": true})
	}

	log.Info().
		Uint64("payment_id", bc.Payment.ID).
		Uint64("reservation_id", bc.ReservationID).
		Str("payment_status", transition.PaymentStatus).
		Msg("callback applied")

	h.publish(ctx, bc, status.Tag)
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// apply performs the settlement transaction. The PENDING condition on
// the payment update makes it a no-op when a concurrent path settled
// the payment first.
func (h *CallbackHandler) apply(ctx context.Context, bc repository.BookingContext, transition model.Transition, payload callbackPayload, raw []byte) (bool, error) {
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var paidAt *time.Time
	if transition.PaymentStatus == model.PaymentPaid {
		t := time.Now().UTC()
		if payload.PaidAt > 0 {
			t = time.Unix(payload.PaidAt, 0).UTC()
		}
		paidAt = &t
	}
	var feeCents *uint32
	if payload.FeeMerchant > 0 {
		f := uint32(math.Round(payload.FeeMerchant * 100))
		feeCents = &f
	}
	rawStr := string(raw)

	changed, err := h.Payments.MarkIfPendingTx(ctx, tx, bc.Payment.ID, transition.PaymentStatus, paidAt, feeCents, &rawStr)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	if err := h.Reservations.UpdateStatusTx(ctx, tx, bc.ReservationID, transition.ReservationStatus); err != nil {
		return false, err
	}
	if transition.FreeSession {
		if err := h.Sessions.SetBookedTx(ctx, tx, bc.SessionID, false); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return true, nil
}

// publish emits the matching domain event. Publishing is best effort;
// the settlement already committed.
func (h *CallbackHandler) publish(ctx context.Context, bc repository.BookingContext, tag string) {
	if h.Publisher == nil {
		return
	}
	var kind string
	switch tag {
	case model.ProviderPaid:
		kind = queue.KindPaymentConfirmed
	case model.ProviderExpired:
		kind = queue.KindPaymentExpired
	case model.ProviderFailed, model.ProviderRefund:
		kind = queue.KindPaymentCancelled
	default:
		return
	}
	ev := queue.NewEvent(kind, bc.ReservationID, bc.CustomerID, bc.CustomerName, bc.ServiceName, bc.Payment.AmountCents)
	if err := h.Publisher.Publish(ctx, ev); err != nil {
		h.Log.Warn().Err(err).Str("kind", kind).Msg("event not published")
	}
}
