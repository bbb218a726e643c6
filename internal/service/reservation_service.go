// Package service holds the reservation workflow: the multi-step
// booking pipeline that ties together catalog pricing, the session
// lock, the payment gateway and the expiry scheduler.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafidhiya/baby-spa-backend/internal/gateway"
	"github.com/rafidhiya/baby-spa-backend/internal/metrics"
	"github.com/rafidhiya/baby-spa-backend/internal/model"
	"github.com/rafidhiya/baby-spa-backend/internal/queue"
	"github.com/rafidhiya/baby-spa-backend/internal/repository"
)

// ErrValidation wraps input problems the handler should answer 400 to.
var ErrValidation = errors.New("invalid reservation input")

// Gateway is the slice of the payment gateway client the service uses.
type Gateway interface {
	CreateTransaction(ctx context.Context, order gateway.Order) (*gateway.Transaction, string, error)
}

// ExpiryScheduler is the slice of the scheduler the service uses.
type ExpiryScheduler interface {
	ScheduleExpiry(paymentID uint64, expiresAt time.Time)
	CancelExpiry(paymentID uint64)
}

// Publisher emits reservation events onto the broker.
type Publisher interface {
	Publish(ctx context.Context, event queue.ReservationEvent) error
}

// ReservationService implements the booking workflow. It owns no HTTP
// concerns: handlers translate its sentinel errors into status codes.
type ReservationService struct {
	db           *sql.DB
	reservations *repository.ReservationRepo
	payments     *repository.PaymentRepo
	sessions     *repository.SessionRepo
	services     *repository.ServiceRepo
	users        *repository.UserRepo
	gateway      Gateway
	scheduler    ExpiryScheduler
	publisher    Publisher
	log          zerolog.Logger

	now func() time.Time // injectable clock for tests
}

// NewReservationService wires the workflow dependencies together. The
// publisher may be nil; events are then dropped silently.
func NewReservationService(
	db *sql.DB,
	reservations *repository.ReservationRepo,
	payments *repository.PaymentRepo,
	sessions *repository.SessionRepo,
	services *repository.ServiceRepo,
	users *repository.UserRepo,
	gw Gateway,
	sched ExpiryScheduler,
	pub Publisher,
	log zerolog.Logger,
) *ReservationService {
	return &ReservationService{
		db:           db,
		reservations: reservations,
		payments:     payments,
		sessions:     sessions,
		services:     services,
		users:        users,
		gateway:      gw,
		scheduler:    sched,
		publisher:    pub,
		log:          log.With().Str("component", "reservation-service").Logger(),
		now:          time.Now,
	}
}

// CreateInput is a validated booking request.
type CreateInput struct {
	CustomerID    uint64
	ServiceID     uint64
	SessionID     uint64
	BabyName      string
	BabyAgeMonths uint32
	PriceTierID   uint64 // optional override when no tier matches the age
	Notes         string
	PaymentMethod string
}

func (in CreateInput) validate() error {
	switch {
	case in.CustomerID == 0:
		return fmt.Errorf("%w: customer is required", ErrValidation)
	case in.ServiceID == 0:
		return fmt.Errorf("%w: service_id is required", ErrValidation)
	case in.SessionID == 0:
		return fmt.Errorf("%w: session_id is required", ErrValidation)
	case in.BabyName == "":
		return fmt.Errorf("%w: baby_name is required", ErrValidation)
	case in.PaymentMethod == "":
		return fmt.Errorf("%w: payment_method is required", ErrValidation)
	}
	return nil
}

// CreateResult is what the customer gets back after booking: the stored
// reservation plus everything needed to complete payment.
type CreateResult struct {
	Reservation      model.Reservation     `json:"reservation"`
	PaymentID        uint64                `json:"payment_id"`
	TripayReference  string                `json:"tripay_reference"`
	CheckoutURL      string                `json:"checkout_url"`
	Instructions     []gateway.Instruction `json:"instructions"`
	AmountCents      uint32                `json:"amount_cents"`
	PaymentExpiresAt time.Time             `json:"payment_expires_at"`
}

// Create runs the full booking pipeline: resolve the price, claim the
// session and insert the reservation and payment in one transaction,
// register the transaction with the gateway, then arm the expiry timer
// and emit a created event. A gateway failure after commit triggers the
// compensating path: the reservation is deleted (the payment cascades)
// and the session slot is released again.
func (s *ReservationService) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	svc, session, customer, err := s.loadBookingData(ctx, in)
	if err != nil {
		return nil, err
	}
	if session.IsBooked {
		return nil, repository.ErrSessionTaken
	}

	priceCents, err := s.resolvePrice(ctx, svc, in)
	if err != nil {
		return nil, err
	}

	res := model.Reservation{
		CustomerID:       in.CustomerID,
		ServiceID:        svc.ID,
		StaffID:          session.StaffID,
		SessionID:        session.ID,
		BabyName:         in.BabyName,
		BabyAgeMonths:    in.BabyAgeMonths,
		Notes:            in.Notes,
		Status:           model.ReservationPending,
		TotalAmountCents: priceCents,
	}
	pay := model.Payment{
		AmountCents: priceCents,
		Method:      in.PaymentMethod,
		Status:      model.PaymentPending,
		ExpiresAt:   s.now().Add(gateway.PaymentWindow).UTC(),
	}
	if err := s.persistBooking(ctx, &res, &pay); err != nil {
		return nil, err
	}

	tx, raw, err := s.gateway.CreateTransaction(ctx, gateway.Order{
		ReservationID: res.ID,
		CustomerName:  customer.FullName,
		CustomerEmail: customer.Email,
		CustomerPhone: customer.Phone,
		Method:        in.PaymentMethod,
		Amount:        float64(priceCents) / 100,
		ServiceName:   svc.Name,
	})
	if err != nil {
		s.compensate(ctx, res.ID, session.ID)
		return nil, err
	}

	instructions := "[]"
	if b, mErr := json.Marshal(tx.Instructions); mErr == nil {
		instructions = string(b)
	}
	if err := s.payments.AttachGatewayResult(ctx, pay.ID, tx.Reference, tx.CheckoutURL, instructions, raw); err != nil {
		// The transaction is live at the provider; losing the reference
		// would orphan it, so this failure is fatal for the booking.
		s.compensate(ctx, res.ID, session.ID)
		return nil, err
	}

	s.scheduler.ScheduleExpiry(pay.ID, pay.ExpiresAt)
	metrics.IncReservationCreated()

	if s.publisher != nil {
		ev := queue.NewEvent(queue.KindReservationCreated, res.ID, customer.ID, customer.FullName, svc.Name, priceCents)
		ev.CheckoutURL = tx.CheckoutURL
		if pubErr := s.publisher.Publish(ctx, ev); pubErr != nil {
			s.log.Warn().Err(pubErr).Uint64("reservation_id", res.ID).Msg("created event not published")
		}
	}

	s.log.Info().
		Uint64("reservation_id", res.ID).
		Uint64("session_id", session.ID).
		Uint32("amount_cents", priceCents).
		Str("reference", tx.Reference).
		Msg("reservation created")

	return &CreateResult{
		Reservation:      res,
		PaymentID:        pay.ID,
		TripayReference:  tx.Reference,
		CheckoutURL:      tx.CheckoutURL,
		Instructions:     tx.Instructions,
		AmountCents:      priceCents,
		PaymentExpiresAt: pay.ExpiresAt,
	}, nil
}

// loadBookingData fetches the service, session and customer in
// parallel. The first error wins; not-found sentinels pass through so
// handlers can answer 404.
func (s *ReservationService) loadBookingData(ctx context.Context, in CreateInput) (model.SpaService, model.Session, model.User, error) {
	var (
		wg       sync.WaitGroup
		svc      model.SpaService
		session  model.Session
		customer model.User
		errs     [3]error
	)
	wg.Add(3)
	go func() { defer wg.Done(); svc, errs[0] = s.services.GetByID(ctx, in.ServiceID) }()
	go func() { defer wg.Done(); session, errs[1] = s.sessions.GetByID(ctx, in.SessionID) }()
	go func() { defer wg.Done(); customer, errs[2] = s.users.GetByID(ctx, in.CustomerID) }()
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return model.SpaService{}, model.Session{}, model.User{}, err
		}
	}
	return svc, session, customer, nil
}

// resolvePrice picks the amount to charge. Tiered services match on the
// baby's age (inclusive bounds); when no tier covers the age, an
// explicitly chosen tier belonging to the service is accepted instead.
// No match at all is ErrPriceUnavailable. Flat-priced services ignore
// tiers entirely.
func (s *ReservationService) resolvePrice(ctx context.Context, svc model.SpaService, in CreateInput) (uint32, error) {
	if !svc.UsesTiers {
		return svc.FlatPriceCents, nil
	}
	tiers, err := s.services.TiersByService(ctx, svc.ID)
	if err != nil {
		return 0, err
	}
	for _, t := range tiers {
		if t.Matches(in.BabyAgeMonths) {
			return t.PriceCents, nil
		}
	}
	if in.PriceTierID != 0 {
		for _, t := range tiers {
			if t.ID == in.PriceTierID {
				return t.PriceCents, nil
			}
		}
	}
	return 0, repository.ErrPriceUnavailable
}

// persistBooking claims the session and inserts the reservation and
// payment atomically. The row lock re-checks is_booked under
// serialization; the unique constraint on reservations.session_id
// catches anything the lock misses and surfaces as ErrSessionTaken.
func (s *ReservationService) persistBooking(ctx context.Context, res *model.Reservation, pay *model.Payment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	locked, err := s.sessions.GetForUpdateTx(ctx, tx, res.SessionID)
	if err != nil {
		return err
	}
	if locked.IsBooked {
		return repository.ErrSessionTaken
	}
	if err := s.reservations.CreateTx(ctx, tx, res); err != nil {
		return err
	}
	pay.ReservationID = res.ID
	if err := s.payments.CreateTx(ctx, tx, pay); err != nil {
		return err
	}
	if err := s.sessions.SetBookedTx(ctx, tx, res.SessionID, true); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// compensate undoes a committed booking whose gateway leg failed. The
// reservation delete cascades to the payment; the session is released
// unless a different, already paid reservation holds it.
func (s *ReservationService) compensate(ctx context.Context, reservationID, sessionID uint64) {
	if err := s.reservations.Delete(ctx, reservationID); err != nil {
		s.log.Error().Err(err).Uint64("reservation_id", reservationID).Msg("compensating delete failed")
	}
	if err := s.sessions.ReleaseUnlessPaid(ctx, sessionID); err != nil {
		s.log.Error().Err(err).Uint64("session_id", sessionID).Msg("compensating session release failed")
	}
	s.log.Warn().Uint64("reservation_id", reservationID).Msg("booking rolled back after gateway failure")
}

// UpdateStatus moves a reservation along its lifecycle on behalf of the
// owner. Transitions not present in the status graph are rejected with
// ErrInvalidTransition; a concurrent change between the read and the
// conditional update is detected the same way. Cancelling or expiring a
// reservation releases its session and fails a still pending payment.
func (s *ReservationService) UpdateStatus(ctx context.Context, reservationID uint64, to string) (model.Reservation, error) {
	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return model.Reservation{}, err
	}
	if !model.CanTransition(res.Status, to) {
		return model.Reservation{}, repository.ErrInvalidTransition
	}

	releaseSlot := to == model.ReservationCancelled || to == model.ReservationExpired

	pay, err := s.payments.GetByReservation(ctx, reservationID)
	if err != nil && !errors.Is(err, repository.ErrPaymentNotFound) {
		return model.Reservation{}, err
	}

	// Stop the expiry timer before touching state. If the timer already
	// fired, the conditional update below loses and reports the race.
	if releaseSlot && pay.ID != 0 {
		s.scheduler.CancelExpiry(pay.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Reservation{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	changed, err := s.reservations.UpdateStatusFromTx(ctx, tx, reservationID, res.Status, to)
	if err != nil {
		return model.Reservation{}, err
	}
	if !changed {
		return model.Reservation{}, repository.ErrInvalidTransition
	}
	if releaseSlot {
		if pay.ID != 0 {
			if _, err := s.payments.MarkIfPendingTx(ctx, tx, pay.ID, model.PaymentFailed, nil, nil, nil); err != nil {
				return model.Reservation{}, err
			}
		}
		if err := s.sessions.SetBookedTx(ctx, tx, res.SessionID, false); err != nil {
			return model.Reservation{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Reservation{}, err
	}
	committed = true

	s.log.Info().
		Uint64("reservation_id", reservationID).
		Str("from", res.Status).
		Str("to", to).
		Msg("reservation status updated")

	if s.publisher != nil && to == model.ReservationCancelled {
		customer, uErr := s.users.GetByID(ctx, res.CustomerID)
		svc, sErr := s.services.GetByID(ctx, res.ServiceID)
		if uErr == nil && sErr == nil {
			ev := queue.NewEvent(queue.KindPaymentCancelled, res.ID, customer.ID, customer.FullName, svc.Name, res.TotalAmountCents)
			_ = s.publisher.Publish(ctx, ev)
		}
	}

	res.Status = to
	return res, nil
}
