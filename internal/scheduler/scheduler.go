// Package scheduler enforces the 24-hour payment deadline. Every
// pending payment gets an in-process one-shot timer for low-latency
// expiry; a cron-triggered sweep over overdue rows is the correctness
// backstop for timers lost to restarts or drift.
package scheduler

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafidhiya/baby-spa-backend/internal/metrics"
	"github.com/rafidhiya/baby-spa-backend/internal/model"
	"github.com/rafidhiya/baby-spa-backend/internal/queue"
	"github.com/rafidhiya/baby-spa-backend/internal/repository"
)

// Publisher is the slice of the queue publisher the scheduler needs.
type Publisher interface {
	Publish(ctx context.Context, event queue.ReservationEvent) error
}

// Scheduler owns the in-memory registry of expiry timers, keyed by
// payment ID. It is safe for concurrent use from the reservation
// service, the callback handler and firing timers.
type Scheduler struct {
	db           *sql.DB
	payments     *repository.PaymentRepo
	reservations *repository.ReservationRepo
	sessions     *repository.SessionRepo
	publisher    Publisher
	log          zerolog.Logger

	mu     sync.Mutex
	timers map[uint64]*time.Timer

	now func() time.Time // injectable clock for tests
}

// New constructs a Scheduler. The publisher may be nil, in which case
// expiry events are only logged.
func New(db *sql.DB, payments *repository.PaymentRepo, reservations *repository.ReservationRepo, sessions *repository.SessionRepo, publisher Publisher, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		db:           db,
		payments:     payments,
		reservations: reservations,
		sessions:     sessions,
		publisher:    publisher,
		log:          log.With().Str("component", "expiry-scheduler").Logger(),
		timers:       make(map[uint64]*time.Timer),
		now:          time.Now,
	}
}

// ScheduleExpiry arms a one-shot timer that expires the payment at
// expiresAt. A deadline already in the past is processed immediately
// and synchronously. Re-scheduling an already tracked payment replaces
// its timer.
func (s *Scheduler) ScheduleExpiry(paymentID uint64, expiresAt time.Time) {
	delay := expiresAt.Sub(s.now())
	if delay <= 0 {
		if _, err := s.ProcessExpiry(context.Background(), paymentID); err != nil {
			s.log.Error().Err(err).Uint64("payment_id", paymentID).Msg("immediate expiry failed")
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[paymentID]; ok {
		t.Stop()
	}
	s.timers[paymentID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, paymentID)
		s.mu.Unlock()
		if _, err := s.ProcessExpiry(context.Background(), paymentID); err != nil {
			s.log.Error().Err(err).Uint64("payment_id", paymentID).Msg("timer expiry failed")
		}
	})
}

// CancelExpiry stops and removes the timer for a payment. It must be
// called whenever a payment leaves PENDING through any path so a stale
// timer cannot re-process a settled payment. The conditional update in
// ProcessExpiry keeps a timer that fires anyway harmless.
func (s *Scheduler) CancelExpiry(paymentID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[paymentID]; ok {
		t.Stop()
		delete(s.timers, paymentID)
	}
}

// TrackedTimers reports how many timers are currently armed.
func (s *Scheduler) TrackedTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// ProcessExpiry expires a single payment. It re-reads the payment and
// no-ops when it is gone or no longer PENDING, mirroring the callback
// handler's idempotency gate. The PENDING check is repeated as a
// conditional update inside the transaction, so a webhook racing this
// call cannot produce a double transition: whichever commits first
// wins and the loser changes zero rows. Returns whether this call
// performed the transition.
func (s *Scheduler) ProcessExpiry(ctx context.Context, paymentID uint64) (bool, error) {
	bc, err := s.payments.ContextByID(ctx, paymentID)
	if err != nil {
		if err == repository.ErrPaymentNotFound {
			return false, nil
		}
		return false, err
	}
	if bc.Payment.Status != model.PaymentPending {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	changed, err := s.payments.MarkIfPendingTx(ctx, tx, paymentID, model.PaymentExpired, nil, nil, nil)
	if err != nil {
		return false, err
	}
	if !changed {
		// Lost the race to a webhook between the read above and here.
		return false, nil
	}
	if err := s.reservations.UpdateStatusTx(ctx, tx, bc.ReservationID, model.ReservationExpired); err != nil {
		return false, err
	}
	if err := s.sessions.SetBookedTx(ctx, tx, bc.SessionID, false); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true

	metrics.IncPaymentExpired()
	s.log.Info().
		Uint64("payment_id", paymentID).
		Uint64("reservation_id", bc.ReservationID).
		Msg("payment expired, session released")

	if s.publisher != nil {
		ev := queue.NewEvent(queue.KindPaymentExpired, bc.ReservationID, bc.CustomerID, bc.CustomerName, bc.ServiceName, bc.Payment.AmountCents)
		_ = s.publisher.Publish(ctx, ev)
	}
	return true, nil
}

// InitializeFromStore re-arms timers for every PENDING payment whose
// deadline is still in the future. Payments already overdue at startup
// are deliberately left to the cron sweep; the timer set is a latency
// optimization, not the correctness guarantee.
func (s *Scheduler) InitializeFromStore(ctx context.Context) error {
	pending, err := s.payments.ListPendingFuture(ctx, s.now())
	if err != nil {
		return err
	}
	for _, p := range pending {
		s.ScheduleExpiry(p.PaymentID, p.ExpiresAt)
	}
	s.log.Info().Int("timers", len(pending)).Msg("expiry timers re-hydrated")
	return nil
}

// Sweep expires every PENDING payment whose deadline has passed. One
// failing payment is logged and skipped so it cannot block the rest of
// the batch. Returns the number of payments actually transitioned.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	overdue, err := s.payments.ListPendingOverdue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, p := range overdue {
		s.CancelExpiry(p.PaymentID)
		changed, err := s.ProcessExpiry(ctx, p.PaymentID)
		if err != nil {
			s.log.Error().Err(err).Uint64("payment_id", p.PaymentID).Msg("sweep expiry failed")
			continue
		}
		if changed {
			processed++
		}
	}
	return processed, nil
}
