package scheduler

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafidhiya/baby-spa-backend/internal/model"
	"github.com/rafidhiya/baby-spa-backend/internal/queue"
	"github.com/rafidhiya/baby-spa-backend/internal/repository"
)

type capturePublisher struct {
	events []queue.ReservationEvent
}

func (p *capturePublisher) Publish(_ context.Context, ev queue.ReservationEvent) error {
	p.events = append(p.events, ev)
	return nil
}

var bookingContextCols = []string{
	"p.id", "p.reservation_id", "p.amount_cents", "p.method", "p.status",
	"p.tripay_reference", "p.checkout_url", "p.instructions", "p.fee_merchant_cents", "p.raw_response",
	"p.expires_at", "p.paid_at", "p.created_at", "p.updated_at",
	"r.id", "r.status", "r.session_id", "r.customer_id", "u.full_name", "u.email", "sv.name",
}

func pendingContextRow(paymentID, reservationID, sessionID uint64) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(bookingContextCols).AddRow(
		paymentID, reservationID, 150000, "QRIS", model.PaymentPending,
		"T123456", nil, nil, nil, nil,
		now.Add(-time.Minute), nil, now.Add(-24*time.Hour), now,
		reservationID, model.ReservationPending, sessionID, 3, "Jane Doe", "jane@example.com", "Baby Massage",
	)
}

func newTestScheduler(t *testing.T) (*Scheduler, sqlmock.Sqlmock, *capturePublisher, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	pub := &capturePublisher{}
	s := New(db,
		repository.NewPaymentRepo(db),
		repository.NewReservationRepo(db),
		repository.NewSessionRepo(db),
		pub, zerolog.Nop())
	return s, mock, pub, func() { _ = db.Close() }
}

func TestProcessExpiryTransitionsPendingPayment(t *testing.T) {
	s, mock, pub, cleanup := newTestScheduler(t)
	defer cleanup()

	mock.ExpectQuery("FROM payments p").WithArgs(uint64(7)).
		WillReturnRows(pendingContextRow(7, 11, 5))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE reservations SET status").
		WithArgs(model.ReservationExpired, uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions SET is_booked").
		WithArgs(false, uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changed, err := s.ProcessExpiry(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, pub.events, 1)
	assert.Equal(t, queue.KindPaymentExpired, pub.events[0].Kind)
	assert.Equal(t, uint64(11), pub.events[0].ReservationID)
}

func TestProcessExpiryLosesRaceToWebhook(t *testing.T) {
	s, mock, pub, cleanup := newTestScheduler(t)
	defer cleanup()

	// Payment still reads PENDING but the conditional update changes
	// zero rows: a webhook committed in between. The expiry must back
	// off without touching the reservation or session.
	mock.ExpectQuery("FROM payments p").WithArgs(uint64(7)).
		WillReturnRows(pendingContextRow(7, 11, 5))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	changed, err := s.ProcessExpiry(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, pub.events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessExpirySkipsSettledPayment(t *testing.T) {
	s, mock, _, cleanup := newTestScheduler(t)
	defer cleanup()

	row := sqlmock.NewRows(bookingContextCols).AddRow(
		7, 11, 150000, "QRIS", model.PaymentPaid,
		"T123456", nil, nil, nil, nil,
		time.Now().UTC(), nil, time.Now().UTC(), time.Now().UTC(),
		11, model.ReservationConfirmed, 5, 3, "Jane Doe", "jane@example.com", "Baby Massage",
	)
	mock.ExpectQuery("FROM payments p").WithArgs(uint64(7)).WillReturnRows(row)

	changed, err := s.ProcessExpiry(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessExpiryMissingPaymentIsNoOp(t *testing.T) {
	s, mock, _, cleanup := newTestScheduler(t)
	defer cleanup()

	mock.ExpectQuery("FROM payments p").WithArgs(uint64(99)).WillReturnError(sql.ErrNoRows)

	changed, err := s.ProcessExpiry(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestScheduleAndCancelExpiry(t *testing.T) {
	s, _, _, cleanup := newTestScheduler(t)
	defer cleanup()

	future := time.Now().Add(time.Hour)
	s.ScheduleExpiry(1, future)
	s.ScheduleExpiry(2, future)
	assert.Equal(t, 2, s.TrackedTimers())

	// Re-scheduling replaces the existing timer instead of stacking.
	s.ScheduleExpiry(1, future.Add(time.Hour))
	assert.Equal(t, 2, s.TrackedTimers())

	s.CancelExpiry(1)
	assert.Equal(t, 1, s.TrackedTimers())
	s.CancelExpiry(1) // cancelling twice is harmless
	assert.Equal(t, 1, s.TrackedTimers())
	s.CancelExpiry(2)
	assert.Equal(t, 0, s.TrackedTimers())
}

func TestScheduleExpiryPastDeadlineProcessesImmediately(t *testing.T) {
	s, mock, _, cleanup := newTestScheduler(t)
	defer cleanup()

	// A deadline already in the past is handled synchronously; the
	// payment is gone, so the call degrades to a logged no-op.
	mock.ExpectQuery("FROM payments p").WithArgs(uint64(4)).WillReturnError(sql.ErrNoRows)

	s.ScheduleExpiry(4, time.Now().Add(-time.Minute))
	assert.Equal(t, 0, s.TrackedTimers())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepExpiresOverduePayments(t *testing.T) {
	s, mock, pub, cleanup := newTestScheduler(t)
	defer cleanup()

	mock.ExpectQuery("WHERE status = 'PENDING' AND expires_at <=").
		WillReturnRows(sqlmock.NewRows([]string{"id", "expires_at"}).
			AddRow(7, time.Now().UTC().Add(-time.Hour)))

	mock.ExpectQuery("FROM payments p").WithArgs(uint64(7)).
		WillReturnRows(pendingContextRow(7, 11, 5))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE reservations SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions SET is_booked").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	processed, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	require.Len(t, pub.events, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
