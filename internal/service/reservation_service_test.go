package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafidhiya/baby-spa-backend/internal/gateway"
	"github.com/rafidhiya/baby-spa-backend/internal/model"
	"github.com/rafidhiya/baby-spa-backend/internal/queue"
	"github.com/rafidhiya/baby-spa-backend/internal/repository"
)

type fakeGateway struct {
	tx     *gateway.Transaction
	raw    string
	err    error
	orders []gateway.Order
}

func (f *fakeGateway) CreateTransaction(_ context.Context, order gateway.Order) (*gateway.Transaction, string, error) {
	f.orders = append(f.orders, order)
	if f.err != nil {
		return nil, "", f.err
	}
	return f.tx, f.raw, nil
}

type fakeScheduler struct {
	scheduled map[uint64]time.Time
	cancelled []uint64
}

func (f *fakeScheduler) ScheduleExpiry(paymentID uint64, expiresAt time.Time) {
	if f.scheduled == nil {
		f.scheduled = make(map[uint64]time.Time)
	}
	f.scheduled[paymentID] = expiresAt
}

func (f *fakeScheduler) CancelExpiry(paymentID uint64) {
	f.cancelled = append(f.cancelled, paymentID)
}

type fakePublisher struct {
	events []queue.ReservationEvent
}

func (f *fakePublisher) Publish(_ context.Context, ev queue.ReservationEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type fixture struct {
	svc   *ReservationService
	mock  sqlmock.Sqlmock
	gw    *fakeGateway
	sched *fakeScheduler
	pub   *fakePublisher
}

func newFixture(t *testing.T, gw *fakeGateway, withPublisher bool) (*fixture, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	// The booking data loads run in parallel goroutines.
	mock.MatchExpectationsInOrder(false)

	sched := &fakeScheduler{}
	var pub *fakePublisher
	var publisher Publisher
	if withPublisher {
		pub = &fakePublisher{}
		publisher = pub
	}
	svc := NewReservationService(db,
		repository.NewReservationRepo(db),
		repository.NewPaymentRepo(db),
		repository.NewSessionRepo(db),
		repository.NewServiceRepo(db),
		repository.NewUserRepo(db),
		gw, sched, publisher, zerolog.Nop())
	return &fixture{svc: svc, mock: mock, gw: gw, sched: sched, pub: pub}, func() { _ = db.Close() }
}

func (f *fixture) expectServiceRow(id uint64, flatCents uint32, usesTiers bool) {
	f.mock.ExpectQuery("FROM spa_services WHERE id").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "description", "duration_min", "flat_price_cents", "uses_tiers", "is_active", "created_at",
		}).AddRow(id, "Baby Massage", "gentle massage", 45, flatCents, usesTiers, true, time.Now()))
}

func (f *fixture) expectSessionRow(id, staffID uint64, booked bool) {
	starts := time.Now().UTC().Add(48 * time.Hour)
	f.mock.ExpectQuery("FROM sessions WHERE id").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "staff_id", "starts_at", "ends_at", "is_booked", "created_at",
		}).AddRow(id, staffID, starts, starts.Add(45*time.Minute), booked, time.Now()))
}

func (f *fixture) expectUserRow(id uint64) {
	f.mock.ExpectQuery("FROM users WHERE id").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "password_hash", "full_name", "phone", "role", "is_active", "created_at", "updated_at",
		}).AddRow(id, "jane@example.com", "x", "Jane Doe", "+620000000", model.RoleCustomer, true, time.Now(), time.Now()))
}

func (f *fixture) expectBookingTx(sessionID, staffID, reservationID, paymentID uint64) {
	starts := time.Now().UTC().Add(48 * time.Hour)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("FOR UPDATE").WithArgs(sessionID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "staff_id", "starts_at", "ends_at", "is_booked", "created_at",
		}).AddRow(sessionID, staffID, starts, starts.Add(45*time.Minute), false, time.Now()))
	f.mock.ExpectExec("INSERT INTO reservations").
		WillReturnResult(sqlmock.NewResult(int64(reservationID), 1))
	f.mock.ExpectExec("INSERT INTO payments").
		WillReturnResult(sqlmock.NewResult(int64(paymentID), 1))
	f.mock.ExpectExec("UPDATE sessions SET is_booked").WithArgs(true, sessionID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
}

func validInput() CreateInput {
	return CreateInput{
		CustomerID:    3,
		ServiceID:     2,
		SessionID:     5,
		BabyName:      "Ari",
		BabyAgeMonths: 6,
		PaymentMethod: "QRIS",
	}
}

func TestCreateFlatPriceHappyPath(t *testing.T) {
	gw := &fakeGateway{
		tx: &gateway.Transaction{
			Reference:   "T123456",
			CheckoutURL: "https://tripay.example/checkout/T123456",
			Instructions: []gateway.Instruction{
				{Title: "QRIS", Steps: []string{"Scan the code"}},
			},
		},
		raw: `{"reference":"T123456"}`,
	}
	f, cleanup := newFixture(t, gw, true)
	defer cleanup()

	f.expectServiceRow(2, 150000, false)
	f.expectSessionRow(5, 9, false)
	f.expectUserRow(3)
	f.expectBookingTx(5, 9, 11, 21)
	f.mock.ExpectExec("SET tripay_reference").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := f.svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, uint64(11), result.Reservation.ID)
	assert.Equal(t, uint64(9), result.Reservation.StaffID, "staff comes from the session")
	assert.Equal(t, model.ReservationPending, result.Reservation.Status)
	assert.Equal(t, uint32(150000), result.AmountCents)
	assert.Equal(t, "T123456", result.TripayReference)
	assert.Equal(t, "https://tripay.example/checkout/T123456", result.CheckoutURL)

	// The gateway is charged in currency units, not cents.
	require.Len(t, gw.orders, 1)
	assert.Equal(t, float64(1500), gw.orders[0].Amount)
	assert.Equal(t, "Jane Doe", gw.orders[0].CustomerName)

	// An expiry timer is armed for the new payment.
	deadline, ok := f.sched.scheduled[21]
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(gateway.PaymentWindow), deadline, time.Minute)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, queue.KindReservationCreated, f.pub.events[0].Kind)
	assert.Equal(t, result.CheckoutURL, f.pub.events[0].CheckoutURL)

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateUsesMatchingTier(t *testing.T) {
	gw := &fakeGateway{
		tx:  &gateway.Transaction{Reference: "T1", CheckoutURL: "https://x"},
		raw: "{}",
	}
	f, cleanup := newFixture(t, gw, false)
	defer cleanup()

	f.expectServiceRow(2, 0, true)
	f.expectSessionRow(5, 9, false)
	f.expectUserRow(3)
	f.mock.ExpectQuery("FROM service_price_tiers WHERE service_id").WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "service_id", "min_age_months", "max_age_months", "price_cents"}).
			AddRow(1, 2, 0, 5, 120000).
			AddRow(2, 2, 6, 12, 180000))
	f.expectBookingTx(5, 9, 11, 21)
	f.mock.ExpectExec("SET tripay_reference").WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := f.svc.Create(context.Background(), validInput()) // age 6 months
	require.NoError(t, err)
	assert.Equal(t, uint32(180000), result.AmountCents)
}

func TestCreatePriceUnavailable(t *testing.T) {
	f, cleanup := newFixture(t, &fakeGateway{}, false)
	defer cleanup()

	f.expectServiceRow(2, 0, true)
	f.expectSessionRow(5, 9, false)
	f.expectUserRow(3)
	f.mock.ExpectQuery("FROM service_price_tiers WHERE service_id").WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "service_id", "min_age_months", "max_age_months", "price_cents"}).
			AddRow(1, 2, 12, 24, 120000))

	_, err := f.svc.Create(context.Background(), validInput()) // age 6, no tier covers it
	assert.ErrorIs(t, err, repository.ErrPriceUnavailable)
}

func TestCreateExplicitTierFallback(t *testing.T) {
	gw := &fakeGateway{
		tx:  &gateway.Transaction{Reference: "T1", CheckoutURL: "https://x"},
		raw: "{}",
	}
	f, cleanup := newFixture(t, gw, false)
	defer cleanup()

	f.expectServiceRow(2, 0, true)
	f.expectSessionRow(5, 9, false)
	f.expectUserRow(3)
	f.mock.ExpectQuery("FROM service_price_tiers WHERE service_id").WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "service_id", "min_age_months", "max_age_months", "price_cents"}).
			AddRow(4, 2, 12, 24, 220000))
	f.expectBookingTx(5, 9, 11, 21)
	f.mock.ExpectExec("SET tripay_reference").WillReturnResult(sqlmock.NewResult(0, 1))

	in := validInput()
	in.PriceTierID = 4 // no tier covers age 6, but the client picked one explicitly
	result, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, uint32(220000), result.AmountCents)
}

func TestCreateSessionAlreadyBooked(t *testing.T) {
	f, cleanup := newFixture(t, &fakeGateway{}, false)
	defer cleanup()

	f.expectServiceRow(2, 150000, false)
	f.expectSessionRow(5, 9, true)
	f.expectUserRow(3)

	_, err := f.svc.Create(context.Background(), validInput())
	assert.ErrorIs(t, err, repository.ErrSessionTaken)
}

func TestCreateValidation(t *testing.T) {
	f, cleanup := newFixture(t, &fakeGateway{}, false)
	defer cleanup()

	in := validInput()
	in.BabyName = ""
	_, err := f.svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, ErrValidation)

	in = validInput()
	in.PaymentMethod = ""
	_, err = f.svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateGatewayFailureRollsBack(t *testing.T) {
	gw := &fakeGateway{err: gateway.ErrTransactionFailed}
	f, cleanup := newFixture(t, gw, true)
	defer cleanup()

	f.expectServiceRow(2, 150000, false)
	f.expectSessionRow(5, 9, false)
	f.expectUserRow(3)
	f.expectBookingTx(5, 9, 11, 21)

	// Compensating path: the reservation is deleted (payment cascades)
	// and the slot is released unless a paid reservation holds it.
	f.mock.ExpectExec("DELETE FROM reservations").WithArgs(uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("NOT EXISTS").WithArgs(uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := f.svc.Create(context.Background(), validInput())
	assert.ErrorIs(t, err, gateway.ErrTransactionFailed)
	assert.Empty(t, f.sched.scheduled, "no timer for a rolled back booking")
	assert.Empty(t, f.pub.events)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func reservationRow(id uint64, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "customer_id", "service_id", "staff_id", "session_id", "baby_name", "baby_age_months",
		"notes", "status", "total_amount_cents", "created_at", "updated_at",
	}).AddRow(id, 3, 2, 9, 5, "Ari", 6, "", status, 150000, time.Now(), time.Now())
}

func paymentRow(id, reservationID uint64, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "reservation_id", "amount_cents", "method", "status",
		"tripay_reference", "checkout_url", "instructions", "fee_merchant_cents", "raw_response",
		"expires_at", "paid_at", "created_at", "updated_at",
	}).AddRow(id, reservationID, 150000, "QRIS", status, "T123456", nil, nil, nil, nil, now.Add(time.Hour), nil, now, now)
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	f, cleanup := newFixture(t, &fakeGateway{}, false)
	defer cleanup()

	f.mock.ExpectQuery("FROM reservations WHERE id").WithArgs(uint64(11)).
		WillReturnRows(reservationRow(11, model.ReservationCompleted))

	_, err := f.svc.UpdateStatus(context.Background(), 11, model.ReservationConfirmed)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
}

func TestUpdateStatusCancelReleasesSlotAndPayment(t *testing.T) {
	f, cleanup := newFixture(t, &fakeGateway{}, false)
	defer cleanup()

	f.mock.ExpectQuery("FROM reservations WHERE id").WithArgs(uint64(11)).
		WillReturnRows(reservationRow(11, model.ReservationPending))
	f.mock.ExpectQuery("WHERE reservation_id").WithArgs(uint64(11)).
		WillReturnRows(paymentRow(21, 11, model.PaymentPending))
	f.mock.ExpectBegin()
	f.mock.ExpectExec("UPDATE reservations SET status").
		WithArgs(model.ReservationCancelled, uint64(11), model.ReservationPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("UPDATE sessions SET is_booked").WithArgs(false, uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	res, err := f.svc.UpdateStatus(context.Background(), 11, model.ReservationCancelled)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCancelled, res.Status)
	assert.Contains(t, f.sched.cancelled, uint64(21), "stale expiry timer must be cancelled")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateStatusDetectsConcurrentChange(t *testing.T) {
	f, cleanup := newFixture(t, &fakeGateway{}, false)
	defer cleanup()

	f.mock.ExpectQuery("FROM reservations WHERE id").WithArgs(uint64(11)).
		WillReturnRows(reservationRow(11, model.ReservationPending))
	f.mock.ExpectQuery("WHERE reservation_id").WithArgs(uint64(11)).
		WillReturnRows(paymentRow(21, 11, model.PaymentPending))
	f.mock.ExpectBegin()
	f.mock.ExpectExec("UPDATE reservations SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectRollback()

	_, err := f.svc.UpdateStatus(context.Background(), 11, model.ReservationConfirmed)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
	assert.Empty(t, f.sched.cancelled)
}

func TestUpdateStatusCancelsTimerBeforeCommit(t *testing.T) {
	f, cleanup := newFixture(t, &fakeGateway{}, false)
	defer cleanup()

	f.mock.ExpectQuery("FROM reservations WHERE id").WithArgs(uint64(11)).
		WillReturnRows(reservationRow(11, model.ReservationPending))
	f.mock.ExpectQuery("WHERE reservation_id").WithArgs(uint64(11)).
		WillReturnRows(paymentRow(21, 11, model.PaymentPending))
	f.mock.ExpectBegin()
	f.mock.ExpectExec("UPDATE reservations SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("UPDATE sessions SET is_booked").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit().WillReturnError(errors.New("deadlock"))

	_, err := f.svc.UpdateStatus(context.Background(), 11, model.ReservationCancelled)
	require.Error(t, err)
	assert.Contains(t, f.sched.cancelled, uint64(21), "timer is stopped before the write commits")
}

func TestUpdateStatusNotFound(t *testing.T) {
	f, cleanup := newFixture(t, &fakeGateway{}, false)
	defer cleanup()

	f.mock.ExpectQuery("FROM reservations WHERE id").WithArgs(uint64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := f.svc.UpdateStatus(context.Background(), 99, model.ReservationConfirmed)
	assert.ErrorIs(t, err, repository.ErrReservationNotFound)
}
