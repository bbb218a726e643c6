package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafidhiya/baby-spa-backend/internal/gateway"
	"github.com/rafidhiya/baby-spa-backend/internal/model"
	"github.com/rafidhiya/baby-spa-backend/internal/queue"
	"github.com/rafidhiya/baby-spa-backend/internal/repository"
)

type stubScheduler struct {
	cancelled []uint64
}

func (s *stubScheduler) ScheduleExpiry(uint64, time.Time) {}
func (s *stubScheduler) CancelExpiry(paymentID uint64) {
	s.cancelled = append(s.cancelled, paymentID)
}

type stubPublisher struct {
	events []queue.ReservationEvent
}

func (p *stubPublisher) Publish(_ context.Context, ev queue.ReservationEvent) error {
	p.events = append(p.events, ev)
	return nil
}

type callbackFixture struct {
	h      *CallbackHandler
	mock   sqlmock.Sqlmock
	client *gateway.Client
	sched  *stubScheduler
	pub    *stubPublisher
}

func newCallbackFixture(t *testing.T, verifySig bool) (*callbackFixture, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	client := gateway.NewClient(gateway.Config{
		BaseURL:      "http://gateway.invalid",
		PrivateKey:   "callback-secret",
		MerchantCode: "T001",
		RefPrefix:    "BSPA",
	})
	sched := &stubScheduler{}
	pub := &stubPublisher{}
	h := NewCallbackHandler(db,
		repository.NewPaymentRepo(db),
		repository.NewReservationRepo(db),
		repository.NewSessionRepo(db),
		client, sched, pub, verifySig, zerolog.Nop())
	return &callbackFixture{h: h, mock: mock, client: client, sched: sched, pub: pub}, func() { _ = db.Close() }
}

func (f *callbackFixture) post(t *testing.T, body, signature string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payment/callback", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set("X-Callback-Signature", signature)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, f.h.Handle(e.NewContext(req, rec)))

	var parsed map[string]interface{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &parsed)
	}
	return rec, parsed
}

var callbackContextCols = []string{
	"p.id", "p.reservation_id", "p.amount_cents", "p.method", "p.status",
	"p.tripay_reference", "p.checkout_url", "p.instructions", "p.fee_merchant_cents", "p.raw_response",
	"p.expires_at", "p.paid_at", "p.created_at", "p.updated_at",
	"r.id", "r.status", "r.session_id", "r.customer_id", "u.full_name", "u.email", "sv.name",
}

func callbackContextRow(paymentStatus string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(callbackContextCols).AddRow(
		21, 11, 150000, "QRIS", paymentStatus,
		"T123456", nil, nil, nil, nil,
		now.Add(time.Hour), nil, now, now,
		11, model.ReservationPending, 5, 3, "Jane Doe", "jane@example.com", "Baby Massage",
	)
}

func TestCallbackRejectsIncompletePayload(t *testing.T) {
	f, cleanup := newCallbackFixture(t, false)
	defer cleanup()

	rec, _ := f.post(t, `{"status":"PAID"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing reference")

	rec, _ = f.post(t, `{"reference":"T123456"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing status")

	rec, _ = f.post(t, `not json at all`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackSignatureMismatchAnswers200(t *testing.T) {
	f, cleanup := newCallbackFixture(t, true)
	defer cleanup()

	rec, parsed := f.post(t,
		`{"reference":"T123456","merchant_ref":"BSPA-11","status":"PAID"}`,
		"deadbeef")
	assert.Equal(t, http.StatusOK, rec.Code, "mismatch must not trigger provider retries")
	assert.Equal(t, false, parsed["success"])
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCallbackPaidWithValidSignature(t *testing.T) {
	f, cleanup := newCallbackFixture(t, true)
	defer cleanup()

	f.mock.ExpectQuery("FROM payments p").WithArgs("T123456").
		WillReturnRows(callbackContextRow(model.PaymentPending))
	f.mock.ExpectBegin()
	f.mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("UPDATE reservations SET status").
		WithArgs(model.ReservationConfirmed, uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	sig := f.client.CallbackSignature("BSPA-11", "T123456", "PAID")
	rec, parsed := f.post(t,
		`{"reference":"T123456","merchant_ref":"BSPA-11","status":"PAID","total_amount":1500,"fee_merchant":7.5,"paid_at":1735689600}`,
		sig)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, parsed["success"])

	assert.Contains(t, f.sched.cancelled, uint64(21), "timer cancelled before settlement")
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, queue.KindPaymentConfirmed, f.pub.events[0].Kind)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCallbackExpiredFreesSession(t *testing.T) {
	f, cleanup := newCallbackFixture(t, false)
	defer cleanup()

	f.mock.ExpectQuery("FROM payments p").WithArgs("T123456").
		WillReturnRows(callbackContextRow(model.PaymentPending))
	f.mock.ExpectBegin()
	f.mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("UPDATE reservations SET status").
		WithArgs(model.ReservationExpired, uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("UPDATE sessions SET is_booked").WithArgs(false, uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	rec, parsed := f.post(t, `{"reference":"T123456","merchant_ref":"BSPA-11","status":"EXPIRED"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, parsed["success"])
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, queue.KindPaymentExpired, f.pub.events[0].Kind)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCallbackUnknownReferenceAnswers200(t *testing.T) {
	f, cleanup := newCallbackFixture(t, false)
	defer cleanup()

	f.mock.ExpectQuery("FROM payments p").WithArgs("T-nope").
		WillReturnRows(sqlmock.NewRows(callbackContextCols))

	rec, parsed := f.post(t, `{"reference":"T-nope","status":"PAID"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, parsed["success"])
}

func TestCallbackRedeliveryAfterSettlementIsIdempotent(t *testing.T) {
	f, cleanup := newCallbackFixture(t, false)
	defer cleanup()

	f.mock.ExpectQuery("FROM payments p").WithArgs("T123456").
		WillReturnRows(callbackContextRow(model.PaymentPaid))

	rec, parsed := f.post(t, `{"reference":"T123456","status":"PAID"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, parsed["success"])
	assert.Empty(t, f.sched.cancelled, "no timer work for an already settled payment")
	assert.Empty(t, f.pub.events)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCallbackUnknownProviderStatus(t *testing.T) {
	f, cleanup := newCallbackFixture(t, false)
	defer cleanup()

	f.mock.ExpectQuery("FROM payments p").WithArgs("T123456").
		WillReturnRows(callbackContextRow(model.PaymentPending))

	rec, parsed := f.post(t, `{"reference":"T123456","status":"SOMETHING_NEW"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, parsed["success"])
	assert.Empty(t, f.pub.events)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCallbackLosesRaceToTimer(t *testing.T) {
	f, cleanup := newCallbackFixture(t, false)
	defer cleanup()

	// The payment reads PENDING but the expiry timer commits first: the
	// conditional update changes zero rows and the callback must treat
	// the payment as settled.
	f.mock.ExpectQuery("FROM payments p").WithArgs("T123456").
		WillReturnRows(callbackContextRow(model.PaymentPending))
	f.mock.ExpectBegin()
	f.mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectRollback()

	rec, parsed := f.post(t, `{"reference":"T123456","status":"PAID"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, parsed["success"])
	assert.Empty(t, f.pub.events)
	require.NoError(t, f.mock.ExpectationsWereMet())
}
