package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rafidhiya/baby-spa-backend/internal/model"
)

// PaymentRepo provides data access to the payments table. A payment is
// created together with its reservation and only ever moves away from
// PENDING once; the conditional update in MarkIfPendingTx is what makes
// the webhook/timer race safe at the storage layer.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// DB exposes the underlying handle for multi-repository transactions.
func (r *PaymentRepo) DB() *sql.DB { return r.db }

// CreateTx inserts a new payment within the scope of an existing
// transaction and populates the generated ID on the provided record.
func (r *PaymentRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	const q = `INSERT INTO payments (reservation_id, amount_cents, method, status, expires_at)
               VALUES (?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q,
		p.ReservationID, p.AmountCents, p.Method, p.Status, p.ExpiresAt.UTC())
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

func scanPayment(scan func(dest ...interface{}) error) (model.Payment, error) {
	var p model.Payment
	var ref, checkout, instructions, raw sql.NullString
	var fee sql.NullInt64
	var paidAt sql.NullTime
	err := scan(
		&p.ID, &p.ReservationID, &p.AmountCents, &p.Method, &p.Status,
		&ref, &checkout, &instructions, &fee, &raw,
		&p.ExpiresAt, &paidAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return model.Payment{}, err
	}
	if ref.Valid {
		v := ref.String
		p.TripayReference = &v
	}
	if checkout.Valid {
		v := checkout.String
		p.CheckoutURL = &v
	}
	if instructions.Valid {
		v := instructions.String
		p.Instructions = &v
	}
	if fee.Valid {
		v := uint32(fee.Int64)
		p.FeeMerchantCents = &v
	}
	if raw.Valid {
		v := raw.String
		p.RawResponse = &v
	}
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}
	return p, nil
}

const paymentColumns = `SELECT id, reservation_id, amount_cents, method, status,
                               tripay_reference, checkout_url, instructions, fee_merchant_cents, raw_response,
                               expires_at, paid_at, created_at, updated_at
                        FROM payments`

// GetByID returns a single payment. ErrPaymentNotFound is returned
// when no row exists.
func (r *PaymentRepo) GetByID(ctx context.Context, id uint64) (model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, paymentColumns+` WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Payment{}, ErrPaymentNotFound
	}
	return p, err
}

// GetByReservation returns the payment attached to a reservation.
// ErrPaymentNotFound is returned when no row exists.
func (r *PaymentRepo) GetByReservation(ctx context.Context, reservationID uint64) (model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, paymentColumns+` WHERE reservation_id = ?`, reservationID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Payment{}, ErrPaymentNotFound
	}
	return p, err
}

// BookingContext carries everything the callback handler and expiry
// scheduler need around one payment: the reservation it settles, the
// session it may free, and the parties to notify.
type BookingContext struct {
	Payment           model.Payment
	ReservationID     uint64
	ReservationStatus string
	SessionID         uint64
	CustomerID        uint64
	CustomerName      string
	CustomerEmail     string
	ServiceName       string
}

func (r *PaymentRepo) bookingContext(ctx context.Context, where string, arg interface{}) (BookingContext, error) {
	q := `SELECT p.id, p.reservation_id, p.amount_cents, p.method, p.status,
                 p.tripay_reference, p.checkout_url, p.instructions, p.fee_merchant_cents, p.raw_response,
                 p.expires_at, p.paid_at, p.created_at, p.updated_at,
                 r.id, r.status, r.session_id, r.customer_id, u.full_name, u.email, sv.name
          FROM payments p
          JOIN reservations r ON r.id = p.reservation_id
          JOIN users u ON u.id = r.customer_id
          JOIN spa_services sv ON sv.id = r.service_id
          WHERE ` + where

	var bc BookingContext
	var p model.Payment
	var ref, checkout, instructions, raw sql.NullString
	var fee sql.NullInt64
	var paidAt sql.NullTime
	err := r.db.QueryRowContext(ctx, q, arg).Scan(
		&p.ID, &p.ReservationID, &p.AmountCents, &p.Method, &p.Status,
		&ref, &checkout, &instructions, &fee, &raw,
		&p.ExpiresAt, &paidAt, &p.CreatedAt, &p.UpdatedAt,
		&bc.ReservationID, &bc.ReservationStatus, &bc.SessionID,
		&bc.CustomerID, &bc.CustomerName, &bc.CustomerEmail, &bc.ServiceName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return BookingContext{}, ErrPaymentNotFound
	}
	if err != nil {
		return BookingContext{}, err
	}
	if ref.Valid {
		v := ref.String
		p.TripayReference = &v
	}
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}
	bc.Payment = p
	return bc, nil
}

// ContextByReference loads the booking context for a gateway reference.
func (r *PaymentRepo) ContextByReference(ctx context.Context, reference string) (BookingContext, error) {
	return r.bookingContext(ctx, `p.tripay_reference = ?`, reference)
}

// ContextByID loads the booking context for a payment ID.
func (r *PaymentRepo) ContextByID(ctx context.Context, paymentID uint64) (BookingContext, error) {
	return r.bookingContext(ctx, `p.id = ?`, paymentID)
}

// AttachGatewayResult stores the gateway's transaction reference,
// checkout URL, instructions and raw response on the payment after a
// successful create-transaction call.
func (r *PaymentRepo) AttachGatewayResult(ctx context.Context, id uint64, reference, checkoutURL, instructions, raw string) error {
	const q = `UPDATE payments
               SET tripay_reference = ?, checkout_url = ?, instructions = ?, raw_response = ?
               WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, reference, checkoutURL, instructions, raw, id)
	return err
}

// MarkIfPendingTx transitions the payment to the given status only if
// it is still PENDING, inside the provided transaction. It reports
// whether the row changed: false means another path (webhook or timer)
// already settled this payment and the caller must treat the event as
// processed. paidAt, feeCents and raw are optional extras persisted
// alongside the transition.
func (r *PaymentRepo) MarkIfPendingTx(ctx context.Context, tx *sql.Tx, id uint64, status string, paidAt *time.Time, feeCents *uint32, raw *string) (bool, error) {
	const q = `UPDATE payments
               SET status = ?,
                   paid_at = COALESCE(?, paid_at),
                   fee_merchant_cents = COALESCE(?, fee_merchant_cents),
                   raw_response = COALESCE(?, raw_response)
               WHERE id = ? AND status = 'PENDING'`
	var paid interface{}
	if paidAt != nil {
		paid = paidAt.UTC()
	}
	var fee interface{}
	if feeCents != nil {
		fee = *feeCents
	}
	var rawVal interface{}
	if raw != nil {
		rawVal = *raw
	}
	result, err := tx.ExecContext(ctx, q, status, paid, fee, rawVal, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

// PendingExpiry is the subset of a payment the scheduler needs to
// re-arm a timer.
type PendingExpiry struct {
	PaymentID uint64
	ExpiresAt time.Time
}

// ListPendingFuture returns PENDING payments whose deadline is still
// ahead of now. Used on startup to re-hydrate the in-memory timer set.
func (r *PaymentRepo) ListPendingFuture(ctx context.Context, now time.Time) ([]PendingExpiry, error) {
	const q = `SELECT id, expires_at FROM payments
               WHERE status = 'PENDING' AND expires_at > ?`
	return r.listPending(ctx, q, now.UTC())
}

// ListPendingOverdue returns PENDING payments whose deadline has
// already passed. Used by the cron sweep.
func (r *PaymentRepo) ListPendingOverdue(ctx context.Context, now time.Time) ([]PendingExpiry, error) {
	const q = `SELECT id, expires_at FROM payments
               WHERE status = 'PENDING' AND expires_at <= ?`
	return r.listPending(ctx, q, now.UTC())
}

func (r *PaymentRepo) listPending(ctx context.Context, q string, now time.Time) ([]PendingExpiry, error) {
	rows, err := r.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pending := make([]PendingExpiry, 0)
	for rows.Next() {
		var p PendingExpiry
		if err := rows.Scan(&p.PaymentID, &p.ExpiresAt); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}
