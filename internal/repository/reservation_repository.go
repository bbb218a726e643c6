package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rafidhiya/baby-spa-backend/internal/model"
)

// ReservationRepo provides CRUD operations for reservations. Each
// reservation claims exactly one session; the unique constraint on
// reservations.session_id is the final arbiter when two requests race
// for the same slot.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// DB exposes the underlying handle for multi-repository transactions.
func (r *ReservationRepo) DB() *sql.DB { return r.db }

// CreateTx inserts a new reservation within the scope of an existing
// transaction and populates the generated ID on the provided record.
// A duplicate-key violation on session_id means another reservation
// committed for the same slot first; it is converted to ErrSessionTaken
// so the caller can answer 409 instead of a generic 500.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	const q = `INSERT INTO reservations
               (customer_id, service_id, staff_id, session_id, baby_name, baby_age_months, notes, status, total_amount_cents)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q,
		res.CustomerID, res.ServiceID, res.StaffID, res.SessionID,
		res.BabyName, res.BabyAgeMonths, res.Notes, res.Status, res.TotalAmountCents,
	)
	if err != nil {
		if strings.Contains(err.Error(), "1062") {
			return ErrSessionTaken
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// GetByID returns a single reservation. ErrReservationNotFound is
// returned when no row exists.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (model.Reservation, error) {
	const q = `SELECT id, customer_id, service_id, staff_id, session_id, baby_name, baby_age_months,
                      notes, status, total_amount_cents, created_at, updated_at
               FROM reservations WHERE id = ?`
	var res model.Reservation
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&res.ID, &res.CustomerID, &res.ServiceID, &res.StaffID, &res.SessionID,
		&res.BabyName, &res.BabyAgeMonths, &res.Notes, &res.Status,
		&res.TotalAmountCents, &res.CreatedAt, &res.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, ErrReservationNotFound
	}
	return res, err
}

// Delete removes a reservation. The payment row is removed by the
// ON DELETE CASCADE foreign key. Used only by the compensating path
// after a failed gateway transaction.
func (r *ReservationRepo) Delete(ctx context.Context, id uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	return err
}

// UpdateStatusTx sets the reservation status within a transaction. The
// caller is responsible for having validated the transition.
func (r *ReservationRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE reservations SET status = ? WHERE id = ?`, status, id)
	return err
}

// UpdateStatusFromTx transitions the reservation status only when the
// current status still matches the expected one. It reports whether a
// row changed, letting callers detect a lost race without a separate
// read.
func (r *ReservationRepo) UpdateStatusFromTx(ctx context.Context, tx *sql.Tx, id uint64, from, to string) (bool, error) {
	result, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

// ReservationDetail is a reservation joined with its service, staff,
// session and payment summary, returned by list and get endpoints.
type ReservationDetail struct {
	ID               uint64     `json:"id"`
	CustomerID       uint64     `json:"customer_id"`
	CustomerName     string     `json:"customer_name,omitempty"`
	ServiceName      string     `json:"service_name"`
	StaffName        string     `json:"staff_name"`
	SessionID        uint64     `json:"session_id"`
	StartsAt         time.Time  `json:"starts_at"`
	EndsAt           time.Time  `json:"ends_at"`
	BabyName         string     `json:"baby_name"`
	BabyAgeMonths    uint32     `json:"baby_age_months"`
	Notes            string     `json:"notes,omitempty"`
	Status           string     `json:"status"`
	TotalAmountCents uint32     `json:"total_amount_cents"`
	PaymentStatus    string     `json:"payment_status"`
	PaymentMethod    string     `json:"payment_method"`
	CheckoutURL      *string    `json:"checkout_url,omitempty"`
	PaymentExpiresAt *time.Time `json:"payment_expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

const detailColumns = `SELECT r.id, r.customer_id, u.full_name, sv.name, st.full_name,
                              r.session_id, ss.starts_at, ss.ends_at,
                              r.baby_name, r.baby_age_months, r.notes, r.status, r.total_amount_cents,
                              p.status, p.method, p.checkout_url, p.expires_at, r.created_at
                       FROM reservations r
                       JOIN users u ON u.id = r.customer_id
                       JOIN spa_services sv ON sv.id = r.service_id
                       JOIN staff st ON st.id = r.staff_id
                       JOIN sessions ss ON ss.id = r.session_id
                       JOIN payments p ON p.reservation_id = r.id`

func scanDetail(scan func(dest ...interface{}) error) (ReservationDetail, error) {
	var d ReservationDetail
	var checkoutURL sql.NullString
	var payExpires sql.NullTime
	err := scan(
		&d.ID, &d.CustomerID, &d.CustomerName, &d.ServiceName, &d.StaffName,
		&d.SessionID, &d.StartsAt, &d.EndsAt,
		&d.BabyName, &d.BabyAgeMonths, &d.Notes, &d.Status, &d.TotalAmountCents,
		&d.PaymentStatus, &d.PaymentMethod, &checkoutURL, &payExpires, &d.CreatedAt,
	)
	if err != nil {
		return ReservationDetail{}, err
	}
	if checkoutURL.Valid {
		u := checkoutURL.String
		d.CheckoutURL = &u
	}
	if payExpires.Valid {
		t := payExpires.Time
		d.PaymentExpiresAt = &t
	}
	return d, nil
}

// GetDetailForCustomer returns one reservation with full context,
// restricted to the owning customer. ErrReservationNotFound is
// returned when no matching row exists.
func (r *ReservationRepo) GetDetailForCustomer(ctx context.Context, id, customerID uint64) (ReservationDetail, error) {
	q := detailColumns + ` WHERE r.id = ? AND r.customer_id = ?`
	d, err := scanDetail(r.db.QueryRowContext(ctx, q, id, customerID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ReservationDetail{}, ErrReservationNotFound
	}
	return d, err
}

// ListByCustomer returns all reservations for one customer, newest
// first.
func (r *ReservationRepo) ListByCustomer(ctx context.Context, customerID uint64) ([]ReservationDetail, error) {
	q := detailColumns + ` WHERE r.customer_id = ? ORDER BY r.created_at DESC`
	return r.listDetails(ctx, q, customerID)
}

// ListForOwner returns all reservations, optionally filtered by
// status, newest first.
func (r *ReservationRepo) ListForOwner(ctx context.Context, status string) ([]ReservationDetail, error) {
	if status != "" {
		q := detailColumns + ` WHERE r.status = ? ORDER BY r.created_at DESC`
		return r.listDetails(ctx, q, status)
	}
	q := detailColumns + ` ORDER BY r.created_at DESC`
	return r.listDetails(ctx, q)
}

func (r *ReservationRepo) listDetails(ctx context.Context, q string, args ...interface{}) ([]ReservationDetail, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details := make([]ReservationDetail, 0)
	for rows.Next() {
		d, err := scanDetail(rows.Scan)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// OwnerStats aggregates reservation counts per status and the revenue
// from confirmed, in-progress and completed bookings.
type OwnerStats struct {
	ByStatus          map[string]uint64 `json:"by_status"`
	RevenueCents      uint64            `json:"revenue_cents"`
	TotalReservations uint64            `json:"total_reservations"`
}

// Stats computes the owner dashboard aggregates in two queries.
func (r *ReservationRepo) Stats(ctx context.Context) (OwnerStats, error) {
	stats := OwnerStats{ByStatus: make(map[string]uint64)}

	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM reservations GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count uint64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.ByStatus[status] = count
		stats.TotalReservations += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_amount_cents), 0) FROM reservations
         WHERE status IN ('CONFIRMED', 'IN_PROGRESS', 'COMPLETED')`).Scan(&stats.RevenueCents)
	return stats, err
}
