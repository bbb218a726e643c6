package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rafidhiya/baby-spa-backend/internal/model"
)

// SessionRepo provides data access to the sessions table. A session is
// one staff member's availability in one time slot; its is_booked flag
// is flipped by the reservation flow and released again on expiry or
// cancellation. All timestamps are stored in UTC.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the given database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// DB exposes the underlying handle so handlers and services can open
// transactions spanning multiple repositories.
func (r *SessionRepo) DB() *sql.DB { return r.db }

// GetByID returns a single session. ErrSessionNotFound is returned when
// no row exists.
func (r *SessionRepo) GetByID(ctx context.Context, id uint64) (model.Session, error) {
	const q = `SELECT id, staff_id, starts_at, ends_at, is_booked, created_at
               FROM sessions WHERE id = ?`
	var s model.Session
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.StaffID, &s.StartsAt, &s.EndsAt, &s.IsBooked, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrSessionNotFound
	}
	return s, err
}

// GetForUpdateTx loads a session with a row lock inside the provided
// transaction. The lock serializes concurrent booking attempts on the
// same slot; the unique constraint on reservations.session_id remains
// the final backstop.
func (r *SessionRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Session, error) {
	const q = `SELECT id, staff_id, starts_at, ends_at, is_booked, created_at
               FROM sessions WHERE id = ? FOR UPDATE`
	var s model.Session
	err := tx.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.StaffID, &s.StartsAt, &s.EndsAt, &s.IsBooked, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrSessionNotFound
	}
	return s, err
}

// SetBookedTx updates the is_booked flag within a transaction.
func (r *SessionRepo) SetBookedTx(ctx context.Context, tx *sql.Tx, id uint64, booked bool) error {
	_, err := tx.ExecContext(ctx, `UPDATE sessions SET is_booked = ? WHERE id = ?`, booked, id)
	return err
}

// ReleaseUnlessPaid frees a session slot unless a different, already
// PAID reservation is holding it. It is used by the compensating path
// after a failed gateway call: the slot this attempt grabbed must be
// returned, but a slot legitimately held by a settled booking must not
// be touched.
func (r *SessionRepo) ReleaseUnlessPaid(ctx context.Context, id uint64) error {
	const q = `UPDATE sessions s SET s.is_booked = FALSE
               WHERE s.id = ?
                 AND NOT EXISTS (
                     SELECT 1 FROM reservations r
                     JOIN payments p ON p.reservation_id = r.id
                     WHERE r.session_id = s.id AND p.status = 'PAID'
                 )`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// SessionDetail is a session joined with its staff member, returned by
// the availability listing.
type SessionDetail struct {
	ID        uint64    `json:"id"`
	StaffID   uint64    `json:"staff_id"`
	StaffName string    `json:"staff_name"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	IsBooked  bool      `json:"is_booked"`
}

// ListByDate returns all sessions starting on the given UTC calendar
// day, optionally filtered by staff member. Booked sessions are
// included so clients can render the full schedule.
func (r *SessionRepo) ListByDate(ctx context.Context, day time.Time, staffID uint64) ([]SessionDetail, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	q := `SELECT s.id, s.staff_id, st.full_name, s.starts_at, s.ends_at, s.is_booked
          FROM sessions s
          JOIN staff st ON st.id = s.staff_id
          WHERE s.starts_at >= ? AND s.starts_at < ?`
	args := []interface{}{start, end}
	if staffID != 0 {
		q += ` AND s.staff_id = ?`
		args = append(args, staffID)
	}
	q += ` ORDER BY s.starts_at, s.staff_id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details := make([]SessionDetail, 0)
	for rows.Next() {
		var d SessionDetail
		if err := rows.Scan(&d.ID, &d.StaffID, &d.StaffName, &d.StartsAt, &d.EndsAt, &d.IsBooked); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// CreateBulk inserts multiple sessions in a single statement. It is
// used by the owner schedule generator. Passing an empty slice has no
// effect and returns nil.
func (r *SessionRepo) CreateBulk(ctx context.Context, sessions []model.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	query := `INSERT INTO sessions (staff_id, starts_at, ends_at, is_booked) VALUES `
	args := make([]interface{}, 0, len(sessions)*4)
	for i, s := range sessions {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, s.StaffID, s.StartsAt.UTC(), s.EndsAt.UTC(), s.IsBooked)
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// StaffExists reports whether an active staff member with the given ID
// exists.
func (r *SessionRepo) StaffExists(ctx context.Context, staffID uint64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM staff WHERE id = ? AND is_active = TRUE`, staffID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
