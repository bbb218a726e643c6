package repository

import (
	"context"
	"database/sql"

	"github.com/rafidhiya/baby-spa-backend/internal/model"
)

// NotificationRepo persists in-app notifications written by the queue
// consumer and read back by customers and owners.
type NotificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo returns a new NotificationRepo bound to the given database.
func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// Create inserts one notification row for a single recipient.
func (r *NotificationRepo) Create(ctx context.Context, n model.Notification) error {
	const q = `INSERT INTO notifications (user_id, title, message, kind, reference_id)
               VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, n.UserID, n.Title, n.Message, n.Kind, n.ReferenceID)
	return err
}

// CreateForUsers inserts the same notification for multiple recipients
// in one statement. Passing an empty slice has no effect and returns
// nil.
func (r *NotificationRepo) CreateForUsers(ctx context.Context, userIDs []uint64, n model.Notification) error {
	if len(userIDs) == 0 {
		return nil
	}
	query := `INSERT INTO notifications (user_id, title, message, kind, reference_id) VALUES `
	args := make([]interface{}, 0, len(userIDs)*5)
	for i, uid := range userIDs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, uid, n.Title, n.Message, n.Kind, n.ReferenceID)
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// ListByUser returns a user's notifications, newest first.
func (r *NotificationRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Notification, error) {
	const q = `SELECT id, user_id, title, message, kind, reference_id, is_read, created_at
               FROM notifications WHERE user_id = ? ORDER BY created_at DESC LIMIT 100`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Kind, &n.ReferenceID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

// MarkRead flags one notification as read, scoped to its recipient.
func (r *NotificationRepo) MarkRead(ctx context.Context, id, userID uint64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
