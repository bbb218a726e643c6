package model

import "time"

// Notification kinds used by the queue consumer when persisting
// in-app notifications.
const (
	NotificationReservation = "RESERVATION"
	NotificationPayment     = "PAYMENT"
)

// Notification is an in-app message delivered to a customer or owner.
// Rows are written by the notification consumer when it processes
// domain events from the queue; delivery failures never propagate back
// into the transactional core.
//
// Fields:
//  ID          – primary key identifier.
//  UserID      – recipient user.
//  Title       – short headline.
//  Message     – body text.
//  Kind        – RESERVATION or PAYMENT.
//  ReferenceID – related reservation ID, for deep links.
//  IsRead      – whether the recipient has opened it.
//  CreatedAt   – creation timestamp.
type Notification struct {
	ID          uint64    // notifications.id
	UserID      uint64    // notifications.user_id
	Title       string    // notifications.title
	Message     string    // notifications.message
	Kind        string    // notifications.kind
	ReferenceID uint64    // notifications.reference_id
	IsRead      bool      // notifications.is_read
	CreatedAt   time.Time // notifications.created_at
}
