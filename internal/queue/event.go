// Package queue defines the domain events exchanged over the message
// broker and the publisher/consumer pair that moves them. Reservation
// and payment state changes are appended here as events; the consumer
// turns them into notifications, so a broker or notification failure
// can never fail the transactional core.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// EventsQueue is the durable queue all reservation events flow through.
const EventsQueue = "reservation.events"

// Event kinds.
const (
	KindReservationCreated = "reservation.created"
	KindPaymentConfirmed   = "payment.confirmed"
	KindPaymentExpired     = "payment.expired"
	KindPaymentCancelled   = "payment.cancelled"
)

// ReservationEvent is the envelope for every event on the queue. It
// carries enough information for downstream consumers to notify, log
// or aggregate without querying the primary database. EventID lets
// consumers de-duplicate redelivered messages.
type ReservationEvent struct {
	EventID       string    `json:"event_id"`
	Kind          string    `json:"kind"`
	OccurredAt    time.Time `json:"occurred_at"`
	ReservationID uint64    `json:"reservation_id"`
	CustomerID    uint64    `json:"customer_id"`
	CustomerName  string    `json:"customer_name"`
	ServiceName   string    `json:"service_name"`
	AmountCents   uint32    `json:"amount_cents"`
	CheckoutURL   string    `json:"checkout_url,omitempty"`
}

// NewEvent builds a ReservationEvent with a fresh event ID and
// timestamp.
func NewEvent(kind string, reservationID, customerID uint64, customerName, serviceName string, amountCents uint32) ReservationEvent {
	return ReservationEvent{
		EventID:       uuid.NewString(),
		Kind:          kind,
		OccurredAt:    time.Now().UTC(),
		ReservationID: reservationID,
		CustomerID:    customerID,
		CustomerName:  customerName,
		ServiceName:   serviceName,
		AmountCents:   amountCents,
	}
}
