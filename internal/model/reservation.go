package model

import "time"

// Reservation status values. A reservation starts as PENDING and moves
// through the lifecycle below; COMPLETED, CANCELLED and EXPIRED are
// terminal and never change again.
const (
	ReservationPending    = "PENDING"
	ReservationConfirmed  = "CONFIRMED"
	ReservationInProgress = "IN_PROGRESS"
	ReservationCompleted  = "COMPLETED"
	ReservationCancelled  = "CANCELLED"
	ReservationExpired    = "EXPIRED"
)

// reservationTransitions encodes the allowed status graph:
//
//	PENDING   -> CONFIRMED | CANCELLED | EXPIRED
//	CONFIRMED -> IN_PROGRESS | CANCELLED
//	IN_PROGRESS -> COMPLETED
var reservationTransitions = map[string][]string{
	ReservationPending:    {ReservationConfirmed, ReservationCancelled, ReservationExpired},
	ReservationConfirmed:  {ReservationInProgress, ReservationCancelled},
	ReservationInProgress: {ReservationCompleted},
}

// CanTransition reports whether a reservation may move from one status to
// another. Any edge not present in the graph, including every transition
// out of a terminal status, is rejected.
func CanTransition(from, to string) bool {
	for _, next := range reservationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalReservationStatus reports whether the status permits no
// further transitions.
func IsTerminalReservationStatus(status string) bool {
	return len(reservationTransitions[status]) == 0
}

// Reservation records a customer's booking of one session for one spa
// service. Exactly one active reservation may reference a session; the
// database enforces this with a unique constraint on session_id.
//
// Fields:
//  ID               – primary key identifier.
//  CustomerID       – user who made the reservation.
//  ServiceID        – spa service being booked.
//  StaffID          – staff member delivering the service.
//  SessionID        – booked session (unique, immutable after creation).
//  BabyName         – name of the baby receiving the service.
//  BabyAgeMonths    – baby age in months, used for tier pricing.
//  Notes            – optional free-form note from the customer.
//  Status           – lifecycle state (see constants above).
//  TotalAmountCents – total price in cents.
//  CreatedAt        – creation timestamp.
//  UpdatedAt        – last update timestamp.
type Reservation struct {
	ID               uint64    // reservations.id
	CustomerID       uint64    // reservations.customer_id
	ServiceID        uint64    // reservations.service_id
	StaffID          uint64    // reservations.staff_id
	SessionID        uint64    // reservations.session_id (unique)
	BabyName         string    // reservations.baby_name
	BabyAgeMonths    uint32    // reservations.baby_age_months
	Notes            string    // reservations.notes
	Status           string    // reservations.status
	TotalAmountCents uint32    // reservations.total_amount_cents
	CreatedAt        time.Time // reservations.created_at
	UpdatedAt        time.Time // reservations.updated_at
}
