// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios and map
// them to HTTP status codes without inspecting driver error strings.
package repository

import "errors"

// ErrSessionTaken is returned when a reservation loses the race for a
// session slot, either because is_booked was already set or because the
// unique constraint on reservations.session_id fired at commit time.
// Handlers translate this into 409.
var ErrSessionTaken = errors.New("session already booked")

// ErrPriceUnavailable is returned when a tier-priced service has no
// tier covering the baby's age and no explicit tier was requested.
// Handlers translate this into 422.
var ErrPriceUnavailable = errors.New("no price tier matches the baby age")

// ErrInvalidTransition is returned when a requested reservation status
// change is not an edge of the lifecycle graph. Handlers translate
// this into 400.
var ErrInvalidTransition = errors.New("invalid status transition")

// Not-found sentinels for the entities referenced by the booking flow.
// Handlers translate these into 404.
var (
	ErrServiceNotFound     = errors.New("service not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrPaymentNotFound     = errors.New("payment not found")
)
