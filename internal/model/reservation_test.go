package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"pending to confirmed", ReservationPending, ReservationConfirmed, true},
		{"pending to cancelled", ReservationPending, ReservationCancelled, true},
		{"pending to expired", ReservationPending, ReservationExpired, true},
		{"pending to in_progress skips confirmation", ReservationPending, ReservationInProgress, false},
		{"pending to completed skips everything", ReservationPending, ReservationCompleted, false},
		{"confirmed to in_progress", ReservationConfirmed, ReservationInProgress, true},
		{"confirmed to cancelled", ReservationConfirmed, ReservationCancelled, true},
		{"confirmed to expired", ReservationConfirmed, ReservationExpired, false},
		{"in_progress to completed", ReservationInProgress, ReservationCompleted, true},
		{"in_progress to cancelled", ReservationInProgress, ReservationCancelled, false},
		{"completed is terminal", ReservationCompleted, ReservationCancelled, false},
		{"cancelled is terminal", ReservationCancelled, ReservationPending, false},
		{"expired is terminal", ReservationExpired, ReservationConfirmed, false},
		{"unknown source status", "WEIRD", ReservationConfirmed, false},
		{"self transition rejected", ReservationPending, ReservationPending, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestIsTerminalReservationStatus(t *testing.T) {
	assert.False(t, IsTerminalReservationStatus(ReservationPending))
	assert.False(t, IsTerminalReservationStatus(ReservationConfirmed))
	assert.False(t, IsTerminalReservationStatus(ReservationInProgress))
	assert.True(t, IsTerminalReservationStatus(ReservationCompleted))
	assert.True(t, IsTerminalReservationStatus(ReservationCancelled))
	assert.True(t, IsTerminalReservationStatus(ReservationExpired))
}
