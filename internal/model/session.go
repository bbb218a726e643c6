package model

import "time"

// Session is one staff member's availability in one time slot. Sessions
// are generated in bulk by the owner schedule endpoint and flip their
// is_booked flag when a reservation claims or releases them.
//
// Fields:
//  ID        – primary key identifier.
//  StaffID   – staff member available in this slot.
//  StartsAt  – slot start time (UTC).
//  EndsAt    – slot end time (UTC).
//  IsBooked  – whether an active reservation holds this session.
//  CreatedAt – when the session was generated.
type Session struct {
	ID        uint64    // sessions.id
	StaffID   uint64    // sessions.staff_id
	StartsAt  time.Time // sessions.starts_at
	EndsAt    time.Time // sessions.ends_at
	IsBooked  bool      // sessions.is_booked
	CreatedAt time.Time // sessions.created_at
}

// Staff is a member of the spa team that sessions are scheduled for.
//
// Fields:
//  ID       – primary key identifier.
//  FullName – display name of the staff member.
//  IsActive – whether the staff member currently takes bookings.
type Staff struct {
	ID       uint64 // staff.id
	FullName string // staff.full_name
	IsActive bool   // staff.is_active
}
