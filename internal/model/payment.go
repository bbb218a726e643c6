package model

import (
	"strings"
	"time"
)

// Payment status values. A payment starts as PENDING; once it leaves
// PENDING it never changes again, which is the idempotency gate for
// webhook callbacks and expiry timers.
const (
	PaymentPending  = "PENDING"
	PaymentPaid     = "PAID"
	PaymentFailed   = "FAILED"
	PaymentExpired  = "EXPIRED"
	PaymentRefunded = "REFUNDED"
)

// ProviderStatus is a decoded payment-gateway callback status. Unknown
// values are kept as ProviderUnknown with the raw tag preserved so the
// caller can log them instead of propagating untyped strings inward.
type ProviderStatus struct {
	Tag string // one of the Provider* constants
	Raw string // original value from the gateway payload
}

// Known provider status tags as sent by Tripay.
const (
	ProviderPaid    = "PAID"
	ProviderExpired = "EXPIRED"
	ProviderFailed  = "FAILED"
	ProviderRefund  = "REFUND"
	ProviderUnknown = "UNKNOWN"
)

// ParseProviderStatus normalizes a raw gateway status string into a
// ProviderStatus. Matching is case-insensitive.
func ParseProviderStatus(raw string) ProviderStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case ProviderPaid:
		return ProviderStatus{Tag: ProviderPaid, Raw: raw}
	case ProviderExpired:
		return ProviderStatus{Tag: ProviderExpired, Raw: raw}
	case ProviderFailed:
		return ProviderStatus{Tag: ProviderFailed, Raw: raw}
	case ProviderRefund:
		return ProviderStatus{Tag: ProviderRefund, Raw: raw}
	default:
		return ProviderStatus{Tag: ProviderUnknown, Raw: raw}
	}
}

// Transition describes the internal state change a provider status maps
// to: the new payment status, the new reservation status, and whether
// the session slot should be released.
type Transition struct {
	PaymentStatus     string
	ReservationStatus string
	FreeSession       bool
}

// MapProviderStatus returns the internal transition for a decoded
// provider status. The second return value is false for unknown tags,
// in which case no state change must be applied.
func MapProviderStatus(s ProviderStatus) (Transition, bool) {
	switch s.Tag {
	case ProviderPaid:
		return Transition{PaymentStatus: PaymentPaid, ReservationStatus: ReservationConfirmed, FreeSession: false}, true
	case ProviderExpired:
		return Transition{PaymentStatus: PaymentExpired, ReservationStatus: ReservationExpired, FreeSession: true}, true
	case ProviderFailed:
		return Transition{PaymentStatus: PaymentFailed, ReservationStatus: ReservationCancelled, FreeSession: true}, true
	case ProviderRefund:
		return Transition{PaymentStatus: PaymentRefunded, ReservationStatus: ReservationCancelled, FreeSession: true}, true
	default:
		return Transition{}, false
	}
}

// Payment is the monetary transaction record tied 1:1 to a reservation.
// The row is created together with the reservation and is never deleted
// on its own; deleting the reservation cascades to the payment.
//
// Fields:
//  ID               – primary key identifier.
//  ReservationID    – owning reservation (unique).
//  AmountCents      – amount charged in cents.
//  Method           – gateway payment channel code (e.g. BRIVA, QRIS).
//  Status           – lifecycle state (see constants above).
//  TripayReference  – gateway transaction reference (set after create).
//  CheckoutURL      – hosted checkout URL returned by the gateway.
//  Instructions     – JSON blob of payment instructions from the gateway.
//  FeeMerchantCents – merchant fee reported by the callback, if any.
//  RawResponse      – last raw gateway payload stored for audit.
//  ExpiresAt        – payment deadline (created_at + 24h).
//  PaidAt           – when the gateway reported the payment (nullable).
//  CreatedAt        – creation timestamp.
//  UpdatedAt        – last update timestamp.
type Payment struct {
	ID               uint64     // payments.id
	ReservationID    uint64     // payments.reservation_id (unique)
	AmountCents      uint32     // payments.amount_cents
	Method           string     // payments.method
	Status           string     // payments.status
	TripayReference  *string    // payments.tripay_reference (nullable)
	CheckoutURL      *string    // payments.checkout_url (nullable)
	Instructions     *string    // payments.instructions (nullable JSON)
	FeeMerchantCents *uint32    // payments.fee_merchant_cents (nullable)
	RawResponse      *string    // payments.raw_response (nullable JSON)
	ExpiresAt        time.Time  // payments.expires_at
	PaidAt           *time.Time // payments.paid_at (nullable)
	CreatedAt        time.Time  // payments.created_at
	UpdatedAt        time.Time  // payments.updated_at
}
