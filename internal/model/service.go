package model

import "time"

// SpaService is an entry in the service catalog (e.g. baby massage,
// baby swim). A service is priced either by a flat amount or by age
// tiers; UsesTiers selects between the two.
//
// Fields:
//  ID             – primary key identifier.
//  Name           – display name of the service.
//  Description    – customer-facing description.
//  DurationMin    – duration of one session in minutes.
//  FlatPriceCents – price in cents when tier pricing is not used.
//  UsesTiers      – whether price tiers apply instead of the flat price.
//  IsActive       – whether the service can currently be booked.
//  CreatedAt      – creation timestamp.
type SpaService struct {
	ID             uint64    // spa_services.id
	Name           string    // spa_services.name
	Description    string    // spa_services.description
	DurationMin    uint32    // spa_services.duration_min
	FlatPriceCents uint32    // spa_services.flat_price_cents
	UsesTiers      bool      // spa_services.uses_tiers
	IsActive       bool      // spa_services.is_active
	CreatedAt      time.Time // spa_services.created_at
}

// PriceTier prices a service for an inclusive baby-age range in months.
//
// Fields:
//  ID           – primary key identifier.
//  ServiceID    – service this tier belongs to.
//  MinAgeMonths – inclusive lower bound of the age range.
//  MaxAgeMonths – inclusive upper bound of the age range.
//  PriceCents   – price in cents for this range.
type PriceTier struct {
	ID           uint64 `json:"id"`             // service_price_tiers.id
	ServiceID    uint64 `json:"service_id"`     // service_price_tiers.service_id
	MinAgeMonths uint32 `json:"min_age_months"` // service_price_tiers.min_age_months
	MaxAgeMonths uint32 `json:"max_age_months"` // service_price_tiers.max_age_months
	PriceCents   uint32 `json:"price_cents"`    // service_price_tiers.price_cents
}

// Matches reports whether the baby age falls inside the tier's
// inclusive age range.
func (t PriceTier) Matches(ageMonths uint32) bool {
	return ageMonths >= t.MinAgeMonths && ageMonths <= t.MaxAgeMonths
}
