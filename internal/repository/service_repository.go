package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rafidhiya/baby-spa-backend/internal/model"
)

// ServiceRepo provides read access to the spa service catalog and its
// price tiers. The catalog itself is managed out of band; the booking
// flow only reads it.
type ServiceRepo struct {
	db *sql.DB
}

// NewServiceRepo returns a new ServiceRepo bound to the given database.
func NewServiceRepo(db *sql.DB) *ServiceRepo { return &ServiceRepo{db: db} }

// GetByID returns a single active service. ErrServiceNotFound is
// returned when no row exists or the service is inactive.
func (r *ServiceRepo) GetByID(ctx context.Context, id uint64) (model.SpaService, error) {
	const q = `SELECT id, name, description, duration_min, flat_price_cents, uses_tiers, is_active, created_at
               FROM spa_services WHERE id = ? AND is_active = TRUE`
	var s model.SpaService
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.Name, &s.Description, &s.DurationMin, &s.FlatPriceCents,
		&s.UsesTiers, &s.IsActive, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SpaService{}, ErrServiceNotFound
	}
	return s, err
}

// TiersByService returns the price tiers for one service ordered by
// their lower age bound. An empty slice is returned for flat-priced
// services.
func (r *ServiceRepo) TiersByService(ctx context.Context, serviceID uint64) ([]model.PriceTier, error) {
	const q = `SELECT id, service_id, min_age_months, max_age_months, price_cents
               FROM service_price_tiers WHERE service_id = ?
               ORDER BY min_age_months`
	rows, err := r.db.QueryContext(ctx, q, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tiers := make([]model.PriceTier, 0)
	for rows.Next() {
		var t model.PriceTier
		if err := rows.Scan(&t.ID, &t.ServiceID, &t.MinAgeMonths, &t.MaxAgeMonths, &t.PriceCents); err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// CatalogEntry is a service together with its price tiers, returned by
// the public catalog listing.
type CatalogEntry struct {
	ID             uint64            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	DurationMin    uint32            `json:"duration_min"`
	FlatPriceCents uint32            `json:"flat_price_cents"`
	UsesTiers      bool              `json:"uses_tiers"`
	Tiers          []model.PriceTier `json:"tiers"`
}

// ListActive returns every active service with its tiers populated.
// Tiers are fetched in a single second query and distributed in memory
// to avoid one query per service.
func (r *ServiceRepo) ListActive(ctx context.Context) ([]CatalogEntry, error) {
	const q = `SELECT id, name, description, duration_min, flat_price_cents, uses_tiers
               FROM spa_services WHERE is_active = TRUE ORDER BY name`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]CatalogEntry, 0)
	index := make(map[uint64]int)
	for rows.Next() {
		var e CatalogEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.DurationMin, &e.FlatPriceCents, &e.UsesTiers); err != nil {
			return nil, err
		}
		e.Tiers = []model.PriceTier{}
		index[e.ID] = len(entries)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return entries, nil
	}

	const tierQ = `SELECT id, service_id, min_age_months, max_age_months, price_cents
                   FROM service_price_tiers ORDER BY service_id, min_age_months`
	trows, err := r.db.QueryContext(ctx, tierQ)
	if err != nil {
		return nil, err
	}
	defer trows.Close()
	for trows.Next() {
		var t model.PriceTier
		if err := trows.Scan(&t.ID, &t.ServiceID, &t.MinAgeMonths, &t.MaxAgeMonths, &t.PriceCents); err != nil {
			return nil, err
		}
		if idx, ok := index[t.ServiceID]; ok {
			entries[idx].Tiers = append(entries[idx].Tiers, t)
		}
	}
	return entries, trows.Err()
}
