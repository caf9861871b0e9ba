// Package store provides the tenant-scoped persistence helper used by every
// domain service. Each operation injects a tenant-equality predicate, and
// dynamic filter/update maps only accept columns from a per-entity
// allow-list, never raw request keys.
package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/buildgrid/platform/shared/apperrors"
)

// TenantOwned is implemented by every model the scoped store manages.
type TenantOwned interface {
	GetTenantID() uuid.UUID
	SetTenantID(id uuid.UUID)
}

// QueryOptions controls pagination and ordering for Query.
type QueryOptions struct {
	Limit   int
	Offset  int
	OrderBy string // must be an allow-listed column
	Desc    bool
}

// Scoped is a tenant-scoped store for one entity type. The allow-list is
// fixed at construction time, one per entity, never derived from requests.
type Scoped[T any, PT interface {
	*T
	TenantOwned
}] struct {
	db      *gorm.DB
	allowed map[string]struct{}
}

// NewScoped builds a scoped store for T with the given column allow-list.
func NewScoped[T any, PT interface {
	*T
	TenantOwned
}](db *gorm.DB, allowedFields []string) *Scoped[T, PT] {
	allowed := make(map[string]struct{}, len(allowedFields))
	for _, f := range allowedFields {
		allowed[f] = struct{}{}
	}
	return &Scoped[T, PT]{db: db, allowed: allowed}
}

func (s *Scoped[T, PT]) checkFields(m map[string]interface{}) error {
	for field := range m {
		if _, ok := s.allowed[field]; !ok {
			return fmt.Errorf("%w: %q", apperrors.ErrUnknownField, field)
		}
	}
	return nil
}

// Query returns all rows of the tenant matching the given filters. Filter
// keys outside the allow-list fail with ErrUnknownField before any SQL runs.
func (s *Scoped[T, PT]) Query(tenantID uuid.UUID, filters map[string]interface{}, opts QueryOptions) ([]T, error) {
	if err := s.checkFields(filters); err != nil {
		return nil, err
	}

	q := s.db.Where("tenant_id = ?", tenantID)
	for field, value := range filters {
		q = q.Where(fmt.Sprintf("%s = ?", field), value)
	}
	if opts.OrderBy != "" {
		if _, ok := s.allowed[opts.OrderBy]; !ok {
			return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownField, opts.OrderBy)
		}
		order := opts.OrderBy
		if opts.Desc {
			order += " DESC"
		}
		q = q.Order(order)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var out []T
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID returns the row only when it belongs to the tenant. A row owned by
// another tenant yields (nil, nil), indistinguishable from true absence.
func (s *Scoped[T, PT]) GetByID(tenantID, id uuid.UUID) (*T, error) {
	var record T
	err := s.db.Where("id = ? AND tenant_id = ?", id, tenantID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Create inserts the record under the acting tenant. The tenant column is
// always overwritten from the argument, never trusted from the payload.
func (s *Scoped[T, PT]) Create(tenantID uuid.UUID, record PT) error {
	record.SetTenantID(tenantID)
	return s.db.Create(record).Error
}

// Update applies an allow-listed change set to one row of the tenant.
// Returns the updated row, or ErrNotFound when no tenant-owned row matched.
func (s *Scoped[T, PT]) Update(tenantID, id uuid.UUID, changes map[string]interface{}) (*T, error) {
	if err := s.checkFields(changes); err != nil {
		return nil, err
	}

	res := s.db.Model(new(T)).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(changes)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.ErrNotFound
	}
	return s.GetByID(tenantID, id)
}

// Delete removes one row of the tenant. ErrNotFound when nothing matched.
func (s *Scoped[T, PT]) Delete(tenantID, id uuid.UUID) error {
	res := s.db.Where("id = ? AND tenant_id = ?", id, tenantID).Delete(new(T))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Count returns the number of tenant rows matching the filters.
func (s *Scoped[T, PT]) Count(tenantID uuid.UUID, filters map[string]interface{}) (int64, error) {
	if err := s.checkFields(filters); err != nil {
		return 0, err
	}
	q := s.db.Model(new(T)).Where("tenant_id = ?", tenantID)
	for field, value := range filters {
		q = q.Where(fmt.Sprintf("%s = ?", field), value)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
