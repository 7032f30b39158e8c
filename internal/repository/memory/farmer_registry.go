package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"farmer-auth/internal/models"
)

// FarmerRegistry keeps farmers in a map. Records are cloned on the way in and
// out so callers never share state with the store.
type FarmerRegistry struct {
	mu      sync.RWMutex
	farmers map[string]*models.Farmer
}

func NewFarmerRegistry() *FarmerRegistry {
	return &FarmerRegistry{farmers: make(map[string]*models.Farmer)}
}

func (r *FarmerRegistry) LookupByPhone(_ context.Context, phone string) (*models.Farmer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.farmers[phone].Clone(), nil
}

func (r *FarmerRegistry) Upsert(_ context.Context, farmer *models.Farmer) error {
	if farmer == nil || farmer.Phone == "" {
		return errors.New("farmer with phone required")
	}
	r.mu.Lock()
	r.farmers[farmer.Phone] = farmer.Clone()
	r.mu.Unlock()
	return nil
}

// List returns farmers ordered by creation time, then phone.
func (r *FarmerRegistry) List(_ context.Context) ([]*models.Farmer, error) {
	r.mu.RLock()
	out := make([]*models.Farmer, 0, len(r.farmers))
	for _, f := range r.farmers {
		out = append(out, f.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Phone < out[j].Phone
	})
	return out, nil
}

func (r *FarmerRegistry) HealthCheck(context.Context) error {
	return nil
}
