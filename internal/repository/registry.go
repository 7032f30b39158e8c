package repository

import (
	"context"

	"farmer-auth/internal/models"
)

// FarmerRegistry stores farmer identities keyed by phone. Implementations must
// give read-your-writes consistency within one process.
type FarmerRegistry interface {
	// LookupByPhone returns nil, nil when no farmer holds the phone.
	LookupByPhone(ctx context.Context, phone string) (*models.Farmer, error)
	Upsert(ctx context.Context, farmer *models.Farmer) error
	List(ctx context.Context) ([]*models.Farmer, error)
	HealthCheck(ctx context.Context) error
}

// PoolStats describes the connection pool behind a networked registry.
type PoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

// PoolReporter is implemented by registries that keep a connection pool.
type PoolReporter interface {
	PoolStats() PoolStats
}
