package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"farmer-auth/internal/models"
	"farmer-auth/internal/repository"
	"farmer-auth/internal/util"
)

const (
	farmerPrefix = "phone:"
	farmerIndex  = "phones"
)

// FarmerRegistry stores each farmer as a JSON string under <prefix>phone:<phone>
// and keeps the set of known phones under <prefix>phones for List.
type FarmerRegistry struct {
	client goredis.UniversalClient
	prefix string
}

func NewFarmerRegistry(client goredis.UniversalClient, keyPrefix string) *FarmerRegistry {
	return &FarmerRegistry{client: client, prefix: keyPrefix}
}

func (r *FarmerRegistry) farmerKey(phone string) string {
	return r.prefix + farmerPrefix + phone
}

func (r *FarmerRegistry) indexKey() string {
	return r.prefix + farmerIndex
}

func (r *FarmerRegistry) LookupByPhone(ctx context.Context, phone string) (*models.Farmer, error) {
	raw, err := r.client.Get(ctx, r.farmerKey(phone)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		util.Error("Failed to get farmer from redis", util.Phone(phone), zap.Error(err))
		return nil, fmt.Errorf("failed to get farmer: %w", err)
	}

	farmer := &models.Farmer{}
	if err := json.Unmarshal(raw, farmer); err != nil {
		return nil, fmt.Errorf("failed to decode farmer: %w", err)
	}
	return farmer, nil
}

func (r *FarmerRegistry) Upsert(ctx context.Context, farmer *models.Farmer) error {
	if farmer == nil || farmer.Phone == "" {
		return errors.New("farmer with phone required")
	}

	raw, err := json.Marshal(farmer)
	if err != nil {
		return fmt.Errorf("failed to encode farmer: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.farmerKey(farmer.Phone), raw, 0)
	pipe.SAdd(ctx, r.indexKey(), farmer.Phone)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to upsert farmer in redis", util.Phone(farmer.Phone), zap.Error(err))
		return fmt.Errorf("failed to upsert farmer: %w", err)
	}

	util.Debug("Farmer stored in redis", util.Phone(farmer.Phone))
	return nil
}

func (r *FarmerRegistry) List(ctx context.Context) ([]*models.Farmer, error) {
	phones, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list farmer phones: %w", err)
	}
	if len(phones) == 0 {
		return []*models.Farmer{}, nil
	}

	keys := make([]string, len(phones))
	for i, p := range phones {
		keys[i] = r.farmerKey(p)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load farmers: %w", err)
	}

	out := make([]*models.Farmer, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Indexed phone without a record.
			util.Warn("Farmer index entry has no record", util.Phone(phones[i]))
			continue
		}
		farmer := &models.Farmer{}
		if err := json.Unmarshal([]byte(s), farmer); err != nil {
			return nil, fmt.Errorf("failed to decode farmer: %w", err)
		}
		out = append(out, farmer)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Phone < out[j].Phone
	})
	return out, nil
}

func (r *FarmerRegistry) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *FarmerRegistry) PoolStats() repository.PoolStats {
	ps := r.client.PoolStats()
	return repository.PoolStats{
		Hits:       ps.Hits,
		Misses:     ps.Misses,
		Timeouts:   ps.Timeouts,
		TotalConns: ps.TotalConns,
		IdleConns:  ps.IdleConns,
		StaleConns: ps.StaleConns,
	}
}
