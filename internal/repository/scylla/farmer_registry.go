package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"farmer-auth/internal/bucketing"
	"farmer-auth/internal/encryption"
	"farmer-auth/internal/models"
	"farmer-auth/internal/util"
)

// FarmerRegistry keeps farmers in a bucketed table keyed by the phone's
// SHA-256. The phone itself is stored only as an encryption envelope.
type FarmerRegistry struct {
	client     *ScyllaClient
	buckets    *bucketing.BucketingManager
	encryption *encryption.EncryptionManager
}

func NewFarmerRegistry(client *ScyllaClient, buckets *bucketing.BucketingManager, em *encryption.EncryptionManager) *FarmerRegistry {
	return &FarmerRegistry{
		client:     client,
		buckets:    buckets,
		encryption: em,
	}
}

// farmerRow mirrors one row of the farmers table.
type farmerRow struct {
	FarmerID       string
	PhoneEncrypted string
	PhoneKeyID     string
	Name           string
	State          string
	District       string
	Language       string
	Verified       bool
	CreatedAt      time.Time
	LastLogin      time.Time
}

func (row *farmerRow) dest() []interface{} {
	return []interface{}{
		&row.FarmerID, &row.PhoneEncrypted, &row.PhoneKeyID, &row.Name, &row.State,
		&row.District, &row.Language, &row.Verified, &row.CreatedAt, &row.LastLogin,
	}
}

func (row *farmerRow) toFarmer(phone string) *models.Farmer {
	f := &models.Farmer{
		FarmerID:  row.FarmerID,
		Phone:     phone,
		Name:      row.Name,
		State:     row.State,
		District:  row.District,
		Language:  row.Language,
		Verified:  row.Verified,
		CreatedAt: row.CreatedAt.UTC(),
	}
	// gocql scans a null timestamp as the zero time.
	if !row.LastLogin.IsZero() {
		t := row.LastLogin.UTC()
		f.LastLogin = &t
	}
	return f
}

func encodeEnvelope(data *encryption.EncryptedData) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode phone envelope: %w", err)
	}
	return string(raw), nil
}

func decodeEnvelope(raw string) (*encryption.EncryptedData, error) {
	data := &encryption.EncryptedData{}
	if err := json.Unmarshal([]byte(raw), data); err != nil {
		return nil, fmt.Errorf("failed to decode phone envelope: %w", err)
	}
	return data, nil
}

func (r *FarmerRegistry) LookupByPhone(ctx context.Context, phone string) (*models.Farmer, error) {
	phoneHash := util.HashPhone(phone)
	bucket := r.buckets.GetFarmerBucket(phoneHash)

	row := &farmerRow{}
	err := r.client.Query(ctx, r.client.Statements.GetFarmer, bucket, phoneHash).Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, nil
		}
		util.Error("Failed to get farmer by phone", util.Phone(phone), zap.Error(err))
		return nil, fmt.Errorf("failed to get farmer by phone: %w", err)
	}

	return row.toFarmer(phone), nil
}

func (r *FarmerRegistry) Upsert(ctx context.Context, farmer *models.Farmer) error {
	if farmer == nil || farmer.Phone == "" {
		return errors.New("farmer with phone required")
	}

	phoneHash := util.HashPhone(farmer.Phone)
	bucket := r.buckets.GetFarmerBucket(phoneHash)

	envelope, err := r.encryption.EncryptField(ctx, farmer.Phone, encryption.PurposePhone)
	if err != nil {
		return fmt.Errorf("failed to encrypt phone: %w", err)
	}
	encoded, err := encodeEnvelope(envelope)
	if err != nil {
		return err
	}

	var lastLogin interface{}
	if farmer.LastLogin != nil {
		lastLogin = *farmer.LastLogin
	}

	query := r.client.Query(ctx, r.client.Statements.UpsertFarmer,
		bucket, phoneHash, farmer.FarmerID, encoded, envelope.KeyID,
		farmer.Name, farmer.State, farmer.District, farmer.Language,
		farmer.Verified, farmer.CreatedAt, lastLogin)

	if err := r.client.ExecuteWithRetry(ctx, query, 2); err != nil {
		util.Error("Failed to upsert farmer",
			util.Phone(farmer.Phone),
			zap.String("farmer_id", farmer.FarmerID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert farmer: %w", err)
	}

	return nil
}

// List scans every bucket partition and decrypts each phone.
func (r *FarmerRegistry) List(ctx context.Context) ([]*models.Farmer, error) {
	var out []*models.Farmer

	for bucket := 0; bucket < r.buckets.FarmerBuckets(); bucket++ {
		iter := r.client.Query(ctx, r.client.Statements.ListBucket, bucket).Iter()

		row := &farmerRow{}
		for iter.Scan(row.dest()...) {
			envelope, err := decodeEnvelope(row.PhoneEncrypted)
			if err != nil {
				_ = iter.Close()
				return nil, err
			}
			phone, err := r.encryption.DecryptField(ctx, envelope, encryption.PurposePhone)
			if err != nil {
				_ = iter.Close()
				return nil, fmt.Errorf("failed to decrypt phone for %s: %w", row.FarmerID, err)
			}
			out = append(out, row.toFarmer(phone))
			row = &farmerRow{}
		}

		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("failed to list farmers in bucket %d: %w", bucket, err)
		}
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
	return r.client.HealthCheck(ctx)
}
