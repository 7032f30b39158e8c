package memory

import (
	"context"
	"testing"
	"time"

	"farmer-auth/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupMissingReturnsNil(t *testing.T) {
	r := NewFarmerRegistry()
	f, err := r.LookupByPhone(context.Background(), "9876543210")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestUpsertAndLookupAreIsolated(t *testing.T) {
	ctx := context.Background()
	r := NewFarmerRegistry()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	in := &models.Farmer{FarmerID: "FARM_9876543210_1", Phone: "9876543210", Name: "Ramesh", CreatedAt: created}
	require.NoError(t, r.Upsert(ctx, in))
	in.Name = "changed after upsert"

	got, err := r.LookupByPhone(ctx, "9876543210")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ramesh", got.Name)

	got.MarkVerified(created.Add(time.Hour))
	again, err := r.LookupByPhone(ctx, "9876543210")
	require.NoError(t, err)
	assert.False(t, again.Verified)
	assert.Nil(t, again.LastLogin)
}

func TestListOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	r := NewFarmerRegistry()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, r.Upsert(ctx, &models.Farmer{Phone: "9000000003", CreatedAt: base.Add(2 * time.Second)}))
	require.NoError(t, r.Upsert(ctx, &models.Farmer{Phone: "9000000001", CreatedAt: base}))
	require.NoError(t, r.Upsert(ctx, &models.Farmer{Phone: "9000000002", CreatedAt: base}))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "9000000001", list[0].Phone)
	assert.Equal(t, "9000000002", list[1].Phone)
	assert.Equal(t, "9000000003", list[2].Phone)
}

func TestUpsertRejectsMissingPhone(t *testing.T) {
	r := NewFarmerRegistry()
	assert.Error(t, r.Upsert(context.Background(), &models.Farmer{}))
	assert.Error(t, r.Upsert(context.Background(), nil))
}
