package scylla

import (
	"context"
	"strings"
	"testing"
	"time"

	"farmer-auth/internal/config"
	"farmer-auth/internal/encryption"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	em := encryption.NewEncryptionManager(&config.Config{}, nil)
	enc, err := em.EncryptField(context.Background(), "9876543210", encryption.PurposePhone)
	require.NoError(t, err)

	raw, err := encodeEnvelope(enc)
	require.NoError(t, err)
	assert.NotContains(t, raw, "9876543210")

	decoded, err := decodeEnvelope(raw)
	require.NoError(t, err)
	phone, err := em.DecryptField(context.Background(), decoded, encryption.PurposePhone)
	require.NoError(t, err)
	assert.Equal(t, "9876543210", phone)

	_, err = decodeEnvelope("{not json")
	assert.Error(t, err)
}

func TestRowToFarmer(t *testing.T) {
	created := time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC)

	row := &farmerRow{FarmerID: "FARM_9876543210_1", Name: "Asha", Verified: false, CreatedAt: created}
	f := row.toFarmer("9876543210")
	assert.Equal(t, "9876543210", f.Phone)
	assert.Nil(t, f.LastLogin)

	row.Verified = true
	row.LastLogin = created.Add(time.Hour)
	f = row.toFarmer("9876543210")
	require.NotNil(t, f.LastLogin)
	assert.True(t, f.LastLogin.Equal(created.Add(time.Hour)))
	assert.True(t, f.Verified)
	assert.Len(t, row.dest(), 10)
}

func TestStatementsTargetKeyspace(t *testing.T) {
	st := newStatements("farmer_auth")
	assert.True(t, strings.Contains(st.CreateFarmers, "farmer_auth.farmers"))
	assert.Equal(t, 12, strings.Count(st.UpsertFarmer, "?"))
}
