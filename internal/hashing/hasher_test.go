package hashing

import (
	"testing"

	"farmer-auth/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()
	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 64
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	h, err := NewHasher(cfg, zap.NewNop())
	require.NoError(t, err)
	return h
}

func TestHashAndVerifyOTP(t *testing.T) {
	h := testHasher(t)

	res, err := h.HashOTP("482913")
	require.NoError(t, err)
	assert.NotContains(t, res.Hash, "482913")
	assert.Equal(t, algorithmArgon2id, res.Algorithm)

	ok, err := h.VerifyOTP("482913", res)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyOTP("482914", res)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSameCodeHashesDifferently(t *testing.T) {
	h := testHasher(t)

	a, err := h.HashOTP("111111")
	require.NoError(t, err)
	b, err := h.HashOTP("111111")
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestVerifyAfterRotationUsesOldPepper(t *testing.T) {
	h := testHasher(t)

	res, err := h.HashOTP("654321")
	require.NoError(t, err)
	require.NoError(t, h.rotatePepper())
	assert.Equal(t, 2, h.CurrentPepperVersion())

	ok, err := h.VerifyOTP("654321", res)
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < keepOldPeppers; i++ {
		require.NoError(t, h.rotatePepper())
	}
	_, err = h.VerifyOTP("654321", res)
	assert.ErrorIs(t, err, ErrPepperNotFound)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := testHasher(t)

	_, err := h.VerifyOTP("123456", nil)
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = h.VerifyOTP("123456", &HashResult{Hash: "!!", Salt: "c2FsdA", PepperVersion: 1, Algorithm: algorithmArgon2id})
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = h.VerifyOTP("123456", &HashResult{Algorithm: "bcrypt"})
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestNewHasherRejectsZeroParams(t *testing.T) {
	_, err := NewHasher(&config.Config{}, zap.NewNop())
	assert.Error(t, err)
}

func TestRotatePepperLogsThroughInjectedLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 64
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1

	h, err := NewHasher(cfg, zap.New(core))
	require.NoError(t, err)
	require.NoError(t, h.rotatePepper())

	rotated := logs.FilterMessage("Pepper rotated").All()
	require.Len(t, rotated, 2)
	assert.EqualValues(t, 2, rotated[1].ContextMap()["version"])
}
