package factory

import (
	"context"
	"testing"
	"time"

	"farmer-auth/internal/config"
	"farmer-auth/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func localConfig() *config.Config {
	cfg := &config.Config{Environment: "test"}
	cfg.Registry.Backend = config.RegistryMemory
	cfg.Notify.Channel = config.NotifyLog
	cfg.Auth = config.AuthConfig{
		OTPLength:     6,
		OTPExpiry:     300 * time.Second,
		MaxAttempts:   3,
		Cooldown:      60 * time.Second,
		SweepInterval: time.Minute,
		LockStripes:   16,
	}
	cfg.Hashing.Argon2MemoryCost = 64
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Bucketing.FarmerBuckets = 8
	cfg.Audit.Enabled = true
	cfg.Audit.QueueSize = 16
	cfg.Audit.BatchSize = 4
	cfg.Audit.FlushInterval = 10 * time.Millisecond
	return cfg
}

func TestNewWithLocalBackends(t *testing.T) {
	ctx := context.Background()
	f, err := New(ctx, localConfig(), zap.NewNop())
	require.NoError(t, err)

	assert.Nil(t, f.TLSManager())
	assert.Empty(t, f.HealthCheck(ctx))
	assert.True(t, f.IsHealthy(ctx))
	assert.Equal(t, 16, f.BucketingManager().LockStripes())

	core := f.ServiceFactory().AuthCore()
	assert.Same(t, core, f.ServiceFactory().AuthCore())
	assert.Equal(t, 16, core.Stats().LockStripes)

	_, err = core.Register(ctx, service.RegisterRequest{Name: "Sita", Phone: "9876543210"})
	require.NoError(t, err)
	res, err := core.SendOTP(ctx, "9876543210")
	require.NoError(t, err)
	assert.Equal(t, 300, res.ExpiresInSeconds)

	require.NoError(t, f.Close(ctx))
	require.NoError(t, f.Close(ctx))
	f.WaitForClose()
	assert.Equal(t, int64(2), f.recorder.Stats().Written)
}

func TestNewFailsWithoutRedis(t *testing.T) {
	cfg := localConfig()
	cfg.Registry.Backend = config.RegistryRedis
	cfg.Redis.URL = "redis://127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := New(ctx, cfg, zap.NewNop())
	assert.Error(t, err)
}
