package encryption

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"farmer-auth/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKMS wraps DEKs by XOR with a fixed byte so Decrypt can reverse it.
type fakeKMS struct {
	generateCalls int
	decryptCalls  int
	failDecrypt   bool
}

func xorKey(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ 0x5a
	}
	return out
}

func (f *fakeKMS) GenerateDataKey(_ context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	f.generateCalls++
	plain := bytes.Repeat([]byte{byte(f.generateCalls)}, 32)
	return &kms.GenerateDataKeyOutput{
		KeyId:          in.KeyId,
		Plaintext:      plain,
		CiphertextBlob: xorKey(plain),
	}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.decryptCalls++
	if f.failDecrypt {
		return nil, errors.New("access denied")
	}
	return &kms.DecryptOutput{KeyId: aws.String("test-key"), Plaintext: xorKey(in.CiphertextBlob)}, nil
}

func TestLocalRoundTrip(t *testing.T) {
	em := NewEncryptionManager(&config.Config{}, nil)
	require.False(t, em.UsesKMS())

	enc, err := em.EncryptField(context.Background(), "9876543210", PurposePhone)
	require.NoError(t, err)
	assert.NotContains(t, enc.EncryptedValue, "9876543210")
	assert.Equal(t, "v1", enc.Version)

	em.ClearCache()
	assert.Equal(t, 0, em.GetCacheSize())

	plain, err := em.DecryptField(context.Background(), enc, PurposePhone)
	require.NoError(t, err)
	assert.Equal(t, "9876543210", plain)
	assert.Equal(t, 1, em.GetCacheSize())
}

func TestPurposeIsBound(t *testing.T) {
	em := NewEncryptionManager(&config.Config{}, nil)

	enc, err := em.EncryptField(context.Background(), "9876543210", PurposePhone)
	require.NoError(t, err)

	_, err = em.DecryptField(context.Background(), enc, "other")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestKMSRoundTripUsesCache(t *testing.T) {
	cfg := &config.Config{}
	cfg.KMS.Enabled = true
	cfg.KMS.KeyID = "test-key"
	fake := &fakeKMS{}
	em := NewEncryptionManager(cfg, fake)
	require.True(t, em.UsesKMS())

	enc, err := em.EncryptField(context.Background(), "7000000001", PurposePhone)
	require.NoError(t, err)
	assert.Equal(t, "test-key", enc.KeyID)

	plain, err := em.DecryptField(context.Background(), enc, PurposePhone)
	require.NoError(t, err)
	assert.Equal(t, "7000000001", plain)
	assert.Equal(t, 0, fake.decryptCalls)

	em.ClearCache()
	plain, err = em.DecryptField(context.Background(), enc, PurposePhone)
	require.NoError(t, err)
	assert.Equal(t, "7000000001", plain)
	assert.Equal(t, 1, fake.decryptCalls)
}

func TestKMSDecryptFailure(t *testing.T) {
	cfg := &config.Config{}
	cfg.KMS.Enabled = true
	cfg.KMS.KeyID = "test-key"
	fake := &fakeKMS{}
	em := NewEncryptionManager(cfg, fake)

	enc, err := em.EncryptField(context.Background(), "7000000001", PurposePhone)
	require.NoError(t, err)
	em.ClearCache()
	fake.failDecrypt = true

	_, err = em.DecryptField(context.Background(), enc, PurposePhone)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestKMSDisabledIgnoresClient(t *testing.T) {
	em := NewEncryptionManager(&config.Config{}, &fakeKMS{})
	assert.False(t, em.UsesKMS())
}
