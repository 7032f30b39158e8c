package bucketing

import (
	"fmt"
	"testing"
	"time"

	"farmer-auth/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketsAreStableAndInRange(t *testing.T) {
	cfg := &config.Config{}
	cfg.Bucketing.FarmerBuckets = 64
	cfg.Auth.LockStripes = 16
	bm := NewBucketingManager(cfg)

	for i := 0; i < 500; i++ {
		phone := fmt.Sprintf("98765%05d", i)
		bucket := bm.GetFarmerBucket(phone)
		stripe := bm.GetLockStripe(phone)

		require.GreaterOrEqual(t, bucket, 0)
		require.Less(t, bucket, 64)
		require.GreaterOrEqual(t, stripe, 0)
		require.Less(t, stripe, 16)

		assert.Equal(t, bucket, bm.GetFarmerBucket(phone))
		assert.Equal(t, stripe, bm.GetLockStripe(phone))
	}
}

func TestStripesSpreadPhones(t *testing.T) {
	bm := newManager(8, 8)
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		seen[bm.GetLockStripe(fmt.Sprintf("91234%05d", i))] = true
	}
	assert.Len(t, seen, 8)
}

func TestNonPositiveCountsFallBackToOne(t *testing.T) {
	bm := newManager(0, -3)
	assert.Equal(t, 1, bm.FarmerBuckets())
	assert.Equal(t, 1, bm.LockStripes())
	assert.Equal(t, 0, bm.GetLockStripe("9876543210"))
}

func TestDateBucketUsesUTCDay(t *testing.T) {
	bm := newManager(32, 4)
	at := time.Date(2024, 3, 10, 1, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))
	assert.Equal(t, "2024-03-09", bm.GetDateBucket(at))
}
