package bucketing

import (
	"hash"
	"sync"
	"time"

	"farmer-auth/internal/config"

	"github.com/spaolacci/murmur3"
)

type BucketingManager struct {
	farmerBuckets int
	lockStripes   int
	hasherPool    sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	return newManager(cfg.Bucketing.FarmerBuckets, cfg.Auth.LockStripes)
}

func newManager(farmerBuckets, lockStripes int) *BucketingManager {
	if farmerBuckets <= 0 {
		farmerBuckets = 1
	}
	if lockStripes <= 0 {
		lockStripes = 1
	}

	bm := &BucketingManager{
		farmerBuckets: farmerBuckets,
		lockStripes:   lockStripes,
	}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetFarmerBucket returns the storage partition bucket for a phone (0 to farmerBuckets-1)
func (bm *BucketingManager) GetFarmerBucket(phone string) int {
	return bm.getBucket(phone, bm.farmerBuckets)
}

// GetLockStripe returns the in-memory lock stripe that guards a phone's OTP state.
func (bm *BucketingManager) GetLockStripe(phone string) int {
	return bm.getBucket(phone, bm.lockStripes)
}

// GetDateBucket returns the UTC day bucket for t
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) FarmerBuckets() int {
	return bm.farmerBuckets
}

func (bm *BucketingManager) LockStripes() int {
	return bm.lockStripes
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	hash := bm.getHash(key)
	return int(hash % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
