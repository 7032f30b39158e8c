package hashing

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"farmer-auth/internal/config"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

const algorithmArgon2id = "argon2id-v1"

// Peppers older than this many rotations can no longer verify a code.
const keepOldPeppers = 2

var (
	ErrInvalidHash      = errors.New("invalid hash format")
	ErrPepperNotFound   = errors.New("pepper version not found")
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Pepper struct {
	Value     string
	CreatedAt time.Time
	Version   int
}

// Hasher stores OTP codes as peppered argon2id digests so a memory dump of the
// pending-OTP table does not reveal live codes.
type Hasher struct {
	params         Argon2Params
	rotationPeriod time.Duration
	currentPepper  *Pepper
	oldPeppers     []*Pepper
	mu             sync.RWMutex
	logger         *zap.Logger
}

type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

func NewHasher(cfg *config.Config, logger *zap.Logger) (*Hasher, error) {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("invalid argon2 parameters: memory=%d time=%d parallelism=%d",
			params.Memory, params.Iterations, params.Parallelism)
	}

	h := &Hasher{
		params:         params,
		rotationPeriod: time.Duration(cfg.Hashing.PepperRotationDays) * 24 * time.Hour,
		logger:         logger,
	}

	if err := h.rotatePepper(); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *Hasher) rotatePepper() error {
	pepperBytes := make([]byte, 32)
	if _, err := rand.Read(pepperBytes); err != nil {
		return fmt.Errorf("failed to generate pepper: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	version := 1
	if h.currentPepper != nil {
		version = h.currentPepper.Version + 1
		h.oldPeppers = append(h.oldPeppers, h.currentPepper)
		if len(h.oldPeppers) > keepOldPeppers {
			h.oldPeppers = h.oldPeppers[len(h.oldPeppers)-keepOldPeppers:]
		}
	}

	h.currentPepper = &Pepper{
		Value:     base64.RawURLEncoding.EncodeToString(pepperBytes),
		CreatedAt: time.Now(),
		Version:   version,
	}

	h.logger.Info("Pepper rotated",
		zap.Int("version", h.currentPepper.Version),
		zap.Time("created_at", h.currentPepper.CreatedAt),
	)
	return nil
}

// StartPepperRotation rotates the pepper on a ticker until ctx is done.
func (h *Hasher) StartPepperRotation(ctx context.Context) {
	if h.rotationPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(h.rotationPeriod)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := h.rotatePepper(); err != nil {
					h.logger.Error("Pepper rotation failed", zap.Error(err))
				}
			}
		}
	}()
}

func (h *Hasher) CurrentPepperVersion() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentPepper.Version
}

func (h *Hasher) HashOTP(otp string) (*HashResult, error) {
	return h.hashWithPepper(otp, "otp")
}

func (h *Hasher) VerifyOTP(otp string, hashResult *HashResult) (bool, error) {
	return h.verifyWithPepper(otp, hashResult, "otp")
}

func (h *Hasher) hashWithPepper(data, purpose string) (*HashResult, error) {
	h.mu.RLock()
	pepper := h.currentPepper
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(data+pepper.Value+purpose),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: pepper.Version,
		Algorithm:     algorithmArgon2id,
	}, nil
}

func (h *Hasher) verifyWithPepper(data string, hashResult *HashResult, purpose string) (bool, error) {
	if hashResult == nil {
		return false, ErrInvalidHash
	}
	if hashResult.Algorithm != algorithmArgon2id {
		return false, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, hashResult.Algorithm)
	}

	pepper, err := h.getPepper(hashResult.PepperVersion)
	if err != nil {
		return false, err
	}

	salt, err := base64.RawURLEncoding.DecodeString(hashResult.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}

	expectedHash, err := base64.RawURLEncoding.DecodeString(hashResult.Hash)
	if err != nil || len(expectedHash) == 0 {
		return false, ErrInvalidHash
	}

	computedHash := argon2.IDKey(
		[]byte(data+pepper+purpose),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}

func (h *Hasher) getPepper(version int) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.currentPepper != nil && h.currentPepper.Version == version {
		return h.currentPepper.Value, nil
	}

	for _, pepper := range h.oldPeppers {
		if pepper.Version == version {
			return pepper.Value, nil
		}
	}

	return "", fmt.Errorf("%w: %d", ErrPepperNotFound, version)
}
