package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"farmer-auth/internal/audit"
	"farmer-auth/internal/bucketing"
	"farmer-auth/internal/config"
	"farmer-auth/internal/hashing"
	"farmer-auth/internal/models"
	"farmer-auth/internal/notify"
	"farmer-auth/internal/repository"
	"farmer-auth/internal/util"
)

const (
	defaultLanguage = "en"
	maxFieldLength  = 100
)

// Policy is the OTP issuance and verification policy.
type Policy struct {
	CodeLength    int
	Expiry        time.Duration
	MaxAttempts   int
	Cooldown      time.Duration
	AutoProvision bool
}

func DefaultPolicy() Policy {
	return Policy{
		CodeLength:  6,
		Expiry:      300 * time.Second,
		MaxAttempts: 3,
		Cooldown:    60 * time.Second,
	}
}

func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		CodeLength:    cfg.Auth.OTPLength,
		Expiry:        cfg.Auth.OTPExpiry,
		MaxAttempts:   cfg.Auth.MaxAttempts,
		Cooldown:      cfg.Auth.Cooldown,
		AutoProvision: cfg.Auth.AutoProvision,
	}
}

// stripe guards the OTP and cooldown entries of every phone hashed to it.
// mu covers only in-memory map access. regMu serializes read-modify-write
// sequences against the registry for the same phones and may be held across I/O.
type stripe struct {
	mu        sync.Mutex
	otps      map[string]*models.OTPRecord
	cooldowns map[string]time.Time

	regMu sync.Mutex
}

// AuthCore owns pending OTPs and cooldowns and runs the registration and
// login protocol against the farmer registry.
type AuthCore struct {
	registry repository.FarmerRegistry
	notifier notify.Notifier
	hasher   *hashing.Hasher
	buckets  *bucketing.BucketingManager
	auditor  audit.Auditor
	clock    util.Clock
	policy   Policy
	logger   *zap.Logger

	stripes []*stripe

	// generateCode is swapped in tests to make codes predictable.
	generateCode func(length int) (string, error)
}

func NewAuthCore(
	registry repository.FarmerRegistry,
	notifier notify.Notifier,
	hasher *hashing.Hasher,
	buckets *bucketing.BucketingManager,
	auditor audit.Auditor,
	clock util.Clock,
	policy Policy,
	logger *zap.Logger,
) *AuthCore {
	if clock == nil {
		clock = util.SystemClock{}
	}
	stripes := make([]*stripe, buckets.LockStripes())
	for i := range stripes {
		stripes[i] = &stripe{
			otps:      make(map[string]*models.OTPRecord),
			cooldowns: make(map[string]time.Time),
		}
	}
	return &AuthCore{
		registry:     registry,
		notifier:     notifier,
		hasher:       hasher,
		buckets:      buckets,
		auditor:      auditor,
		clock:        clock,
		policy:       policy,
		logger:       logger,
		stripes:      stripes,
		generateCode: generateNumericCode,
	}
}

// generateNumericCode returns a uniformly random zero-padded decimal code.
func generateNumericCode(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

func (c *AuthCore) stripeFor(phone string) *stripe {
	return c.stripes[c.buckets.GetLockStripe(phone)]
}

func (c *AuthCore) record(event *models.AuthEvent) {
	if c.auditor != nil {
		c.auditor.Record(event)
	}
}

func (c *AuthCore) Policy() Policy {
	return c.policy
}

func cleanField(s string) string {
	s = util.SanitizeInput(s)
	if utf8.RuneCountInString(s) > maxFieldLength {
		s = string([]rune(s)[:maxFieldLength])
	}
	return s
}

// Register creates an unverified farmer for a phone that has none.
func (c *AuthCore) Register(ctx context.Context, req RegisterRequest) (*models.Farmer, error) {
	phone := util.NormalizePhone(req.Phone)
	if !util.IsValidPhone(phone) {
		return nil, ErrInvalidPhone
	}

	if util.ContainsSuspicious(req.Name) || util.ContainsSuspicious(req.District) {
		c.logger.Warn("Registration contains markup-like input", util.Phone(phone))
	}

	name := cleanField(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	language := cleanField(req.Language)
	if language == "" {
		language = defaultLanguage
	}

	s := c.stripeFor(phone)
	s.regMu.Lock()
	defer s.regMu.Unlock()

	existing, err := c.registry.LookupByPhone(ctx, phone)
	if err != nil {
		return nil, c.storageError("lookup", phone, err)
	}
	if existing != nil {
		return nil, ErrAlreadyRegistered
	}

	now := c.clock.Now()
	farmer := &models.Farmer{
		FarmerID:  models.NewFarmerID(phone, now),
		Phone:     phone,
		Name:      name,
		State:     cleanField(req.State),
		District:  cleanField(req.District),
		Language:  language,
		Verified:  false,
		CreatedAt: now,
	}

	if err := c.registry.Upsert(ctx, farmer); err != nil {
		return nil, c.storageError("upsert", phone, err)
	}

	c.logger.Info("Farmer registered",
		zap.String("farmer_id", farmer.FarmerID),
		util.Phone(phone))

	ev := audit.NewEvent(models.EventRegistered, phone, now)
	ev.FarmerID = farmer.FarmerID
	c.record(ev)

	return farmer, nil
}

// provision creates a minimal farmer for an unknown phone. Only reachable when
// the policy enables auto-provisioning.
func (c *AuthCore) provision(ctx context.Context, phone string) (*models.Farmer, error) {
	s := c.stripeFor(phone)
	s.regMu.Lock()
	defer s.regMu.Unlock()

	existing, err := c.registry.LookupByPhone(ctx, phone)
	if err != nil {
		return nil, c.storageError("lookup", phone, err)
	}
	if existing != nil {
		return existing, nil
	}

	now := c.clock.Now()
	farmer := &models.Farmer{
		FarmerID:  models.NewFarmerID(phone, now),
		Phone:     phone,
		Language:  defaultLanguage,
		CreatedAt: now,
	}
	if err := c.registry.Upsert(ctx, farmer); err != nil {
		return nil, c.storageError("upsert", phone, err)
	}

	c.logger.Info("Farmer auto-provisioned",
		zap.String("farmer_id", farmer.FarmerID),
		util.Phone(phone))

	ev := audit.NewEvent(models.EventRegistered, phone, now)
	ev.FarmerID = farmer.FarmerID
	ev.Details = "auto_provisioned"
	c.record(ev)

	return farmer, nil
}

// cooldownWait returns the whole seconds left on the phone's cooldown, or 0.
// Caller holds s.mu.
func (c *AuthCore) cooldownWait(s *stripe, phone string, now time.Time) int {
	last, ok := s.cooldowns[phone]
	if !ok {
		return 0
	}
	elapsed := now.Sub(last)
	if elapsed >= c.policy.Cooldown {
		return 0
	}
	wait := int(math.Ceil((c.policy.Cooldown - elapsed).Seconds()))
	if wait < 1 {
		wait = 1
	}
	return wait
}

func (c *AuthCore) cooldownError(phone string, wait int, now time.Time) error {
	ev := audit.NewEvent(models.EventOTPCooldown, phone, now)
	ev.WaitSecs = wait
	c.record(ev)
	return &CooldownError{WaitSeconds: wait}
}

// SendOTP issues a fresh code for a registered phone, replacing any pending
// one, and hands it to the notifier.
func (c *AuthCore) SendOTP(ctx context.Context, phone string) (*SendResult, error) {
	phone = util.NormalizePhone(phone)
	if !util.IsValidPhone(phone) {
		return nil, ErrInvalidPhone
	}

	farmer, err := c.registry.LookupByPhone(ctx, phone)
	if err != nil {
		return nil, c.storageError("lookup", phone, err)
	}
	if farmer == nil {
		if !c.policy.AutoProvision {
			return nil, ErrNotRegistered
		}
		if farmer, err = c.provision(ctx, phone); err != nil {
			return nil, err
		}
	}

	s := c.stripeFor(phone)

	// Reject early so a throttled caller does not pay for hashing.
	s.mu.Lock()
	now := c.clock.Now()
	wait := c.cooldownWait(s, phone, now)
	s.mu.Unlock()
	if wait > 0 {
		return nil, c.cooldownError(phone, wait, now)
	}

	code, err := c.generateCode(c.policy.CodeLength)
	if err != nil {
		return nil, err
	}
	hash, err := c.hasher.HashOTP(code)
	if err != nil {
		return nil, fmt.Errorf("failed to hash otp: %w", err)
	}

	s.mu.Lock()
	now = c.clock.Now()
	if wait = c.cooldownWait(s, phone, now); wait > 0 {
		s.mu.Unlock()
		return nil, c.cooldownError(phone, wait, now)
	}
	s.otps[phone] = &models.OTPRecord{
		CodeHash:      hash.Hash,
		Salt:          hash.Salt,
		PepperVersion: hash.PepperVersion,
		Algorithm:     hash.Algorithm,
		CreatedAt:     now,
		ExpiresAt:     now.Add(c.policy.Expiry),
	}
	s.cooldowns[phone] = now
	s.mu.Unlock()

	if err := c.notifier.Deliver(ctx, phone, code); err != nil {
		c.logger.Warn("OTP delivery failed", util.Phone(phone), zap.Error(err))
		ev := audit.NewEvent(models.EventOTPDeliveryFail, phone, now)
		ev.FarmerID = farmer.FarmerID
		ev.Details = err.Error()
		c.record(ev)
	}

	c.logger.Info("OTP generated", util.Phone(phone))
	ev := audit.NewEvent(models.EventOTPSent, phone, now)
	ev.FarmerID = farmer.FarmerID
	c.record(ev)

	return &SendResult{ExpiresInSeconds: int(c.policy.Expiry / time.Second)}, nil
}

// terminalCheck removes rec and reports Expired or AttemptsExceeded when rec
// can no longer be verified. Caller holds s.mu.
func (c *AuthCore) terminalCheck(s *stripe, phone string, rec *models.OTPRecord, now time.Time) (VerifyResult, bool) {
	if rec.IsExpired(now) {
		delete(s.otps, phone)
		return VerifyResult{Status: VerifyExpired}, true
	}
	if rec.Attempts >= c.policy.MaxAttempts {
		delete(s.otps, phone)
		return VerifyResult{Status: VerifyAttemptsExceeded}, true
	}
	return VerifyResult{}, false
}

// VerifyOTP checks a submitted code. Checks run in a fixed order: phone
// format, pending record, expiry, exhausted attempts, then the comparison.
// A mismatch that uses the last attempt still reports Mismatch with zero
// remaining; the record is dropped by the next call.
//
// The comparison itself runs outside the stripe lock. If the record changed
// while it ran, the call starts over against the new state.
func (c *AuthCore) VerifyOTP(ctx context.Context, phone, code string) (VerifyResult, error) {
	phone = util.NormalizePhone(phone)
	if !util.IsValidPhone(phone) {
		return VerifyResult{Status: VerifyInvalidPhone}, nil
	}
	code = strings.TrimSpace(code)
	s := c.stripeFor(phone)

	for {
		s.mu.Lock()
		rec, ok := s.otps[phone]
		if !ok {
			s.mu.Unlock()
			return c.verifyOutcome(phone, VerifyResult{Status: VerifyNoPendingOTP}), nil
		}
		if res, done := c.terminalCheck(s, phone, rec, c.clock.Now()); done {
			s.mu.Unlock()
			return c.verifyOutcome(phone, res), nil
		}
		stored := &hashing.HashResult{
			Hash:          rec.CodeHash,
			Salt:          rec.Salt,
			PepperVersion: rec.PepperVersion,
			Algorithm:     rec.Algorithm,
		}
		s.mu.Unlock()

		match, err := c.hasher.VerifyOTP(code, stored)
		if err != nil {
			c.logger.Error("OTP hash comparison failed", util.Phone(phone), zap.Error(err))
			match = false
		}

		s.mu.Lock()
		if s.otps[phone] != rec {
			s.mu.Unlock()
			continue
		}
		now := c.clock.Now()
		if res, done := c.terminalCheck(s, phone, rec, now); done {
			s.mu.Unlock()
			return c.verifyOutcome(phone, res), nil
		}
		if !match {
			rec.Attempts++
			attempts := rec.Attempts
			s.mu.Unlock()
			remaining := c.policy.MaxAttempts - attempts
			c.logger.Warn("Invalid OTP attempt",
				util.Phone(phone),
				zap.Int("attempt", attempts))
			return c.verifyOutcome(phone, VerifyResult{Status: VerifyMismatch, RemainingAttempts: remaining}), nil
		}
		rec.Verified = true
		delete(s.otps, phone)
		s.mu.Unlock()

		return c.completeLogin(ctx, phone, now)
	}
}

// completeLogin marks the farmer verified after the OTP has been consumed.
// A registry failure here is reported but does not restore the OTP.
func (c *AuthCore) completeLogin(ctx context.Context, phone string, now time.Time) (VerifyResult, error) {
	s := c.stripeFor(phone)
	s.regMu.Lock()
	defer s.regMu.Unlock()

	farmer, err := c.registry.LookupByPhone(ctx, phone)
	if err != nil {
		return VerifyResult{}, c.verifyStorageError("lookup", phone, now, err)
	}

	ev := audit.NewEvent(models.EventVerifySuccess, phone, now)
	if farmer == nil {
		c.logger.Warn("Verified phone has no registry record", util.Phone(phone))
		c.record(ev)
		return VerifyResult{Status: VerifySuccess}, nil
	}

	farmer.MarkVerified(now)
	if err := c.registry.Upsert(ctx, farmer); err != nil {
		return VerifyResult{}, c.verifyStorageError("upsert", phone, now, err)
	}

	c.logger.Info("Farmer verified",
		zap.String("farmer_id", farmer.FarmerID),
		util.Phone(phone))
	ev.FarmerID = farmer.FarmerID
	c.record(ev)

	return VerifyResult{Status: VerifySuccess}, nil
}

func (c *AuthCore) verifyOutcome(phone string, res VerifyResult) VerifyResult {
	var eventType models.AuthEventType
	switch res.Status {
	case VerifyNoPendingOTP:
		eventType = models.EventVerifyNoPending
	case VerifyExpired:
		c.logger.Warn("Expired OTP verification attempt", util.Phone(phone))
		eventType = models.EventVerifyExpired
	case VerifyAttemptsExceeded:
		c.logger.Warn("Max OTP attempts exceeded", util.Phone(phone))
		eventType = models.EventVerifyExhausted
	case VerifyMismatch:
		eventType = models.EventVerifyMismatch
	default:
		return res
	}
	ev := audit.NewEvent(eventType, phone, c.clock.Now())
	ev.Remaining = res.RemainingAttempts
	c.record(ev)
	return res
}

func (c *AuthCore) storageError(op, phone string, err error) error {
	c.logger.Error("Registry operation failed",
		zap.String("op", op),
		util.Phone(phone),
		zap.Error(err))
	return &StorageError{Op: op, Err: err}
}

func (c *AuthCore) verifyStorageError(op, phone string, now time.Time, err error) error {
	ev := audit.NewEvent(models.EventRegistryFailure, phone, now)
	ev.Details = "verify " + op
	c.record(ev)
	return c.storageError(op, phone, err)
}

// GetFarmer returns the registry record for phone.
func (c *AuthCore) GetFarmer(ctx context.Context, phone string) (*models.Farmer, error) {
	phone = util.NormalizePhone(phone)
	if !util.IsValidPhone(phone) {
		return nil, ErrInvalidPhone
	}
	farmer, err := c.registry.LookupByPhone(ctx, phone)
	if err != nil {
		return nil, c.storageError("lookup", phone, err)
	}
	if farmer == nil {
		return nil, ErrNotRegistered
	}
	return farmer, nil
}

func (c *AuthCore) ListFarmers(ctx context.Context) ([]*models.Farmer, error) {
	farmers, err := c.registry.List(ctx)
	if err != nil {
		c.logger.Error("Registry list failed", zap.Error(err))
		return nil, &StorageError{Op: "list", Err: err}
	}
	return farmers, nil
}

// Stats counts pending OTPs and cooldown entries across all stripes.
func (c *AuthCore) Stats() Stats {
	st := Stats{LockStripes: len(c.stripes)}
	for _, s := range c.stripes {
		s.mu.Lock()
		st.PendingOTPs += len(s.otps)
		st.CooldownEntries += len(s.cooldowns)
		s.mu.Unlock()
	}
	if pr, ok := c.registry.(repository.PoolReporter); ok {
		ps := pr.PoolStats()
		st.RegistryPool = &ps
	}
	return st
}

// HealthCheck reports whether the registry is reachable.
func (c *AuthCore) HealthCheck(ctx context.Context) error {
	return c.registry.HealthCheck(ctx)
}
