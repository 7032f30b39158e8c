package service

import (
	"time"

	"farmer-auth/internal/audit"
	"farmer-auth/internal/bucketing"
	"farmer-auth/internal/config"
	"farmer-auth/internal/hashing"
	"farmer-auth/internal/notify"
	"farmer-auth/internal/repository"
	"farmer-auth/internal/util"

	"go.uber.org/zap"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg          *config.Config
	registry     repository.FarmerRegistry
	notifier     notify.Notifier
	hasher       *hashing.Hasher
	bucketingMgr *bucketing.BucketingManager
	auditor      audit.Auditor
	clock        util.Clock
	logger       *zap.Logger

	authCore *AuthCore
	sweeper  *ExpirySweeper
}

func NewServiceFactory(
	cfg *config.Config,
	registry repository.FarmerRegistry,
	notifier notify.Notifier,
	hasher *hashing.Hasher,
	bucketingMgr *bucketing.BucketingManager,
	auditor audit.Auditor,
	clock util.Clock,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:          cfg,
		registry:     registry,
		notifier:     notifier,
		hasher:       hasher,
		bucketingMgr: bucketingMgr,
		auditor:      auditor,
		clock:        clock,
		logger:       logger,
	}
}

// AuthCore returns the process-wide auth core, building it on first use.
func (f *ServiceFactory) AuthCore() *AuthCore {
	if f.authCore == nil {
		f.authCore = NewAuthCore(
			f.registry,
			f.notifier,
			f.hasher,
			f.bucketingMgr,
			f.auditor,
			f.clock,
			PolicyFromConfig(f.cfg),
			f.logger.Named("auth"),
		)
	}
	return f.authCore
}

// SweepInterval is the configured period for Sweeper().Run.
func (f *ServiceFactory) SweepInterval() time.Duration {
	return f.cfg.Auth.SweepInterval
}

func (f *ServiceFactory) Sweeper() *ExpirySweeper {
	if f.sweeper == nil {
		f.sweeper = NewExpirySweeper(f.AuthCore(), f.logger.Named("sweeper"))
	}
	return f.sweeper
}
