package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"farmer-auth/internal/audit"
	"farmer-auth/internal/bucketing"
	"farmer-auth/internal/client"
	"farmer-auth/internal/config"
	"farmer-auth/internal/encryption"
	"farmer-auth/internal/hashing"
	"farmer-auth/internal/notify"
	"farmer-auth/internal/repository"
	"farmer-auth/internal/repository/memory"
	redisrepo "farmer-auth/internal/repository/redis"
	"farmer-auth/internal/repository/scylla"
	"farmer-auth/internal/service"
	"farmer-auth/internal/tls"
	"farmer-auth/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	initTimeout        = 30 * time.Second
	healthCheckTimeout = 5 * time.Second
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.TLSManager

	// Clients, each nil unless the configuration needs it
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	registry       repository.FarmerRegistry
	notifier       notify.Notifier
	recorder       *audit.Recorder
	serviceFactory *service.ServiceFactory

	stopBackground context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes all application dependencies
func NewFactory(ctx context.Context) (*Factory, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	return New(ctx, cfg, logger)
}

// New builds the dependency graph for an already loaded configuration.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Factory, error) {
	f := &Factory{
		config: cfg,
		logger: logger,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(tls.ConfigFromServer(cfg), logger.Named("tls"))
	}

	if err := f.initializeClients(ctx); err != nil {
		f.closeClients()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeManagers(ctx); err != nil {
		f.closeClients()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	if err := f.initializeComponents(ctx); err != nil {
		f.stopBackground()
		f.closeClients()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	logger.Info("Factory initialized successfully",
		zap.String("environment", cfg.Environment),
		zap.String("registry_backend", cfg.Registry.Backend),
		zap.String("notify_channel", cfg.Notify.Channel),
		zap.Bool("audit_enabled", cfg.Audit.Enabled),
		zap.Bool("tls_enabled", cfg.Server.EnableTLS),
		zap.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return f, nil
}

func (f *Factory) needsKafka() bool {
	return f.config.Notify.Channel == config.NotifyKafka ||
		(f.config.Audit.Enabled && f.config.Audit.KafkaEnabled)
}

// initializeClients connects the external systems the configuration selects,
// in parallel. Registry and delivery clients are required; audit-only
// clients are optional outside production.
func (f *Factory) initializeClients(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, initTimeout)
	defer cancel()

	cfg := f.config
	g, gctx := errgroup.WithContext(ctx)

	var (
		optionalMu   sync.Mutex
		optionalErrs []error
	)
	optional := func(name string, err error) error {
		if cfg.IsProduction() {
			return fmt.Errorf("%s: %w", name, err)
		}
		f.logger.Warn("Optional client unavailable, continuing without it",
			zap.String("client", name), zap.Error(err))
		optionalMu.Lock()
		optionalErrs = append(optionalErrs, err)
		optionalMu.Unlock()
		return nil
	}

	if cfg.Registry.Backend == config.RegistryRedis {
		g.Go(func() error {
			c, err := client.NewRedisClient(gctx, cfg, f.logger)
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			f.redisClient = c
			return nil
		})
	}

	if cfg.Registry.Backend == config.RegistryScylla {
		g.Go(func() error {
			c, err := scylla.NewScyllaClient(cfg, f.logger)
			if err != nil {
				return fmt.Errorf("scylla: %w", err)
			}
			f.scyllaClient = c
			if err := c.EnsureSchema(gctx); err != nil {
				return fmt.Errorf("scylla schema: %w", err)
			}
			return c.HealthCheck(gctx)
		})
	}

	if f.needsKafka() {
		g.Go(func() error {
			p, err := client.NewKafkaProducer(cfg, f.logger)
			if err != nil {
				return fmt.Errorf("kafka: %w", err)
			}
			f.kafkaProducer = p
			if err := p.HealthCheck(gctx); err != nil {
				if cfg.Notify.Channel == config.NotifyKafka {
					return fmt.Errorf("kafka health check: %w", err)
				}
				return optional("kafka", err)
			}
			return nil
		})
	}

	if cfg.Audit.Enabled && cfg.Elasticsearch.Enabled {
		g.Go(func() error {
			c, err := client.NewElasticsearchClient(gctx, cfg, f.logger)
			if err != nil {
				return optional("elasticsearch", err)
			}
			f.esClient = c
			return nil
		})
	}

	if cfg.Audit.Enabled && cfg.Clickhouse.Enabled {
		g.Go(func() error {
			c, err := client.NewClickHouseClient(gctx, cfg, f.logger)
			if err != nil {
				return optional("clickhouse", err)
			}
			f.clickhouseClient = c
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if len(optionalErrs) > 0 {
		f.logger.Warn("Started with degraded audit sinks", zap.Int("unavailable", len(optionalErrs)))
	}
	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers(ctx context.Context) error {
	hasher, err := hashing.NewHasher(f.config, f.logger.Named("hashing"))
	if err != nil {
		return err
	}
	f.hasher = hasher

	if f.config.KMS.Enabled {
		kmsClient, err := encryption.NewKMSClient(ctx, f.config)
		if err != nil {
			return fmt.Errorf("kms: %w", err)
		}
		f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
	} else {
		f.encryptionManager = encryption.NewEncryptionManager(f.config, nil)
	}

	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	bgCtx, cancel := context.WithCancel(context.Background())
	f.stopBackground = cancel
	if f.config.IsProduction() {
		f.hasher.StartPepperRotation(bgCtx)
	}

	f.logger.Info("Managers initialized successfully",
		zap.Bool("kms", f.encryptionManager.UsesKMS()),
		zap.Int("farmer_buckets", f.bucketingManager.FarmerBuckets()),
		zap.Int("lock_stripes", f.bucketingManager.LockStripes()),
	)
	return nil
}

func (f *Factory) initializeComponents(ctx context.Context) error {
	f.registry = f.buildRegistry()
	f.notifier = f.buildNotifier()

	if f.config.Audit.Enabled {
		sinks, err := f.buildAuditSinks(ctx)
		if err != nil {
			return err
		}
		a := f.config.Audit
		f.recorder = audit.NewRecorder(sinks, a.QueueSize, a.BatchSize, a.FlushInterval, f.logger.Named("audit"))
	}

	var auditor audit.Auditor
	if f.recorder != nil {
		auditor = f.recorder
	}

	f.serviceFactory = service.NewServiceFactory(
		f.config,
		f.registry,
		f.notifier,
		f.hasher,
		f.bucketingManager,
		auditor,
		util.SystemClock{},
		f.logger,
	)
	return nil
}

func (f *Factory) buildRegistry() repository.FarmerRegistry {
	switch f.config.Registry.Backend {
	case config.RegistryRedis:
		return redisrepo.NewFarmerRegistry(f.redisClient.Client, f.redisClient.KeyPrefix())
	case config.RegistryScylla:
		return scylla.NewFarmerRegistry(f.scyllaClient, f.bucketingManager, f.encryptionManager)
	default:
		if f.config.IsProduction() {
			f.logger.Warn("In-memory farmer registry in production; registrations are lost on restart")
		}
		return memory.NewFarmerRegistry()
	}
}

func (f *Factory) buildNotifier() notify.Notifier {
	switch f.config.Notify.Channel {
	case config.NotifyKafka:
		return notify.NewKafkaNotifier(f.kafkaProducer, f.config.Kafka.OTPTopic, f.config.Auth.OTPExpiry)
	case config.NotifyTwilio:
		return notify.NewTwilioNotifier(f.config)
	default:
		return notify.NewLogNotifier(f.logger.Named("otp"))
	}
}

func (f *Factory) buildAuditSinks(ctx context.Context) ([]audit.Sink, error) {
	var sinks []audit.Sink

	if !f.config.IsProduction() {
		sinks = append(sinks, audit.NewLogSink(f.logger.Named("audit")))
	}

	if f.clickhouseClient != nil {
		ch := audit.NewClickHouseSink(f.clickhouseClient, f.config.Clickhouse.Table)
		if err := ch.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("clickhouse audit table: %w", err)
		}
		sinks = append(sinks, ch)
	}

	if f.esClient != nil {
		sinks = append(sinks, audit.NewElasticsearchSink(f.esClient, f.config.Elasticsearch.Index))
	}

	if f.kafkaProducer != nil && f.config.Audit.KafkaEnabled {
		sinks = append(sinks, audit.NewKafkaSink(f.kafkaProducer, f.config.Kafka.AuditTopic))
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	f.logger.Info("Audit sinks configured", zap.Strings("sinks", names))
	return sinks, nil
}

// ==============================
// Health Checks
// ==============================

// HealthCheck probes every initialized client concurrently. Audit-only
// clients are reported but do not make the service unhealthy.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	checks := map[string]func(context.Context) error{
		"registry": f.registry.HealthCheck,
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}

	var (
		mu           sync.Mutex
		healthErrors = make(map[string]error)
		g            errgroup.Group
	)
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			if err := check(ctx); err != nil {
				mu.Lock()
				healthErrors[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	if f.config.Notify.Channel != config.NotifyKafka {
		delete(healthErrors, "kafka")
	}
	delete(healthErrors, "elasticsearch")
	delete(healthErrors, "clickhouse")
	return len(healthErrors) == 0
}

// Close drains the audit recorder and releases every client. Safe to call
// more than once.
func (f *Factory) Close(ctx context.Context) error {
	var errs []error
	f.closeOnce.Do(func() {
		close(f.closed)
		f.logger.Info("Shutting down factory...")

		if f.stopBackground != nil {
			f.stopBackground()
		}

		if f.recorder != nil {
			if err := f.recorder.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("audit recorder: %w", err))
			}
			st := f.recorder.Stats()
			f.logger.Info("Audit recorder drained",
				zap.Int64("written", st.Written),
				zap.Int64("dropped", st.Dropped),
				zap.Int64("failed", st.Failed))
		}

		errs = append(errs, f.closeClients()...)

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		f.logger.Info("Factory shutdown completed")
	})
	return errors.Join(errs...)
}

func (f *Factory) closeClients() []error {
	var errs []error
	closers := []struct {
		name  string
		close func() error
		ok    bool
	}{
		{"clickhouse", func() error { return f.clickhouseClient.Close() }, f.clickhouseClient != nil},
		{"elasticsearch", func() error { return f.esClient.Close() }, f.esClient != nil},
		{"kafka", func() error { return f.kafkaProducer.Close() }, f.kafkaProducer != nil},
		{"scylla", func() error { return f.scyllaClient.Close() }, f.scyllaClient != nil},
		{"redis", func() error { return f.redisClient.Close() }, f.redisClient != nil},
	}
	for _, c := range closers {
		if !c.ok {
			continue
		}
		if err := c.close(); err != nil {
			f.logger.Error("Failed to close client", zap.String("client", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errs
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}

func (f *Factory) Registry() repository.FarmerRegistry {
	return f.registry
}
