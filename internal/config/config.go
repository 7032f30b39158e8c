package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Registry backends
const (
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
	RegistryScylla = "scylla"
)

// Notification channels
const (
	NotifyLog    = "log"
	NotifyKafka  = "kafka"
	NotifyTwilio = "twilio"
)

type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Auth          AuthConfig
	Registry      RegistryConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	KMS           KMSConfig
	Notify        NotifyConfig
	Audit         AuditConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// AuthConfig holds the OTP policy. Defaults match the production policy and are
// only overridden in tests and ops drills.
type AuthConfig struct {
	OTPLength     int
	OTPExpiry     time.Duration
	MaxAttempts   int
	Cooldown      time.Duration
	SweepInterval time.Duration
	LockStripes   int
	AutoProvision bool
}

type RegistryConfig struct {
	Backend string
}

type RedisConfig struct {
	URL       string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	UseTLS   bool
	CAPath   string
}

type KafkaConfig struct {
	Brokers      []string
	OTPTopic     string
	AuditTopic   string
	RequiredAcks int
	WriteTimeout time.Duration
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
	Table    string
}

type HashingConfig struct {
	Argon2MemoryCost   int
	Argon2TimeCost     int
	Argon2Parallelism  int
	PepperRotationDays int
}

type BucketingConfig struct {
	FarmerBuckets int
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type NotifyConfig struct {
	Channel          string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromPhone  string
	CountryCode      string
}

type AuditConfig struct {
	Enabled       bool
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	KafkaEnabled  bool
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() *Config {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8000),
			TLSPort:        getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:      getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:       getEnvBool("SERVER_AUTO_CERT", false),
			Domain:         getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:       getEnv("SERVER_CERT_FILE", ""),
			KeyFile:        getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:    getEnv("SERVER_AUTO_CERT_DIR", "./certs"),
			Email:          getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: getEnvList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Auth: AuthConfig{
			OTPLength:     getEnvInt("AUTH_OTP_LENGTH", 6),
			OTPExpiry:     getEnvDuration("AUTH_OTP_EXPIRY", 300*time.Second),
			MaxAttempts:   getEnvInt("AUTH_MAX_ATTEMPTS", 3),
			Cooldown:      getEnvDuration("AUTH_COOLDOWN", 60*time.Second),
			SweepInterval: getEnvDuration("AUTH_SWEEP_INTERVAL", 60*time.Second),
			LockStripes:   getEnvInt("AUTH_LOCK_STRIPES", 256),
			AutoProvision: getEnvBool("AUTH_AUTO_PROVISION", false),
		},
		Registry: RegistryConfig{
			Backend: getEnv("REGISTRY_BACKEND", RegistryMemory),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			PoolSize:  getEnvInt("REDIS_POOL_SIZE", 20),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "farmer:"),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "farmer_auth"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
			UseTLS:   getEnvBool("SCYLLA_USE_TLS", false),
			CAPath:   getEnv("SCYLLA_CA_PATH", ""),
		},
		Kafka: KafkaConfig{
			Brokers:      getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			OTPTopic:     getEnv("KAFKA_OTP_TOPIC", "otp-delivery"),
			AuditTopic:   getEnv("KAFKA_AUDIT_TOPIC", "auth-events"),
			RequiredAcks: getEnvInt("KAFKA_REQUIRED_ACKS", 1),
			WriteTimeout: getEnvDuration("KAFKA_WRITE_TIMEOUT", 5*time.Second),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_INDEX", "auth-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "farmer_auth"),
			Table:    getEnv("CLICKHOUSE_TABLE", "auth_events"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:   getEnvInt("HASH_ARGON2_MEMORY_KB", 19*1024),
			Argon2TimeCost:     getEnvInt("HASH_ARGON2_TIME", 2),
			Argon2Parallelism:  getEnvInt("HASH_ARGON2_PARALLELISM", 1),
			PepperRotationDays: getEnvInt("HASH_PEPPER_ROTATION_DAYS", 30),
		},
		Bucketing: BucketingConfig{
			FarmerBuckets: getEnvInt("BUCKET_FARMER_BUCKETS", 64),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "ap-south-1"),
		},
		Notify: NotifyConfig{
			Channel:          getEnv("NOTIFY_CHANNEL", NotifyLog),
			TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			TwilioFromPhone:  getEnv("TWILIO_FROM_PHONE", ""),
			CountryCode:      getEnv("NOTIFY_COUNTRY_CODE", "+91"),
		},
		Audit: AuditConfig{
			Enabled:       getEnvBool("AUDIT_ENABLED", false),
			QueueSize:     getEnvInt("AUDIT_QUEUE_SIZE", 4096),
			BatchSize:     getEnvInt("AUDIT_BATCH_SIZE", 200),
			FlushInterval: getEnvDuration("AUDIT_FLUSH_INTERVAL", 2*time.Second),
			KafkaEnabled:  getEnvBool("AUDIT_KAFKA_ENABLED", false),
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Registry.Backend {
	case RegistryMemory, RegistryRedis, RegistryScylla:
	default:
		errs = append(errs, fmt.Errorf("unknown registry backend %q", c.Registry.Backend))
	}

	switch c.Notify.Channel {
	case NotifyLog, NotifyKafka:
	case NotifyTwilio:
		if c.Notify.TwilioAccountSID == "" || c.Notify.TwilioAuthToken == "" || c.Notify.TwilioFromPhone == "" {
			errs = append(errs, errors.New("twilio channel requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_PHONE"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify channel %q", c.Notify.Channel))
	}

	if c.Auth.OTPLength <= 0 {
		errs = append(errs, errors.New("AUTH_OTP_LENGTH must be positive"))
	}
	if c.Auth.OTPExpiry <= 0 {
		errs = append(errs, errors.New("AUTH_OTP_EXPIRY must be positive"))
	}
	if c.Auth.MaxAttempts <= 0 {
		errs = append(errs, errors.New("AUTH_MAX_ATTEMPTS must be positive"))
	}
	if c.Auth.Cooldown < 0 {
		errs = append(errs, errors.New("AUTH_COOLDOWN must not be negative"))
	}
	if c.Auth.LockStripes <= 0 {
		errs = append(errs, errors.New("AUTH_LOCK_STRIPES must be positive"))
	}
	if c.Bucketing.FarmerBuckets <= 0 {
		errs = append(errs, errors.New("BUCKET_FARMER_BUCKETS must be positive"))
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, errors.New("KMS_KEY_ID is required when KMS is enabled"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
