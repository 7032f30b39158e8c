package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"farmer-auth/internal/config"
)

// Statements are the CQL strings used by the farmer registry. gocql prepares
// and caches them on first use.
type Statements struct {
	UpsertFarmer    string
	GetFarmer       string
	ListBucket      string
	CreateFarmers   string
	HealthCheckStmt string
}

func newStatements(keyspace string) *Statements {
	return &Statements{
		UpsertFarmer: `
        INSERT INTO farmers (
            farmer_bucket, phone_hash, farmer_id, phone_encrypted, phone_key_id,
            name, state, district, language, is_verified, created_at, last_login
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		GetFarmer: `
        SELECT farmer_id, phone_encrypted, phone_key_id, name, state, district,
            language, is_verified, created_at, last_login
        FROM farmers WHERE farmer_bucket = ? AND phone_hash = ?`,

		ListBucket: `
        SELECT farmer_id, phone_encrypted, phone_key_id, name, state, district,
            language, is_verified, created_at, last_login
        FROM farmers WHERE farmer_bucket = ?`,

		CreateFarmers: fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.farmers (
            farmer_bucket int,
            phone_hash text,
            farmer_id text,
            phone_encrypted text,
            phone_key_id text,
            name text,
            state text,
            district text,
            language text,
            is_verified boolean,
            created_at timestamp,
            last_login timestamp,
            PRIMARY KEY ((farmer_bucket), phone_hash)
        )`, keyspace),

		HealthCheckStmt: `SELECT cluster_name FROM system.local`,
	}
}

type ScyllaClient struct {
	Session    *gocql.Session
	Statements *Statements
	config     *config.ScyllaConfig
	logger     *zap.Logger
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.UseTLS {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.CAPath,
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session:    session,
		Statements: newStatements(scyllaConfig.Keyspace),
		config:     &scyllaConfig,
		logger:     logger,
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

// EnsureSchema creates the farmers table when missing.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	if err := s.Session.Query(s.Statements.CreateFarmers).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create farmers table: %w", err)
	}
	return nil
}

func (s *ScyllaClient) Close() error {
	if s.Session != nil {
		s.Session.Close()
		s.logger.Info("ScyllaDB client closed")
	}
	return nil
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	if err := s.Query(ctx, s.Statements.HealthCheckStmt).Scan(&clusterName); err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	s.logger.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ExecuteWithRetry retries transient write failures with linear backoff.
func (s *ScyllaClient) ExecuteWithRetry(ctx context.Context, query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		lastErr = query.WithContext(ctx).Exec()
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return lastErr
}
