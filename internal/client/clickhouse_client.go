package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"farmer-auth/internal/config"
	"farmer-auth/internal/util"
)

const (
	clickhousePort       = "9000"
	clickhouseSecurePort = "9440"
)

// ClickHouseClient is the write path for the audit trail. A single recorder
// worker flushes batches, so the pool stays small and inserts are compressed.
type ClickHouseClient struct {
	conn   driver.Conn
	logger *zap.Logger
}

type clickhouseEndpoint struct {
	addr   string
	host   string
	secure bool
}

// parseClickHouseURL accepts host[:port] or a http/https/clickhouse URL.
// https selects TLS and the secure native port when none is given.
func parseClickHouseURL(raw string) (clickhouseEndpoint, error) {
	if !strings.Contains(raw, "://") {
		raw = "clickhouse://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return clickhouseEndpoint{}, fmt.Errorf("invalid ClickHouse URL: %w", err)
	}
	if u.Hostname() == "" {
		return clickhouseEndpoint{}, fmt.Errorf("invalid ClickHouse URL %q: missing host", raw)
	}

	ep := clickhouseEndpoint{host: u.Hostname(), secure: u.Scheme == "https"}
	port := u.Port()
	if port == "" {
		port = clickhousePort
		if ep.secure {
			port = clickhouseSecurePort
		}
	}
	ep.addr = net.JoinHostPort(ep.host, port)
	return ep, nil
}

func clickhouseTLS(host string) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	caPath := util.GetEnv("CLICKHOUSE_CA_FILE", "")
	if caPath == "" {
		return tlsConfig, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ClickHouse CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", caPath)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// NewClickHouseClient opens a native-protocol connection, with TLS in production
// or for https URLs.
func NewClickHouseClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse
	ep, err := parseClickHouseURL(chConfig.URL)
	if err != nil {
		return nil, err
	}

	opts := &ch.Options{
		Addr: []string{ep.addr},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		Compression:     &ch.Compression{Method: ch.CompressionLZ4},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
	if cfg.IsProduction() || ep.secure {
		if opts.TLS, err = clickhouseTLS(ep.host); err != nil {
			return nil, err
		}
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("ClickHouse client initialized",
		zap.String("addr", ep.addr),
		zap.String("database", chConfig.Database),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)
	return &ClickHouseClient{conn: conn, logger: logger}, nil
}

// Exec runs DDL such as the audit table bootstrap.
func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}

// BatchInsert sends rows as one native batch. Nothing is written if any row
// fails to append.
func (c *ClickHouseClient) BatchInsert(ctx context.Context, query string, rows [][]interface{}) error {
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for i, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}
	return batch.Send()
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	if err := c.conn.Close(); err != nil {
		c.logger.Error("Failed to close ClickHouse connection", zap.Error(err))
		return err
	}
	c.logger.Info("ClickHouse connection closed")
	return nil
}
