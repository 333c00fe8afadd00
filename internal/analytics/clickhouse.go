// Package analytics records discovery traffic in ClickHouse. Writes are
// best-effort: the pipeline never blocks or fails on analytics.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/config"
	"github.com/CodyOutcast/ques-discovery/internal/models"
)

type Client struct {
	conn   driver.Conn
	logger *zap.Logger
}

func NewClient(cfg config.ClickHouseConfig, logger *zap.Logger) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": int(cfg.QueryTimeout.Seconds()),
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}

	logger.Info("clickhouse client connected", zap.Strings("addresses", cfg.Addresses))

	return &Client{
		conn:   conn,
		logger: logger,
	}, nil
}

// EnsureTables creates the analytics tables when they do not exist.
func (c *Client) EnsureTables(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS discovery_events (
			event_type     LowCardinality(String),
			request_id     String,
			query_hash     String,
			intent         LowCardinality(String),
			scope          LowCardinality(String),
			duration_ms    Float64,
			result_count   UInt32,
			fallbacks_used Array(String),
			degraded       UInt8,
			trace_id       String,
			timestamp      DateTime64(3)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (intent, timestamp)
		TTL toDateTime(timestamp) + INTERVAL 90 DAY
	`
	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating discovery_events table: %w", err)
	}
	return nil
}

// WriteDiscoveryEvent inserts one pipeline-run record. Uses an async insert
// without waiting for the server-side flush.
func (c *Client) WriteDiscoveryEvent(ctx context.Context, event *models.DiscoveryEvent) error {
	degraded := uint8(0)
	if event.Degraded {
		degraded = 1
	}

	query := `
		INSERT INTO discovery_events (
			event_type, request_id, query_hash, intent, scope,
			duration_ms, result_count, fallbacks_used, degraded,
			trace_id, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := c.conn.AsyncInsert(ctx, query, false,
		event.EventType,
		event.RequestID,
		event.QueryHash,
		event.Intent,
		event.Scope,
		event.DurationMs,
		uint32(event.ResultCount),
		event.FallbacksUsed,
		degraded,
		event.TraceID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting discovery event: %w", err)
	}
	return nil
}

// IntentVolume is one row of the per-intent traffic rollup.
type IntentVolume struct {
	Intent   string
	Requests int64
	AvgMs    float64
	Degraded int64
}

// QueryIntentVolumes aggregates traffic by intent since a cutoff. Serves the
// internal stats endpoint.
func (c *Client) QueryIntentVolumes(ctx context.Context, since time.Time) ([]IntentVolume, error) {
	query := `
		SELECT
			intent,
			count() AS requests,
			avg(duration_ms) AS avg_ms,
			countIf(degraded = 1) AS degraded
		FROM discovery_events
		WHERE timestamp >= ?
		GROUP BY intent
		ORDER BY requests DESC
	`
	rows, err := c.conn.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("ch intent volume query: %w", err)
	}
	defer rows.Close()

	var volumes []IntentVolume
	for rows.Next() {
		var v IntentVolume
		var requests, degraded uint64
		if err := rows.Scan(&v.Intent, &requests, &v.AvgMs, &degraded); err != nil {
			return nil, fmt.Errorf("scanning intent volume row: %w", err)
		}
		v.Requests = int64(requests)
		v.Degraded = int64(degraded)
		volumes = append(volumes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating intent volume rows: %w", err)
	}
	return volumes, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse health check: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
