package trafficlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDriver writes traffic log entries into a single
// proxy_traffic_logs table, one transaction per flushed batch.
type PostgresDriver struct {
	pool *pgxpool.Pool
}

// NewPostgresDriver opens a pool against dsn and ensures the backing table
// and its indexes exist.
func NewPostgresDriver(ctx context.Context, dsn string) (*PostgresDriver, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres traffic log dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres traffic log config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres traffic log pool: %w", err)
	}
	d := &PostgresDriver{pool: pool}
	if err := d.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

func (d *PostgresDriver) ensureSchema(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS proxy_traffic_logs (
	id              BIGSERIAL PRIMARY KEY,
	trace_id        TEXT NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL,
	method          TEXT NOT NULL,
	path            TEXT NOT NULL,
	query_string    TEXT NOT NULL,
	environment     TEXT NOT NULL,
	endpoint_name   TEXT NOT NULL,
	target_url      TEXT NOT NULL,
	status_code     INTEGER NOT NULL,
	request_size    BIGINT NOT NULL,
	response_size   BIGINT NOT NULL,
	duration_ms     BIGINT NOT NULL,
	username        TEXT,
	client_ip       TEXT NOT NULL,
	request_body    TEXT,
	response_body   TEXT,
	request_headers JSONB NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("create proxy_traffic_logs table: %w", err)
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_proxy_traffic_logs_timestamp ON proxy_traffic_logs (timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_proxy_traffic_logs_trace_id ON proxy_traffic_logs (trace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_proxy_traffic_logs_endpoint_name ON proxy_traffic_logs (endpoint_name)`,
	} {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create proxy_traffic_logs index: %w", err)
		}
	}
	return nil
}

// WriteBatch inserts entries inside a single transaction using a pgx.Batch
// of prepared inserts.
func (d *PostgresDriver) WriteBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin traffic log transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range entries {
		headers, err := json.Marshal(e.RequestHeaders)
		if err != nil {
			return fmt.Errorf("encode request headers: %w", err)
		}
		batch.Queue(`
INSERT INTO proxy_traffic_logs
	(trace_id, timestamp, method, path, query_string, environment, endpoint_name, target_url,
	 status_code, request_size, response_size, duration_ms, username, client_ip,
	 request_body, response_body, request_headers)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`,
			e.TraceID, e.Timestamp, e.Method, e.Path, e.Query, e.Env, e.EndpointName, e.TargetURL,
			e.StatusCode, e.RequestSize, e.ResponseSize, e.DurationMs, nullableString(e.Username), e.ClientIP,
			nullableString(e.RequestBody), nullableString(e.ResponseBody), headers)
	}

	results := tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert traffic log entry: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close traffic log batch results: %w", err)
	}
	return tx.Commit(ctx)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Close releases the pool.
func (d *PostgresDriver) Close() error {
	d.pool.Close()
	return nil
}
