package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresVerifier backs token verification with a shared Postgres table so
// that multiple gateway replicas agree on which bearer tokens are valid.
type PostgresVerifier struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

const defaultPostgresVerifierTimeout = 5 * time.Second

// PostgresVerifierOption configures PostgresVerifier construction.
type PostgresVerifierOption func(*postgresVerifierOptions)

type postgresVerifierOptions struct {
	timeout time.Duration
}

// WithVerifierTimeout bounds how long the verifier waits for Postgres.
func WithVerifierTimeout(timeout time.Duration) PostgresVerifierOption {
	return func(o *postgresVerifierOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// NewPostgresVerifier opens a pool against dsn and ensures the backing
// gateway_tokens table exists.
func NewPostgresVerifier(ctx context.Context, dsn string, opts ...PostgresVerifierOption) (*PostgresVerifier, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres verifier dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres verifier config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres verifier pool: %w", err)
	}
	options := postgresVerifierOptions{timeout: defaultPostgresVerifierTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	verifier := &PostgresVerifier{pool: pool, timeout: options.timeout}
	if err := verifier.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return verifier, nil
}

func (v *PostgresVerifier) ensureSchema(ctx context.Context) error {
	_, err := v.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS gateway_tokens (
	hashed_token TEXT PRIMARY KEY,
	username     TEXT NOT NULL
)`)
	return err
}

// Close releases the pool.
func (v *PostgresVerifier) Close(ctx context.Context) error {
	if v == nil || v.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		v.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Ping checks connectivity to Postgres.
func (v *PostgresVerifier) Ping(ctx context.Context) error {
	if v == nil || v.pool == nil {
		return fmt.Errorf("postgres verifier pool not configured")
	}
	ctx, cancel := v.operationContext(ctx)
	defer cancel()
	conn, err := v.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	_, err = conn.Exec(ctx, "SELECT 1")
	return err
}

// Provision inserts or updates the username bound to token.
func (v *PostgresVerifier) Provision(ctx context.Context, token, username string) error {
	hashed, err := hashToken(token)
	if err != nil {
		return err
	}
	ctx, cancel := v.operationContext(ctx)
	defer cancel()
	_, err = v.pool.Exec(ctx, `
INSERT INTO gateway_tokens (hashed_token, username) VALUES ($1, $2)
ON CONFLICT (hashed_token) DO UPDATE SET username = EXCLUDED.username
`, hashed, username)
	return err
}

// Revoke deletes token from the table.
func (v *PostgresVerifier) Revoke(ctx context.Context, token string) error {
	hashed, err := hashToken(token)
	if err != nil {
		return err
	}
	ctx, cancel := v.operationContext(ctx)
	defer cancel()
	_, err = v.pool.Exec(ctx, `DELETE FROM gateway_tokens WHERE hashed_token = $1`, hashed)
	return err
}

// Verify implements Verifier.
func (v *PostgresVerifier) Verify(ctx context.Context, token string) (string, bool) {
	hashed, err := hashToken(token)
	if err != nil {
		return "", false
	}
	ctx, cancel := v.operationContext(ctx)
	defer cancel()
	row := v.pool.QueryRow(ctx, `SELECT username FROM gateway_tokens WHERE hashed_token = $1`, hashed)
	var username string
	if err := row.Scan(&username); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", false
		}
		return "", false
	}
	return username, true
}

func (v *PostgresVerifier) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if v.timeout > 0 {
		return context.WithTimeout(ctx, v.timeout)
	}
	return ctx, func() {}
}
