package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentgate/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS policies (
	name         TEXT PRIMARY KEY,
	algorithm    TEXT NOT NULL,
	window_ms    BIGINT NOT NULL,
	max_requests BIGINT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	status_code  BIGINT NOT NULL DEFAULT 0,
	key_strategy TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_keys (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	key_hash    TEXT NOT NULL UNIQUE,
	prefix      TEXT NOT NULL,
	permissions JSONB NOT NULL DEFAULT '[]',
	enabled     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStorage implements the Storage interface on a pgx connection pool,
// so several gateway replicas can share policy overrides and keys.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolCfg, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(min(config.MaxIdleConns, int(poolCfg.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

const pgPolicyColumns = `name, algorithm, window_ms, max_requests, message, status_code, key_strategy, updated_at`

func scanPgPolicy(row pgx.Row) (*models.Policy, error) {
	var (
		r       policyRow
		updated pgtype.Timestamptz
	)
	if err := row.Scan(&r.Name, &r.Algorithm, &r.WindowMs, &r.MaxRequests,
		&r.Message, &r.StatusCode, &r.KeyStrategy, &updated); err != nil {
		return nil, err
	}
	r.UpdatedAt = updated.Time
	return r.toModel(), nil
}

// Policies returns all stored policy overrides ordered by name.
func (ps *PostgresStorage) Policies(ctx context.Context) ([]*models.Policy, error) {
	rows, err := ps.pool.Query(ctx, `SELECT `+pgPolicyColumns+` FROM policies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to get policies: %w", err)
	}
	defer rows.Close()

	out := []*models.Policy{}
	for rows.Next() {
		p, err := scanPgPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPolicy retrieves a policy override by name.
func (ps *PostgresStorage) GetPolicy(ctx context.Context, name string) (*models.Policy, error) {
	p, err := scanPgPolicy(ps.pool.QueryRow(ctx, `SELECT `+pgPolicyColumns+` FROM policies WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return p, nil
}

// SavePolicy stores or replaces a policy override (upsert).
func (ps *PostgresStorage) SavePolicy(ctx context.Context, policy *models.Policy) error {
	r := policyToRow(policy)
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO policies (`+pgPolicyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			algorithm = EXCLUDED.algorithm,
			window_ms = EXCLUDED.window_ms,
			max_requests = EXCLUDED.max_requests,
			message = EXCLUDED.message,
			status_code = EXCLUDED.status_code,
			key_strategy = EXCLUDED.key_strategy,
			updated_at = EXCLUDED.updated_at`,
		r.Name, r.Algorithm, r.WindowMs, r.MaxRequests, r.Message, r.StatusCode, r.KeyStrategy,
		pgtype.Timestamptz{Time: r.UpdatedAt, Valid: true},
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// DeletePolicy removes a policy override.
func (ps *PostgresStorage) DeletePolicy(ctx context.Context, name string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM policies WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete policy %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const pgAPIKeyColumns = `id, name, key_hash, prefix, permissions::text, enabled, created_at, updated_at`

func scanPgAPIKey(row pgx.Row) (*models.APIKey, error) {
	var (
		k                  models.APIKey
		perms              string
		created, updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Prefix, &perms, &k.Enabled, &created, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if k.Permissions, err = unmarshalPermissions(perms); err != nil {
		return nil, err
	}
	k.CreatedAt = created.Time.UTC()
	k.UpdatedAt = updatedAt.Time.UTC()
	return &k, nil
}

// CreateAPIKey stores a new API key.
func (ps *PostgresStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := marshalPermissions(key.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	_, err = ps.pool.Exec(ctx, `
		INSERT INTO api_keys (id, name, key_hash, prefix, permissions, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)`,
		key.ID, key.Name, key.KeyHash, key.Prefix, perms, key.Enabled,
		timeToPgTimestamptz(key.CreatedAt), timeToPgTimestamptz(key.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
func (ps *PostgresStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	k, err := scanPgAPIKey(ps.pool.QueryRow(ctx, `SELECT `+pgAPIKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

// ListAPIKeys returns all API keys, oldest first.
func (ps *PostgresStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := ps.pool.Query(ctx, `SELECT `+pgAPIKeyColumns+` FROM api_keys ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	out := []*models.APIKey{}
	for rows.Next() {
		k, err := scanPgAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// UpdateAPIKey updates an existing API key's mutable fields.
func (ps *PostgresStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := marshalPermissions(key.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}

	tag, err := ps.pool.Exec(ctx, `
		UPDATE api_keys SET name = $2, permissions = $3::jsonb, enabled = $4, updated_at = $5
		WHERE id = $1`,
		key.ID, key.Name, perms, key.Enabled, timeToPgTimestamptz(key.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAPIKey removes an API key by its ID.
func (ps *PostgresStorage) DeleteAPIKey(ctx context.Context, id string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies the storage backend is reachable and operational.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func timeToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Time: time.Now(), Valid: true}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
