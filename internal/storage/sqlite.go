package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rentgate/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS policies (
	name         TEXT PRIMARY KEY,
	algorithm    TEXT NOT NULL,
	window_ms    INTEGER NOT NULL,
	max_requests INTEGER NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	status_code  INTEGER NOT NULL DEFAULT 0,
	key_strategy TEXT NOT NULL DEFAULT '',
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	key_hash    TEXT NOT NULL UNIQUE,
	prefix      TEXT NOT NULL,
	permissions TEXT NOT NULL DEFAULT '[]',
	enabled     INTEGER NOT NULL DEFAULT 1,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
`

// SQLiteStorage implements the Storage interface on an embedded SQLite
// database. The schema is created on open.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config Config) (Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePolicy(s rowScanner) (*models.Policy, error) {
	var (
		row     policyRow
		updated string
	)
	if err := s.Scan(&row.Name, &row.Algorithm, &row.WindowMs, &row.MaxRequests,
		&row.Message, &row.StatusCode, &row.KeyStrategy, &updated); err != nil {
		return nil, err
	}
	t, err := parseSQLiteTime(updated)
	if err != nil {
		return nil, err
	}
	row.UpdatedAt = t
	return row.toModel(), nil
}

const sqlitePolicyColumns = `name, algorithm, window_ms, max_requests, message, status_code, key_strategy, updated_at`

// Policies returns all stored policy overrides ordered by name.
func (ss *SQLiteStorage) Policies(ctx context.Context) ([]*models.Policy, error) {
	rows, err := ss.db.QueryContext(ctx, `SELECT `+sqlitePolicyColumns+` FROM policies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	out := []*models.Policy{}
	for rows.Next() {
		p, err := scanSQLitePolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPolicy retrieves a policy override by name.
func (ss *SQLiteStorage) GetPolicy(ctx context.Context, name string) (*models.Policy, error) {
	row := ss.db.QueryRowContext(ctx, `SELECT `+sqlitePolicyColumns+` FROM policies WHERE name = ?`, name)
	p, err := scanSQLitePolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return p, nil
}

// SavePolicy stores or replaces a policy override.
func (ss *SQLiteStorage) SavePolicy(ctx context.Context, policy *models.Policy) error {
	r := policyToRow(policy)
	_, err := ss.db.ExecContext(ctx, `
		INSERT INTO policies (`+sqlitePolicyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			algorithm = excluded.algorithm,
			window_ms = excluded.window_ms,
			max_requests = excluded.max_requests,
			message = excluded.message,
			status_code = excluded.status_code,
			key_strategy = excluded.key_strategy,
			updated_at = excluded.updated_at`,
		r.Name, r.Algorithm, r.WindowMs, r.MaxRequests, r.Message, r.StatusCode, r.KeyStrategy,
		formatSQLiteTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// DeletePolicy removes a policy override.
func (ss *SQLiteStorage) DeletePolicy(ctx context.Context, name string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM policies WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	return requireAffected(res)
}

const sqliteAPIKeyColumns = `id, name, key_hash, prefix, permissions, enabled, created_at, updated_at`

func scanSQLiteAPIKey(s rowScanner) (*models.APIKey, error) {
	var (
		k                  models.APIKey
		perms              string
		enabled            int64
		created, updatedAt string
	)
	if err := s.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Prefix, &perms, &enabled, &created, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if k.Permissions, err = unmarshalPermissions(perms); err != nil {
		return nil, err
	}
	if k.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if k.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return nil, err
	}
	k.Enabled = enabled != 0
	return &k, nil
}

// CreateAPIKey stores a new API key.
func (ss *SQLiteStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := marshalPermissions(key.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	_, err = ss.db.ExecContext(ctx,
		`INSERT INTO api_keys (`+sqliteAPIKeyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Name, key.KeyHash, key.Prefix, perms, boolToInt(key.Enabled),
		formatSQLiteTime(key.CreatedAt), formatSQLiteTime(key.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
func (ss *SQLiteStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := ss.db.QueryRowContext(ctx, `SELECT `+sqliteAPIKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	k, err := scanSQLiteAPIKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

// ListAPIKeys returns all API keys, oldest first.
func (ss *SQLiteStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := ss.db.QueryContext(ctx, `SELECT `+sqliteAPIKeyColumns+` FROM api_keys`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	out := []*models.APIKey{}
	for rows.Next() {
		k, err := scanSQLiteAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortAPIKeys(out)
	return out, nil
}

// UpdateAPIKey replaces the mutable fields of an existing API key.
func (ss *SQLiteStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := marshalPermissions(key.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	res, err := ss.db.ExecContext(ctx,
		`UPDATE api_keys SET name = ?, permissions = ?, enabled = ?, updated_at = ? WHERE id = ?`,
		key.Name, perms, boolToInt(key.Enabled), formatSQLiteTime(key.UpdatedAt), key.ID,
	)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return requireAffected(res)
}

// DeleteAPIKey removes an API key by ID.
func (ss *SQLiteStorage) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return requireAffected(res)
}

// Ping verifies the database is reachable.
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
