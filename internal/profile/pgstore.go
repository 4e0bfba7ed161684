// internal/profile/pgstore.go
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/config"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
    key        TEXT PRIMARY KEY,
    data       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS script_settings (
    site       TEXT PRIMARY KEY,
    data       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS blacklist (
    origin TEXT PRIMARY KEY
);
`

// PGStore keeps profiles and settings as JSONB documents in PostgreSQL.
type PGStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ Store = (*PGStore)(nil)

// NewPGStore verifies the connection and returns a store over pool.
func NewPGStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PGStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGStore{pool: pool, log: logger.Named("profile_pg")}, nil
}

// Migrate creates the tables if they do not exist.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate profile schema: %w", err)
	}
	return nil
}

func (s *PGStore) Profile(ctx context.Context, key string) (Profile, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM profiles WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, fmt.Errorf("%w: profile %q", ErrNotFound, key)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("failed to query profile %q: %w", key, err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to decode profile %q: %w", key, err)
	}
	p.Key = key
	return p, nil
}

func (s *PGStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, data FROM profiles ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode profile %q: %w", key, err)
		}
		p.Key = key
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (s *PGStore) SaveProfile(ctx context.Context, p Profile) error {
	if p.Key == "" {
		return fmt.Errorf("profile: key is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile %q: %w", p.Key, err)
	}
	_, err = s.pool.Exec(ctx, `
        INSERT INTO profiles (key, data, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET
            data = EXCLUDED.data,
            updated_at = EXCLUDED.updated_at;
    `, p.Key, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save profile %q: %w", p.Key, err)
	}
	return nil
}

func (s *PGStore) Settings(ctx context.Context, site string) (Settings, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM script_settings WHERE site = $1`, site).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultSettings(site), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to query settings for %q: %w", site, err)
	}
	var st Settings
	if err := json.Unmarshal(data, &st); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings for %q: %w", site, err)
	}
	st.Site = site
	return st, nil
}

func (s *PGStore) SaveSettings(ctx context.Context, st Settings) error {
	if st.Site == "" {
		return fmt.Errorf("profile: settings need a site")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode settings for %q: %w", st.Site, err)
	}
	_, err = s.pool.Exec(ctx, `
        INSERT INTO script_settings (site, data, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (site) DO UPDATE SET
            data = EXCLUDED.data,
            updated_at = EXCLUDED.updated_at;
    `, st.Site, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save settings for %q: %w", st.Site, err)
	}
	return nil
}

func (s *PGStore) Blacklist(ctx context.Context) (Blacklist, error) {
	rows, err := s.pool.Query(ctx, `SELECT origin FROM blacklist ORDER BY origin`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blacklist: %w", err)
	}
	defer rows.Close()

	var out Blacklist
	for rows.Next() {
		var origin string
		if err := rows.Scan(&origin); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist row: %w", err)
		}
		out = append(out, origin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// SaveBlacklist replaces the whole blacklist in one transaction.
func (s *PGStore) SaveBlacklist(ctx context.Context, b Blacklist) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM blacklist`); err != nil {
		return fmt.Errorf("failed to clear blacklist: %w", err)
	}
	if len(b) > 0 {
		rows := make([][]interface{}, len(b))
		for i, origin := range b {
			rows[i] = []interface{}{origin}
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"blacklist"}, []string{"origin"}, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy blacklist: %w", err)
		}
		if int(n) != len(b) {
			return fmt.Errorf("mismatch in copied blacklist count: expected %d, got %d", len(b), n)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// Open builds the store selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case config.StoreDriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		store, err := NewPGStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	case config.StoreDriverFile, "":
		return NewFileStore(cfg.Path, logger), nil
	default:
		return nil, fmt.Errorf("profile: unknown store driver %q", cfg.Driver)
	}
}
