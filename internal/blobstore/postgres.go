package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over a single Postgres table, for
// self-hosted deployments without an object store. Rows behave like blobs:
// whole-value overwrite on Put, no partial updates. uploaded_at is assigned
// by the database, matching the hosted stores' server-side timestamps.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the blobs table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		data BYTEA NOT NULL,
		content_type TEXT NOT NULL,
		uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("ensure blobs schema: %w", err)
	}
	return nil
}

// likeEscaper neutralizes LIKE wildcards so a prefix is matched literally.
// '_' is legal in handles and '%' can appear in display-mode queries; both
// would otherwise pattern-match other keys.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, uploaded_at FROM blobs WHERE key LIKE $1 || '%' ESCAPE '\' ORDER BY uploaded_at DESC`,
		likeEscaper.Replace(prefix))
	if err != nil {
		return nil, fmt.Errorf("list blobs %q: %w", prefix, err)
	}
	defer rows.Close()

	var infos []ObjectInfo
	for rows.Next() {
		var key string
		var uploaded time.Time
		if err := rows.Scan(&key, &uploaded); err != nil {
			return nil, fmt.Errorf("scan blob row: %w", err)
		}
		infos = append(infos, ObjectInfo{
			Key:        key,
			URL:        "pg://" + key,
			UploadedAt: uploaded,
		})
	}
	return infos, rows.Err()
}

func (s *PostgresStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO blobs (key, data, content_type, uploaded_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (key) DO UPDATE
		 SET data = EXCLUDED.data, content_type = EXCLUDED.content_type, uploaded_at = now()`,
		key, data, contentType)
	if err != nil {
		return fmt.Errorf("put blob %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Fetch(ctx context.Context, url string) ([]byte, error) {
	key := strings.TrimPrefix(url, "pg://")

	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM blobs WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch blob %q: %w", key, err)
	}
	return data, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
