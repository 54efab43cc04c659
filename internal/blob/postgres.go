package blob

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// Querier is the subset of pgxpool.Pool used by PostgresStore.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps blobs in the blobs table created by the database
// migrations.
type PostgresStore struct {
	db Querier
}

// NewPostgresStore wraps a pool.
func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get reads a blob.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM blobs WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: select %s", key)
	}
	return data, nil
}

// Put upserts a blob.
func (s *PostgresStore) Put(ctx context.Context, key string, data []byte) error {
	if !validKey(key) {
		return eris.Errorf("blob: invalid key %q", key)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO blobs (key, data, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		key, data)
	return eris.Wrapf(err, "blob: upsert %s", key)
}

// Append concatenates data onto the stored bytes in one statement.
func (s *PostgresStore) Append(ctx context.Context, key string, data []byte) error {
	if !validKey(key) {
		return eris.Errorf("blob: invalid key %q", key)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO blobs (key, data, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET data = blobs.data || EXCLUDED.data, updated_at = NOW()`,
		key, data)
	return eris.Wrapf(err, "blob: append %s", key)
}

// List returns keys with the prefix.
func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT key FROM blobs WHERE key LIKE $1 ESCAPE '\' ORDER BY key`, likePrefix(prefix))
	if err != nil {
		return nil, eris.Wrapf(err, "blob: list %s", prefix)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrapf(err, "blob: scan keys under %s", prefix)
	}
	return keys, nil
}

// Delete removes a blob.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM blobs WHERE key = $1`, key)
	return eris.Wrapf(err, "blob: delete %s", key)
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
