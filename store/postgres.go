package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"accord"
	"accord/configs"
)

// PostgresStore is the pgx-backed Executor (configs.Postgres), grounded on
// the teacher's SQLDB in storage/postgres.go: same pgxpool.Pool, same
// single-table layout, stripped of the concurrency-control knobs (s2pl,
// learned, OCC validation) that belonged to the teacher's protocol family —
// Accord's dependency graph is what orders conflicting keys here, so the
// table itself needs no locking columns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("accord/store: connect postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if _, err := pool.Exec(ctx, "CREATE TABLE IF NOT EXISTS accord_kv (key TEXT PRIMARY KEY, value TEXT)"); err != nil {
		return nil, fmt.Errorf("accord/store: create table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Read(ctx context.Context, id accord.TxId, keys accord.KeySet[string]) (any, error) {
	out := make([]ReadPayload, 0, keys.Len())
	for _, k := range keys.Slice() {
		var value string
		err := s.pool.QueryRow(ctx, "SELECT value FROM accord_kv WHERE key = $1", k).Scan(&value)
		switch {
		case err == nil:
			out = append(out, ReadPayload{Key: k, Value: value, Found: true})
		case err.Error() == "no rows in result set":
			out = append(out, ReadPayload{Key: k, Found: false})
		default:
			return nil, fmt.Errorf("accord/store: read %s for %s: %w", k, id, err)
		}
	}
	return out, nil
}

func (s *PostgresStore) Apply(ctx context.Context, id accord.TxId, writes any) (any, error) {
	ws, ok := writes.(WriteSet)
	if !ok {
		return nil, nil
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO accord_kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
		ws.Key, ws.Value)
	if err != nil {
		return nil, fmt.Errorf("accord/store: apply %s for %s: %w", ws.Key, id, err)
	}
	configs.Debugf("store/postgres: applied %s for %s", ws.Key, id)
	return nil, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }
