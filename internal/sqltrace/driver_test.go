package sqltrace

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/queryscope/queryscope/internal/cache"
	"github.com/queryscope/queryscope/internal/config"
	"github.com/queryscope/queryscope/internal/engine"
)

func newTracedDB(t *testing.T) (*sql.DB, *engine.Engine) {
	t.Helper()

	cfg := config.Default().Engine
	cfg.NormalizerCacheMB = 0
	eng := engine.New(cfg, zap.NewNop())

	db, err := Open("sqlite3", ":memory:", eng)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, eng
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open("no-such-driver", "dsn", nil)
	assert.Error(t, err)
}

func TestExecAndQueryAreTracked(t *testing.T) {
	t.Parallel()

	db, eng := newTracedDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO users (name) VALUES ('alice')")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO users (name) VALUES ('bob')")
	require.NoError(t, err)

	rows, err := db.QueryContext(ctx, "SELECT id, name FROM users WHERE id = ?", 1)
	require.NoError(t, err)
	n := 0
	for rows.Next() {
		n++
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, 1, n)

	// One metric per executed statement.
	assert.Equal(t, 4, eng.MetricCount())

	// The two inserts share a normalized pattern.
	patterns := eng.FrequentQueries(0)
	var insertCount int64
	for _, p := range patterns {
		if p.Pattern == "insert into users (name) values (?)" {
			insertCount = p.Count
		}
	}
	assert.EqualValues(t, 2, insertCount)
}

func TestPreparedStatementsAreTracked(t *testing.T) {
	t.Parallel()

	db, eng := newTracedDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE kv (k TEXT, v TEXT)")
	require.NoError(t, err)

	stmt, err := db.PrepareContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)")
	require.NoError(t, err)
	defer stmt.Close()

	for i := 0; i < 3; i++ {
		_, err := stmt.ExecContext(ctx, "key", "value")
		require.NoError(t, err)
	}

	assert.Equal(t, 4, eng.MetricCount())
}

func TestTransactionsPassThrough(t *testing.T) {
	t.Parallel()

	db, eng := newTracedDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	var got int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT id FROM t WHERE id = 1").Scan(&got))
	assert.Equal(t, 1, got)
	assert.GreaterOrEqual(t, eng.MetricCount(), 3)
}

func TestFailedStatementsStillWork(t *testing.T) {
	t.Parallel()

	db, _ := newTracedDB(t)
	_, err := db.ExecContext(context.Background(), "INSERT INTO missing_table VALUES (1)")
	assert.Error(t, err)
}

func TestCachedQuery(t *testing.T) {
	t.Parallel()

	db, eng := newTracedDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE products (id INTEGER, name TEXT)")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO products VALUES (1, 'widget')")
	require.NoError(t, err)

	resultCache := cache.New(config.Default().Cache, nil)
	scan := func(rows *sql.Rows) (any, error) {
		names := []string{}
		for rows.Next() {
			var id int
			var name string
			if err := rows.Scan(&id, &name); err != nil {
				return nil, err
			}
			names = append(names, name)
		}
		return names, nil
	}

	v, cached, err := CachedQuery(ctx, db, resultCache, "products:all", []string{"products"},
		scan, "SELECT id, name FROM products")
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []string{"widget"}, v)

	before := eng.MetricCount()
	v, cached, err = CachedQuery(ctx, db, resultCache, "products:all", []string{"products"},
		scan, "SELECT id, name FROM products")
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, []string{"widget"}, v)
	assert.Equal(t, before, eng.MetricCount(), "cache hit skips the database")

	// Invalidation forces the next call back to the database.
	resultCache.InvalidateByTags("products")
	_, cached, err = CachedQuery(ctx, db, resultCache, "products:all", []string{"products"},
		scan, "SELECT id, name FROM products")
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, before+1, eng.MetricCount())
}
