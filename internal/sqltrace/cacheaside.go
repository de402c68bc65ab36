package sqltrace

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/queryscope/queryscope/internal/cache"
)

// ScanFunc converts a result set into the value that gets cached.
type ScanFunc func(*sql.Rows) (any, error)

// CachedQuery is the cache-aside helper: it returns the cached value
// for key when present, otherwise runs the query, converts the rows
// with scan, stores the result under key with the given ttl and tags,
// and returns it. The bool reports whether the value came from cache.
func CachedQuery(ctx context.Context, db *sql.DB, c *cache.Cache, key string,
	tags []string, scan ScanFunc, query string, args ...any) (any, bool, error) {

	if c != nil {
		if v, ok := c.Get(key); ok {
			return v, true, nil
		}
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	value, err := scan(rows)
	if err != nil {
		return nil, false, fmt.Errorf("scan failed: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("rows iteration failed: %w", err)
	}

	if c != nil {
		c.Set(key, value, c.DefaultTTL(), tags...)
	}
	return value, false, nil
}
