// Package sqltrace instruments database/sql drivers so that every
// executed statement is timed and reported to the observability engine.
// The wrapper is driver-agnostic; it forwards to whatever driver the
// caller registered and never fails a statement on engine problems.
package sqltrace

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/queryscope/queryscope/internal/engine"
)

var wrapSeq atomic.Int64

// Open opens a database through an instrumented copy of the named
// driver. The returned *sql.DB behaves exactly like a plain sql.Open,
// with every Query/Exec additionally tracked by eng.
func Open(driverName, dsn string, eng *engine.Engine) (*sql.DB, error) {
	// Borrow a throwaway handle to reach the registered driver value.
	probe, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driverName, err)
	}
	parent := probe.Driver()
	if err := probe.Close(); err != nil {
		return nil, fmt.Errorf("failed to close probe connection: %w", err)
	}

	name := fmt.Sprintf("%s-queryscope-%d", driverName, wrapSeq.Add(1))
	sql.Register(name, &wrappedDriver{parent: parent, engine: eng, source: driverName})
	return sql.Open(name, dsn)
}

type wrappedDriver struct {
	parent driver.Driver
	engine *engine.Engine
	source string
}

func (d *wrappedDriver) Open(name string) (driver.Conn, error) {
	c, err := d.parent.Open(name)
	if err != nil {
		return nil, err
	}
	return &conn{parent: c, d: d}, nil
}

// track reports one statement execution. rows is negative when the
// affected row count is unknown (queries, errors).
func (d *wrappedDriver) track(query string, startedAt time.Time, rows int64) {
	if d.engine == nil {
		return
	}
	d.engine.Track(query, startedAt, &engine.TrackInfo{
		Rows: rows,
		Context: engine.QueryContext{
			Source: d.source,
		},
	})
}

type conn struct {
	parent driver.Conn
	d      *wrappedDriver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	s, err := c.parent.Prepare(query)
	if err != nil {
		return nil, err
	}
	return &stmt{parent: s, query: query, d: c.d}, nil
}

func (c *conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if pc, ok := c.parent.(driver.ConnPrepareContext); ok {
		s, err := pc.PrepareContext(ctx, query)
		if err != nil {
			return nil, err
		}
		return &stmt{parent: s, query: query, d: c.d}, nil
	}
	return c.Prepare(query)
}

func (c *conn) Close() error { return c.parent.Close() }

func (c *conn) Begin() (driver.Tx, error) {
	return c.parent.Begin() //nolint:staticcheck // driver.Conn interface
}

func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if bt, ok := c.parent.(driver.ConnBeginTx); ok {
		return bt.BeginTx(ctx, opts)
	}
	return c.Begin()
}

func (c *conn) Ping(ctx context.Context) error {
	if p, ok := c.parent.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	qc, ok := c.parent.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	rows, err := qc.QueryContext(ctx, query, args)
	c.d.track(query, start, -1)
	return rows, err
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	ec, ok := c.parent.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	res, err := ec.ExecContext(ctx, query, args)
	c.d.track(query, start, affectedRows(res, err))
	return res, err
}

type stmt struct {
	parent driver.Stmt
	query  string
	d      *wrappedDriver
}

func (s *stmt) Close() error  { return s.parent.Close() }
func (s *stmt) NumInput() int { return s.parent.NumInput() }

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	start := time.Now()
	res, err := s.parent.Exec(args) //nolint:staticcheck // driver.Stmt interface
	s.d.track(s.query, start, affectedRows(res, err))
	return res, err
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	start := time.Now()
	rows, err := s.parent.Query(args) //nolint:staticcheck // driver.Stmt interface
	s.d.track(s.query, start, -1)
	return rows, err
}

func (s *stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if ec, ok := s.parent.(driver.StmtExecContext); ok {
		start := time.Now()
		res, err := ec.ExecContext(ctx, args)
		s.d.track(s.query, start, affectedRows(res, err))
		return res, err
	}
	values, err := namedValuesToValues(args)
	if err != nil {
		return nil, err
	}
	return s.Exec(values)
}

func (s *stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if qc, ok := s.parent.(driver.StmtQueryContext); ok {
		start := time.Now()
		rows, err := qc.QueryContext(ctx, args)
		s.d.track(s.query, start, -1)
		return rows, err
	}
	values, err := namedValuesToValues(args)
	if err != nil {
		return nil, err
	}
	return s.Query(values)
}

func affectedRows(res driver.Result, err error) int64 {
	if err != nil || res == nil {
		return -1
	}
	n, raErr := res.RowsAffected()
	if raErr != nil {
		return -1
	}
	return n
}

func namedValuesToValues(named []driver.NamedValue) ([]driver.Value, error) {
	values := make([]driver.Value, len(named))
	for i, nv := range named {
		if nv.Name != "" {
			return nil, errors.New("sqltrace: named parameters are not supported by the underlying driver")
		}
		values[i] = nv.Value
	}
	return values, nil
}
