package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// sqlExecutor implements Executor on top of database/sql, shared by the
// MySQL and SQLite clients
type sqlExecutor struct {
	db *sql.DB

	mu    sync.Mutex
	conns map[string]*sqlConn
}

type sqlConn struct {
	mu   sync.Mutex
	conn *sql.Conn
	tx   *sql.Tx
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func newSQLExecutor(db *sql.DB) *sqlExecutor {
	return &sqlExecutor{db: db, conns: make(map[string]*sqlConn)}
}

// get returns the named connection, acquiring one from the pool on first use.
// The map lock is not held while waiting on the pool, so other names can
// still be released when every session is checked out.
func (e *sqlExecutor) get(ctx context.Context, name string) (*sqlConn, error) {
	e.mu.Lock()
	sc, ok := e.conns[name]
	e.mu.Unlock()
	if ok {
		return sc, nil
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection %s: %w", name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.conns[name]; ok {
		_ = conn.Close()
		return existing, nil
	}
	sc = &sqlConn{conn: conn}
	e.conns[name] = sc
	return sc, nil
}

func (e *sqlExecutor) Execute(ctx context.Context, query string, opts ExecOptions) (*Result, error) {
	name := opts.connectionName()
	sc, err := e.get(ctx, name)
	if err != nil {
		return nil, err
	}

	result, err := sc.query(ctx, query, opts.AutoBegin)
	if opts.Release {
		if rerr := e.Release(name); rerr != nil && err == nil {
			err = rerr
		}
	}
	return result, err
}

func (sc *sqlConn) query(ctx context.Context, query string, autoBegin bool) (*Result, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if autoBegin && sc.tx == nil {
		tx, err := sc.conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		sc.tx = tx
	}

	var q sqlQuerier = sc.conn
	if sc.tx != nil {
		q = sc.tx
	}

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, statementError(query, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, statementError(query, err)
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, statementError(query, err)
		}
		for i := range values {
			values[i] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, statementError(query, err)
	}
	return result, nil
}

func (e *sqlExecutor) Commit(_ context.Context, name string) error {
	e.mu.Lock()
	sc, ok := e.conns[name]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.tx == nil {
		return nil
	}
	err := sc.tx.Commit()
	sc.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit on %s: %w", name, err)
	}
	return nil
}

func (e *sqlExecutor) HasConnection(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.conns[name]
	return ok
}

func (e *sqlExecutor) Release(name string) error {
	e.mu.Lock()
	sc, ok := e.conns[name]
	delete(e.conns, name)
	e.mu.Unlock()
	if !ok {
		return nil
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	var err error
	if sc.tx != nil {
		err = sc.tx.Rollback()
		sc.tx = nil
	}
	if cerr := sc.conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to release %s: %w", name, err)
	}
	return nil
}

func (e *sqlExecutor) Close() error {
	e.mu.Lock()
	names := make([]string, 0, len(e.conns))
	for name := range e.conns {
		names = append(names, name)
	}
	e.mu.Unlock()

	for _, name := range names {
		_ = e.Release(name)
	}
	return e.db.Close()
}
