package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresClient manages named connections to PostgreSQL
type PostgresClient struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	conns map[string]*pgConn
}

type pgConn struct {
	mu   sync.Mutex
	conn *pgxpool.Conn
	tx   pgx.Tx
}

var _ Executor = (*PostgresClient)(nil)

// NewPostgresClient creates a new PostgreSQL client with at most maxConns open connections
func NewPostgresClient(ctx context.Context, connString string, maxConns int32) (*PostgresClient, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool, conns: make(map[string]*pgConn)}, nil
}

// PostgresDatabaseName returns the database a connection string points at
func PostgresDatabaseName(connString string) (string, error) {
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return "", fmt.Errorf("failed to parse connection string: %w", err)
	}
	return cfg.Database, nil
}

// get returns the named connection, acquiring one from the pool on first use
// without holding the map lock during the wait
func (c *PostgresClient) get(ctx context.Context, name string) (*pgConn, error) {
	c.mu.Lock()
	pc, ok := c.conns[name]
	c.mu.Unlock()
	if ok {
		return pc, nil
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.conns[name]; ok {
		conn.Release()
		return existing, nil
	}
	pc = &pgConn{conn: conn}
	c.conns[name] = pc
	return pc, nil
}

// Execute runs sql on the named connection and collects every returned row
func (c *PostgresClient) Execute(ctx context.Context, sql string, opts ExecOptions) (*Result, error) {
	name := opts.connectionName()
	pc, err := c.get(ctx, name)
	if err != nil {
		return nil, err
	}

	result, err := pc.query(ctx, sql, opts.AutoBegin)
	if opts.Release {
		if rerr := c.Release(name); rerr != nil && err == nil {
			err = rerr
		}
	}
	return result, err
}

func (pc *pgConn) query(ctx context.Context, sql string, autoBegin bool) (*Result, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if autoBegin && pc.tx == nil {
		tx, err := pc.conn.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		pc.tx = tx
	}

	var rows pgx.Rows
	var err error
	if pc.tx != nil {
		rows, err = pc.tx.Query(ctx, sql)
	} else {
		rows, err = pc.conn.Query(ctx, sql)
	}
	if err != nil {
		return nil, statementError(sql, err)
	}
	defer rows.Close()

	result := &Result{}
	for _, fd := range rows.FieldDescriptions() {
		result.Columns = append(result.Columns, fd.Name)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, statementError(sql, err)
		}
		for i := range values {
			values[i] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, statementError(sql, err)
	}
	return result, nil
}

// Commit commits the open transaction on a connection
func (c *PostgresClient) Commit(ctx context.Context, name string) error {
	c.mu.Lock()
	pc, ok := c.conns[name]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.tx == nil {
		return nil
	}
	err := pc.tx.Commit(ctx)
	pc.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit on %s: %w", name, err)
	}
	return nil
}

// HasConnection reports whether a connection with that name is open
func (c *PostgresClient) HasConnection(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.conns[name]
	return ok
}

// Release rolls back any open transaction and returns the connection to the pool
func (c *PostgresClient) Release(name string) error {
	c.mu.Lock()
	pc, ok := c.conns[name]
	delete(c.conns, name)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	var err error
	if pc.tx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		err = pc.tx.Rollback(ctx)
		cancel()
		pc.tx = nil
	}
	pc.conn.Release()
	if err != nil {
		return fmt.Errorf("failed to roll back %s: %w", name, err)
	}
	return nil
}

// Close releases every named connection and closes the pool
func (c *PostgresClient) Close() error {
	c.mu.Lock()
	names := make([]string, 0, len(c.conns))
	for name := range c.conns {
		names = append(names, name)
	}
	c.mu.Unlock()

	for _, name := range names {
		_ = c.Release(name)
	}
	c.pool.Close()
	return nil
}
