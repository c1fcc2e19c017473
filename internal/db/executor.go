package db

import (
	"context"
	"fmt"
	"time"
)

// DefaultConnection is used when a call does not name its connection
const DefaultConnection = "master"

// Result is the tabular result of one statement
type Result struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// ExecOptions controls how a statement is run
type ExecOptions struct {
	// Connection names the session to run on; one is opened on first use
	Connection string
	// AutoBegin opens a transaction on the connection if none is in progress
	AutoBegin bool
	// Release returns the connection to the pool after the statement
	Release bool
}

func (o ExecOptions) connectionName() string {
	if o.Connection == "" {
		return DefaultConnection
	}
	return o.Connection
}

// Executor runs SQL against a warehouse over named connections.
// A named connection belongs to one worker at a time.
type Executor interface {
	Execute(ctx context.Context, sql string, opts ExecOptions) (*Result, error)
	// Commit commits the open transaction on a connection, if any
	Commit(ctx context.Context, name string) error
	// HasConnection reports whether a connection with that name is open
	HasConnection(name string) bool
	// Release rolls back any open transaction and returns the connection to the pool
	Release(name string) error
	Close() error
}

// releaseTimeout bounds the rollback issued when a connection is released
const releaseTimeout = 5 * time.Second

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return val
	}
}

func statementError(sql string, err error) error {
	const maxLen = 120
	if len(sql) > maxLen {
		sql = sql[:maxLen] + "..."
	}
	return fmt.Errorf("failed to execute %q: %w", sql, err)
}
