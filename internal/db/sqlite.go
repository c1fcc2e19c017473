package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteClient manages named connections to SQLite
type SQLiteClient struct {
	*sqlExecutor
}

var _ Executor = (*SQLiteClient)(nil)

// NewSQLiteClient creates a new SQLite client
func NewSQLiteClient(ctx context.Context, path string) (*SQLiteClient, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteClient{sqlExecutor: newSQLExecutor(db)}, nil
}
