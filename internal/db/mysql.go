package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// MySQLClient manages named connections to MySQL
type MySQLClient struct {
	*sqlExecutor
}

var _ Executor = (*MySQLClient)(nil)

// NewMySQLClient creates a new MySQL client with at most maxConns open connections
func NewMySQLClient(ctx context.Context, connString string, maxConns int) (*MySQLClient, error) {
	db, err := sql.Open("mysql", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MySQLClient{sqlExecutor: newSQLExecutor(db)}, nil
}

// ParseDatabaseName extracts the database name from a MySQL DSN
func ParseDatabaseName(connString string) (string, error) {
	cfg, err := mysql.ParseDSN(connString)
	if err != nil {
		return "", fmt.Errorf("failed to parse DSN: %w", err)
	}
	if cfg.DBName == "" {
		return "", fmt.Errorf("no database name in DSN")
	}
	return cfg.DBName, nil
}
