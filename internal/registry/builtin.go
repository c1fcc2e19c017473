package registry

import (
	"context"
	"strings"

	"github.com/tordrt/relcache/internal/adapter"
	"github.com/tordrt/relcache/internal/db"
)

const projectPrefix = "relcache_"

// Builtin returns a registry holding the postgres, mysql and sqlite plugins
func Builtin() *Registry {
	r := New()
	for _, p := range []*Plugin{postgresPlugin(), mysqlPlugin(), sqlitePlugin()} {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

func postgresPlugin() *Plugin {
	return &Plugin{
		Name:    "postgres",
		Dialect: adapter.Postgres,
		Schemes: []string{"postgres", "postgresql"},
		Connect: func(ctx context.Context, dsn string, threads int) (db.Executor, error) {
			// one extra session for the default connection
			return db.NewPostgresClient(ctx, dsn, int32(threads+1))
		},
		DatabaseName: db.PostgresDatabaseName,
		ProjectName:  projectPrefix + "postgres",
		IncludePath:  "postgres",
		KeepScheme:   true,
	}
}

func mysqlPlugin() *Plugin {
	return &Plugin{
		Name:    "mysql",
		Dialect: adapter.MySQL,
		Schemes: []string{"mysql"},
		Connect: func(ctx context.Context, dsn string, threads int) (db.Executor, error) {
			return db.NewMySQLClient(ctx, dsn, threads+1)
		},
		DatabaseName: db.ParseDatabaseName,
		ProjectName:  projectPrefix + "mysql",
		IncludePath:  "mysql",
	}
}

func sqlitePlugin() *Plugin {
	return &Plugin{
		Name:    "sqlite",
		Dialect: adapter.SQLite,
		Schemes: []string{"sqlite", "sqlite3"},
		Connect: func(ctx context.Context, dsn string, _ int) (db.Executor, error) {
			return db.NewSQLiteClient(ctx, dsn)
		},
		DatabaseName: sqliteDatabaseName,
		ProjectName:  projectPrefix + "sqlite",
		IncludePath:  "sqlite",
	}
}

// sqliteDatabaseName names a database file after its base name without extension
func sqliteDatabaseName(dsn string) (string, error) {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.LastIndexByte(path, '.'); i > 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return "memory", nil
	}
	return path, nil
}
