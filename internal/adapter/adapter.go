// Package adapter is the operation surface build steps use to touch a
// warehouse. Every structural change it makes is mirrored into the relation
// cache in the same call: drops before the DDL is sent, creates and renames
// after it succeeds.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tordrt/relcache/internal/cache"
	"github.com/tordrt/relcache/internal/db"
	"github.com/tordrt/relcache/internal/macro"
	"github.com/tordrt/relcache/internal/schema"
)

// Macro names the adapter renders
const (
	macroCreateTableAs     = "create_table_as"
	macroCreateViewAs      = "create_view_as"
	macroCreateTable       = "create_table"
	macroDropRelation      = "drop_relation"
	macroTruncateRelation  = "truncate_relation"
	macroRenameRelation    = "rename_relation"
	macroCreateSchema      = "create_schema"
	macroDropSchema        = "drop_schema"
	macroListSchemas       = "list_schemas"
	macroCheckSchemaExists = "check_schema_exists"
	macroListRelations     = "list_relations_without_caching"
	macroGetColumns        = "get_columns_in_relation"
	macroAlterColumnType   = "alter_column_type"
	macroGetRelations      = "get_relations"
)

// listQuotePolicy is applied to relations listed from the warehouse
var listQuotePolicy = schema.QuotePolicy{Schema: true, Identifier: true}

// Options configures an Adapter
type Options struct {
	// Cache receives every structural change. Defaults to a disabled cache.
	Cache cache.Cache
	// Quoting decides how database and schema names are quoted in schema DDL
	Quoting schema.QuotePolicy
	// Transactional runs statements inside a transaction that callers commit with Commit
	Transactional bool
	Logger        *slog.Logger
}

// Adapter executes warehouse operations for one dialect
type Adapter struct {
	dialect       Dialect
	exec          db.Executor
	renderer      macro.Renderer
	cache         cache.Cache
	quoting       schema.QuotePolicy
	transactional bool
	logger        *slog.Logger
}

var _ cache.Source = (*Adapter)(nil)

// New creates an adapter that renders SQL with r and runs it with exec
func New(d Dialect, exec db.Executor, r macro.Renderer, opts Options) *Adapter {
	c := opts.Cache
	if c == nil {
		c = cache.NewNoop(d.Folder())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		dialect:       d,
		exec:          exec,
		renderer:      r,
		cache:         c,
		quoting:       opts.Quoting,
		transactional: opts.Transactional,
		logger:        logger.With(slog.String("adapter", d.Name)),
	}
}

// Dialect returns the adapter's dialect
func (a *Adapter) Dialect() Dialect { return a.dialect }

// Cache returns the relation cache the adapter keeps in sync
func (a *Adapter) Cache() cache.Cache { return a.cache }

// Close closes every warehouse connection
func (a *Adapter) Close() error { return a.exec.Close() }

// Quote quotes an identifier in the dialect's style
func (a *Adapter) Quote(identifier string) string { return a.dialect.Quote(identifier) }

// QuoteAsConfigured quotes a database or schema name when the adapter's quote policy asks for it
func (a *Adapter) QuoteAsConfigured(identifier, part string) string {
	var quoted bool
	switch part {
	case "database":
		quoted = a.quoting.Database
	case "schema":
		quoted = a.quoting.Schema
	case "identifier":
		quoted = a.quoting.Identifier
	}
	if quoted {
		return a.dialect.Quote(identifier)
	}
	return identifier
}

// ExecuteMacro renders a macro and runs each of its statements on the
// context's connection, returning the result of the last one.
func (a *Adapter) ExecuteMacro(ctx context.Context, name string, params map[string]any, release bool) (*db.Result, error) {
	opts := db.ExecOptions{
		Connection: db.ConnectionFrom(ctx),
		AutoBegin:  a.transactional,
	}

	sql, err := a.renderer.Render(name, params)
	if err != nil {
		if release {
			_ = a.exec.Release(opts.Connection)
		}
		return nil, err
	}

	var result *db.Result
	stmts := macro.Statements(sql)
	for i, stmt := range stmts {
		opts.Release = release && i == len(stmts)-1
		a.logger.Debug("executing macro",
			slog.String("macro", name), slog.String("connection", opts.Connection), slog.String("sql", stmt))
		result, err = a.exec.Execute(ctx, stmt, opts)
		if err != nil {
			if release && !opts.Release {
				_ = a.exec.Release(opts.Connection)
			}
			return nil, err
		}
	}
	return result, nil
}

// AddQuery runs raw SQL on the context's connection
func (a *Adapter) AddQuery(ctx context.Context, sql string, autoBegin bool) (*db.Result, error) {
	return a.exec.Execute(ctx, sql, db.ExecOptions{
		Connection: db.ConnectionFrom(ctx),
		AutoBegin:  autoBegin,
	})
}

// structural renders and runs a macro that changes the warehouse, splitting
// render failures from warehouse failures
func (a *Adapter) structural(ctx context.Context, op, name string, rel schema.Relation, params map[string]any) error {
	sql, err := a.renderer.Render(name, params)
	if err != nil {
		return &ConfigurationError{Relation: rel, Err: err}
	}
	opts := db.ExecOptions{Connection: db.ConnectionFrom(ctx), AutoBegin: a.transactional}
	for _, stmt := range macro.Statements(sql) {
		a.logger.Debug("executing macro",
			slog.String("macro", name), slog.String("connection", opts.Connection), slog.String("sql", stmt))
		if _, err := a.exec.Execute(ctx, stmt, opts); err != nil {
			return &WarehouseError{Op: op, Relation: rel, Err: err}
		}
	}
	return nil
}

// CreateTableAs creates a table from a select statement
func (a *Adapter) CreateTableAs(ctx context.Context, rel schema.Relation, sql string) error {
	rel = withDefaultKind(rel, schema.KindTable)
	if err := a.structural(ctx, "create table", macroCreateTableAs, rel, map[string]any{"relation": rel, "sql": sql}); err != nil {
		return err
	}
	a.cache.Add(rel)
	return nil
}

// CreateViewAs creates a view from a select statement
func (a *Adapter) CreateViewAs(ctx context.Context, rel schema.Relation, sql string) error {
	rel = withDefaultKind(rel, schema.KindView)
	if err := a.structural(ctx, "create view", macroCreateViewAs, rel, map[string]any{"relation": rel, "sql": sql}); err != nil {
		return err
	}
	a.cache.Add(rel)
	return nil
}

// CreateTable creates an empty table with the given columns
func (a *Adapter) CreateTable(ctx context.Context, rel schema.Relation, columns []schema.Column) error {
	rel = withDefaultKind(rel, schema.KindTable)
	if err := a.structural(ctx, "create table", macroCreateTable, rel, map[string]any{"relation": rel, "columns": columns}); err != nil {
		return err
	}
	a.cache.Add(rel)
	return nil
}

// DropRelation drops rel. The cache forgets rel before the DDL is sent, so
// no concurrent reader sees a relation this call is about to remove.
func (a *Adapter) DropRelation(ctx context.Context, rel schema.Relation) error {
	if rel.Kind == schema.KindUnknown {
		return &ConfigurationError{Relation: rel, Err: fmt.Errorf("tried to drop relation: %w", ErrUnknownKind)}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.cache.Drop(rel)
	a.logger.Debug("dropping relation", slog.String("relation", rel.String()), slog.String("kind", string(rel.Kind)))
	return a.structural(ctx, "drop", macroDropRelation, rel, map[string]any{"relation": rel})
}

// TruncateRelation deletes every row of rel
func (a *Adapter) TruncateRelation(ctx context.Context, rel schema.Relation) error {
	return a.structural(ctx, "truncate", macroTruncateRelation, rel, map[string]any{"relation": rel})
}

// RenameRelation renames from to to, then moves the cache entry and its edges
func (a *Adapter) RenameRelation(ctx context.Context, from, to schema.Relation) error {
	if to.Kind == schema.KindUnknown {
		to = to.WithKind(from.Kind)
	}
	params := map[string]any{"from_relation": from, "to_relation": to}
	if err := a.structural(ctx, "rename", macroRenameRelation, from, params); err != nil {
		return err
	}
	a.logger.Debug("renamed relation", slog.String("from", from.String()), slog.String("to", to.String()))
	return a.cache.Rename(from, to)
}

func (a *Adapter) schemaParams(database, schemaName string) map[string]any {
	return map[string]any{
		"database":      database,
		"schema":        schemaName,
		"database_name": a.QuoteAsConfigured(database, "database"),
		"schema_name":   a.QuoteAsConfigured(schemaName, "schema"),
	}
}

// CreateSchema creates a schema and commits if the connection is open.
// Schemas are not cached, so the cache is left alone.
func (a *Adapter) CreateSchema(ctx context.Context, database, schemaName string) error {
	a.logger.Debug("creating schema", slog.String("schema", schemaName))
	rel := schema.Relation{Database: database, Schema: schemaName}
	if err := a.structural(ctx, "create schema", macroCreateSchema, rel, a.schemaParams(database, schemaName)); err != nil {
		return err
	}
	return a.commitIfHasConnection(ctx, db.ConnectionFrom(ctx))
}

// DropSchema drops a schema. Cached relations in it are reconciled on the next population.
func (a *Adapter) DropSchema(ctx context.Context, database, schemaName string) error {
	a.logger.Debug("dropping schema", slog.String("schema", schemaName))
	rel := schema.Relation{Database: database, Schema: schemaName}
	return a.structural(ctx, "drop schema", macroDropSchema, rel, a.schemaParams(database, schemaName))
}

// ListSchemas lists the schemas of a database. The connection is released
// afterward when the call runs on the default connection.
func (a *Adapter) ListSchemas(ctx context.Context, database string) ([]string, error) {
	release := db.ConnectionFrom(ctx) == db.DefaultConnection
	res, err := a.ExecuteMacro(ctx, macroListSchemas, map[string]any{"database": database}, release)
	if err != nil {
		return nil, &WarehouseError{Op: "list schemas in", Relation: schema.Relation{Database: database}, Err: err}
	}
	schemas := make([]string, 0, res.Len())
	for _, row := range res.Rows {
		schemas = append(schemas, asString(row[0]))
	}
	return schemas, nil
}

// CheckSchemaExists reports whether a schema exists in the warehouse
func (a *Adapter) CheckSchemaExists(ctx context.Context, database, schemaName string) (bool, error) {
	res, err := a.ExecuteMacro(ctx, macroCheckSchemaExists, a.schemaParams(database, schemaName), false)
	if err != nil {
		return false, &WarehouseError{Op: "check schema", Relation: schema.Relation{Database: database, Schema: schemaName}, Err: err}
	}
	if res.Len() == 0 || len(res.Rows[0]) == 0 {
		return false, nil
	}
	n, _ := asInt(res.Rows[0][0])
	return n > 0, nil
}

// ListRelationsWithoutCaching lists a schema straight from the warehouse on
// a dedicated connection that is released afterward.
func (a *Adapter) ListRelationsWithoutCaching(ctx context.Context, database, schemaName string) ([]schema.Relation, error) {
	ctx = db.WithConnection(ctx, fmt.Sprintf("list_%s_%s", database, schemaName))
	res, err := a.ExecuteMacro(ctx, macroListRelations, map[string]any{"database": database, "schema": schemaName}, true)
	if err != nil {
		return nil, &WarehouseError{Op: "list relations in", Relation: schema.Relation{Database: database, Schema: schemaName}, Err: err}
	}

	relations := make([]schema.Relation, 0, res.Len())
	for _, row := range res.Rows {
		if len(row) < 4 {
			return nil, &WarehouseError{
				Op:       "list relations in",
				Relation: schema.Relation{Database: database, Schema: schemaName},
				Err:      fmt.Errorf("%w: got %d columns, expected 4", ErrUnexpectedResult, len(row)),
			}
		}
		rel := schema.Relation{
			Database:   database,
			Schema:     asString(row[2]),
			Identifier: asString(row[1]),
			Kind:       schema.ParseKind(asString(row[3])),
			Quoting:    listQuotePolicy,
		}
		relations = append(relations, rel)
	}
	return relations, nil
}

// ListRelations lists a schema from the cache when it was populated, and
// from the warehouse otherwise
func (a *Adapter) ListRelations(ctx context.Context, database, schemaName string) ([]schema.Relation, error) {
	if a.cache.Enabled() && a.cache.HasSchema(database, schemaName) {
		return a.cache.GetRelations(database, schemaName), nil
	}
	return a.ListRelationsWithoutCaching(ctx, database, schemaName)
}

// GetRelation finds one relation by name, comparing folded identifiers.
// The second return value is false when nothing matches.
func (a *Adapter) GetRelation(ctx context.Context, database, schemaName, identifier string) (schema.Relation, bool, error) {
	rels, err := a.ListRelations(ctx, database, schemaName)
	if err != nil {
		return schema.Relation{}, false, err
	}

	fold := a.dialect.Folder()
	var matches []schema.Relation
	for _, rel := range rels {
		if fold(rel.Identifier) == fold(identifier) && fold(rel.Schema) == fold(schemaName) {
			matches = append(matches, rel)
		}
	}

	switch len(matches) {
	case 0:
		return schema.Relation{}, false, nil
	case 1:
		return matches[0], true, nil
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.String())
		}
		return schema.Relation{}, false, &ConfigurationError{
			Relation: schema.NewRelation(database, schemaName, identifier, schema.KindUnknown),
			Err:      fmt.Errorf("%w: %s", ErrAmbiguousRelation, strings.Join(names, ", ")),
		}
	}
}

// SupportsDependencies reports whether the warehouse exposes object dependencies
func (a *Adapter) SupportsDependencies() bool { return a.dialect.SupportsDependencies }

// ListDependencies returns the object dependencies visible in a database
func (a *Adapter) ListDependencies(ctx context.Context, database string) ([]cache.DependencyRow, error) {
	ctx = db.WithConnection(ctx, macroGetRelations)
	res, err := a.ExecuteMacro(ctx, macroGetRelations, map[string]any{"database": database}, true)
	if err != nil {
		return nil, &WarehouseError{Op: "list dependencies in", Relation: schema.Relation{Database: database}, Err: err}
	}

	rows := make([]cache.DependencyRow, 0, res.Len())
	for _, row := range res.Rows {
		if len(row) < 4 {
			return nil, &WarehouseError{
				Op:       "list dependencies in",
				Relation: schema.Relation{Database: database},
				Err:      fmt.Errorf("%w: got %d columns, expected 4", ErrUnexpectedResult, len(row)),
			}
		}
		rows = append(rows, cache.DependencyRow{
			ReferencedSchema: asString(row[0]),
			ReferencedName:   asString(row[1]),
			DependentSchema:  asString(row[2]),
			DependentName:    asString(row[3]),
		})
	}
	return rows, nil
}

// Populate seeds the adapter's cache for the given schemas
func (a *Adapter) Populate(ctx context.Context, schemas []schema.SchemaKey, opts cache.PopulateOptions) (*cache.Report, error) {
	if opts.Logger == nil {
		opts.Logger = a.logger
	}
	return cache.Populate(ctx, a.cache, a, schemas, opts)
}

// ReleaseConnection returns a worker's connection to the idle pool
func (a *Adapter) ReleaseConnection(name string) error {
	return a.exec.Release(name)
}

// Commit commits the open transaction on a connection
func (a *Adapter) Commit(ctx context.Context, name string) error {
	return a.exec.Commit(ctx, name)
}

func (a *Adapter) commitIfHasConnection(ctx context.Context, name string) error {
	if !a.exec.HasConnection(name) {
		return nil
	}
	return a.exec.Commit(ctx, name)
}

func withDefaultKind(rel schema.Relation, kind schema.Kind) schema.Relation {
	if rel.Kind == schema.KindUnknown {
		return rel.WithKind(kind)
	}
	return rel
}

// newTempColumn names the scratch column used while altering a column type
func newTempColumn(column string) string {
	return fmt.Sprintf("%s__relcache_%s", column, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
