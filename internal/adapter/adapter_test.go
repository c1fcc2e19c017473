package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/relcache/internal/cache"
	"github.com/tordrt/relcache/internal/db"
	"github.com/tordrt/relcache/internal/macro"
	"github.com/tordrt/relcache/internal/schema"
)

type fakeExec struct {
	mu        sync.Mutex
	stmts     []string
	conns     map[string]bool
	released  []string
	committed []string

	// respond scripts the result of a statement; nil means an empty result
	respond func(sql string) (*db.Result, error)
	// before runs before each statement is answered
	before func(sql string)
}

func newFakeExec() *fakeExec {
	return &fakeExec{conns: make(map[string]bool)}
}

func (f *fakeExec) Execute(_ context.Context, sql string, opts db.ExecOptions) (*db.Result, error) {
	if f.before != nil {
		f.before(sql)
	}
	f.mu.Lock()
	f.stmts = append(f.stmts, sql)
	name := opts.Connection
	if name == "" {
		name = db.DefaultConnection
	}
	f.conns[name] = true
	if opts.Release {
		delete(f.conns, name)
		f.released = append(f.released, name)
	}
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return &db.Result{}, nil
	}
	return respond(sql)
}

func (f *fakeExec) Commit(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, name)
	return nil
}

func (f *fakeExec) HasConnection(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[name]
}

func (f *fakeExec) Release(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, name)
	f.released = append(f.released, name)
	return nil
}

func (f *fakeExec) Close() error { return nil }

func (f *fakeExec) statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stmts...)
}

func (f *fakeExec) count(substr string) int {
	n := 0
	for _, s := range f.statements() {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

// recordingRenderer counts the macros rendered through it
type recordingRenderer struct {
	macro.Renderer
	mu    sync.Mutex
	names []string
}

func (r *recordingRenderer) Render(name string, params map[string]any) (string, error) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	return r.Renderer.Render(name, params)
}

func (r *recordingRenderer) rendered(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.names {
		if got == name {
			n++
		}
	}
	return n
}

func newTestAdapter(t *testing.T, c cache.Cache) (*Adapter, *fakeExec, *recordingRenderer) {
	t.Helper()
	r, err := Postgres.Renderer()
	require.NoError(t, err)
	rec := &recordingRenderer{Renderer: r}
	exec := newFakeExec()
	return New(Postgres, exec, rec, Options{Cache: c}), exec, rec
}

func rel(name string, kind schema.Kind) schema.Relation {
	return schema.NewRelation("dw", "analytics", name, kind)
}

func columnsResult(rows ...[]any) *db.Result {
	return &db.Result{
		Columns: []string{"column_name", "data_type", "character_maximum_length", "numeric_precision", "numeric_scale"},
		Rows:    rows,
	}
}

func TestDropRelationUnknownKind(t *testing.T) {
	c := cache.New(cache.Options{})
	target := rel("orders", schema.KindUnknown)
	c.Add(target.WithKind(schema.KindTable))
	a, exec, _ := newTestAdapter(t, c)

	err := a.DropRelation(context.Background(), target)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Empty(t, exec.statements())
	assert.True(t, c.Contains(target), "cache must not change when the drop is refused")
}

func TestDropRelationUpdatesCacheBeforeDDL(t *testing.T) {
	c := cache.New(cache.Options{})
	orders := rel("orders", schema.KindTable)
	summary := rel("summary", schema.KindView)
	c.Add(orders)
	c.Add(summary)
	c.AddLink(summary, orders)

	a, exec, _ := newTestAdapter(t, c)
	var seenDuringDDL bool
	exec.before = func(sql string) {
		if strings.HasPrefix(sql, "drop table") {
			seenDuringDDL = c.Contains(orders)
		}
	}

	require.NoError(t, a.DropRelation(context.Background(), orders))

	assert.False(t, seenDuringDDL, "relation still cached while its drop was running")
	assert.False(t, c.Contains(orders))
	assert.True(t, c.Contains(summary))
	assert.Empty(t, c.References(summary))
	assert.Equal(t, []string{`drop table if exists "dw"."analytics"."orders" cascade`}, exec.statements())
}

func TestDropRelationWarehouseFailure(t *testing.T) {
	c := cache.New(cache.Options{})
	orders := rel("orders", schema.KindTable)
	c.Add(orders)
	a, exec, _ := newTestAdapter(t, c)
	boom := errors.New("permission denied")
	exec.respond = func(string) (*db.Result, error) { return nil, boom }

	err := a.DropRelation(context.Background(), orders)

	var whErr *WarehouseError
	require.ErrorAs(t, err, &whErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "drop", whErr.Op)
	assert.Equal(t, orders, whErr.Relation)
	assert.False(t, c.Contains(orders), "cache was updated before the DDL was sent")
}

func TestDropRelationCancelled(t *testing.T) {
	c := cache.New(cache.Options{})
	orders := rel("orders", schema.KindTable)
	c.Add(orders)
	a, exec, _ := newTestAdapter(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.DropRelation(ctx, orders)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, c.Contains(orders))
	assert.Empty(t, exec.statements())
}

func TestCreateAddsAfterSuccess(t *testing.T) {
	c := cache.New(cache.Options{})
	a, _, _ := newTestAdapter(t, c)

	require.NoError(t, a.CreateTableAs(context.Background(), rel("t", schema.KindUnknown), "select 1 as id"))
	require.NoError(t, a.CreateViewAs(context.Background(), rel("v", schema.KindUnknown), "select * from t"))

	assert.Equal(t, []schema.Relation{
		rel("t", schema.KindTable),
		rel("v", schema.KindView),
	}, c.GetRelations("dw", "analytics"))
}

func TestCreateFailureLeavesCache(t *testing.T) {
	c := cache.New(cache.Options{})
	a, exec, _ := newTestAdapter(t, c)
	exec.respond = func(string) (*db.Result, error) { return nil, errors.New("syntax error") }

	err := a.CreateTableAs(context.Background(), rel("t", schema.KindTable), "select")
	var whErr *WarehouseError
	require.ErrorAs(t, err, &whErr)
	assert.False(t, c.Contains(rel("t", schema.KindTable)))
}

func TestRenameRelation(t *testing.T) {
	c := cache.New(cache.Options{})
	tmp := rel("orders__tmp", schema.KindTable)
	view := rel("orders_view", schema.KindView)
	c.Add(tmp)
	c.Add(view)
	c.AddLink(view, tmp)
	a, exec, _ := newTestAdapter(t, c)

	require.NoError(t, a.RenameRelation(context.Background(), tmp, rel("orders", schema.KindUnknown)))

	assert.Equal(t, []string{`alter table "dw"."analytics"."orders__tmp" rename to "orders"`}, exec.statements())
	assert.False(t, c.Contains(tmp))
	assert.Equal(t, []schema.Relation{rel("orders", schema.KindTable)}, c.References(view))
}

func TestRenameRelationFailureLeavesCache(t *testing.T) {
	c := cache.New(cache.Options{})
	tmp := rel("orders__tmp", schema.KindTable)
	c.Add(tmp)
	a, exec, _ := newTestAdapter(t, c)
	exec.respond = func(string) (*db.Result, error) { return nil, errors.New("relation exists") }

	err := a.RenameRelation(context.Background(), tmp, rel("orders", schema.KindTable))
	require.Error(t, err)
	assert.True(t, c.Contains(tmp))
	assert.False(t, c.Contains(rel("orders", schema.KindTable)))
}

func TestExpandColumnTypes(t *testing.T) {
	tests := []struct {
		name       string
		goalSize   int32
		targetSize int32
		wantAlters int
		wantType   string
	}{
		{name: "same size", goalSize: 10, targetSize: 10, wantAlters: 0},
		{name: "wider goal", goalSize: 20, targetSize: 10, wantAlters: 1, wantType: "character varying(20)"},
		{name: "narrower goal", goalSize: 5, targetSize: 10, wantAlters: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, exec, rec := newTestAdapter(t, cache.NewNoop(nil))
			exec.respond = func(sql string) (*db.Result, error) {
				switch {
				case strings.Contains(sql, "table_name = 'goal'"):
					return columnsResult([]any{"name", "character varying", tt.goalSize, nil, nil}), nil
				case strings.Contains(sql, "table_name = 'current'"):
					return columnsResult([]any{"name", "character varying", tt.targetSize, nil, nil}), nil
				}
				return &db.Result{}, nil
			}

			err := a.ExpandColumnTypes(context.Background(), rel("goal", schema.KindTable), rel("current", schema.KindTable))
			require.NoError(t, err)

			assert.Equal(t, tt.wantAlters, rec.rendered(macroAlterColumnType))
			if tt.wantType != "" {
				assert.Equal(t, 1, exec.count("add column"))
				assert.Equal(t, 1, exec.count(tt.wantType))
			}
			assert.Contains(t, exec.released, db.DefaultConnection)
		})
	}
}

func TestGetColumnsInRelation(t *testing.T) {
	a, exec, _ := newTestAdapter(t, cache.NewNoop(nil))
	exec.respond = func(string) (*db.Result, error) {
		return columnsResult(
			[]any{"id", "integer", nil, int32(32), int32(0)},
			[]any{"name", "character varying", int32(40), nil, nil},
			[]any{"code", "varchar(8)", nil, nil, nil},
		), nil
	}

	cols, err := a.GetColumnsInRelation(context.Background(), rel("t", schema.KindTable))
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "character varying(40)", cols[1].Type())
	size, err := cols[2].StringSize()
	require.NoError(t, err)
	assert.Equal(t, 8, size)
}

func TestListRelationsUsesCacheWhenPopulated(t *testing.T) {
	listing := func(sql string) (*db.Result, error) {
		if strings.Contains(sql, "information_schema.tables") || strings.Contains(sql, "pg_tables") {
			return &db.Result{
				Columns: []string{"table_database", "table_name", "table_schema", "table_type"},
				Rows:    [][]any{{"dw", "orders", "analytics", "table"}},
			}, nil
		}
		return &db.Result{}, nil
	}

	t.Run("enabled", func(t *testing.T) {
		c := cache.New(cache.Options{})
		a, exec, rec := newTestAdapter(t, c)
		exec.respond = listing

		report, err := a.Populate(context.Background(), []schema.SchemaKey{{Database: "dw", Schema: "analytics"}}, cache.PopulateOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Relations)

		before := rec.rendered(macroListRelations)
		got, err := a.ListRelations(context.Background(), "dw", "analytics")
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Equal(t, before, rec.rendered(macroListRelations), "populated schema must be answered from the cache")
	})

	t.Run("disabled", func(t *testing.T) {
		a, exec, rec := newTestAdapter(t, cache.NewNoop(nil))
		exec.respond = listing

		report, err := a.Populate(context.Background(), []schema.SchemaKey{{Database: "dw", Schema: "analytics"}}, cache.PopulateOptions{})
		require.NoError(t, err)
		assert.Zero(t, report.Relations)

		for range 2 {
			got, err := a.ListRelations(context.Background(), "dw", "analytics")
			require.NoError(t, err)
			assert.Equal(t, []schema.Relation{
				rel("orders", schema.KindTable).WithQuoting(listQuotePolicy),
			}, got)
		}
		assert.Equal(t, 2, rec.rendered(macroListRelations))
	})
}

func TestListRelationsWithoutCachingReleasesConnection(t *testing.T) {
	a, exec, _ := newTestAdapter(t, cache.NewNoop(nil))

	_, err := a.ListRelationsWithoutCaching(context.Background(), "dw", "analytics")
	require.NoError(t, err)

	assert.Equal(t, []string{"list_dw_analytics"}, exec.released)
	assert.False(t, exec.HasConnection("list_dw_analytics"))
}

func TestGetRelation(t *testing.T) {
	a, exec, _ := newTestAdapter(t, cache.NewNoop(nil))
	rows := [][]any{{"dw", "Orders", "analytics", "table"}}
	exec.respond = func(string) (*db.Result, error) {
		return &db.Result{Rows: rows}, nil
	}

	got, ok, err := a.GetRelation(context.Background(), "dw", "analytics", "orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Orders", got.Identifier)

	_, ok, err = a.GetRelation(context.Background(), "dw", "analytics", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	rows = append(rows, []any{"dw", "orders", "analytics", "view"})
	_, _, err = a.GetRelation(context.Background(), "dw", "analytics", "orders")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrAmbiguousRelation)
}

func TestCreateSchemaCommits(t *testing.T) {
	a, exec, _ := newTestAdapter(t, cache.NewNoop(nil))

	require.NoError(t, a.CreateSchema(context.Background(), "dw", "staging"))
	assert.Equal(t, []string{"create schema if not exists staging"}, exec.statements())
	assert.Equal(t, []string{db.DefaultConnection}, exec.committed)
}

func TestCreateSchemaQuotedAsConfigured(t *testing.T) {
	r, err := Postgres.Renderer()
	require.NoError(t, err)
	exec := newFakeExec()
	a := New(Postgres, exec, r, Options{Quoting: schema.QuotePolicy{Schema: true}})

	require.NoError(t, a.CreateSchema(context.Background(), "dw", "Staging"))
	assert.Equal(t, []string{`create schema if not exists "Staging"`}, exec.statements())
}

func TestListDependencies(t *testing.T) {
	a, exec, _ := newTestAdapter(t, cache.NewNoop(nil))
	exec.respond = func(string) (*db.Result, error) {
		return &db.Result{Rows: [][]any{{"analytics", "orders", "analytics", "summary"}}}, nil
	}

	rows, err := a.ListDependencies(context.Background(), "dw")
	require.NoError(t, err)
	assert.Equal(t, []cache.DependencyRow{{
		ReferencedSchema: "analytics",
		ReferencedName:   "orders",
		DependentSchema:  "analytics",
		DependentName:    "summary",
	}}, rows)
	assert.Equal(t, []string{macroGetRelations}, exec.released)
}

func TestExecuteMacroRunsOnContextConnection(t *testing.T) {
	a, exec, _ := newTestAdapter(t, cache.NewNoop(nil))
	ctx := db.WithConnection(context.Background(), "model.orders")

	_, err := a.ExecuteMacro(ctx, macroTruncateRelation, map[string]any{"relation": rel("orders", schema.KindTable)}, false)
	require.NoError(t, err)
	assert.True(t, exec.HasConnection("model.orders"))
	assert.False(t, exec.HasConnection(db.DefaultConnection))
}

func TestExecuteMacroUnknown(t *testing.T) {
	a, _, _ := newTestAdapter(t, cache.NewNoop(nil))
	_, err := a.ExecuteMacro(context.Background(), "does_not_exist", nil, false)
	assert.ErrorIs(t, err, macro.ErrUnknownMacro)
}

func TestExecuteMacroReleasesOnRenderFailure(t *testing.T) {
	a, exec, _ := newTestAdapter(t, cache.NewNoop(nil))
	ctx := db.WithConnection(context.Background(), "worker_1")

	_, err := a.ExecuteMacro(ctx, "does_not_exist", nil, true)
	require.ErrorIs(t, err, macro.ErrUnknownMacro)
	assert.Equal(t, []string{"worker_1"}, exec.released)
	assert.Empty(t, exec.statements())

	exec.released = nil
	_, err = a.ExecuteMacro(ctx, "does_not_exist", nil, false)
	require.Error(t, err)
	assert.Empty(t, exec.released)
}

func TestMalformedRowsReportRelation(t *testing.T) {
	tests := []struct {
		name     string
		call     func(a *Adapter) error
		relation schema.Relation
	}{
		{
			name: "list relations",
			call: func(a *Adapter) error {
				_, err := a.ListRelationsWithoutCaching(context.Background(), "dw", "analytics")
				return err
			},
			relation: schema.Relation{Database: "dw", Schema: "analytics"},
		},
		{
			name: "list dependencies",
			call: func(a *Adapter) error {
				_, err := a.ListDependencies(context.Background(), "dw")
				return err
			},
			relation: schema.Relation{Database: "dw"},
		},
		{
			name: "get columns",
			call: func(a *Adapter) error {
				_, err := a.GetColumnsInRelation(context.Background(), rel("orders", schema.KindTable))
				return err
			},
			relation: rel("orders", schema.KindTable),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, exec, _ := newTestAdapter(t, cache.NewNoop(nil))
			exec.respond = func(string) (*db.Result, error) {
				return &db.Result{Rows: [][]any{{"only", "two"}}}, nil
			}

			err := tt.call(a)
			var whErr *WarehouseError
			require.ErrorAs(t, err, &whErr)
			assert.Equal(t, tt.relation, whErr.Relation)
			assert.ErrorIs(t, err, ErrUnexpectedResult)
		})
	}
}

func TestQuoteAsConfigured(t *testing.T) {
	r, err := MySQL.Renderer()
	require.NoError(t, err)
	a := New(MySQL, newFakeExec(), r, Options{Quoting: schema.QuotePolicy{Database: true}})

	assert.Equal(t, "`dw`", a.QuoteAsConfigured("dw", "database"))
	assert.Equal(t, "analytics", a.QuoteAsConfigured("analytics", "schema"))
}
