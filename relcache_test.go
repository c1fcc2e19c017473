package relcache

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tordrt/relcache/internal/cache"
	"github.com/tordrt/relcache/internal/schema"
)

func openTestWarehouse(t *testing.T, opts *Options) *Warehouse {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "warehouse.db")
	w, err := Open(context.Background(), url, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "Invalid URL scheme", url: "invalid://test.db", wantErr: true},
		{name: "Missing scheme", url: "test.db", wantErr: true},
		{name: "Empty URL", url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.url, nil)
			if tt.wantErr && err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestWarehouseLifecycle(t *testing.T) {
	ctx := context.Background()
	w := openTestWarehouse(t, nil)

	if w.Database != "warehouse" {
		t.Errorf("Database = %q, want warehouse", w.Database)
	}
	if w.DefaultSchema() != "main" {
		t.Errorf("DefaultSchema() = %q, want main", w.DefaultSchema())
	}

	orders := w.Relation("", "orders", schema.KindTable)
	if err := w.CreateTableAs(ctx, orders, "select 1 as id"); err != nil {
		t.Fatalf("CreateTableAs() error = %v", err)
	}
	if err := w.CreateViewAs(ctx, w.Relation("", "orders_view", schema.KindView), "select id from orders"); err != nil {
		t.Fatalf("CreateViewAs() error = %v", err)
	}

	w.Cache().Clear()
	report, err := w.Populate(ctx, nil, []string{"main"})
	if err != nil {
		t.Fatalf("Populate() error = %v", err)
	}
	if report.Relations != 2 {
		t.Errorf("Populate() relations = %d, want 2", report.Relations)
	}
	if !w.Cache().HasSchema(w.Database, "main") {
		t.Error("Expected main to be marked as populated")
	}

	if err := w.DropRelation(ctx, orders); err != nil {
		t.Fatalf("DropRelation() error = %v", err)
	}
	rels := w.Cache().GetRelations(w.Database, "main")
	if len(rels) != 1 || rels[0].Identifier != "orders_view" {
		t.Errorf("GetRelations() = %v, want only orders_view", rels)
	}
}

func TestDisabledCache(t *testing.T) {
	ctx := context.Background()
	w := openTestWarehouse(t, &Options{DisableCache: true})

	if w.Cache().Enabled() {
		t.Fatal("Expected cache to be disabled")
	}
	if err := w.CreateTableAs(ctx, w.Relation("", "t", schema.KindTable), "select 1 as id"); err != nil {
		t.Fatalf("CreateTableAs() error = %v", err)
	}

	report, err := w.Populate(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Populate() error = %v", err)
	}
	if report.Relations != 0 {
		t.Errorf("Populate() on a disabled cache listed %d relations", report.Relations)
	}

	rels, err := w.ListRelations(ctx, w.Database, "main")
	if err != nil {
		t.Fatalf("ListRelations() error = %v", err)
	}
	if len(rels) != 1 || rels[0].Identifier != "t" {
		t.Errorf("ListRelations() = %v, want [t]", rels)
	}
}

func TestPopulateRequiredSchemaMissing(t *testing.T) {
	w := openTestWarehouse(t, nil)

	_, err := w.Populate(context.Background(), []string{"main", "missing"}, []string{"missing"})
	if err == nil {
		t.Fatal("Expected error for a missing required schema")
	}
	if !cache.IsSchemaError(err) {
		t.Errorf("Expected a schema error, got %v", err)
	}
}

func TestFormatSnapshotToWriter(t *testing.T) {
	c := cache.New(cache.Options{})
	c.AddSchema("dw", "public")
	c.Add(schema.NewRelation("dw", "public", "users", schema.KindTable))

	for _, format := range []string{"markdown", "text"} {
		var buf bytes.Buffer
		if err := FormatSnapshot(c.Snapshot(), &OutputOptions{Writer: &buf, Format: format}); err != nil {
			t.Fatalf("FormatSnapshot(%s) failed: %v", format, err)
		}
		if !strings.Contains(buf.String(), "users") {
			t.Errorf("Expected %s output to contain 'users'", format)
		}
	}

	if err := FormatSnapshot(c.Snapshot(), &OutputOptions{Writer: &bytes.Buffer{}, Format: "xml"}); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestPopulateAndFormatToDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warehouse.db")
	url := "sqlite://" + path

	w, err := Open(ctx, url, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.CreateTableAs(ctx, w.Relation("", "users", schema.KindTable), "select 1 as id"); err != nil {
		t.Fatalf("CreateTableAs() error = %v", err)
	}
	_ = w.Close()

	outDir := t.TempDir()
	report, err := PopulateAndFormat(ctx, url, nil, nil, &OutputOptions{OutputDir: outDir})
	if err != nil {
		t.Fatalf("PopulateAndFormat() error = %v", err)
	}
	if report.Schemas != 1 {
		t.Errorf("Expected 1 schema, got %d", report.Schemas)
	}

	content, err := os.ReadFile(filepath.Join(outDir, "warehouse.main.md"))
	if err != nil {
		t.Fatalf("Failed to read schema file: %v", err)
	}
	if !strings.Contains(string(content), "users") {
		t.Error("Expected schema file to contain 'users'")
	}
}
