//go:build integration
// +build integration

package integration

import (
	"context"
	"testing"

	"github.com/tordrt/relcache"
	"github.com/tordrt/relcache/internal/schema"
)

// scenarioSchema is created and dropped by each warehouse scenario
const scenarioSchema = "relcache_it"

// openWarehouse opens url or fails the test
func openWarehouse(t *testing.T, url string) *relcache.Warehouse {
	t.Helper()

	w, err := relcache.Open(context.Background(), url, &relcache.Options{Threads: 4})
	if err != nil {
		t.Fatalf("Failed to open warehouse: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// runDependencyScenario builds a table and a view over it in schemaName,
// populates the cache and checks that dropping the table unlinks the view
func runDependencyScenario(t *testing.T, w *relcache.Warehouse, schemaName string, wantLinks bool) {
	t.Helper()
	ctx := context.Background()

	orders := w.Relation(schemaName, "orders", schema.KindTable)
	summary := w.Relation(schemaName, "orders_summary", schema.KindView)

	if err := w.CreateTableAs(ctx, orders, "select 1 as id, 'widget' as name"); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	if err := w.CreateViewAs(ctx, summary, "select id from "+w.Dialect().RenderRelation(orders)); err != nil {
		t.Fatalf("Failed to create view: %v", err)
	}

	w.Cache().Clear()
	report, err := w.Populate(ctx, []string{schemaName}, []string{schemaName})
	if err != nil {
		t.Fatalf("Failed to populate cache: %v", err)
	}
	if report.Relations != 2 {
		t.Errorf("Expected 2 relations, got %d", report.Relations)
	}

	verifyRelations(t, w, schemaName, []string{"orders", "orders_summary"})

	deps := w.Cache().Dependents(orders)
	if wantLinks {
		if len(deps) != 1 || deps[0].Identifier != "orders_summary" {
			t.Errorf("Expected orders_summary to depend on orders, got %v", deps)
		}
	} else if len(deps) != 0 {
		t.Errorf("Expected no dependency links, got %v", deps)
	}

	if err := w.DropRelation(ctx, orders); err != nil {
		t.Fatalf("Failed to drop table: %v", err)
	}
	if w.Cache().Contains(orders) {
		t.Error("Dropped table still cached")
	}
	if refs := w.Cache().References(summary); len(refs) != 0 {
		t.Errorf("View still references dropped table: %v", refs)
	}
}

// verifyRelations checks that the cached schema holds exactly the expected relations
func verifyRelations(t *testing.T, w *relcache.Warehouse, schemaName string, expected []string) {
	t.Helper()

	rels := w.Cache().GetRelations(w.Database, schemaName)
	if len(rels) != len(expected) {
		t.Errorf("Expected %d relations, got %d: %v", len(expected), len(rels), rels)
	}

	found := make(map[string]bool)
	for _, rel := range rels {
		found[rel.Identifier] = true
	}
	for _, name := range expected {
		if !found[name] {
			t.Errorf("Expected relation %s not found in cache", name)
		}
	}
}
