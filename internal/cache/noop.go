package cache

import "github.com/tordrt/relcache/internal/schema"

// Noop is the cache used when caching is disabled. Every mutation is
// dropped and every lookup misses, so callers fall through to the warehouse.
type Noop struct {
	fold schema.Folder
}

var _ Cache = Noop{}

// NewNoop creates a disabled cache that folds identifiers with fold
func NewNoop(fold schema.Folder) Noop {
	if fold == nil {
		fold = schema.FoldLower
	}
	return Noop{fold: fold}
}

func (n Noop) Enabled() bool { return false }
func (n Noop) Fold(s string) string { return n.fold(s) }

func (Noop) Add(schema.Relation) {}
func (Noop) Drop(schema.Relation) {}
func (Noop) Rename(schema.Relation, schema.Relation) error { return nil }
func (Noop) AddLink(schema.Relation, schema.Relation) {}
func (Noop) AddSchema(string, string) {}
func (Noop) Clear() {}

func (Noop) HasSchema(string, string) bool { return false }
func (Noop) GetRelations(string, string) []schema.Relation { return nil }
func (Noop) Contains(schema.Relation) bool { return false }
func (Noop) Dependents(schema.Relation) []schema.Relation { return nil }
func (Noop) References(schema.Relation) []schema.Relation { return nil }
func (Noop) Snapshot() Snapshot { return Snapshot{} }

// NewFromOptions returns a live cache when enabled, a Noop otherwise
func NewFromOptions(enabled bool, opts Options) Cache {
	if !enabled {
		return NewNoop(opts.Fold)
	}
	return New(opts)
}
