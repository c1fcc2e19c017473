// Package cache keeps an in-memory index of the relations that exist in a
// warehouse, bucketed by schema, together with the dependency edges between
// them.
//
// The cache is an optimization, never a source of truth: it can be cleared
// and rebuilt from the warehouse at any time. All mutations are serialized
// by a single lock, so a reader never observes a half-applied drop or rename.
package cache

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/tordrt/relcache/internal/schema"
)

// Cache is the operation surface shared by the live cache and the disabled one
type Cache interface {
	// Enabled reports whether lookups may be answered from the cache
	Enabled() bool
	// Fold applies the cache's identifier folding rule
	Fold(s string) string

	Add(rel schema.Relation)
	Drop(rel schema.Relation)
	Rename(oldRel, newRel schema.Relation) error
	AddLink(dependent, referenced schema.Relation)
	AddSchema(database, schemaName string)
	Clear()

	HasSchema(database, schemaName string) bool
	GetRelations(database, schemaName string) []schema.Relation
	Contains(rel schema.Relation) bool
	Dependents(rel schema.Relation) []schema.Relation
	References(rel schema.Relation) []schema.Relation
	Snapshot() Snapshot
}

// Options configures a RelationCache
type Options struct {
	// Fold is the warehouse identifier folding rule. Defaults to schema.FoldLower.
	Fold schema.Folder
	// Strict makes Rename fail when the source relation is unknown
	Strict bool
	Logger *slog.Logger
}

// Snapshot is a point-in-time copy of the cache contents
type Snapshot struct {
	Schemas   []schema.SchemaKey
	Relations []schema.Relation
	Edges     []schema.Dependency
	// Buckets holds the relations of each schema in Schemas
	Buckets map[schema.SchemaKey][]schema.Relation
}

type node struct {
	rel        schema.Relation
	references map[schema.Key]struct{}
	dependents map[schema.Key]struct{}
}

func newNode(rel schema.Relation) *node {
	return &node{
		rel:        rel,
		references: make(map[schema.Key]struct{}),
		dependents: make(map[schema.Key]struct{}),
	}
}

// RelationCache is the thread-safe relation graph
type RelationCache struct {
	mu     sync.RWMutex
	fold   schema.Folder
	strict bool
	logger *slog.Logger

	nodes     map[schema.Key]*node
	bySchema  map[schema.SchemaKey]map[schema.Key]struct{}
	populated map[schema.SchemaKey]struct{}
}

var _ Cache = (*RelationCache)(nil)

// New creates an empty relation cache
func New(opts Options) *RelationCache {
	fold := opts.Fold
	if fold == nil {
		fold = schema.FoldLower
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RelationCache{
		fold:      fold,
		strict:    opts.Strict,
		logger:    logger.With(slog.String("component", "relation_cache")),
		nodes:     make(map[schema.Key]*node),
		bySchema:  make(map[schema.SchemaKey]map[schema.Key]struct{}),
		populated: make(map[schema.SchemaKey]struct{}),
	}
}

// Enabled always returns true for the live cache
func (c *RelationCache) Enabled() bool { return true }

// Fold applies the cache's folding rule
func (c *RelationCache) Fold(s string) string { return c.fold(s) }

// Add inserts rel, or replaces the stored value if a relation with the same
// folded identity is already known. Edges of a replaced node are kept.
func (c *RelationCache) Add(rel schema.Relation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(rel)
}

func (c *RelationCache) addLocked(rel schema.Relation) {
	key := rel.Key(c.fold)
	if n, ok := c.nodes[key]; ok {
		if n.rel == rel {
			return
		}
		n.rel = rel
		c.logger.Debug("replaced relation", slog.String("relation", rel.String()), slog.String("kind", string(rel.Kind)))
		return
	}

	c.nodes[key] = newNode(rel)
	sk := rel.SchemaKey(c.fold)
	bucket, ok := c.bySchema[sk]
	if !ok {
		bucket = make(map[schema.Key]struct{})
		c.bySchema[sk] = bucket
	}
	bucket[key] = struct{}{}
	c.logger.Debug("added relation", slog.String("relation", rel.String()), slog.String("kind", string(rel.Kind)))
}

// Drop removes rel and every edge incident to it. Unknown relations are ignored.
func (c *RelationCache) Drop(rel schema.Relation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := rel.Key(c.fold)
	if _, ok := c.nodes[key]; !ok {
		c.logger.Debug("drop of unknown relation ignored", slog.String("relation", rel.String()))
		return
	}
	c.dropLocked(key)
	c.logger.Debug("dropped relation", slog.String("relation", rel.String()))
}

func (c *RelationCache) dropLocked(key schema.Key) {
	n := c.nodes[key]
	for ref := range n.references {
		delete(c.nodes[ref].dependents, key)
	}
	for dep := range n.dependents {
		delete(c.nodes[dep].references, key)
	}
	delete(c.nodes, key)

	sk := schema.SchemaKey{Database: key.Database, Schema: key.Schema}
	if bucket, ok := c.bySchema[sk]; ok {
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(c.bySchema, sk)
		}
	}
}

// Rename moves oldRel to newRel, re-pointing every incident edge. An existing
// newRel is overwritten. When oldRel is unknown the call behaves like
// Add(newRel), unless the cache is strict.
func (c *RelationCache) Rename(oldRel, newRel schema.Relation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldKey := oldRel.Key(c.fold)
	newKey := newRel.Key(c.fold)

	old, ok := c.nodes[oldKey]
	if !ok {
		if c.strict {
			return &ConsistencyError{Op: "rename", Relation: oldRel}
		}
		c.logger.Debug("rename of unknown relation treated as add",
			slog.String("from", oldRel.String()), slog.String("to", newRel.String()))
		c.addLocked(newRel)
		return nil
	}

	if newRel.Kind == schema.KindUnknown {
		newRel = newRel.WithKind(old.rel.Kind)
	}

	if oldKey == newKey {
		old.rel = newRel
		return nil
	}

	if _, exists := c.nodes[newKey]; exists {
		c.dropLocked(newKey)
	}

	moved := newNode(newRel)
	for ref := range old.references {
		refNode := c.nodes[ref]
		delete(refNode.dependents, oldKey)
		refNode.dependents[newKey] = struct{}{}
		moved.references[ref] = struct{}{}
	}
	for dep := range old.dependents {
		depNode := c.nodes[dep]
		delete(depNode.references, oldKey)
		depNode.references[newKey] = struct{}{}
		moved.dependents[dep] = struct{}{}
	}
	// edges now live on moved; dropLocked only has to unlink old from its bucket
	old.references = map[schema.Key]struct{}{}
	old.dependents = map[schema.Key]struct{}{}
	c.dropLocked(oldKey)

	c.nodes[newKey] = moved
	sk := newRel.SchemaKey(c.fold)
	bucket, ok := c.bySchema[sk]
	if !ok {
		bucket = make(map[schema.Key]struct{})
		c.bySchema[sk] = bucket
	}
	bucket[newKey] = struct{}{}

	c.logger.Debug("renamed relation", slog.String("from", oldRel.String()), slog.String("to", newRel.String()))
	return nil
}

// AddLink records that dependent references referenced. Links touching an
// unknown relation and self-links are discarded.
func (c *RelationCache) AddLink(dependent, referenced schema.Relation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	depKey := dependent.Key(c.fold)
	refKey := referenced.Key(c.fold)
	if depKey == refKey {
		return
	}
	depNode, ok := c.nodes[depKey]
	if !ok {
		return
	}
	refNode, ok := c.nodes[refKey]
	if !ok {
		return
	}
	depNode.references[refKey] = struct{}{}
	refNode.dependents[depKey] = struct{}{}
	c.logger.Debug("linked relations", slog.String("dependent", dependent.String()), slog.String("referenced", referenced.String()))
}

// AddSchema marks a schema as fully listed, so its bucket can answer
// listing requests without going to the warehouse.
func (c *RelationCache) AddSchema(database, schemaName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.populated[schema.NewSchemaKey(database, schemaName, c.fold)] = struct{}{}
}

// Clear forgets everything
func (c *RelationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = make(map[schema.Key]*node)
	c.bySchema = make(map[schema.SchemaKey]map[schema.Key]struct{})
	c.populated = make(map[schema.SchemaKey]struct{})
}

// HasSchema reports whether the schema was listed into the cache
func (c *RelationCache) HasSchema(database, schemaName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.populated[schema.NewSchemaKey(database, schemaName, c.fold)]
	return ok
}

// GetRelations returns a copy of the relations known in a schema, sorted by identifier
func (c *RelationCache) GetRelations(database, schemaName string) []schema.Relation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bucket := c.bySchema[schema.NewSchemaKey(database, schemaName, c.fold)]
	out := make([]schema.Relation, 0, len(bucket))
	for key := range bucket {
		out = append(out, c.nodes[key].rel)
	}
	sortRelations(out)
	return out
}

// Contains reports whether rel is known
func (c *RelationCache) Contains(rel schema.Relation) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.nodes[rel.Key(c.fold)]
	return ok
}

// Dependents returns the relations whose definitions reference rel
func (c *RelationCache) Dependents(rel schema.Relation) []schema.Relation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[rel.Key(c.fold)]
	if !ok {
		return nil
	}
	return c.collectLocked(n.dependents)
}

// References returns the relations rel's definition references
func (c *RelationCache) References(rel schema.Relation) []schema.Relation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[rel.Key(c.fold)]
	if !ok {
		return nil
	}
	return c.collectLocked(n.references)
}

func (c *RelationCache) collectLocked(keys map[schema.Key]struct{}) []schema.Relation {
	out := make([]schema.Relation, 0, len(keys))
	for key := range keys {
		out = append(out, c.nodes[key].rel)
	}
	sortRelations(out)
	return out
}

// Snapshot copies the whole cache in a deterministic order
func (c *RelationCache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{Buckets: make(map[schema.SchemaKey][]schema.Relation)}
	seen := make(map[schema.SchemaKey]struct{})
	for sk := range c.populated {
		seen[sk] = struct{}{}
	}
	for sk := range c.bySchema {
		seen[sk] = struct{}{}
	}
	for sk := range seen {
		snap.Schemas = append(snap.Schemas, sk)
		bucket := c.bySchema[sk]
		rels := make([]schema.Relation, 0, len(bucket))
		for key := range bucket {
			rels = append(rels, c.nodes[key].rel)
		}
		sortRelations(rels)
		snap.Buckets[sk] = rels
	}
	sort.Slice(snap.Schemas, func(i, j int) bool {
		return snap.Schemas[i].String() < snap.Schemas[j].String()
	})

	for _, n := range c.nodes {
		snap.Relations = append(snap.Relations, n.rel)
		for ref := range n.references {
			snap.Edges = append(snap.Edges, schema.Dependency{Dependent: n.rel, Referenced: c.nodes[ref].rel})
		}
	}
	sortRelations(snap.Relations)
	sort.Slice(snap.Edges, func(i, j int) bool {
		a, b := snap.Edges[i], snap.Edges[j]
		if a.Dependent.String() != b.Dependent.String() {
			return a.Dependent.String() < b.Dependent.String()
		}
		return a.Referenced.String() < b.Referenced.String()
	})
	return snap
}

func sortRelations(rels []schema.Relation) {
	sort.Slice(rels, func(i, j int) bool {
		return rels[i].String() < rels[j].String()
	})
}
