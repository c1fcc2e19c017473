package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tordrt/relcache/internal/schema"
)

// DependencyRow is one row of a warehouse's object-dependency metadata
type DependencyRow struct {
	ReferencedSchema string
	ReferencedName   string
	DependentSchema  string
	DependentName    string
}

// Source is the warehouse side of cache population
type Source interface {
	// ListRelationsWithoutCaching lists the relations of one schema straight from the warehouse
	ListRelationsWithoutCaching(ctx context.Context, database, schemaName string) ([]schema.Relation, error)
	// SupportsDependencies reports whether ListDependencies is available
	SupportsDependencies() bool
	// ListDependencies returns every dependency row visible in a database
	ListDependencies(ctx context.Context, database string) ([]DependencyRow, error)
}

// PopulateOptions configures Populate
type PopulateOptions struct {
	// Threads bounds the number of concurrent listing queries. Values below 1 mean 1.
	Threads int
	// Required lists schemas that must exist; failing to list one aborts population.
	Required []schema.SchemaKey
	Logger   *slog.Logger
}

// SchemaError is a listing failure for a single schema
type SchemaError struct {
	Schema schema.SchemaKey
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("failed to list relations in %s: %v", e.Schema, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Report summarizes a population run
type Report struct {
	Schemas   int
	Relations int

	// Links counts dependency rows offered to the cache after schema filtering
	Links int
	// Warnings holds recoverable failures; the affected schemas were skipped
	Warnings []error
}

// Populate bulk-loads c with the relations of every schema in schemas and,
// when src exposes dependency metadata, with the links between them.
//
// A schema whose listing fails contributes nothing and is reported as a
// warning, unless it appears in opts.Required. A disabled cache is left
// untouched and no query is issued.
func Populate(ctx context.Context, c Cache, src Source, schemas []schema.SchemaKey, opts PopulateOptions) (*Report, error) {
	report := &Report{}
	if !c.Enabled() {
		return report, nil
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}

	required := make(map[schema.SchemaKey]bool, len(opts.Required))
	for _, sk := range opts.Required {
		required[schema.NewSchemaKey(sk.Database, sk.Schema, c.Fold)] = true
	}

	targets := distinctSchemas(c, schemas)

	// folded database -> original spelling, folded schema names
	byDatabase := make(map[string]string)
	schemaSets := make(map[string]map[string]bool)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)

	for _, target := range targets {
		folded := schema.NewSchemaKey(target.Database, target.Schema, c.Fold)

		g.Go(func() error {
			rels, err := src.ListRelationsWithoutCaching(gctx, target.Database, target.Schema)
			if err != nil {
				serr := &SchemaError{Schema: target, Err: err}
				if required[folded] {
					return serr
				}
				logger.Warn("skipping schema during cache population",
					slog.String("schema", target.String()), slog.String("error", err.Error()))
				mu.Lock()
				report.Warnings = append(report.Warnings, serr)
				mu.Unlock()
				return nil
			}

			for _, rel := range rels {
				c.Add(rel)
			}
			c.AddSchema(target.Database, target.Schema)

			mu.Lock()
			report.Schemas++
			report.Relations += len(rels)
			if _, ok := byDatabase[folded.Database]; !ok {
				byDatabase[folded.Database] = target.Database
				schemaSets[folded.Database] = make(map[string]bool)
			}
			schemaSets[folded.Database][folded.Schema] = true
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	if !src.SupportsDependencies() {
		return report, nil
	}

	databases := make([]string, 0, len(byDatabase))
	for folded := range byDatabase {
		databases = append(databases, folded)
	}
	sort.Strings(databases)

	for _, folded := range databases {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		database := byDatabase[folded]
		links, err := linkDatabase(ctx, c, src, database, schemaSets[folded])
		if err != nil {
			logger.Warn("skipping dependency links during cache population",
				slog.String("database", database), slog.String("error", err.Error()))
			report.Warnings = append(report.Warnings, fmt.Errorf("failed to list dependencies in %s: %w", database, err))
			continue
		}
		report.Links += links
	}

	return report, nil
}

// linkDatabase links every dependency whose referenced relation lives in one of the populated schemas
func linkDatabase(ctx context.Context, c Cache, src Source, database string, schemas map[string]bool) (int, error) {
	rows, err := src.ListDependencies(ctx, database)
	if err != nil {
		return 0, err
	}

	links := 0
	for _, row := range rows {
		if !schemas[c.Fold(row.ReferencedSchema)] {
			continue
		}
		referenced := schema.NewRelation(database, row.ReferencedSchema, row.ReferencedName, schema.KindUnknown)
		dependent := schema.NewRelation(database, row.DependentSchema, row.DependentName, schema.KindUnknown)
		c.AddLink(dependent, referenced)
		links++
	}
	return links, nil
}

func distinctSchemas(c Cache, schemas []schema.SchemaKey) []schema.SchemaKey {
	seen := make(map[schema.SchemaKey]bool, len(schemas))
	out := make([]schema.SchemaKey, 0, len(schemas))
	for _, sk := range schemas {
		folded := schema.NewSchemaKey(sk.Database, sk.Schema, c.Fold)
		if seen[folded] {
			continue
		}
		seen[folded] = true
		out = append(out, sk)
	}
	return out
}

// IsSchemaError reports whether err is a per-schema listing failure
func IsSchemaError(err error) bool {
	var serr *SchemaError
	return errors.As(err, &serr)
}
