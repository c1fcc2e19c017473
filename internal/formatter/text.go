package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/relcache/internal/cache"
	"github.com/tordrt/relcache/internal/schema"
)

// TextFormatter formats a cache snapshot as compact text
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{writer: w}
}

// Format writes the snapshot in compact text format
func (f *TextFormatter) Format(snap cache.Snapshot) error {
	g := newGraph(snap)
	for i, sk := range snap.Schemas {
		if i > 0 {
			_, _ = fmt.Fprintln(f.writer) // Blank line between schemas
		}
		f.formatSchema(sk, snap.Buckets[sk], g)
	}
	return nil
}

func (f *TextFormatter) formatSchema(sk schema.SchemaKey, rels []schema.Relation, g graph) {
	_, _ = fmt.Fprintf(f.writer, "SCHEMA %s (%d relations)\n", sk, len(rels))
	for _, rel := range rels {
		_, _ = fmt.Fprintf(f.writer, "  %s %s\n", kindLabel(rel.Kind), rel.Identifier)
		if refs := g.references[rel.String()]; len(refs) > 0 {
			_, _ = fmt.Fprintf(f.writer, "    → %s\n", strings.Join(refs, ", "))
		}
		if deps := g.dependents[rel.String()]; len(deps) > 0 {
			_, _ = fmt.Fprintf(f.writer, "    ← %s\n", strings.Join(deps, ", "))
		}
	}
}

// FormatColumns writes the columns of one relation
func (f *TextFormatter) FormatColumns(rel schema.Relation, columns []schema.Column) error {
	_, _ = fmt.Fprintf(f.writer, "%s %s\n", kindLabel(rel.Kind), rel)
	for _, col := range columns {
		_, _ = fmt.Fprintf(f.writer, "  %s: %s\n", col.Name, col.Type())
	}
	return nil
}

// graph indexes snapshot edges by rendered relation name, both directions
type graph struct {
	references map[string][]string
	dependents map[string][]string
}

func newGraph(snap cache.Snapshot) graph {
	g := graph{
		references: make(map[string][]string),
		dependents: make(map[string][]string),
	}
	// Edges are sorted, so each list comes out sorted
	for _, e := range snap.Edges {
		dep, ref := e.Dependent.String(), e.Referenced.String()
		g.references[dep] = append(g.references[dep], ref)
		g.dependents[ref] = append(g.dependents[ref], dep)
	}
	return g
}

func kindLabel(k schema.Kind) string {
	switch k {
	case schema.KindMaterializedView:
		return "MATERIALIZED VIEW"
	case schema.KindUnknown:
		return "RELATION"
	default:
		return strings.ToUpper(string(k))
	}
}
