package formatter

import (
	"fmt"
	"io"

	"github.com/tordrt/relcache/internal/cache"
	"github.com/tordrt/relcache/internal/schema"
)

// MarkdownFormatter formats a cache snapshot as markdown
type MarkdownFormatter struct {
	writer io.Writer
}

// NewMarkdownFormatter creates a new markdown formatter
func NewMarkdownFormatter(w io.Writer) *MarkdownFormatter {
	return &MarkdownFormatter{writer: w}
}

// Format writes the snapshot in markdown format
func (f *MarkdownFormatter) Format(snap cache.Snapshot) error {
	_, _ = fmt.Fprintln(f.writer, "# Relations")
	_, _ = fmt.Fprintln(f.writer)

	g := newGraph(snap)
	for _, sk := range snap.Schemas {
		f.formatSchema(f.writer, sk, snap.Buckets[sk], g)
	}
	return nil
}

func (f *MarkdownFormatter) formatSchema(w io.Writer, sk schema.SchemaKey, rels []schema.Relation, g graph) {
	_, _ = fmt.Fprintf(w, "## %s\n\n", sk)
	if len(rels) == 0 {
		_, _ = fmt.Fprintln(w, "_No relations._")
		_, _ = fmt.Fprintln(w)
		return
	}

	for _, rel := range rels {
		_, _ = fmt.Fprintf(w, "- **%s** (%s)\n", rel.Identifier, kindName(rel.Kind))
	}
	_, _ = fmt.Fprintln(w)

	f.formatDependencies(w, rels, g)
}

func (f *MarkdownFormatter) formatDependencies(w io.Writer, rels []schema.Relation, g graph) {
	var lines []string
	for _, rel := range rels {
		for _, ref := range g.references[rel.String()] {
			lines = append(lines, fmt.Sprintf("- %s → %s", rel.Identifier, ref))
		}
	}
	if len(lines) == 0 {
		return
	}

	_, _ = fmt.Fprintln(w, "### Dependencies")
	_, _ = fmt.Fprintln(w)
	for _, line := range lines {
		_, _ = fmt.Fprintln(w, line)
	}
	_, _ = fmt.Fprintln(w)
}

// FormatColumns writes the columns of one relation as a markdown list
func (f *MarkdownFormatter) FormatColumns(rel schema.Relation, columns []schema.Column) error {
	_, _ = fmt.Fprintf(f.writer, "## %s\n\n", rel)
	for _, col := range columns {
		_, _ = fmt.Fprintf(f.writer, "- **%s:** %s\n", col.Name, col.Type())
	}
	_, _ = fmt.Fprintln(f.writer)
	return nil
}

func kindName(k schema.Kind) string {
	if k == schema.KindUnknown {
		return "unknown"
	}
	return string(k)
}
