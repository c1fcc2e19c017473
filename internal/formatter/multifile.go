package formatter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tordrt/relcache/internal/cache"
	"github.com/tordrt/relcache/internal/schema"
)

const (
	formatMarkdown = "markdown"
	formatText     = "text"
)

// MultiFileFormatter writes a snapshot to a directory: an overview plus one file per schema
type MultiFileFormatter struct {
	OutputDir    string
	OutputFormat string // "text" or "markdown"
}

// NewMultiFileFormatter creates a new multi-file formatter
func NewMultiFileFormatter(outputDir, format string) *MultiFileFormatter {
	if format == "" {
		format = formatText
	}
	return &MultiFileFormatter{
		OutputDir:    outputDir,
		OutputFormat: format,
	}
}

// Format writes the snapshot to multiple files
func (f *MultiFileFormatter) Format(snap cache.Snapshot) error {
	// Create output directory if it doesn't exist
	if err := os.MkdirAll(f.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := f.writeOverview(snap); err != nil {
		return fmt.Errorf("failed to write overview: %w", err)
	}

	g := newGraph(snap)
	for _, sk := range snap.Schemas {
		if err := f.writeSchemaFile(sk, snap.Buckets[sk], g); err != nil {
			return fmt.Errorf("failed to write schema file for %s: %w", sk, err)
		}
	}

	return nil
}

func (f *MultiFileFormatter) writeOverview(snap cache.Snapshot) error {
	file, err := os.Create(filepath.Join(f.OutputDir, "_overview"+f.getFileExtension()))
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if f.OutputFormat == formatMarkdown {
		_, _ = fmt.Fprintf(file, "# Relation Overview\n\n")
		_, _ = fmt.Fprintf(file, "Each schema has a corresponding file: `<schema>%s`\n\n", f.getFileExtension())
		_, _ = fmt.Fprintf(file, "## Schemas\n\n")
		for _, sk := range snap.Schemas {
			_, _ = fmt.Fprintf(file, "- **%s** (%d relations)\n", sk, len(snap.Buckets[sk]))
		}
		_, _ = fmt.Fprintf(file, "\n%d relations, %d dependencies\n", len(snap.Relations), len(snap.Edges))
		return nil
	}

	_, _ = fmt.Fprintf(file, "RELATION OVERVIEW\n")
	_, _ = fmt.Fprintf(file, "Each schema has a file: <schema>%s\n\n", f.getFileExtension())
	for _, sk := range snap.Schemas {
		_, _ = fmt.Fprintf(file, "%s (%d relations)\n", sk, len(snap.Buckets[sk]))
	}
	_, _ = fmt.Fprintf(file, "\n%d relations, %d dependencies\n", len(snap.Relations), len(snap.Edges))
	return nil
}

// writeSchemaFile writes a single schema to its own file
func (f *MultiFileFormatter) writeSchemaFile(sk schema.SchemaKey, rels []schema.Relation, g graph) error {
	file, err := os.Create(filepath.Join(f.OutputDir, schemaFileName(sk)+f.getFileExtension()))
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if f.OutputFormat == formatMarkdown {
		md := NewMarkdownFormatter(file)
		md.formatSchema(file, sk, rels, g)

		// Incoming edges from other schemas are only visible from here
		var incoming []string
		for _, rel := range rels {
			for _, dep := range g.dependents[rel.String()] {
				incoming = append(incoming, fmt.Sprintf("- %s ← %s", rel.Identifier, dep))
			}
		}
		if len(incoming) > 0 {
			_, _ = fmt.Fprintf(file, "### Referenced by\n\n%s\n\n", strings.Join(incoming, "\n"))
		}
		return nil
	}

	NewTextFormatter(file).formatSchema(sk, rels, g)
	return nil
}

func schemaFileName(sk schema.SchemaKey) string {
	name := sk.String()
	return strings.NewReplacer("/", "_", "\\", "_").Replace(name)
}

func (f *MultiFileFormatter) getFileExtension() string {
	if f.OutputFormat == formatMarkdown {
		return ".md"
	}
	return ".txt"
}
