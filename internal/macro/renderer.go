// Package macro turns named operation requests into dialect-specific SQL.
//
// Macros are text/template files embedded under templates/<set>/<name>.sql.
// A renderer is assembled from an ordered list of sets; a macro defined in a
// later set overrides one with the same name in an earlier set, so dialects
// only ship the macros that differ from the default set.
//
// A macro may emit several statements. Each statement ends with a semicolon
// at the end of a line; Statements splits them back apart.
package macro

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/tordrt/relcache/internal/schema"
)

//go:embed templates
var builtin embed.FS

// Builtin returns the embedded macro sets
func Builtin() fs.FS {
	sub, err := fs.Sub(builtin, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// ErrUnknownMacro is returned when no set defines the requested macro
var ErrUnknownMacro = errors.New("unknown macro")

// Renderer renders an operation into SQL text
type Renderer interface {
	Render(name string, params map[string]any) (string, error)
}

// Dialect supplies the quoting rules macros render with
type Dialect struct {
	// Quote quotes a single identifier
	Quote func(string) string
	// Relation renders a full relation name
	Relation func(schema.Relation) string
}

// TemplateRenderer renders macros from template sets
type TemplateRenderer struct {
	templates map[string]*template.Template
}

var _ Renderer = (*TemplateRenderer)(nil)

// NewTemplateRenderer loads the given sets from fsys, in order
func NewTemplateRenderer(fsys fs.FS, sets []string, d Dialect) (*TemplateRenderer, error) {
	if d.Quote == nil {
		d.Quote = func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }
	}
	if d.Relation == nil {
		d.Relation = func(r schema.Relation) string { return r.Render(d.Quote) }
	}

	funcs := template.FuncMap{
		"quote":    d.Quote,
		"relation": d.Relation,
		"identifier": func(r schema.Relation) string {
			if r.Quoting.Identifier {
				return d.Quote(r.Identifier)
			}
			return r.Identifier
		},
		"literal": literal,
		"ddlkind": ddlKind,
		"fail": func(msg string) (string, error) {
			return "", errors.New(msg)
		},
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
	}

	r := &TemplateRenderer{templates: make(map[string]*template.Template)}
	for _, set := range sets {
		entries, err := fs.ReadDir(fsys, set)
		if err != nil {
			return nil, fmt.Errorf("failed to read macro set %s: %w", set, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), ".sql")
			body, err := fs.ReadFile(fsys, path.Join(set, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("failed to read macro %s/%s: %w", set, name, err)
			}
			tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(string(body))
			if err != nil {
				return nil, fmt.Errorf("failed to parse macro %s/%s: %w", set, name, err)
			}
			r.templates[name] = tmpl
		}
	}
	return r, nil
}

// Render executes the named macro with params
func (r *TemplateRenderer) Render(name string, params map[string]any) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownMacro, name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("failed to render macro %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Names lists the macros the renderer knows
func (r *TemplateRenderer) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Statements splits rendered SQL into single statements
func Statements(sql string) []string {
	var out []string
	var cur strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimRight(line, " \t\r")
		if strings.HasSuffix(trimmed, ";") {
			cur.WriteString(strings.TrimSuffix(trimmed, ";"))
			if stmt := strings.TrimSpace(cur.String()); stmt != "" {
				out = append(out, stmt)
			}
			cur.Reset()
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
	}
	if stmt := strings.TrimSpace(cur.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func ddlKind(k schema.Kind) (string, error) {
	switch k {
	case schema.KindTable:
		return "table", nil
	case schema.KindView:
		return "view", nil
	case schema.KindMaterializedView:
		return "materialized view", nil
	default:
		return "", fmt.Errorf("no DDL object type for relation kind %q", k)
	}
}
