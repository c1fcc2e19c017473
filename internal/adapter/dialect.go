package adapter

import (
	"strings"

	"github.com/tordrt/relcache/internal/macro"
	"github.com/tordrt/relcache/internal/schema"
)

// Dialect describes what differs between warehouses. It is plain data:
// behavior that needs SQL lives in the dialect's macro sets.
type Dialect struct {
	Name string
	// QuoteChar opens and closes a quoted identifier
	QuoteChar string
	// Fold is the identifier folding rule used for relation identity
	Fold schema.Folder
	// IncludeDatabase renders the database part of relation names
	IncludeDatabase bool
	// SupportsDependencies reports that the get_relations macro returns object dependencies
	SupportsDependencies bool
	// DefaultSchema is used when a run does not name one
	DefaultSchema string
	// MacroSets are loaded in order, later sets overriding earlier ones
	MacroSets []string
	Types     TypeMap
}

// Quote quotes one identifier, doubling any embedded quote character
func (d Dialect) Quote(identifier string) string {
	q := d.QuoteChar
	if q == "" {
		q = `"`
	}
	return q + strings.ReplaceAll(identifier, q, q+q) + q
}

// RenderRelation renders a relation name the way this warehouse spells it
func (d Dialect) RenderRelation(r schema.Relation) string {
	if !d.IncludeDatabase {
		r.Database = ""
	}
	return r.Render(d.Quote)
}

// Folder returns the folding rule, defaulting to lower case
func (d Dialect) Folder() schema.Folder {
	if d.Fold == nil {
		return schema.FoldLower
	}
	return d.Fold
}

// MacroDialect adapts d for the macro renderer
func (d Dialect) MacroDialect() macro.Dialect {
	return macro.Dialect{Quote: d.Quote, Relation: d.RenderRelation}
}

// Postgres is the PostgreSQL dialect
var Postgres = Dialect{
	Name:                 "postgres",
	QuoteChar:            `"`,
	Fold:                 schema.FoldLower,
	IncludeDatabase:      true,
	SupportsDependencies: true,
	DefaultSchema:        "public",
	MacroSets:            []string{"default", "postgres"},
	Types: TypeMap{
		Text:         "text",
		Float:        "float8",
		Integer:      "integer",
		Boolean:      "boolean",
		Timestamp:    "timestamp without time zone",
		Date:         "date",
		Time:         "time",
		StringFormat: "character varying(%d)",
	},
}

// MySQL is the MySQL dialect. Schemas and databases are the same thing,
// so relation names never carry a database part.
var MySQL = Dialect{
	Name:                 "mysql",
	QuoteChar:            "`",
	Fold:                 schema.FoldLower,
	IncludeDatabase:      false,
	SupportsDependencies: true,
	MacroSets:            []string{"default", "mysql"},
	Types: TypeMap{
		Text:         "text",
		Float:        "double",
		Integer:      "integer",
		Boolean:      "boolean",
		Timestamp:    "datetime",
		Date:         "date",
		Time:         "time",
		StringFormat: "varchar(%d)",
	},
}

// SQLite is the SQLite dialect. Attached databases play the role of schemas.
var SQLite = Dialect{
	Name:            "sqlite",
	QuoteChar:       `"`,
	Fold:            schema.FoldLower,
	IncludeDatabase: false,
	DefaultSchema:   "main",
	MacroSets:       []string{"default", "sqlite"},
	Types: TypeMap{
		Text:         "text",
		Float:        "real",
		Integer:      "integer",
		Boolean:      "boolean",
		Timestamp:    "timestamp",
		Date:         "date",
		Time:         "time",
		StringFormat: "varchar(%d)",
	},
}

// Renderer loads the dialect's macro sets from the embedded templates
func (d Dialect) Renderer() (*macro.TemplateRenderer, error) {
	return macro.NewTemplateRenderer(macro.Builtin(), d.MacroSets, d.MacroDialect())
}
