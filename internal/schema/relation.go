package schema

import (
	"fmt"
	"strings"
)

// Kind is the type of a database object
type Kind string

const (
	KindUnknown          Kind = ""
	KindTable            Kind = "table"
	KindView             Kind = "view"
	KindCTE              Kind = "cte"
	KindMaterializedView Kind = "materializedview"
)

// ParseKind maps the object type reported by a warehouse to a Kind.
// Unrecognized values map to KindUnknown.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "base table", "r", "p":
		return KindTable
	case "view", "v", "system view":
		return KindView
	case "cte":
		return KindCTE
	case "materializedview", "materialized view", "materialized_view", "m":
		return KindMaterializedView
	default:
		return KindUnknown
	}
}

// QuotePolicy says which parts of a relation name are quoted when rendered
type QuotePolicy struct {
	Database   bool
	Schema     bool
	Identifier bool
}

// DefaultQuotePolicy quotes every part
var DefaultQuotePolicy = QuotePolicy{Database: true, Schema: true, Identifier: true}

// Folder folds an identifier according to a warehouse's case rules
type Folder func(string) string

// FoldLower folds identifiers to lower case.
func FoldLower(s string) string { return strings.ToLower(s) }

// FoldUpper folds identifiers to upper case.
func FoldUpper(s string) string { return strings.ToUpper(s) }

// FoldNone keeps identifiers as they are.
func FoldNone(s string) string { return s }

// Relation identifies one database object.
//
// A Relation is a value: methods that change a part return a new Relation
// and leave the receiver untouched. Equality for lookup purposes goes
// through Key, which applies the warehouse's folding rule; the original
// spelling and quoting are kept for rendering.
type Relation struct {
	Database   string
	Schema     string
	Identifier string
	Kind       Kind
	Quoting    QuotePolicy
}

// NewRelation creates a relation with every part quoted
func NewRelation(database, schemaName, identifier string, kind Kind) Relation {
	return Relation{
		Database:   database,
		Schema:     schemaName,
		Identifier: identifier,
		Kind:       kind,
		Quoting:    DefaultQuotePolicy,
	}
}

// WithIdentifier returns a copy of r with a different name
func (r Relation) WithIdentifier(identifier string) Relation {
	r.Identifier = identifier
	return r
}

// WithKind returns a copy of r with a different kind
func (r Relation) WithKind(kind Kind) Relation {
	r.Kind = kind
	return r
}

// WithQuoting returns a copy of r with a different quote policy
func (r Relation) WithQuoting(q QuotePolicy) Relation {
	r.Quoting = q
	return r
}

// Key returns the folded identity of r
func (r Relation) Key(fold Folder) Key {
	if fold == nil {
		fold = FoldNone
	}
	return Key{
		Database:   fold(r.Database),
		Schema:     fold(r.Schema),
		Identifier: fold(r.Identifier),
	}
}

// SchemaKey returns the folded (database, schema) bucket of r
func (r Relation) SchemaKey(fold Folder) SchemaKey {
	return NewSchemaKey(r.Database, r.Schema, fold)
}

// Render renders the dotted name of r, quoting the parts its policy asks for.
// Empty parts are skipped.
func (r Relation) Render(quote func(string) string) string {
	parts := make([]string, 0, 3)
	add := func(part string, quoted bool) {
		if part == "" {
			return
		}
		if quoted && quote != nil {
			part = quote(part)
		}
		parts = append(parts, part)
	}
	add(r.Database, r.Quoting.Database)
	add(r.Schema, r.Quoting.Schema)
	add(r.Identifier, r.Quoting.Identifier)
	return strings.Join(parts, ".")
}

// String returns the unquoted dotted name of r
func (r Relation) String() string {
	return r.Render(nil)
}

// Key is the case-folded identity of a relation
type Key struct {
	Database   string
	Schema     string
	Identifier string
}

// SchemaKey is a case-folded (database, schema) pair
type SchemaKey struct {
	Database string
	Schema   string
}

// NewSchemaKey folds database and schema into a SchemaKey
func NewSchemaKey(database, schemaName string, fold Folder) SchemaKey {
	if fold == nil {
		fold = FoldNone
	}
	return SchemaKey{Database: fold(database), Schema: fold(schemaName)}
}

func (k SchemaKey) String() string {
	if k.Database == "" {
		return k.Schema
	}
	return fmt.Sprintf("%s.%s", k.Database, k.Schema)
}

// Dependency is a directed edge: Dependent's definition references Referenced
type Dependency struct {
	Dependent  Relation
	Referenced Relation
}
