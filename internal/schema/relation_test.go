package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKind(t *testing.T) {
	assert.Equal(t, KindTable, ParseKind("BASE TABLE"))
	assert.Equal(t, KindView, ParseKind("view"))
	assert.Equal(t, KindMaterializedView, ParseKind("materialized view"))
	assert.Equal(t, KindUnknown, ParseKind("sequence"))
}

func TestRelationKeyFolding(t *testing.T) {
	a := NewRelation("DB1", "Public", "Orders", KindTable)
	b := NewRelation("db1", "public", "orders", KindView)

	assert.Equal(t, a.Key(FoldLower), b.Key(FoldLower))
	assert.NotEqual(t, a.Key(FoldNone), b.Key(FoldNone))
	assert.Equal(t, SchemaKey{Database: "db1", Schema: "public"}, a.SchemaKey(FoldLower))
}

func TestRelationRender(t *testing.T) {
	quote := func(s string) string { return `"` + s + `"` }

	r := NewRelation("db1", "public", "Orders", KindTable)
	assert.Equal(t, `"db1"."public"."Orders"`, r.Render(quote))
	assert.Equal(t, "db1.public.Orders", r.String())

	r = r.WithQuoting(QuotePolicy{Schema: true, Identifier: true})
	assert.Equal(t, `db1."public"."Orders"`, r.Render(quote))

	noDB := NewRelation("", "main", "t", KindTable)
	assert.Equal(t, `"main"."t"`, noDB.Render(quote))
}

func TestRelationIsValue(t *testing.T) {
	r := NewRelation("db1", "public", "orders", KindTable)
	renamed := r.WithIdentifier("orders_new")

	assert.Equal(t, "orders", r.Identifier)
	assert.Equal(t, "orders_new", renamed.Identifier)
	assert.Equal(t, KindTable, renamed.Kind)
}
