package adapter

import (
	"testing"
	"time"

	"github.com/tordrt/relcache/internal/db"
	"github.com/tordrt/relcache/internal/schema"
)

func TestInferKind(t *testing.T) {
	tests := []struct {
		name          string
		values        []any
		wantKind      DataKind
		wantPrecision int
	}{
		{name: "integers", values: []any{int64(1), int64(2), nil}, wantKind: DataNumber},
		{name: "decimals", values: []any{"1.5", "2.125", "3"}, wantKind: DataNumber, wantPrecision: 3},
		{name: "floats", values: []any{1.25, 2.0}, wantKind: DataNumber, wantPrecision: 2},
		{name: "booleans", values: []any{"true", "F", true}, wantKind: DataBoolean},
		{name: "dates", values: []any{"2024-01-31", "2023-12-01"}, wantKind: DataDate},
		{name: "timestamps", values: []any{"2024-01-31 10:00:00", time.Now()}, wantKind: DataDateTime},
		{name: "times", values: []any{"10:00:00", "23:59"}, wantKind: DataTime},
		{name: "mixed", values: []any{"1", "abc"}, wantKind: DataText},
		{name: "all null", values: []any{nil, nil}, wantKind: DataText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, precision := InferKind(tt.values)
			if kind != tt.wantKind {
				t.Errorf("InferKind() kind = %v, want %v", kind, tt.wantKind)
			}
			if precision != tt.wantPrecision {
				t.Errorf("InferKind() precision = %d, want %d", precision, tt.wantPrecision)
			}
		})
	}
}

func TestConvertTypes(t *testing.T) {
	res := &db.Result{
		Columns: []string{"id", "price", "name", "active", "created_at", "day", "at"},
		Rows: [][]any{
			{int64(1), "9.99", "widget", "true", "2024-01-31 10:00:00", "2024-01-31", "10:00:00"},
			{int64(2), "10", "gadget", "false", "2024-02-01 11:30:00", "2024-02-01", "11:30:00"},
		},
	}

	tests := []struct {
		dialect Dialect
		want    []string
	}{
		{Postgres, []string{"integer", "float8", "text", "boolean", "timestamp without time zone", "date", "time"}},
		{MySQL, []string{"integer", "double", "text", "boolean", "datetime", "date", "time"}},
		{SQLite, []string{"integer", "real", "text", "boolean", "timestamp", "date", "time"}},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.Name, func(t *testing.T) {
			got := tt.dialect.Types.ConvertTypes(res)
			if len(got) != len(tt.want) {
				t.Fatalf("ConvertTypes() returned %d types, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("column %s: got %q, want %q", res.Columns[i], got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExpandedType(t *testing.T) {
	size := 40
	precision, scale := 12, 2
	tests := []struct {
		name string
		m    TypeMap
		ref  schema.Column
		want string
	}{
		{"postgres string", Postgres.Types, schema.Column{Name: "a", DataType: "character varying", CharSize: &size}, "character varying(40)"},
		{"mysql string", MySQL.Types, schema.Column{Name: "a", DataType: "varchar", CharSize: &size}, "varchar(40)"},
		{"unsized string", Postgres.Types, schema.Column{Name: "a", DataType: "text"}, "character varying(256)"},
		{"numeric", Postgres.Types, schema.Column{Name: "a", DataType: "numeric", NumericPrecision: &precision, NumericScale: &scale}, "numeric(12,2)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.ExpandedType(tt.ref); got != tt.want {
				t.Errorf("ExpandedType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDialectRenderRelation(t *testing.T) {
	rel := schema.NewRelation("dw", "analytics", "orders", schema.KindTable)
	tests := []struct {
		dialect Dialect
		want    string
	}{
		{Postgres, `"dw"."analytics"."orders"`},
		{MySQL, "`analytics`.`orders`"},
		{SQLite, `"analytics"."orders"`},
	}
	for _, tt := range tests {
		if got := tt.dialect.RenderRelation(rel); got != tt.want {
			t.Errorf("%s: RenderRelation() = %s, want %s", tt.dialect.Name, got, tt.want)
		}
	}
	if got := MySQL.Quote("we`ird"); got != "`we``ird`" {
		t.Errorf("Quote() = %s", got)
	}
}
