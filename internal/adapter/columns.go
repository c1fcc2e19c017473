package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tordrt/relcache/internal/db"
	"github.com/tordrt/relcache/internal/schema"
)

// GetColumnsInRelation reads a relation's columns from the warehouse.
// Column shape is not cached, so this always goes to the warehouse.
func (a *Adapter) GetColumnsInRelation(ctx context.Context, rel schema.Relation) ([]schema.Column, error) {
	res, err := a.ExecuteMacro(ctx, macroGetColumns, map[string]any{"relation": rel}, false)
	if err != nil {
		return nil, &WarehouseError{Op: "get columns of", Relation: rel, Err: err}
	}

	columns := make([]schema.Column, 0, res.Len())
	for _, row := range res.Rows {
		if len(row) < 5 {
			return nil, &WarehouseError{
				Op:       "get columns of",
				Relation: rel,
				Err:      fmt.Errorf("%w: got %d columns, expected 5", ErrUnexpectedResult, len(row)),
			}
		}
		name, dtype := asString(row[0]), asString(row[1])
		charSize, hasSize := asInt(row[2])
		precision, hasPrecision := asInt(row[3])

		if !hasSize && !hasPrecision {
			// type carries its own size, as in varchar(10)
			columns = append(columns, schema.ParseColumnType(name, dtype))
			continue
		}

		col := schema.Column{Name: name, DataType: dtype}
		if hasSize {
			col.CharSize = &charSize
		}
		if hasPrecision {
			col.NumericPrecision = &precision
			if scale, ok := asInt(row[4]); ok {
				col.NumericScale = &scale
			}
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// AlterColumnType changes a column's type in place
func (a *Adapter) AlterColumnType(ctx context.Context, rel schema.Relation, column, newType string) error {
	params := map[string]any{
		"relation":        rel,
		"column_name":     column,
		"new_column_type": newType,
		"tmp_column":      newTempColumn(column),
	}
	a.logger.Debug("altering column type",
		slog.String("relation", rel.String()), slog.String("column", column), slog.String("type", newType))
	return a.structural(ctx, "alter column of", macroAlterColumnType, rel, params)
}

// ExpandColumnTypes widens the columns of current that are too narrow to hold
// the matching columns of goal. Columns are never narrowed.
func (a *Adapter) ExpandColumnTypes(ctx context.Context, goal, current schema.Relation) error {
	reference, err := a.GetColumnsInRelation(ctx, goal)
	if err != nil {
		return err
	}
	target, err := a.GetColumnsInRelation(ctx, current)
	if err != nil {
		return err
	}

	byName := make(map[string]schema.Column, len(target))
	for _, col := range target {
		byName[strings.ToLower(col.Name)] = col
	}

	for _, ref := range reference {
		col, ok := byName[strings.ToLower(ref.Name)]
		if !ok || !col.CanExpandTo(ref) {
			continue
		}
		newType := a.dialect.Types.ExpandedType(ref)
		a.logger.Debug("expanding column",
			slog.String("relation", current.String()), slog.String("column", col.Name),
			slog.String("from", col.Type()), slog.String("to", newType))
		if err := a.AlterColumnType(ctx, current, col.Name, newType); err != nil {
			return err
		}
	}

	if name := db.ConnectionFrom(ctx); name == db.DefaultConnection {
		return a.exec.Release(name)
	}
	return nil
}

// ConvertTypes infers a column type in this warehouse for every column of res
func (a *Adapter) ConvertTypes(res *db.Result) []string {
	return a.dialect.Types.ConvertTypes(res)
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func asInt(v any) (int, bool) {
	switch val := v.(type) {
	case nil:
		return 0, false
	case int:
		return val, true
	case int8:
		return int(val), true
	case int16:
		return int(val), true
	case int32:
		return int(val), true
	case int64:
		return int(val), true
	case uint8:
		return int(val), true
	case uint16:
		return int(val), true
	case uint32:
		return int(val), true
	case uint64:
		return int(val), true
	case float64:
		return int(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		return n, err == nil
	case []byte:
		n, err := strconv.Atoi(strings.TrimSpace(string(val)))
		return n, err == nil
	}
	return 0, false
}
