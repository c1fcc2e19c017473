package adapter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tordrt/relcache/internal/db"
	"github.com/tordrt/relcache/internal/schema"
)

// DataKind is the inferred kind of a column of tabular data
type DataKind int

const (
	DataText DataKind = iota
	DataNumber
	DataBoolean
	DataDateTime
	DataDate
	DataTime
)

// TypeMap maps inferred data kinds to a warehouse's column types
type TypeMap struct {
	Text      string
	Float     string
	Integer   string
	Boolean   string
	Timestamp string
	Date      string
	Time      string
	// StringFormat renders a sized string type, e.g. "varchar(%d)"
	StringFormat string
}

// ConvertNumberType picks the float type when any value carries decimals
func (m TypeMap) ConvertNumberType(maxPrecision int) string {
	if maxPrecision > 0 {
		return m.Float
	}
	return m.Integer
}

// Convert maps one inferred column to a column type
func (m TypeMap) Convert(kind DataKind, maxPrecision int) string {
	switch kind {
	case DataNumber:
		return m.ConvertNumberType(maxPrecision)
	case DataBoolean:
		return m.Boolean
	case DataDateTime:
		return m.Timestamp
	case DataDate:
		return m.Date
	case DataTime:
		return m.Time
	default:
		return m.Text
	}
}

// StringType renders a sized string type
func (m TypeMap) StringType(size int) string {
	if m.StringFormat == "" {
		return schema.StringType(size)
	}
	return fmt.Sprintf(m.StringFormat, size)
}

// ExpandedType is the type a column is altered to when widened to hold ref
func (m TypeMap) ExpandedType(ref schema.Column) string {
	if ref.IsString() {
		size, _ := ref.StringSize()
		return m.StringType(size)
	}
	return ref.Type()
}

// ConvertTypes infers a column type for every column of res
func (m TypeMap) ConvertTypes(res *db.Result) []string {
	if res == nil {
		return nil
	}
	types := make([]string, len(res.Columns))
	for i := range res.Columns {
		values := make([]any, 0, len(res.Rows))
		for _, row := range res.Rows {
			if i < len(row) {
				values = append(values, row[i])
			}
		}
		kind, precision := InferKind(values)
		types[i] = m.Convert(kind, precision)
	}
	return types
}

var (
	dateLayouts     = []string{"2006-01-02"}
	timeLayouts     = []string{"15:04:05", "15:04:05.999999999", "15:04"}
	dateTimeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04:05.999999999"}
)

// InferKind finds the narrowest kind every non-nil value fits, testing
// boolean, number, date, datetime and time in that order. For numbers it
// also returns the largest count of decimal places seen.
func InferKind(values []any) (DataKind, int) {
	candidates := []DataKind{DataBoolean, DataNumber, DataDate, DataDateTime, DataTime}
	for _, kind := range candidates {
		precision, ok := allFit(values, kind)
		if ok {
			return kind, precision
		}
	}
	return DataText, 0
}

func allFit(values []any, kind DataKind) (int, bool) {
	seen := false
	maxPrecision := 0
	for _, v := range values {
		if v == nil {
			continue
		}
		seen = true
		precision, ok := fits(v, kind)
		if !ok {
			return 0, false
		}
		if precision > maxPrecision {
			maxPrecision = precision
		}
	}
	return maxPrecision, seen
}

func fits(v any, kind DataKind) (int, bool) {
	switch kind {
	case DataBoolean:
		switch val := v.(type) {
		case bool:
			return 0, true
		case string:
			switch strings.ToLower(val) {
			case "true", "false", "t", "f", "yes", "no":
				return 0, true
			}
		}
		return 0, false
	case DataNumber:
		switch val := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return 0, true
		case float32:
			return decimalPlaces(strconv.FormatFloat(float64(val), 'f', -1, 32)), true
		case float64:
			return decimalPlaces(strconv.FormatFloat(val, 'f', -1, 64)), true
		case string:
			s := strings.TrimSpace(val)
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				return 0, false
			}
			return decimalPlaces(s), true
		}
		return 0, false
	case DataDate:
		return 0, parsesAs(v, dateLayouts)
	case DataDateTime:
		if _, ok := v.(time.Time); ok {
			return 0, true
		}
		return 0, parsesAs(v, dateTimeLayouts)
	case DataTime:
		return 0, parsesAs(v, timeLayouts)
	}
	return 0, false
}

func parsesAs(v any, layouts []string) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, layout := range layouts {
		if _, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return true
		}
	}
	return false
}

func decimalPlaces(s string) int {
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		s = s[:i]
	}
	dot := strings.Index(s, ".")
	if dot < 0 {
		return 0
	}
	return len(strings.TrimRight(s[dot+1:], "0"))
}
