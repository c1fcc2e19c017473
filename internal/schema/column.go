package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// defaultStringSize is the size assumed for string columns without a declared length
const defaultStringSize = 256

// Column represents a relation column
type Column struct {
	Name             string
	DataType         string
	CharSize         *int
	NumericPrecision *int
	NumericScale     *int
}

// Type renders the full column type, including size or precision
func (c Column) Type() string {
	switch {
	case c.IsString() && c.CharSize != nil:
		return StringType(*c.CharSize)
	case c.IsNumeric() && c.NumericPrecision != nil:
		return NumericType(c.DataType, *c.NumericPrecision, c.NumericScale)
	default:
		return c.DataType
	}
}

// IsString reports whether the column holds character data
func (c Column) IsString() bool {
	switch strings.ToLower(c.DataType) {
	case "text", "character varying", "character", "varchar", "char", "nvarchar", "nchar", "string":
		return true
	}
	return false
}

// IsNumeric reports whether the column is a fixed-point number
func (c Column) IsNumeric() bool {
	switch strings.ToLower(c.DataType) {
	case "numeric", "decimal":
		return true
	}
	return false
}

// StringSize returns the declared length of a string column
func (c Column) StringSize() (int, error) {
	if !c.IsString() {
		return 0, fmt.Errorf("column %s is not a string column (type %s)", c.Name, c.DataType)
	}
	if c.CharSize == nil {
		return defaultStringSize, nil
	}
	return *c.CharSize, nil
}

// CanExpandTo reports whether c can be widened in place to hold every value of other.
// Strings widen by length; numerics widen by precision without losing scale.
// Nothing is ever narrowed.
func (c Column) CanExpandTo(other Column) bool {
	if c.IsString() && other.IsString() {
		size, _ := c.StringSize()
		otherSize, _ := other.StringSize()
		return size < otherSize
	}
	if c.IsNumeric() && other.IsNumeric() {
		if c.NumericPrecision == nil || other.NumericPrecision == nil {
			return false
		}
		return *c.NumericPrecision < *other.NumericPrecision && scaleOf(c) <= scaleOf(other)
	}
	return false
}

func scaleOf(c Column) int {
	if c.NumericScale == nil {
		return 0
	}
	return *c.NumericScale
}

// StringType renders the generic varying-length string type of the given size
func StringType(size int) string {
	return fmt.Sprintf("character varying(%d)", size)
}

// NumericType renders a numeric type with precision and optional scale
func NumericType(dtype string, precision int, scale *int) string {
	if scale == nil {
		return fmt.Sprintf("%s(%d)", dtype, precision)
	}
	return fmt.Sprintf("%s(%d,%d)", dtype, precision, *scale)
}

// ParseColumnType builds a Column from a raw type string such as
// "varchar(10)", "numeric(12, 2)" or "text".
func ParseColumnType(name, raw string) Column {
	col := Column{Name: name, DataType: strings.TrimSpace(raw)}

	open := strings.Index(raw, "(")
	closing := strings.LastIndex(raw, ")")
	if open < 0 || closing < open {
		return col
	}

	col.DataType = strings.ToLower(strings.TrimSpace(raw[:open]))
	args := strings.Split(raw[open+1:closing], ",")

	first, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil {
		// enum('a','b') and friends keep their raw type
		col.DataType = strings.TrimSpace(raw)
		return col
	}

	if col.IsString() {
		col.CharSize = &first
		return col
	}

	col.NumericPrecision = &first
	if len(args) > 1 {
		if scale, err := strconv.Atoi(strings.TrimSpace(args[1])); err == nil {
			col.NumericScale = &scale
		}
	}
	return col
}
