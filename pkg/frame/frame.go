// Package frame provides a small in-memory DataFrame: rows typed by a
// schema.StructType, JSON ingestion with schema inference, Spark-style
// projections (nested field access, explode, aliases) and an Arrow bridge
// used by the Delta table writer and reader.
//
// Values inside a Row follow the schema:
//   - long → int64, double → float64, string → string, boolean → bool
//   - struct → Row aligned with the struct's fields
//   - array → []any
//   - null → nil
//
// DataFrames are immutable; every transformation returns a new one.
package frame

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/schema"
)

// Row is one record; struct values nested inside a Row are Rows as well.
type Row []any

// DataFrame is an immutable, schema-typed set of rows
type DataFrame struct {
	schema *schema.StructType
	rows   []Row
}

// New creates a DataFrame after checking that every row matches the schema
// arity.
func New(s *schema.StructType, rows []Row) (*DataFrame, error) {
	if s == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "schema is required")
	}
	for i, r := range rows {
		if len(r) != len(s.Fields) {
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"row %d has %d values, schema has %d fields", i, len(r), len(s.Fields))
		}
	}
	return &DataFrame{schema: s, rows: rows}, nil
}

// Empty returns a DataFrame with the given schema and no rows
func Empty(s *schema.StructType) *DataFrame {
	return &DataFrame{schema: s}
}

// Schema returns the frame's schema
func (df *DataFrame) Schema() *schema.StructType { return df.schema }

// Columns returns the top-level column names
func (df *DataFrame) Columns() []string { return df.schema.Names() }

// Count returns the number of rows
func (df *DataFrame) Count() int { return len(df.rows) }

// Rows returns a shallow copy of the rows
func (df *DataFrame) Rows() []Row {
	out := make([]Row, len(df.rows))
	copy(out, df.rows)
	return out
}

// Collect returns the rows as maps keyed by column name, with nested structs
// converted to maps too.
func (df *DataFrame) Collect() []map[string]any {
	out := make([]map[string]any, len(df.rows))
	for i, r := range df.rows {
		out[i] = rowToMap(r, df.schema)
	}
	return out
}

func rowToMap(r Row, s *schema.StructType) map[string]any {
	m := make(map[string]any, len(s.Fields))
	for i, f := range s.Fields {
		m[f.Name] = valueToNative(r[i], f.Type)
	}
	return m
}

func valueToNative(v any, t schema.DataType) any {
	if v == nil {
		return nil
	}
	switch nt := t.(type) {
	case *schema.StructType:
		return rowToMap(v.(Row), nt)
	case *schema.ArrayType:
		items := v.([]any)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = valueToNative(item, nt.ElementType)
		}
		return out
	}
	return v
}

// Union appends the rows of other, which must have an equal schema.
func (df *DataFrame) Union(other *DataFrame) (*DataFrame, error) {
	if !schema.Equal(df.schema, other.schema) {
		return nil, errors.Newf(errors.ErrorTypeSchema,
			"union requires equal schemas: %s vs %s", df.schema, other.schema)
	}
	rows := make([]Row, 0, len(df.rows)+len(other.rows))
	rows = append(rows, df.rows...)
	rows = append(rows, other.rows...)
	return &DataFrame{schema: df.schema, rows: rows}, nil
}

// Limit returns at most n rows
func (df *DataFrame) Limit(n int) *DataFrame {
	if n < 0 || n >= len(df.rows) {
		return df
	}
	return &DataFrame{schema: df.schema, rows: df.rows[:n]}
}

// EqualRows reports whether a and b hold the same rows regardless of order,
// counting duplicates. Schemas must be equal.
func EqualRows(a, b *DataFrame) bool {
	if !schema.Equal(a.schema, b.schema) || len(a.rows) != len(b.rows) {
		return false
	}
	ka := rowKeys(a.rows)
	kb := rowKeys(b.rows)
	return reflect.DeepEqual(ka, kb)
}

func rowKeys(rows []Row) []string {
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = fmt.Sprintf("%#v", r)
	}
	sort.Strings(keys)
	return keys
}
