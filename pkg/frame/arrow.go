package frame

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/schema"
)

// ToArrowRecord builds an Arrow record holding all rows. The caller must
// Release it.
func (df *DataFrame) ToArrowRecord(mem memory.Allocator) (arrow.Record, error) {
	return RowsToArrowRecord(mem, df.schema, df.rows)
}

// RowsToArrowRecord builds an Arrow record from rows typed by s.
func RowsToArrowRecord(mem memory.Allocator, s *schema.StructType, rows []Row) (arrow.Record, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	b := array.NewRecordBuilder(mem, schema.ToArrow(s))
	defer b.Release()

	for ri, r := range rows {
		for i, f := range s.Fields {
			if err := appendValue(b.Field(i), r[i], f.Type); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to append value").
					WithDetail("row", ri).
					WithDetail("column", f.Name)
			}
		}
	}
	return b.NewRecord(), nil
}

func appendValue(builder array.Builder, v any, t schema.DataType) error {
	if v == nil {
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.Int64Builder:
		iv, ok := v.(int64)
		if !ok {
			return errors.Newf(errors.ErrorTypeData, "expected int64, got %T", v)
		}
		b.Append(iv)

	case *array.Float64Builder:
		switch fv := v.(type) {
		case float64:
			b.Append(fv)
		case int64:
			b.Append(float64(fv))
		default:
			return errors.Newf(errors.ErrorTypeData, "expected float64, got %T", v)
		}

	case *array.BooleanBuilder:
		bv, ok := v.(bool)
		if !ok {
			return errors.Newf(errors.ErrorTypeData, "expected bool, got %T", v)
		}
		b.Append(bv)

	case *array.StringBuilder:
		sv, ok := v.(string)
		if !ok {
			return errors.Newf(errors.ErrorTypeData, "expected string, got %T", v)
		}
		b.Append(sv)

	case *array.StructBuilder:
		st, ok := t.(*schema.StructType)
		r, rok := v.(Row)
		if !ok || !rok || len(r) != len(st.Fields) {
			return errors.Newf(errors.ErrorTypeData, "expected struct row, got %T", v)
		}
		b.Append(true)
		for j, f := range st.Fields {
			if err := appendValue(b.FieldBuilder(j), r[j], f.Type); err != nil {
				return err
			}
		}

	case *array.ListBuilder:
		at, ok := t.(*schema.ArrayType)
		items, iok := v.([]any)
		if !ok || !iok {
			return errors.Newf(errors.ErrorTypeData, "expected array, got %T", v)
		}
		b.Append(true)
		vb := b.ValueBuilder()
		for _, item := range items {
			if err := appendValue(vb, item, at.ElementType); err != nil {
				return err
			}
		}

	default:
		return errors.Newf(errors.ErrorTypeData, "unsupported builder type: %T", builder)
	}
	return nil
}

// FromArrowTable converts an Arrow table into rows typed by s. Columns are
// matched by name, so the table may carry extra columns or a different order.
func FromArrowTable(s *schema.StructType, tbl arrow.Table) ([]Row, error) {
	rows := make([]Row, 0, tbl.NumRows())
	tr := array.NewTableReader(tbl, 0)
	defer tr.Release()

	for tr.Next() {
		batch, err := FromArrowRecord(s, tr.Record())
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
	if err := tr.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to iterate arrow table")
	}
	return rows, nil
}

// FromArrowRecord converts one Arrow record into rows typed by s.
func FromArrowRecord(s *schema.StructType, rec arrow.Record) ([]Row, error) {
	cols := make([]arrow.Array, len(s.Fields))
	for i, f := range s.Fields {
		idx := rec.Schema().FieldIndices(f.Name)
		if len(idx) == 0 {
			// column added later by schema evolution
			continue
		}
		cols[i] = rec.Column(idx[0])
	}

	n := int(rec.NumRows())
	rows := make([]Row, n)
	for ri := 0; ri < n; ri++ {
		r := make(Row, len(s.Fields))
		for i, f := range s.Fields {
			if cols[i] == nil {
				continue
			}
			v, err := arrowValue(cols[i], ri, f.Type)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read column "+f.Name)
			}
			r[i] = v
		}
		rows[ri] = r
	}
	return rows, nil
}

func arrowValue(arr arrow.Array, i int, t schema.DataType) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}

	switch a := arr.(type) {
	case *array.Int64:
		return a.Value(i), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Boolean:
		return a.Value(i), nil
	case *array.String:
		// detach from the arrow buffer
		return strings.Clone(a.Value(i)), nil
	case *array.LargeString:
		return strings.Clone(a.Value(i)), nil

	case *array.Struct:
		st, ok := t.(*schema.StructType)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeSchema, "struct column read as %s", t.TypeName())
		}
		at := a.DataType().(*arrow.StructType)
		r := make(Row, len(st.Fields))
		for j, f := range st.Fields {
			idx, found := at.FieldIdx(f.Name)
			if !found {
				continue
			}
			v, err := arrowValue(a.Field(idx), i, f.Type)
			if err != nil {
				return nil, err
			}
			r[j] = v
		}
		return r, nil

	case *array.List:
		lt, ok := t.(*schema.ArrayType)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeSchema, "list column read as %s", t.TypeName())
		}
		start, end := a.ValueOffsets(i)
		values := a.ListValues()
		items := make([]any, 0, end-start)
		for j := start; j < end; j++ {
			v, err := arrowValue(values, int(j), lt.ElementType)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	}
	return nil, errors.Newf(errors.ErrorTypeData, "unsupported arrow array %T", arr)
}
