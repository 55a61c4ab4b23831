package frame

import (
	"strings"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/schema"
)

// accessor reads a (possibly nested) value out of a row
type accessor func(Row) any

// binding is a column resolved against an input schema. Non-generator
// bindings yield len(fields) values per row; a generator yields the array to
// explode and has exactly one output field.
type binding struct {
	fields []schema.StructField
	values func(Row) []any
	gen    accessor
	outer  bool
}

// SelectExpr parses each expression with ParseExpr and projects them.
func (df *DataFrame) SelectExpr(exprs ...string) (*DataFrame, error) {
	cols := make([]*Column, len(exprs))
	for i, e := range exprs {
		c, err := ParseExpr(e)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return df.Select(cols...)
}

// Select projects the frame onto cols. At most one column may be a generator
// (explode / explode_outer); when present every input row is replicated once
// per array element.
func (df *DataFrame) Select(cols ...*Column) (*DataFrame, error) {
	if len(cols) == 0 {
		return nil, errors.New(errors.ErrorTypeQuery, "select requires at least one column")
	}

	bindings := make([]binding, len(cols))
	genIdx := -1
	for i, c := range cols {
		b, err := bind(c, df.schema)
		if err != nil {
			return nil, err
		}
		if b.gen != nil {
			if genIdx >= 0 {
				return nil, errors.Newf(errors.ErrorTypeQuery,
					"only one generator allowed per select clause, found %s and %s", cols[genIdx], c)
			}
			genIdx = i
		}
		bindings[i] = b
	}

	out := &schema.StructType{}
	for _, b := range bindings {
		out.Fields = append(out.Fields, b.fields...)
	}

	rows := make([]Row, 0, len(df.rows))
	for _, in := range df.rows {
		if genIdx < 0 {
			rows = append(rows, project(in, bindings, -1, nil, len(out.Fields)))
			continue
		}

		items, _ := bindings[genIdx].gen(in).([]any)
		if len(items) == 0 {
			if bindings[genIdx].outer {
				rows = append(rows, project(in, bindings, genIdx, nil, len(out.Fields)))
			}
			continue
		}
		for _, item := range items {
			rows = append(rows, project(in, bindings, genIdx, item, len(out.Fields)))
		}
	}

	return &DataFrame{schema: out, rows: rows}, nil
}

func project(in Row, bindings []binding, genIdx int, genValue any, width int) Row {
	row := make(Row, 0, width)
	for i, b := range bindings {
		if i == genIdx {
			row = append(row, genValue)
			continue
		}
		row = append(row, b.values(in)...)
	}
	return row
}

func bind(c *Column, s *schema.StructType) (binding, error) {
	switch c.kind {
	case kindRef:
		t, nullable, get, err := resolvePath(c.path, s)
		if err != nil {
			return binding{}, err
		}
		name := c.alias
		if name == "" {
			name = c.path[len(c.path)-1]
		}
		return binding{
			fields: []schema.StructField{{Name: name, Type: t, Nullable: nullable}},
			values: func(r Row) []any { return []any{get(r)} },
		}, nil

	case kindStar:
		return bindStar(c, s)

	case kindExplode, kindExplodeOuter:
		if c.child.kind != kindRef {
			return binding{}, errors.Newf(errors.ErrorTypeQuery, "cannot explode %s", c.child)
		}
		t, _, get, err := resolvePath(c.child.path, s)
		if err != nil {
			return binding{}, err
		}
		at, ok := t.(*schema.ArrayType)
		if !ok {
			return binding{}, errors.Newf(errors.ErrorTypeQuery,
				"cannot resolve %s: explode requires array input, %s is %s",
				c, strings.Join(c.child.path, "."), t.TypeName()).
				WithDetail("column", strings.Join(c.child.path, "."))
		}
		name := c.alias
		if name == "" {
			name = "col"
		}
		return binding{
			fields: []schema.StructField{{Name: name, Type: at.ElementType, Nullable: true}},
			gen:    get,
			outer:  c.kind == kindExplodeOuter,
		}, nil
	}
	return binding{}, errors.Newf(errors.ErrorTypeQuery, "unsupported column %s", c)
}

func bindStar(c *Column, s *schema.StructType) (binding, error) {
	if len(c.path) == 0 {
		fields := append([]schema.StructField(nil), s.Fields...)
		return binding{
			fields: fields,
			values: func(r Row) []any { return append([]any(nil), r...) },
		}, nil
	}

	t, nullable, get, err := resolvePath(c.path, s)
	if err != nil {
		return binding{}, err
	}
	st, ok := t.(*schema.StructType)
	if !ok {
		return binding{}, errors.Newf(errors.ErrorTypeQuery,
			"cannot expand %s: %s is %s, not a struct", c, strings.Join(c.path, "."), t.TypeName())
	}
	fields := make([]schema.StructField, len(st.Fields))
	for i, f := range st.Fields {
		fields[i] = schema.StructField{Name: f.Name, Type: f.Type, Nullable: f.Nullable || nullable}
	}
	width := len(fields)
	return binding{
		fields: fields,
		values: func(r Row) []any {
			v, _ := get(r).(Row)
			if v == nil {
				return make([]any, width)
			}
			return append([]any(nil), v...)
		},
	}, nil
}

// resolvePath walks a dotted path through nested structs and returns the
// leaf type, whether any step is nullable, and an accessor. A null struct
// anywhere along the path yields nil.
func resolvePath(path []string, s *schema.StructType) (schema.DataType, bool, accessor, error) {
	if len(path) == 0 {
		return nil, false, nil, errors.New(errors.ErrorTypeQuery, "empty column reference")
	}

	indices := make([]int, 0, len(path))
	var current schema.DataType = s
	nullable := false
	for i, seg := range path {
		st, ok := current.(*schema.StructType)
		if !ok {
			return nil, false, nil, errors.Newf(errors.ErrorTypeQuery,
				"cannot extract field %q from %s of type %s",
				seg, strings.Join(path[:i], "."), current.TypeName()).
				WithDetail("column", strings.Join(path, "."))
		}
		idx, err := st.FieldIndex(seg)
		if err != nil {
			return nil, false, nil, errors.Wrap(err, errors.ErrorTypeQuery,
				"cannot resolve "+strings.Join(path, ".")).
				WithDetail("column", strings.Join(path, "."))
		}
		indices = append(indices, idx)
		nullable = nullable || st.Fields[idx].Nullable
		current = st.Fields[idx].Type
	}

	get := func(r Row) any {
		var v any = r
		for _, idx := range indices {
			row, ok := v.(Row)
			if !ok || row == nil {
				return nil
			}
			v = row[idx]
		}
		return v
	}
	return current, nullable, get, nil
}
