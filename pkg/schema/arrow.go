package schema

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

// ToArrow converts a struct schema to an Arrow schema
func ToArrow(s *StructType) *arrow.Schema {
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = arrow.Field{Name: f.Name, Type: ToArrowType(f.Type), Nullable: f.Nullable}
	}
	return arrow.NewSchema(fields, nil)
}

// ToArrowType maps a logical type to its Arrow representation
func ToArrowType(t DataType) arrow.DataType {
	switch nt := t.(type) {
	case PrimitiveType:
		switch nt {
		case LongType:
			return arrow.PrimitiveTypes.Int64
		case DoubleType:
			return arrow.PrimitiveTypes.Float64
		case BooleanType:
			return arrow.FixedWidthTypes.Boolean
		default:
			// string and null
			return arrow.BinaryTypes.String
		}
	case *StructType:
		fields := make([]arrow.Field, len(nt.Fields))
		for i, f := range nt.Fields {
			fields[i] = arrow.Field{Name: f.Name, Type: ToArrowType(f.Type), Nullable: f.Nullable}
		}
		return arrow.StructOf(fields...)
	case *ArrayType:
		return arrow.ListOf(ToArrowType(nt.ElementType))
	}
	return arrow.BinaryTypes.String
}

// FromArrow converts an Arrow schema back to a struct schema
func FromArrow(s *arrow.Schema) (*StructType, error) {
	out := &StructType{Fields: make([]StructField, 0, s.NumFields())}
	for _, f := range s.Fields() {
		t, err := FromArrowType(f.Type)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSchema, "field "+f.Name)
		}
		out.Fields = append(out.Fields, StructField{Name: f.Name, Type: t, Nullable: f.Nullable})
	}
	return out, nil
}

// FromArrowType maps an Arrow type to a logical type
func FromArrowType(t arrow.DataType) (DataType, error) {
	switch t.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32:
		return LongType, nil
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return DoubleType, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return StringType, nil
	case arrow.BOOL:
		return BooleanType, nil
	case arrow.NULL:
		return NullType, nil
	case arrow.STRUCT:
		st := t.(*arrow.StructType)
		out := &StructType{Fields: make([]StructField, 0, st.NumFields())}
		for _, f := range st.Fields() {
			ft, err := FromArrowType(f.Type)
			if err != nil {
				return nil, err
			}
			out.Fields = append(out.Fields, StructField{Name: f.Name, Type: ft, Nullable: f.Nullable})
		}
		return out, nil
	case arrow.LIST:
		lt := t.(*arrow.ListType)
		et, err := FromArrowType(lt.Elem())
		if err != nil {
			return nil, err
		}
		return &ArrayType{ElementType: et, ContainsNull: lt.ElemField().Nullable}, nil
	}
	return nil, errors.Newf(errors.ErrorTypeSchema, "unsupported arrow type %s", t)
}
