package schema

import (
	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/json"
)

// MarshalJSON encodes the struct in the Delta/Spark schemaString format.
func (s *StructType) MarshalJSON() ([]byte, error) {
	return json.Marshal(typeToJSON(s))
}

func typeToJSON(t DataType) interface{} {
	switch nt := t.(type) {
	case *StructType:
		fields := make([]interface{}, len(nt.Fields))
		for i, f := range nt.Fields {
			fields[i] = map[string]interface{}{
				"name":     f.Name,
				"type":     typeToJSON(f.Type),
				"nullable": f.Nullable,
				"metadata": map[string]interface{}{},
			}
		}
		return map[string]interface{}{
			"type":   "struct",
			"fields": fields,
		}
	case *ArrayType:
		return map[string]interface{}{
			"type":         "array",
			"elementType":  typeToJSON(nt.ElementType),
			"containsNull": nt.ContainsNull,
		}
	default:
		return t.TypeName()
	}
}

// ParseJSON decodes a Delta schemaString into a StructType.
func ParseJSON(data []byte) (*StructType, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "invalid schema json")
	}
	t, err := typeFromJSON(raw)
	if err != nil {
		return nil, err
	}
	st, ok := t.(*StructType)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeSchema, "schema root must be a struct, got %s", t.TypeName())
	}
	return st, nil
}

func typeFromJSON(raw interface{}) (DataType, error) {
	switch v := raw.(type) {
	case string:
		switch PrimitiveType(v) {
		case LongType, DoubleType, StringType, BooleanType, NullType:
			return PrimitiveType(v), nil
		case "integer", "short", "byte":
			return LongType, nil
		case "float":
			return DoubleType, nil
		}
		return nil, errors.Newf(errors.ErrorTypeSchema, "unsupported type %q", v)

	case map[string]interface{}:
		switch v["type"] {
		case "struct":
			rawFields, _ := v["fields"].([]interface{})
			st := &StructType{Fields: make([]StructField, 0, len(rawFields))}
			for _, rf := range rawFields {
				fm, ok := rf.(map[string]interface{})
				if !ok {
					return nil, errors.New(errors.ErrorTypeSchema, "struct field must be an object")
				}
				name, _ := fm["name"].(string)
				if name == "" {
					return nil, errors.New(errors.ErrorTypeSchema, "struct field without a name")
				}
				ft, err := typeFromJSON(fm["type"])
				if err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeSchema, "field "+name)
				}
				nullable, _ := fm["nullable"].(bool)
				st.Fields = append(st.Fields, StructField{Name: name, Type: ft, Nullable: nullable})
			}
			return st, nil
		case "array":
			et, err := typeFromJSON(v["elementType"])
			if err != nil {
				return nil, err
			}
			containsNull, _ := v["containsNull"].(bool)
			return &ArrayType{ElementType: et, ContainsNull: containsNull}, nil
		}
		return nil, errors.Newf(errors.ErrorTypeSchema, "unsupported complex type %v", v["type"])
	}
	return nil, errors.Newf(errors.ErrorTypeSchema, "unexpected schema node %T", raw)
}
