package frame

import (
	"bytes"
	"io"
	"math"
	"strings"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/json"
	"github.com/ajitpratap0/deltaflat/pkg/schema"
)

// ReadJSON loads JSON text into a DataFrame. The input may be a JSON array of
// objects, a single object, or newline-delimited objects. The schema is
// inferred from all records: fields are ordered by name at every level,
// integral numbers become long and other numbers double.
func ReadJSON(data []byte) (*DataFrame, error) {
	records, err := decodeRecords(data)
	if err != nil {
		return nil, err
	}
	return FromMaps(records)
}

// FromMaps builds a DataFrame from decoded JSON objects, inferring the schema
// the same way ReadJSON does.
func FromMaps(records []map[string]any) (*DataFrame, error) {
	var inferred schema.DataType = schema.NewStruct()
	for _, rec := range records {
		inferred = schema.Merge(inferred, inferType(rec))
	}
	st, ok := schema.Finalize(inferred).(*schema.StructType)
	if !ok {
		return nil, errors.New(errors.ErrorTypeData, "top-level JSON values must be objects")
	}

	rows := make([]Row, len(records))
	for i, rec := range records {
		v, err := convert(rec, st)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to convert record").
				WithDetail("index", i)
		}
		rows[i] = v.(Row)
	}
	return &DataFrame{schema: st, rows: rows}, nil
}

func decodeRecords(data []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var records []map[string]any

	for {
		var v any
		err := dec.Decode(&v)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed JSON input").
				WithDetail("records_decoded", len(records))
		}

		switch tv := v.(type) {
		case map[string]any:
			records = append(records, tv)
		case []any:
			for i, item := range tv {
				m, ok := item.(map[string]any)
				if !ok {
					return nil, errors.Newf(errors.ErrorTypeValidation,
						"array element %d is %T, expected an object", i, item)
				}
				records = append(records, m)
			}
		default:
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"top-level JSON value is %T, expected an object or array of objects", v)
		}
	}
	return records, nil
}

func inferType(v any) schema.DataType {
	switch tv := v.(type) {
	case nil:
		return schema.NullType
	case bool:
		return schema.BooleanType
	case string:
		return schema.StringType
	case json.Number:
		if isIntegral(tv) {
			return schema.LongType
		}
		return schema.DoubleType
	case float64:
		if tv == math.Trunc(tv) && math.Abs(tv) < 1<<53 {
			return schema.LongType
		}
		return schema.DoubleType
	case int, int32, int64:
		return schema.LongType
	case float32:
		return schema.DoubleType
	case []any:
		var elem schema.DataType = schema.NullType
		for _, item := range tv {
			elem = schema.Merge(elem, inferType(item))
		}
		return schema.ArrayOf(elem)
	case map[string]any:
		fields := make(map[string]schema.DataType, len(tv))
		for k, item := range tv {
			fields[k] = inferType(item)
		}
		return schema.SortedStruct(fields)
	}
	return schema.StringType
}

func isIntegral(n json.Number) bool {
	if strings.ContainsAny(n.String(), ".eE") {
		return false
	}
	_, err := n.Int64()
	return err == nil
}

// convert coerces a decoded JSON value into the representation of t.
func convert(v any, t schema.DataType) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch nt := t.(type) {
	case schema.PrimitiveType:
		return convertPrimitive(v, nt)

	case *schema.StructType:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "expected object, got %T", v)
		}
		row := make(Row, len(nt.Fields))
		for i, f := range nt.Fields {
			cv, err := convert(m[f.Name], f.Type)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "field "+f.Name)
			}
			row[i] = cv
		}
		return row, nil

	case *schema.ArrayType:
		items, ok := v.([]any)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "expected array, got %T", v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			cv, err := convert(item, nt.ElementType)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	}
	return nil, errors.Newf(errors.ErrorTypeData, "unsupported type %s", t.TypeName())
}

func convertPrimitive(v any, t schema.PrimitiveType) (any, error) {
	switch t {
	case schema.LongType:
		switch tv := v.(type) {
		case json.Number:
			return tv.Int64()
		case float64:
			return int64(tv), nil
		case int:
			return int64(tv), nil
		case int32:
			return int64(tv), nil
		case int64:
			return tv, nil
		}
	case schema.DoubleType:
		switch tv := v.(type) {
		case json.Number:
			return tv.Float64()
		case float64:
			return tv, nil
		case int64:
			return float64(tv), nil
		case int:
			return float64(tv), nil
		case int32:
			return float64(tv), nil
		case float32:
			return float64(tv), nil
		}
	case schema.BooleanType:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.StringType:
		switch tv := v.(type) {
		case string:
			return tv, nil
		case json.Number:
			return tv.String(), nil
		default:
			// widened column: keep the raw JSON text
			data, err := json.Marshal(tv)
			if err != nil {
				return nil, err
			}
			return string(data), nil
		}
	}
	return nil, errors.Newf(errors.ErrorTypeData, "cannot convert %T to %s", v, t)
}
