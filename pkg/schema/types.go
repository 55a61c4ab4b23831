// Package schema defines the logical column types shared by DataFrames and
// Delta tables: primitive types, structs and arrays, together with inference
// widening, printSchema rendering, the Delta schemaString encoding and the
// mapping to Arrow types.
package schema

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

// DataType is a logical column type
type DataType interface {
	// TypeName is the Delta/Spark simple name ("long", "struct", ...)
	TypeName() string
	isDataType()
}

// PrimitiveType is a scalar column type
type PrimitiveType string

const (
	LongType    PrimitiveType = "long"
	DoubleType  PrimitiveType = "double"
	StringType  PrimitiveType = "string"
	BooleanType PrimitiveType = "boolean"
	// NullType is only produced by inference for columns that were always null.
	NullType PrimitiveType = "null"
)

// TypeName implements DataType
func (p PrimitiveType) TypeName() string { return string(p) }
func (PrimitiveType) isDataType()        {}

// StructField is a named member of a struct
type StructField struct {
	Name     string
	Type     DataType
	Nullable bool
}

// StructType is an ordered list of fields
type StructType struct {
	Fields []StructField
}

// TypeName implements DataType
func (*StructType) TypeName() string { return "struct" }
func (*StructType) isDataType()      {}

// ArrayType is a list of elements of one type
type ArrayType struct {
	ElementType  DataType
	ContainsNull bool
}

// TypeName implements DataType
func (*ArrayType) TypeName() string { return "array" }
func (*ArrayType) isDataType()      {}

// NewStruct builds a StructType from fields
func NewStruct(fields ...StructField) *StructType {
	return &StructType{Fields: fields}
}

// Field is shorthand for a nullable StructField
func Field(name string, t DataType) StructField {
	return StructField{Name: name, Type: t, Nullable: true}
}

// ArrayOf returns a nullable-element array of t
func ArrayOf(t DataType) *ArrayType {
	return &ArrayType{ElementType: t, ContainsNull: true}
}

// Names returns the field names in order
func (s *StructType) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldIndex resolves name to a field position. An exact match wins;
// otherwise a single case-insensitive match is accepted.
func (s *StructType) FieldIndex(name string) (int, error) {
	for i, f := range s.Fields {
		if f.Name == name {
			return i, nil
		}
	}

	found := -1
	for i, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			if found >= 0 {
				return -1, errors.Newf(errors.ErrorTypeQuery, "reference %q is ambiguous", name).
					WithDetail("candidates", []string{s.Fields[found].Name, f.Name})
			}
			found = i
		}
	}
	if found < 0 {
		return -1, errors.Newf(errors.ErrorTypeQuery, "cannot resolve column %q", name).
			WithDetail("available", s.Names())
	}
	return found, nil
}

// Equal reports structural equality of two types, including field names,
// order and nullability.
func Equal(a, b DataType) bool {
	switch at := a.(type) {
	case PrimitiveType:
		bt, ok := b.(PrimitiveType)
		return ok && at == bt
	case *StructType:
		bt, ok := b.(*StructType)
		if !ok || len(at.Fields) != len(bt.Fields) {
			return false
		}
		for i := range at.Fields {
			fa, fb := at.Fields[i], bt.Fields[i]
			if fa.Name != fb.Name || fa.Nullable != fb.Nullable || !Equal(fa.Type, fb.Type) {
				return false
			}
		}
		return true
	case *ArrayType:
		bt, ok := b.(*ArrayType)
		return ok && at.ContainsNull == bt.ContainsNull && Equal(at.ElementType, bt.ElementType)
	default:
		return false
	}
}

// TreeString renders the schema the way printSchema does:
//
//	root
//	 |-- EventID: long (nullable = true)
//	 |-- Payload: struct (nullable = true)
//	 |    |-- EmpId: string (nullable = true)
func (s *StructType) TreeString() string {
	var b strings.Builder
	b.WriteString("root\n")
	writeFields(&b, s, " |")
	return b.String()
}

func writeFields(b *strings.Builder, s *StructType, prefix string) {
	for _, f := range s.Fields {
		fmt.Fprintf(b, "%s-- %s: %s (nullable = %t)\n", prefix, f.Name, f.Type.TypeName(), f.Nullable)
		writeNested(b, f.Type, prefix+"    |")
	}
}

func writeNested(b *strings.Builder, t DataType, prefix string) {
	switch nt := t.(type) {
	case *StructType:
		writeFields(b, nt, prefix)
	case *ArrayType:
		fmt.Fprintf(b, "%s-- element: %s (containsNull = %t)\n", prefix, nt.ElementType.TypeName(), nt.ContainsNull)
		writeNested(b, nt.ElementType, prefix+"    |")
	}
}

// String renders a compact DDL-like form, e.g. struct<a:long,b:array<string>>
func (s *StructType) String() string { return typeString(s) }

func typeString(t DataType) string {
	switch nt := t.(type) {
	case *StructType:
		parts := make([]string, len(nt.Fields))
		for i, f := range nt.Fields {
			parts[i] = f.Name + ":" + typeString(f.Type)
		}
		return "struct<" + strings.Join(parts, ",") + ">"
	case *ArrayType:
		return "array<" + typeString(nt.ElementType) + ">"
	default:
		return t.TypeName()
	}
}
