package schema

import "sort"

// Merge widens two inferred types into one that can hold values of both.
// Nulls defer to the other side, long and double widen to double, structs
// take the union of their fields (sorted by name), arrays merge their
// element types, and anything else falls back to string.
func Merge(a, b DataType) DataType {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a == NullType {
		return b
	}
	if b == NullType {
		return a
	}

	switch at := a.(type) {
	case PrimitiveType:
		bt, ok := b.(PrimitiveType)
		if !ok {
			return StringType
		}
		if at == bt {
			return at
		}
		if (at == LongType && bt == DoubleType) || (at == DoubleType && bt == LongType) {
			return DoubleType
		}
		return StringType

	case *StructType:
		bt, ok := b.(*StructType)
		if !ok {
			return StringType
		}
		return mergeStructs(at, bt)

	case *ArrayType:
		bt, ok := b.(*ArrayType)
		if !ok {
			return StringType
		}
		return &ArrayType{
			ElementType:  Merge(at.ElementType, bt.ElementType),
			ContainsNull: at.ContainsNull || bt.ContainsNull,
		}
	}
	return StringType
}

func mergeStructs(a, b *StructType) *StructType {
	byName := make(map[string]DataType, len(a.Fields)+len(b.Fields))
	for _, f := range a.Fields {
		byName[f.Name] = f.Type
	}
	for _, f := range b.Fields {
		byName[f.Name] = Merge(byName[f.Name], f.Type)
	}
	return SortedStruct(byName)
}

// SortedStruct builds a struct of nullable fields ordered by name.
func SortedStruct(fields map[string]DataType) *StructType {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &StructType{Fields: make([]StructField, 0, len(names))}
	for _, name := range names {
		out.Fields = append(out.Fields, Field(name, fields[name]))
	}
	return out
}

// Finalize replaces NullType leaves with StringType so an always-null column
// still has a storable type.
func Finalize(t DataType) DataType {
	switch nt := t.(type) {
	case PrimitiveType:
		if nt == NullType {
			return StringType
		}
		return nt
	case *StructType:
		out := &StructType{Fields: make([]StructField, len(nt.Fields))}
		for i, f := range nt.Fields {
			out.Fields[i] = StructField{Name: f.Name, Type: Finalize(f.Type), Nullable: f.Nullable}
		}
		return out
	case *ArrayType:
		return &ArrayType{ElementType: Finalize(nt.ElementType), ContainsNull: nt.ContainsNull}
	case nil:
		return StringType
	}
	return t
}
