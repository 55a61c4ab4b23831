package schema

import (
	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

// ChangeType represents the type of schema change
type ChangeType string

const (
	ChangeTypeAddField    ChangeType = "ADD_FIELD"
	ChangeTypeRemoveField ChangeType = "REMOVE_FIELD"
	ChangeTypeModifyType  ChangeType = "MODIFY_TYPE"
)

// SchemaChange represents a single difference between two schemas
type SchemaChange struct {
	Type    ChangeType
	Field   string // dotted path
	OldType DataType
	NewType DataType
}

// Diff lists the changes needed to go from old to new. Fields are matched by
// name; nested structs are compared recursively.
func Diff(old, new *StructType) []SchemaChange {
	return diffStructs("", old, new)
}

func diffStructs(prefix string, old, new *StructType) []SchemaChange {
	var changes []SchemaChange
	oldByName := make(map[string]StructField, len(old.Fields))
	for _, f := range old.Fields {
		oldByName[f.Name] = f
	}
	seen := make(map[string]bool, len(new.Fields))

	for _, nf := range new.Fields {
		path := prefix + nf.Name
		seen[nf.Name] = true
		of, ok := oldByName[nf.Name]
		if !ok {
			changes = append(changes, SchemaChange{Type: ChangeTypeAddField, Field: path, NewType: nf.Type})
			continue
		}
		oldStruct, oIsStruct := of.Type.(*StructType)
		newStruct, nIsStruct := nf.Type.(*StructType)
		if oIsStruct && nIsStruct {
			changes = append(changes, diffStructs(path+".", oldStruct, newStruct)...)
			continue
		}
		if !Equal(of.Type, nf.Type) {
			changes = append(changes, SchemaChange{Type: ChangeTypeModifyType, Field: path, OldType: of.Type, NewType: nf.Type})
		}
	}

	for _, of := range old.Fields {
		if !seen[of.Name] {
			changes = append(changes, SchemaChange{Type: ChangeTypeRemoveField, Field: prefix + of.Name, OldType: of.Type})
		}
	}
	return changes
}

// MergeForWrite computes the table schema after an append with schema
// merging: existing fields keep their position and type, new fields are
// appended at the end. Type changes are rejected.
func MergeForWrite(table, incoming *StructType) (*StructType, error) {
	for _, c := range Diff(table, incoming) {
		if c.Type == ChangeTypeModifyType {
			return nil, errors.Newf(errors.ErrorTypeSchema,
				"failed to merge field %q: incompatible types %s and %s",
				c.Field, c.OldType.TypeName(), c.NewType.TypeName())
		}
	}
	return mergeInOrder(table, incoming), nil
}

func mergeInOrder(table, incoming *StructType) *StructType {
	out := &StructType{Fields: make([]StructField, 0, len(table.Fields))}
	inByName := make(map[string]StructField, len(incoming.Fields))
	for _, f := range incoming.Fields {
		inByName[f.Name] = f
	}
	for _, tf := range table.Fields {
		if nf, ok := inByName[tf.Name]; ok {
			ts, tIsStruct := tf.Type.(*StructType)
			ns, nIsStruct := nf.Type.(*StructType)
			if tIsStruct && nIsStruct {
				tf = StructField{Name: tf.Name, Type: mergeInOrder(ts, ns), Nullable: tf.Nullable || nf.Nullable}
			}
		}
		out.Fields = append(out.Fields, tf)
	}
	present := make(map[string]bool, len(table.Fields))
	for _, f := range table.Fields {
		present[f.Name] = true
	}
	for _, nf := range incoming.Fields {
		if !present[nf.Name] {
			nf.Nullable = true
			out.Fields = append(out.Fields, nf)
		}
	}
	return out
}
