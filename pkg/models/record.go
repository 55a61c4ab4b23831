// Package models defines the employee event records the demo pipeline
// builds, and the flat row shape it produces.
//
// A Record nests a Payload which holds a list of departments:
//
//	{"EventID": 1, "Payload": {"EmpId": "A01", "IsPermanent": true,
//	  "Department": [{"DepartmentID": "D1", "DepartmentName": "Data Science"}]}}
//
// Flattening yields one FlattenedRow per (EventID, DepartmentRef) pair.
package models

import (
	"fmt"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/frame"
	"github.com/ajitpratap0/deltaflat/pkg/schema"
)

// Record is a single employee event
type Record struct {
	// EventID identifies the event
	EventID int64 `json:"EventID"`

	// Payload carries the employee details
	Payload Payload `json:"Payload"`
}

// Payload describes one employee
type Payload struct {
	EmpId       string          `json:"EmpId"` //nolint:revive // external field name
	IsPermanent bool            `json:"IsPermanent"`
	Department  []DepartmentRef `json:"Department"`
}

// DepartmentRef names a department an employee belongs to
type DepartmentRef struct {
	DepartmentID   string `json:"DepartmentID"`
	DepartmentName string `json:"DepartmentName"`
}

// FlattenedRow is one (event, department) pair
type FlattenedRow struct {
	EventID        int64  `json:"EventID"`
	EmpId          string `json:"EmpId"` //nolint:revive // external field name
	IsPermanent    bool   `json:"IsPermanent"`
	DepartmentID   string `json:"DepartmentID"`
	DepartmentName string `json:"DepartmentName"`
}

// String renders the row in a compact form used in logs and test failures
func (r FlattenedRow) String() string {
	return fmt.Sprintf("%d/%s/%t/%s/%s", r.EventID, r.EmpId, r.IsPermanent, r.DepartmentID, r.DepartmentName)
}

// SampleRecords returns the four demo employee events.
func SampleRecords() []Record {
	dataScience := DepartmentRef{DepartmentID: "D1", DepartmentName: "Data Science"}
	application := DepartmentRef{DepartmentID: "D2", DepartmentName: "Application"}

	return []Record{
		{EventID: 1, Payload: Payload{EmpId: "A01", IsPermanent: true, Department: []DepartmentRef{dataScience}}},
		{EventID: 2, Payload: Payload{EmpId: "A02", IsPermanent: false, Department: []DepartmentRef{application}}},
		{EventID: 3, Payload: Payload{EmpId: "A03", IsPermanent: true, Department: []DepartmentRef{dataScience}}},
		{EventID: 4, Payload: Payload{EmpId: "A04", IsPermanent: false, Department: []DepartmentRef{application}}},
	}
}

// ExpectedFlattened flattens records directly, without the DataFrame engine.
// Records without departments produce no rows, matching explode.
func ExpectedFlattened(records []Record) []FlattenedRow {
	var out []FlattenedRow
	for _, rec := range records {
		for _, dept := range rec.Payload.Department {
			out = append(out, FlattenedRow{
				EventID:        rec.EventID,
				EmpId:          rec.Payload.EmpId,
				IsPermanent:    rec.Payload.IsPermanent,
				DepartmentID:   dept.DepartmentID,
				DepartmentName: dept.DepartmentName,
			})
		}
	}
	return out
}

// FlattenedSchema is the schema of a flat employee frame
func FlattenedSchema() *schema.StructType {
	return schema.NewStruct(
		schema.Field("EventID", schema.LongType),
		schema.Field("EmpId", schema.StringType),
		schema.Field("IsPermanent", schema.BooleanType),
		schema.Field("DepartmentID", schema.StringType),
		schema.Field("DepartmentName", schema.StringType),
	)
}

// FlattenedRowsFromFrame converts a flat DataFrame into typed rows. Columns
// are looked up by name, so their order does not matter; extra columns are
// ignored. Null values become zero values.
func FlattenedRowsFromFrame(df *frame.DataFrame) ([]FlattenedRow, error) {
	s := df.Schema()
	cols := FlattenedSchema()

	idx := make([]int, len(cols.Fields))
	for i, want := range cols.Fields {
		j, err := s.FieldIndex(want.Name)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSchema, "frame is not a flattened employee frame")
		}
		if got := s.Fields[j].Type; got != want.Type {
			return nil, errors.Newf(errors.ErrorTypeSchema,
				"column %s has type %s, expected %s", want.Name, got.TypeName(), want.Type.TypeName())
		}
		idx[i] = j
	}

	rows := df.Rows()
	out := make([]FlattenedRow, len(rows))
	for n, r := range rows {
		out[n] = FlattenedRow{
			EventID:        asInt64(r[idx[0]]),
			EmpId:          asString(r[idx[1]]),
			IsPermanent:    asBool(r[idx[2]]),
			DepartmentID:   asString(r[idx[3]]),
			DepartmentName: asString(r[idx[4]]),
		}
	}
	return out, nil
}

func asInt64(v any) int64 {
	i, _ := v.(int64)
	return i
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
