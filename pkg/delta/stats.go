package delta

import (
	"github.com/ajitpratap0/deltaflat/pkg/frame"
	"github.com/ajitpratap0/deltaflat/pkg/json"
	"github.com/ajitpratap0/deltaflat/pkg/schema"
)

// statsStringPrefix bounds string min/max values, like Delta's
// dataSkippingStringPrefixLength
const statsStringPrefix = 32

// collectStats computes data-skipping statistics for the top-level
// primitive columns of one file.
func collectStats(s *schema.StructType, rows []frame.Row) Stats {
	st := Stats{
		NumRecords: int64(len(rows)),
		MinValues:  map[string]any{},
		MaxValues:  map[string]any{},
		NullCount:  map[string]int64{},
	}

	for i, f := range s.Fields {
		pt, ok := f.Type.(schema.PrimitiveType)
		if !ok {
			continue
		}

		var nulls int64
		var lo, hi any
		for _, r := range rows {
			v := r[i]
			if v == nil {
				nulls++
				continue
			}
			if lo == nil || less(pt, v, lo) {
				lo = v
			}
			if hi == nil || less(pt, hi, v) {
				hi = v
			}
		}
		st.NullCount[f.Name] = nulls

		// booleans carry null counts only
		if pt == schema.BooleanType || lo == nil {
			continue
		}
		if pt == schema.StringType {
			lo = truncateString(lo.(string))
			hi = truncateString(hi.(string))
		}
		st.MinValues[f.Name] = lo
		st.MaxValues[f.Name] = hi
	}
	return st
}

func less(t schema.PrimitiveType, a, b any) bool {
	switch t {
	case schema.LongType:
		return a.(int64) < b.(int64)
	case schema.DoubleType:
		return a.(float64) < b.(float64)
	case schema.StringType:
		return a.(string) < b.(string)
	}
	return false
}

func truncateString(s string) string {
	r := []rune(s)
	if len(r) <= statsStringPrefix {
		return s
	}
	return string(r[:statsStringPrefix])
}

func (s Stats) encode() string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(data)
}
