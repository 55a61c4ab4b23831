package frame

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/olekukonko/tablewriter"

	"github.com/ajitpratap0/deltaflat/pkg/schema"
)

const truncateWidth = 20

// PrintSchema writes the schema tree
func (df *DataFrame) PrintSchema(w io.Writer) error {
	_, err := io.WriteString(w, df.schema.TreeString())
	return err
}

// Show writes the first n rows as a bordered table. Cells longer than 20
// characters are truncated and everything is right-aligned when truncate is
// set, otherwise cells are left-aligned.
//
//	+---------+-------+
//	| EventID | EmpId |
//	+---------+-------+
//	|       1 |   A01 |
//	+---------+-------+
func (df *DataFrame) Show(w io.Writer, n int, truncate bool) error {
	_, err := io.WriteString(w, df.ShowString(n, truncate))
	return err
}

// ShowString renders what Show writes
func (df *DataFrame) ShowString(n int, truncate bool) string {
	if n < 0 {
		n = 0
	}
	shown := df.rows
	if len(shown) > n {
		shown = shown[:n]
	}

	var b strings.Builder
	table := tablewriter.NewWriter(&b)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	if truncate {
		table.SetHeaderAlignment(tablewriter.ALIGN_RIGHT)
		table.SetAlignment(tablewriter.ALIGN_RIGHT)
	} else {
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
	}
	table.SetHeader(df.schema.Names())
	for _, r := range shown {
		line := make([]string, len(r))
		for i, v := range r {
			line[i] = cellString(FormatValue(v, df.schema.Fields[i].Type), truncate)
		}
		table.Append(line)
	}
	table.Render()

	if len(df.rows) > n {
		fmt.Fprintf(&b, "only showing top %d %s\n", n, plural(n, "row"))
	}
	return b.String()
}

func cellString(s string, truncate bool) string {
	if !truncate || utf8.RuneCountInString(s) <= truncateWidth {
		return s
	}
	runes := []rune(s)
	return string(runes[:truncateWidth-3]) + "..."
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// FormatValue renders a value for display: structs as {a, b}, arrays as
// [x, y] and nulls as null.
func FormatValue(v any, t schema.DataType) string {
	if v == nil {
		return "null"
	}
	switch nt := t.(type) {
	case *schema.StructType:
		r, _ := v.(Row)
		parts := make([]string, len(r))
		for i, item := range r {
			var ft schema.DataType = schema.StringType
			if i < len(nt.Fields) {
				ft = nt.Fields[i].Type
			}
			parts[i] = FormatValue(item, ft)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *schema.ArrayType:
		items, _ := v.([]any)
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = FormatValue(item, nt.ElementType)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}

	switch tv := v.(type) {
	case string:
		return tv
	case int64:
		return strconv.FormatInt(tv, 10)
	case float64:
		if tv == float64(int64(tv)) {
			return strconv.FormatFloat(tv, 'f', 1, 64)
		}
		return strconv.FormatFloat(tv, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(tv)
	}
	return fmt.Sprint(v)
}
