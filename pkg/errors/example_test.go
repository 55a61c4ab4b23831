package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := errors.New(errors.ErrorTypeNotFound, "table has no commits").
		WithDetail("table", "file:///delta/employee_tbl")

	fmt.Println(err.Error())

	// Output:
	// not_found: table has no commits
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeFile, "failed to read parquet footer").
		WithDetail("path", "part-00000.snappy.parquet")

	if errors.IsType(err, errors.ErrorTypeFile) {
		fmt.Println("file error")
	}
	fmt.Println(err)

	// Output:
	// file error
	// file: failed to read parquet footer: unexpected EOF
}

// ExampleIsConflict shows how commit conflicts are detected through wrapping.
func ExampleIsConflict() {
	base := errors.New(errors.ErrorTypeConflict, "version 3 already exists")
	err := errors.Wrap(base, errors.ErrorTypeInternal, "commit failed")

	fmt.Println(errors.IsConflict(err))
	fmt.Println(errors.IsType(base, errors.ErrorTypeConflict))
	fmt.Println(errors.IsNotFound(err))

	// Output:
	// true
	// true
	// false
}
