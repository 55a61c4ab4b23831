package config_test

import (
	"fmt"
	"log"

	"github.com/ajitpratap0/deltaflat/pkg/config"
)

// ExampleDefault shows the defaults of the employee demo
func ExampleDefault() {
	cfg := config.Default()

	fmt.Printf("Table: %s\n", cfg.Table.URI)
	fmt.Printf("Mode: %s\n", cfg.Table.Mode)
	fmt.Printf("Overwrite schema: %v\n", cfg.Table.OverwriteSchema)
	fmt.Printf("Compression: %s\n", cfg.Table.Compression)

	// Output:
	// Table: mem://employee_tbl
	// Mode: overwrite
	// Overwrite schema: true
	// Compression: snappy
}

// ExampleConfig_Validate shows how to validate a configuration
// before using it.
func ExampleConfig_Validate() {
	cfg := config.Default()

	// Write to S3 instead, appending
	cfg.Table.URI = "s3://lake/bronze/employee_tbl"
	cfg.Table.Mode = "append"
	cfg.Table.OverwriteSchema = false
	cfg.Table.MergeSchema = true
	cfg.Storage.Region = "eu-west-1"

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("Configuration is valid!")
	fmt.Println(cfg.WriteOptions().Mode)

	// Output:
	// Configuration is valid!
	// Append
}

// ExampleConfig_WriteOptions shows the mapping to delta write options
func ExampleConfig_WriteOptions() {
	cfg := config.Default()
	cfg.Table.Compression = "zstd"
	cfg.Table.MaxRowsPerFile = 100000

	opts := cfg.WriteOptions()
	fmt.Printf("Mode: %s\n", opts.Mode)
	fmt.Printf("Compression: %s\n", opts.Compression)
	fmt.Printf("Max rows per file: %d\n", opts.MaxRowsPerFile)

	// Output:
	// Mode: Overwrite
	// Compression: zstd
	// Max rows per file: 100000
}
