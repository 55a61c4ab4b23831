// Package config holds the deltaflat configuration.
//
// The configuration is organized into sections:
//   - Table: where and how the flattened table is written
//   - Storage: cloud backend options (region, endpoint, credentials)
//   - Catalog: optional PostgreSQL table registry
//   - Logging and Observability: zap, tracing and the metrics textfile
//
// Example usage:
//
//	cfg, err := config.Load("deltaflat.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Table.URI = "s3://lake/bronze/employee_tbl"
package config

import (
	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflat/pkg/delta"
	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/logger"
	"github.com/ajitpratap0/deltaflat/pkg/observability"
	"github.com/ajitpratap0/deltaflat/pkg/storage"
)

// Config is the root configuration
type Config struct {
	Table         TableConfig         `yaml:"table"`
	Storage       storage.Options     `yaml:"storage"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Logging       logger.Config       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// TableConfig describes the target table and the write
type TableConfig struct {
	// URI is the table location: a path, file://, s3://, gs:// or mem://
	URI string `yaml:"uri"`
	// Name registers the table in the catalog
	Name string `yaml:"name"`

	Mode            string `yaml:"mode"`
	OverwriteSchema bool   `yaml:"overwrite_schema"`
	MergeSchema     bool   `yaml:"merge_schema"`
	Compression     string `yaml:"compression"`
	MaxRowsPerFile  int    `yaml:"max_rows_per_file"`

	// Concurrency bounds parallel data file reads and writes
	Concurrency       int `yaml:"concurrency"`
	MaxCommitAttempts int `yaml:"max_commit_attempts"`

	// KeepTable skips the final delete of the demo pipeline
	KeepTable bool `yaml:"keep_table"`
	// ShowRows is how many rows the pipeline prints per stage
	ShowRows int `yaml:"show_rows"`
}

// CatalogConfig configures the table registry. An empty DSN keeps it in
// memory.
type CatalogConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// ObservabilityConfig groups tracing and metrics export
type ObservabilityConfig struct {
	Tracing observability.TracingConfig `yaml:"tracing"`
	// MetricsFile receives a Prometheus textfile after a run
	MetricsFile string `yaml:"metrics_file"`
}

// Default returns the configuration of the notebook demo: an in-memory
// table overwritten with schema replacement.
func Default() *Config {
	return &Config{
		Table: TableConfig{
			URI:               "mem://employee_tbl",
			Name:              "employee_tbl",
			Mode:              "overwrite",
			OverwriteSchema:   true,
			Compression:       delta.DefaultCodec,
			Concurrency:       4,
			MaxCommitAttempts: 5,
			ShowRows:          20,
		},
		Storage: storage.Options{
			PartSize:    8 << 20,
			Concurrency: 4,
		},
		Logging: logger.Config{
			Level:       "info",
			Encoding:    "console",
			OutputPaths: []string{"stderr"},
		},
		Observability: ObservabilityConfig{
			Tracing: observability.DefaultTracingConfig(),
		},
	}
}

// Validate checks the configuration for correctness
func (c *Config) Validate() error {
	if c.Table.URI == "" {
		return errors.New(errors.ErrorTypeConfig, "table.uri is required")
	}
	scheme, _, _, err := storage.ParseURI(c.Table.URI)
	if err != nil {
		return err
	}
	switch scheme {
	case "file", "mem", "s3", "gs":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unsupported table location scheme %q", scheme)
	}
	if _, err := delta.ParseSaveMode(c.Table.Mode); err != nil {
		return err
	}
	if _, err := delta.ParseCodec(c.Table.Compression); err != nil {
		return err
	}
	if c.Table.OverwriteSchema && c.Table.MergeSchema {
		return errors.New(errors.ErrorTypeConfig, "table.overwrite_schema and table.merge_schema are mutually exclusive")
	}
	if c.Table.MaxRowsPerFile < 0 {
		return errors.New(errors.ErrorTypeConfig, "table.max_rows_per_file cannot be negative")
	}
	if c.Table.Concurrency < 0 {
		return errors.New(errors.ErrorTypeConfig, "table.concurrency cannot be negative")
	}
	if c.Table.MaxCommitAttempts < 0 {
		return errors.New(errors.ErrorTypeConfig, "table.max_commit_attempts cannot be negative")
	}
	if c.Storage.PartSize != 0 && c.Storage.PartSize < 5<<20 {
		return errors.New(errors.ErrorTypeConfig, "storage.part_size must be at least 5MiB")
	}
	if c.Logging.Level != "" {
		if _, err := zap.ParseAtomicLevel(c.Logging.Level); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid logging.level")
		}
	}
	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		return errors.New(errors.ErrorTypeConfig, "observability.tracing.sampling_rate must be between 0 and 1")
	}
	return nil
}

// WriteOptions translates the table section into delta write options.
// Call Validate first; an invalid mode falls back to ErrorIfExists.
func (c *Config) WriteOptions() delta.WriteOptions {
	mode, _ := delta.ParseSaveMode(c.Table.Mode)
	return delta.WriteOptions{
		Mode:            mode,
		OverwriteSchema: c.Table.OverwriteSchema,
		MergeSchema:     c.Table.MergeSchema,
		Compression:     c.Table.Compression,
		MaxRowsPerFile:  c.Table.MaxRowsPerFile,
		Name:            c.Table.Name,
	}
}

// TableOptions returns the delta.Table options for this configuration
func (c *Config) TableOptions(l *zap.Logger) []delta.Option {
	opts := []delta.Option{
		delta.WithConcurrency(c.Table.Concurrency),
		delta.WithMaxCommitAttempts(c.Table.MaxCommitAttempts),
	}
	if l != nil {
		opts = append(opts, delta.WithLogger(l))
	}
	return opts
}

// StorageOptions returns the storage options with the logger attached
func (c *Config) StorageOptions(l *zap.Logger) storage.Options {
	opts := c.Storage
	opts.Logger = l
	return opts
}
