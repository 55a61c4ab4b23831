package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/deltaflat/pkg/delta"
	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	opts := cfg.WriteOptions()
	assert.Equal(t, delta.SaveModeOverwrite, opts.Mode)
	assert.True(t, opts.OverwriteSchema)
	assert.Equal(t, "employee_tbl", opts.Name)
	assert.Len(t, cfg.TableOptions(nil), 2)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing uri", func(c *Config) { c.Table.URI = "" }},
		{"bad scheme", func(c *Config) { c.Table.URI = "ftp://host/table" }},
		{"bad mode", func(c *Config) { c.Table.Mode = "upsert" }},
		{"bad codec", func(c *Config) { c.Table.Compression = "lzo" }},
		{"overwrite and merge", func(c *Config) { c.Table.MergeSchema = true }},
		{"negative rows", func(c *Config) { c.Table.MaxRowsPerFile = -1 }},
		{"negative concurrency", func(c *Config) { c.Table.Concurrency = -2 }},
		{"negative attempts", func(c *Config) { c.Table.MaxCommitAttempts = -1 }},
		{"small part size", func(c *Config) { c.Storage.PartSize = 1024 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"sampling rate", func(c *Config) { c.Observability.Tracing.SamplingRate = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("DELTAFLAT_TEST_BUCKET", "lake")
	path := filepath.Join(t.TempDir(), "deltaflat.yaml")
	content := `
table:
  uri: s3://${DELTAFLAT_TEST_BUCKET}/bronze/employee_tbl
  mode: append
  overwrite_schema: false
  merge_schema: true
  compression: ${DELTAFLAT_TEST_CODEC:-zstd}
storage:
  region: eu-west-1
  use_path_style: true
catalog:
  dsn: ${DELTAFLAT_TEST_UNSET}
logging:
  level: debug
observability:
  tracing:
    enabled: true
    batch_timeout: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3://lake/bronze/employee_tbl", cfg.Table.URI)
	assert.Equal(t, "append", cfg.Table.Mode)
	assert.True(t, cfg.Table.MergeSchema)
	assert.Equal(t, "zstd", cfg.Table.Compression)
	assert.Equal(t, "eu-west-1", cfg.Storage.Region)
	assert.True(t, cfg.Storage.UsePathStyle)
	assert.Empty(t, cfg.Catalog.DSN)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Observability.Tracing.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Observability.Tracing.BatchTimeout)

	// untouched keys keep their defaults
	assert.Equal(t, "employee_tbl", cfg.Table.Name)
	assert.Equal(t, 20, cfg.Table.ShowRows)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("table:\n  colour: blue\n"), 0o600))
	_, err = Load(unknown)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("table:\n  mode: sideways\n"), 0o600))
	_, err = Load(invalid)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	cfg, err := Load(empty)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Table.URI = "gs://bucket/tables/employees"
	cfg.Catalog.DSN = "postgres://localhost/meta"
	cfg.Observability.MetricsFile = "/tmp/deltaflat.prom"

	require.NoError(t, Save(path, cfg))
	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("DF_A", "alpha")
	t.Setenv("DF_EMPTY", "")

	assert.Equal(t, "x=alpha", substituteEnvVars("x=${DF_A}"))
	assert.Equal(t, "x=", substituteEnvVars("x=${DF_NOT_SET_ANYWHERE}"))
	assert.Equal(t, "x=dflt", substituteEnvVars("x=${DF_EMPTY:-dflt}"))
	assert.Equal(t, "x=alpha-alpha", substituteEnvVars("x=${DF_A}-${DF_A:-z}"))
	assert.Equal(t, "x=${open", substituteEnvVars("x=${open"))
	assert.Equal(t, "x=$alpha", substituteEnvVars("x=$${DF_A}"))
}
