package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/deltaflat/pkg/config"
	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "deltaflat v"+version)
}

func TestRunAndInspect(t *testing.T) {
	uri := "mem://cli_run_and_inspect"

	out, err := execute(t, "run", "--table", uri, "--keep")
	require.NoError(t, err)
	assert.Contains(t, out, "| EventID | EmpId | IsPermanent | DepartmentID | DepartmentName |")
	assert.Contains(t, out, "committed version 0 (WRITE): 4 rows in 1 files, 0 files removed")
	assert.Contains(t, out, "table kept at "+uri)

	// second run overwrites in place
	out, err = execute(t, "run", "--table", uri, "--keep")
	require.NoError(t, err)
	assert.Contains(t, out, "committed version 1 (WRITE): 4 rows in 1 files, 1 files removed")

	out, err = execute(t, "show", uri)
	require.NoError(t, err)
	assert.Contains(t, out, "| EventID | EmpId | IsPermanent | DepartmentID | DepartmentName |")
	assert.Contains(t, out, "A01")

	out, err = execute(t, "show", uri, "--version", "0", "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "only showing top 1 row")

	out, err = execute(t, "schema", uri)
	require.NoError(t, err)
	assert.Contains(t, out, "version 1, 1 files, 4 rows")
	assert.Contains(t, out, " |-- DepartmentName: string (nullable = true)")

	out, err = execute(t, "ls", uri)
	require.NoError(t, err)
	first := strings.Index(out, "| "+uri+"/_delta_log/00000000000000000000.json ")
	second := strings.Index(out, "| "+uri+"/_delta_log/00000000000000000001.json ")
	require.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, second)
	assert.Equal(t, 2, strings.Count(out, ".snappy.parquet "))

	out, err = execute(t, "history", uri)
	require.NoError(t, err)
	assert.Contains(t, out, "mode=Overwrite")
	assert.Contains(t, out, "numOutputRows=4")
	assert.Less(t, strings.Index(out, "| 1       |"), strings.Index(out, "| 0       |"))

	out, err = execute(t, "vacuum", uri, "--retention", "0s", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would delete 1 files")

	out, err = execute(t, "rm", uri)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 4 objects under "+uri)

	_, err = execute(t, "show", uri)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestRunDeletesByDefault(t *testing.T) {
	uri := "mem://cli_run_deletes"
	out, err := execute(t, "run", "--table", uri)
	require.NoError(t, err)
	assert.Contains(t, out, "table deleted (2 objects)")

	_, err = execute(t, "ls", uri)
	assert.True(t, errors.IsNotFound(err))
}

func TestRunLocalTableWithMetricsFile(t *testing.T) {
	dir := t.TempDir()
	tablePath := filepath.Join(dir, "employee_tbl")
	metricsPath := filepath.Join(dir, "deltaflat.prom")

	_, err := execute(t, "run", "--table", tablePath, "--keep",
		"--compression", "gzip", "--metrics-file", metricsPath)
	require.NoError(t, err)

	entries, err := os.ReadDir(tablePath)
	require.NoError(t, err)
	var parquet int
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".gz.parquet") {
			parquet++
		}
	}
	assert.Equal(t, 1, parquet)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "deltaflat_rows_total")
}

func TestRunWithInputRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
	  {"EventID": 7, "Payload": {"EmpId": "B07", "IsPermanent": true, "Department": [
	    {"DepartmentID": "D1", "DepartmentName": "Data Science"},
	    {"DepartmentID": "D3", "DepartmentName": "Finance"}]}},
	  {"EventID": 8, "Payload": {"EmpId": "B08", "IsPermanent": false, "Department": [
	    {"DepartmentID": "D2", "DepartmentName": "Application"}]}}
	]`), 0o600))

	out, err := execute(t, "run", "--table", "mem://cli_input_records", "--input", path)
	require.NoError(t, err)
	assert.Contains(t, out, "committed version 0 (WRITE): 3 rows in 1 files, 0 files removed")
	assert.Contains(t, out, "Finance")

	require.NoError(t, os.WriteFile(path, []byte(`{"EventID": 1}`), 0o600))
	_, err = execute(t, "run", "--table", "mem://cli_input_records", "--input", path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestConfigFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deltaflat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("table:\n  uri: mem://cli_from_file\n  mode: errorifexists\n  overwrite_schema: false\n  keep_table: true\n"), 0o600))

	_, err := execute(t, "run", "--config", path)
	require.NoError(t, err)

	// the table exists now, so errorifexists fails
	_, err = execute(t, "run", "--config", path)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	// environment beats the file, flags beat the environment
	t.Setenv("DELTAFLAT_TABLE_MODE", "append")
	out, err := execute(t, "run", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "committed version 1 (WRITE): 4 rows in 1 files, 0 files removed")

	out, err = execute(t, "run", "--config", path, "--mode", "overwrite")
	require.NoError(t, err)
	assert.Contains(t, out, "committed version 2 (WRITE): 4 rows in 1 files, 2 files removed")

	_, err = execute(t, "rm", "mem://cli_from_file")
	require.NoError(t, err)
}

func TestConfigCommandSavesEffectiveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "effective.yaml")
	t.Setenv("DELTAFLAT_TABLE_COMPRESSION", "zstd")

	out, err := execute(t, "config", path, "--table", "mem://cli_effective")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration written to "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mem://cli_effective", cfg.Table.URI)
	assert.Equal(t, "zstd", cfg.Table.Compression)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := execute(t, "run", "--table", "ftp://host/tbl")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = execute(t, "run", "--table", "mem://cli_invalid", "--mode", "sideways")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestUnknownCatalogName(t *testing.T) {
	_, err := execute(t, "show", "not_registered")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
