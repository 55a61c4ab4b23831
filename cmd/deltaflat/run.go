package main

import (
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflat/internal/pipeline"
	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/json"
	"github.com/ajitpratap0/deltaflat/pkg/metrics"
	"github.com/ajitpratap0/deltaflat/pkg/models"
	"github.com/ajitpratap0/deltaflat/pkg/storage"
)

func (a *app) runCmd() *cobra.Command {
	var cpuProfile, input string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the build, flatten, write, read back and delete demo",
		Long: `Run builds the sample employee records, loads them into a DataFrame,
flattens Payload.Department, writes the result to the table with the
configured save mode, reads it back, lists its files and finally deletes it
(unless --keep is given).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cpuProfile != "" {
				stop, err := startCPUProfile(cpuProfile)
				if err != nil {
					return err
				}
				defer stop()
			}
			return a.run(cmd, input)
		},
	}

	f := cmd.Flags()
	f.Bool("keep", false, "keep the table instead of deleting it at the end")
	f.String("mode", "", "save mode (errorifexists, append, overwrite, ignore)")
	f.Bool("overwrite-schema", false, "replace the table schema on overwrite")
	f.Bool("merge-schema", false, "evolve the table schema with new columns")
	f.String("compression", "", "parquet codec (snappy, gzip, zstd, lz4, brotli, none)")
	f.Int("max-rows-per-file", 0, "split data files after this many rows")
	f.String("name", "", "catalog name of the table")
	f.String("metrics-file", "", "write Prometheus metrics to this file after the run")
	f.Bool("trace", false, "export spans to stderr or observability.tracing.output")
	f.StringVar(&cpuProfile, "cpuprofile", "", "write a CPU profile to this file")
	f.StringVar(&input, "input", "", "read employee records from this JSON array file instead of the samples")

	for key, flag := range map[string]string{
		"table.keep_table":              "keep",
		"table.mode":                    "mode",
		"table.overwrite_schema":        "overwrite-schema",
		"table.merge_schema":            "merge-schema",
		"table.compression":             "compression",
		"table.max_rows_per_file":       "max-rows-per-file",
		"table.name":                    "name",
		"observability.metrics_file":    "metrics-file",
		"observability.tracing.enabled": "trace",
	} {
		_ = a.v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

func (a *app) run(cmd *cobra.Command, input string) error {
	ctx := cmd.Context()
	var records []models.Record
	if input != "" {
		var err error
		if records, err = loadRecords(input); err != nil {
			return err
		}
	}

	stopTracing := a.startTracing(ctx)
	defer stopTracing()

	store, err := storage.Open(ctx, a.cfg.Table.URI, a.cfg.StorageOptions(a.logger))
	if err != nil {
		return err
	}
	defer store.Close()

	cat, err := a.openCatalog(ctx)
	if err != nil {
		return err
	}
	defer cat.Close()

	p := pipeline.NewDemoPipeline(a.cfg, store, cat, a.logger)
	if records != nil {
		p.SetRecords(records)
	}
	out := cmd.OutOrStdout()
	p.SetOutput(out)

	res, runErr := p.Run(ctx)
	if res != nil && res.Commit != nil {
		fmt.Fprintf(out, "\ncommitted version %d (%s): %d rows in %d files, %d files removed\n",
			res.Commit.Version, res.Commit.Operation, res.Commit.RowsWritten,
			res.Commit.FilesAdded, res.Commit.FilesRemoved)
	}
	if res != nil {
		for _, s := range pipeline.Stages {
			if d, ok := res.Durations[s]; ok {
				fmt.Fprintf(out, "  %-8s %s\n", s, d)
			}
		}
		if res.Kept {
			fmt.Fprintf(out, "table kept at %s\n", store.URI())
		} else if res.Deleted > 0 {
			fmt.Fprintf(out, "table deleted (%d objects)\n", res.Deleted)
		}
	}

	if path := a.cfg.Observability.MetricsFile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("failed to write metrics file", zap.String("path", path), zap.Error(err))
		}
	}
	return runErr
}

// loadRecords reads a JSON array of employee events
func loadRecords(path string) ([]models.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read input records").
			WithDetail("path", path)
	}
	var records []models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed input records").
			WithDetail("path", path)
	}
	return records, nil
}

func startCPUProfile(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "could not create CPU profile")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "could not start CPU profile")
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}, nil
}
