// Command deltaflat runs the employee flattening demo and inspects the Delta
// tables it writes.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflat/pkg/catalog"
	"github.com/ajitpratap0/deltaflat/pkg/config"
	"github.com/ajitpratap0/deltaflat/pkg/delta"
	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/logger"
	"github.com/ajitpratap0/deltaflat/pkg/observability"
	"github.com/ajitpratap0/deltaflat/pkg/storage"
)

var version = "0.1.0"

// envPrefix prefixes every environment override, e.g. DELTAFLAT_TABLE_URI
const envPrefix = "DELTAFLAT"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries state shared by all subcommands
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "deltaflat",
		Short: "Flatten nested JSON employee events into a Delta table",
		Long: `deltaflat builds nested employee records, loads them into a DataFrame,
flattens Payload.Department with explode, overwrites a Delta table with the
result, reads it back and cleans up.

Tables can live on the local file system, S3 (s3://), GCS (gs://) or in
memory (mem://).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "YAML configuration file")
	pf.String("table", "", "table location (path, file://, s3://, gs:// or mem://)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("catalog-dsn", "", "PostgreSQL DSN of the table catalog")
	_ = a.v.BindPFlag("table.uri", pf.Lookup("table"))
	_ = a.v.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("catalog.dsn", pf.Lookup("catalog-dsn"))

	root.AddCommand(
		a.runCmd(),
		a.showCmd(),
		a.schemaCmd(),
		a.lsCmd(),
		a.historyCmd(),
		a.rmCmd(),
		a.vacuumCmd(),
		a.configCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "deltaflat v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config <file>",
		Short: "Write the effective configuration as YAML",
		Long: `Config resolves the configuration the way every other command does
(flags, then DELTAFLAT_* environment variables, then --config, then
defaults) and saves the result to file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(args[0], a.cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", args[0])
			return nil
		},
	}
}

// setup resolves the configuration (flags > environment > file > defaults)
// and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.cfgFile != "" {
		loaded, err := config.Load(a.cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	a.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.Init(cfg.Logging); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create logger")
	}
	a.logger = logger.With(zap.String("component", "deltaflat-cli"), zap.String("command", cmd.Name()))
	return nil
}

func (a *app) applyOverrides(cfg *config.Config) {
	v := a.v
	if v.IsSet("table.uri") {
		cfg.Table.URI = v.GetString("table.uri")
	}
	if v.IsSet("table.name") {
		cfg.Table.Name = v.GetString("table.name")
	}
	if v.IsSet("table.mode") {
		cfg.Table.Mode = v.GetString("table.mode")
	}
	if v.IsSet("table.overwrite_schema") {
		cfg.Table.OverwriteSchema = v.GetBool("table.overwrite_schema")
	}
	if v.IsSet("table.merge_schema") {
		cfg.Table.MergeSchema = v.GetBool("table.merge_schema")
	}
	if v.IsSet("table.compression") {
		cfg.Table.Compression = v.GetString("table.compression")
	}
	if v.IsSet("table.max_rows_per_file") {
		cfg.Table.MaxRowsPerFile = v.GetInt("table.max_rows_per_file")
	}
	if v.IsSet("table.keep_table") {
		cfg.Table.KeepTable = v.GetBool("table.keep_table")
	}
	if v.IsSet("storage.region") {
		cfg.Storage.Region = v.GetString("storage.region")
	}
	if v.IsSet("storage.endpoint") {
		cfg.Storage.Endpoint = v.GetString("storage.endpoint")
	}
	if v.IsSet("catalog.dsn") {
		cfg.Catalog.DSN = v.GetString("catalog.dsn")
	}
	if v.IsSet("logging.level") {
		cfg.Logging.Level = v.GetString("logging.level")
	}
	if v.IsSet("observability.metrics_file") {
		cfg.Observability.MetricsFile = v.GetString("observability.metrics_file")
	}
	if v.IsSet("observability.tracing.enabled") {
		cfg.Observability.Tracing.Enabled = v.GetBool("observability.tracing.enabled")
	}
	if v.IsSet("observability.tracing.output") {
		cfg.Observability.Tracing.Output = v.GetString("observability.tracing.output")
	}
}

// openTable opens the table named by args, or the configured table.uri
// when args is empty. An argument without a scheme or slash is looked up
// in the catalog.
func (a *app) openTable(ctx context.Context, args []string) (*delta.Table, error) {
	uri := a.cfg.Table.URI
	if len(args) > 0 {
		loc, err := a.resolve(ctx, args[0])
		if err != nil {
			return nil, err
		}
		uri = loc
	}

	store, err := storage.Open(ctx, uri, a.cfg.StorageOptions(a.logger))
	if err != nil {
		return nil, err
	}
	return delta.Open(store, a.cfg.TableOptions(a.logger)...), nil
}

func (a *app) resolve(ctx context.Context, arg string) (string, error) {
	if strings.Contains(arg, "://") || strings.ContainsAny(arg, `/\`) {
		return arg, nil
	}
	cat, err := a.openCatalog(ctx)
	if err != nil {
		return "", err
	}
	defer cat.Close()

	entry, err := cat.Lookup(ctx, arg)
	if err != nil {
		return "", err
	}
	return entry.Location, nil
}

func (a *app) openCatalog(ctx context.Context) (catalog.Catalog, error) {
	return catalog.Open(ctx, catalog.PostgresConfig{
		DSN:      a.cfg.Catalog.DSN,
		MaxConns: a.cfg.Catalog.MaxConns,
	}, a.logger)
}

// startTracing installs the tracer provider when tracing is enabled
func (a *app) startTracing(ctx context.Context) func() {
	tcfg := a.cfg.Observability.Tracing
	if tcfg.ServiceVersion == "" {
		tcfg.ServiceVersion = version
	}
	shutdown, err := observability.Init(ctx, tcfg)
	if err != nil {
		a.logger.Warn("tracing disabled", zap.Error(err))
		return func() {}
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			a.logger.Warn("failed to flush traces", zap.Error(err))
		}
	}
}
