package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/deltaflat/internal/pipeline"
	"github.com/ajitpratap0/deltaflat/pkg/delta"
	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/frame"
	"github.com/ajitpratap0/deltaflat/pkg/schema"
)

const tableArgs = "[table]"

func (a *app) showCmd() *cobra.Command {
	var (
		version  int64
		limit    int
		truncate bool
	)
	cmd := &cobra.Command{
		Use:   "show " + tableArgs,
		Short: "Print the rows of a table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tbl, err := a.openTable(ctx, args)
			if err != nil {
				return err
			}
			var df *frame.DataFrame
			if cmd.Flags().Changed("version") {
				df, err = tbl.ReadVersion(ctx, version)
			} else {
				df, err = tbl.Read(ctx)
			}
			if err != nil {
				return err
			}
			return df.Show(cmd.OutOrStdout(), limit, truncate)
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "read this table version (time travel)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows to print")
	cmd.Flags().BoolVar(&truncate, "truncate", true, "truncate long cell values")
	return cmd
}

func (a *app) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema " + tableArgs,
		Short: "Print the schema of the latest table version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tbl, err := a.openTable(ctx, args)
			if err != nil {
				return err
			}
			snap, err := tbl.Snapshot(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version %d, %d files, %d rows\n", snap.Version, len(snap.Files()), snap.NumRecords())
			_, err = fmt.Fprint(out, snap.Schema.TreeString())
			return err
		},
	}
}

func (a *app) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls " + tableArgs,
		Short: "List every object under the table root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tbl, err := a.openTable(ctx, args)
			if err != nil {
				return err
			}
			objects, err := tbl.Files(ctx)
			if err != nil {
				return err
			}
			if len(objects) == 0 {
				return errors.Newf(errors.ErrorTypeNotFound, "no objects under %s", tbl.Location())
			}
			return pipeline.WriteListing(cmd.OutOrStdout(), tbl.Location(), objects)
		},
	}
}

var historySchema = schema.NewStruct(
	schema.Field("version", schema.LongType),
	schema.Field("timestamp", schema.StringType),
	schema.Field("operation", schema.StringType),
	schema.Field("parameters", schema.StringType),
	schema.Field("metrics", schema.StringType),
)

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history " + tableArgs,
		Short: "Print the commit history, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tbl, err := a.openTable(ctx, args)
			if err != nil {
				return err
			}
			commits, err := tbl.History(ctx, limit)
			if err != nil {
				return err
			}
			df, err := historyFrame(commits)
			if err != nil {
				return err
			}
			return df.Show(cmd.OutOrStdout(), len(commits), false)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many commits (0 for all)")
	return cmd
}

func historyFrame(commits []delta.CommitInfo) (*frame.DataFrame, error) {
	rows := make([]frame.Row, 0, len(commits))
	for _, c := range commits {
		rows = append(rows, frame.Row{
			c.Version,
			time.UnixMilli(c.Timestamp).UTC().Format(time.RFC3339),
			c.Operation,
			formatPairs(c.OperationParameters),
			formatPairs(c.OperationMetrics),
		})
	}
	return frame.New(historySchema, rows)
}

// formatPairs renders a map as sorted k=v pairs
func formatPairs(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ", ")
}

func (a *app) rmCmd() *cobra.Command {
	var uncatalog bool
	cmd := &cobra.Command{
		Use:   "rm " + tableArgs,
		Short: "Delete a table and every object under its root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tbl, err := a.openTable(ctx, args)
			if err != nil {
				return err
			}
			n, err := tbl.Delete(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				return errors.Newf(errors.ErrorTypeNotFound, "no objects under %s", tbl.Location())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d objects under %s\n", n, tbl.Location())

			if !uncatalog {
				return nil
			}
			name := a.cfg.Table.Name
			if len(args) > 0 && !strings.ContainsAny(args[0], `/\`) && !strings.Contains(args[0], "://") {
				name = args[0]
			}
			cat, err := a.openCatalog(ctx)
			if err != nil {
				return err
			}
			defer cat.Close()
			if err := cat.Drop(ctx, name); err != nil && !errors.IsNotFound(err) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&uncatalog, "uncatalog", false, "also drop the catalog entry")
	return cmd
}

func (a *app) vacuumCmd() *cobra.Command {
	var (
		retention time.Duration
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "vacuum " + tableArgs,
		Short: "Delete data files no longer referenced by the latest version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tbl, err := a.openTable(ctx, args)
			if err != nil {
				return err
			}
			stale, err := tbl.Vacuum(ctx, retention, dryRun)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			verb := "deleted"
			if dryRun {
				verb = "would delete"
			}
			for _, key := range stale {
				fmt.Fprintf(out, "%s %s\n", verb, key)
			}
			fmt.Fprintf(out, "%s %d files\n", verb, len(stale))
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 168*time.Hour, "only delete files older than this")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the files without deleting them")
	return cmd
}
