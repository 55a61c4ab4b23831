// Package deltaflat flattens nested JSON employee events into a Delta Lake
// table and reads them back.
//
// The demo follows a notebook workflow: build nested records, load them
// into a DataFrame with schema inference, explode the Payload.Department
// array into one row per department, overwrite a Delta table (replacing its
// schema), read the table back, list its files and delete it.
//
// # Architecture
//
// Packages are layered bottom-up:
//
//   - pkg/schema: Delta/Spark data types, inference merging, schema evolution
//   - pkg/frame: an immutable DataFrame with JSON ingestion, select/explode
//     projections and printSchema/show rendering
//   - pkg/storage: object stores rooted at a table location (local, S3, GCS, memory)
//   - pkg/delta: the transaction log, parquet data files via Apache Arrow,
//     optimistic commits, save modes, time travel, history and vacuum
//   - pkg/catalog: an optional name to location registry backed by PostgreSQL
//   - internal/pipeline: the staged demo run
//   - cmd/deltaflat: the command line interface
//
// Ambient concerns live in pkg/config (YAML with environment substitution),
// pkg/logger (zap), pkg/metrics (Prometheus), pkg/observability
// (OpenTelemetry) and pkg/errors (typed errors).
//
// # Quick Start
//
//	import (
//	    "context"
//
//	    "github.com/ajitpratap0/deltaflat/internal/pipeline"
//	    "github.com/ajitpratap0/deltaflat/pkg/config"
//	    "github.com/ajitpratap0/deltaflat/pkg/storage"
//	)
//
//	func main() {
//	    ctx := context.Background()
//	    cfg := config.Default()
//	    store, err := storage.Open(ctx, cfg.Table.URI, cfg.StorageOptions(nil))
//	    if err != nil {
//	        panic(err)
//	    }
//	    res, err := pipeline.NewDemoPipeline(cfg, store, nil, nil).Run(ctx)
//	    if err != nil {
//	        panic(err)
//	    }
//	    fmt.Println(res.Commit.Version, res.Verified)
//	}
//
// # Command Line
//
//	deltaflat run --table /tmp/tables/employee_tbl --keep
//	deltaflat show /tmp/tables/employee_tbl
//	deltaflat history /tmp/tables/employee_tbl
//	deltaflat rm /tmp/tables/employee_tbl
//
// Every setting can also come from a YAML file (--config) or from
// DELTAFLAT_* environment variables, e.g. DELTAFLAT_TABLE_URI.
package deltaflat
