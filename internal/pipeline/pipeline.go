// Package pipeline runs the employee flattening demo end to end.
//
// # Stages
//
//   - Build: construct the sample nested records
//   - Ingest: serialize them to JSON and load a DataFrame with schema inference
//   - Flatten: two projections, the second after exploding Payload.Department
//   - Persist: overwrite the Delta table, replacing its schema
//   - Verify: read the table back, compare rows and list its files
//   - Cleanup: delete the table and confirm it is gone
//
// Every stage is logged, traced and timed.
//
// # Basic Usage
//
//	store, _ := storage.Open(ctx, cfg.Table.URI, cfg.StorageOptions(logger))
//	p := pipeline.NewDemoPipeline(cfg, store, catalog.NewMemory(), logger)
//	res, err := p.Run(ctx)
package pipeline

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflat/pkg/catalog"
	"github.com/ajitpratap0/deltaflat/pkg/config"
	"github.com/ajitpratap0/deltaflat/pkg/delta"
	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/frame"
	"github.com/ajitpratap0/deltaflat/pkg/json"
	"github.com/ajitpratap0/deltaflat/pkg/logger"
	"github.com/ajitpratap0/deltaflat/pkg/metrics"
	"github.com/ajitpratap0/deltaflat/pkg/models"
	"github.com/ajitpratap0/deltaflat/pkg/observability"
	"github.com/ajitpratap0/deltaflat/pkg/schema"
	"github.com/ajitpratap0/deltaflat/pkg/storage"
)

// Stage names a pipeline step; it labels spans, metrics and log lines
type Stage string

const (
	StageBuild   Stage = "build"
	StageIngest  Stage = "ingest"
	StageFlatten Stage = "flatten"
	StagePersist Stage = "persist"
	StageVerify  Stage = "verify"
	StageCleanup Stage = "cleanup"
)

// Stages lists the stages in execution order
var Stages = []Stage{StageBuild, StageIngest, StageFlatten, StagePersist, StageVerify, StageCleanup}

// Result collects what each stage produced
type Result struct {
	JobID string

	Records   []models.Record
	InputJSON []byte

	Nested          *frame.DataFrame
	InferredSchema  *schema.StructType
	FlattenedSchema *schema.StructType
	Flattened       *frame.DataFrame
	Rows            []models.FlattenedRow

	Commit   *delta.CommitResult
	ReadBack *frame.DataFrame
	Files    []storage.ObjectInfo
	LogFiles []storage.ObjectInfo
	Verified bool

	// Deleted is the number of objects removed by cleanup; zero when the
	// table was kept.
	Deleted int
	Kept    bool

	Durations map[Stage]time.Duration
}

// DemoPipeline wires the stages to a table location and an optional
// catalog
type DemoPipeline struct {
	cfg     *config.Config
	store   storage.Store
	table   *delta.Table
	catalog catalog.Catalog
	logger  *zap.Logger
	out     io.Writer
	records []models.Record

	// monitor is nil when the platform cannot report process usage
	monitor *metrics.ResourceMonitor
}

// NewDemoPipeline creates a pipeline writing to store. cat may be nil.
func NewDemoPipeline(cfg *config.Config, store storage.Store, cat catalog.Catalog, l *zap.Logger) *DemoPipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	if l == nil {
		l = zap.NewNop()
	}
	l = l.With(zap.String("component", "pipeline"))

	monitor, err := metrics.NewResourceMonitor()
	if err != nil {
		l.Debug("resource monitoring disabled", zap.Error(err))
	}

	return &DemoPipeline{
		cfg:     cfg,
		store:   store,
		table:   delta.Open(store, cfg.TableOptions(l.With(zap.String("component", "delta")))...),
		catalog: cat,
		logger:  l,
		out:     io.Discard,
		records: models.SampleRecords(),
		monitor: monitor,
	}
}

// SetOutput makes the pipeline print frames, schemas and listings to w, the
// way the notebook displays them
func (p *DemoPipeline) SetOutput(w io.Writer) { p.out = w }

// SetRecords replaces the sample records built by the Build stage
func (p *DemoPipeline) SetRecords(records []models.Record) { p.records = records }

// Table returns the Delta table the pipeline writes
func (p *DemoPipeline) Table() *delta.Table { return p.table }

// Run executes all stages in order and stops at the first failure. The
// partial Result is returned alongside the error.
func (p *DemoPipeline) Run(ctx context.Context) (res *Result, err error) {
	res = &Result{
		JobID:     uuid.NewString(),
		Kept:      p.cfg.Table.KeepTable,
		Durations: make(map[Stage]time.Duration, len(Stages)),
	}
	ctx = logger.ContextWithJobID(ctx, res.JobID)
	ctx = logger.ContextWithTable(ctx, p.store.URI())
	log := logger.FromContext(ctx, p.logger)

	ctx, span := observability.StartSpan(ctx, "pipeline.run",
		attribute.String("job_id", res.JobID),
		attribute.String("table", p.store.URI()))
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	log.Info("starting pipeline",
		zap.Int("records", len(p.records)),
		zap.String("mode", p.cfg.Table.Mode),
		zap.Bool("overwrite_schema", p.cfg.Table.OverwriteSchema),
		zap.Bool("keep_table", p.cfg.Table.KeepTable))

	steps := []struct {
		stage Stage
		fn    func(context.Context, *Result) (int, error)
	}{
		{StageBuild, p.build},
		{StageIngest, p.ingest},
		{StageFlatten, p.flatten},
		{StagePersist, p.persist},
		{StageVerify, p.verify},
		{StageCleanup, p.cleanup},
	}
	for _, s := range steps {
		if err := p.runStage(ctx, log, res, s.stage, s.fn); err != nil {
			return res, err
		}
	}

	log.Info("pipeline completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("rows", len(res.Rows)),
		zap.Bool("verified", res.Verified))
	return res, nil
}

func (p *DemoPipeline) runStage(ctx context.Context, log *zap.Logger, res *Result, stage Stage,
	fn func(context.Context, *Result) (int, error)) (err error) {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "pipeline cancelled").WithDetail("stage", string(stage))
	}

	ctx, span := observability.StartSpan(ctx, "pipeline."+string(stage))
	defer func() { observability.EndSpan(span, err) }()

	timer := metrics.NewTimer(string(stage))
	tracker := metrics.NewThroughputTracker(string(stage))
	rows, err := fn(ctx, res)
	elapsed := timer.ObserveDuration()
	res.Durations[stage] = elapsed

	if err != nil {
		log.Error("stage failed", zap.String("stage", string(stage)), zap.Error(err))
		return err
	}

	span.SetAttributes(attribute.Int("rows", rows))
	metrics.RowsProcessed.WithLabelValues(string(stage)).Add(float64(rows))
	tracker.Increment(int64(rows))
	fields := []zap.Field{
		zap.String("stage", string(stage)),
		zap.Int("rows", rows),
		zap.Duration("duration", elapsed),
		zap.Float64("rows_per_second", tracker.GetAndReset()),
	}
	if p.monitor != nil {
		usage := p.monitor.Record(string(stage))
		fields = append(fields, zap.Uint64("rss_bytes", usage.MemoryRSS))
	}
	log.Info("stage completed", fields...)
	return nil
}

func (p *DemoPipeline) build(_ context.Context, res *Result) (int, error) {
	if len(p.records) == 0 {
		return 0, errors.New(errors.ErrorTypeValidation, "no records to process")
	}
	res.Records = p.records
	return len(p.records), nil
}

func (p *DemoPipeline) ingest(_ context.Context, res *Result) (int, error) {
	df, data, err := Ingest(res.Records)
	if err != nil {
		return 0, err
	}
	res.InputJSON = data
	res.InferredSchema = df.Schema()

	p.print(df.PrintSchema)
	p.print(func(w io.Writer) error { return df.Show(w, p.cfg.Table.ShowRows, true) })

	res.Nested = df
	return df.Count(), nil
}

func (p *DemoPipeline) flatten(_ context.Context, res *Result) (int, error) {
	flat, err := Flatten(res.Nested)
	if err != nil {
		return 0, err
	}
	rows, err := models.FlattenedRowsFromFrame(flat)
	if err != nil {
		return 0, err
	}

	res.Flattened = flat
	res.FlattenedSchema = flat.Schema()
	res.Rows = rows

	p.print(func(w io.Writer) error { return flat.Show(w, p.cfg.Table.ShowRows, true) })
	return flat.Count(), nil
}

func (p *DemoPipeline) persist(ctx context.Context, res *Result) (int, error) {
	commit, err := p.table.Write(ctx, res.Flattened, p.cfg.WriteOptions())
	if err != nil {
		return 0, err
	}
	res.Commit = commit

	if p.catalog != nil && p.cfg.Table.Name != "" {
		err := p.catalog.Register(ctx, catalog.Entry{
			Name:     p.cfg.Table.Name,
			Location: p.store.URI(),
			Format:   catalog.DefaultFormat,
		})
		if err != nil {
			return 0, err
		}
	}
	return int(commit.RowsWritten), nil
}

func (p *DemoPipeline) verify(ctx context.Context, res *Result) (int, error) {
	back, err := p.table.Read(ctx)
	if err != nil {
		return 0, err
	}
	res.ReadBack = back

	// appends and skipped writes leave other rows in the table
	c := res.Commit
	if c != nil && !c.Skipped && (c.Created || c.Mode == delta.SaveModeOverwrite) {
		if err := p.compare(res, back); err != nil {
			return 0, err
		}
		res.Verified = true
	} else {
		p.logger.Info("row comparison skipped", zap.Int("rows", back.Count()))
	}

	files, err := p.table.Files(ctx)
	if err != nil {
		return 0, err
	}
	res.Files = files
	for _, f := range files {
		if strings.HasPrefix(f.Key, delta.LogDir+"/") {
			res.LogFiles = append(res.LogFiles, f)
		}
	}

	p.print(func(w io.Writer) error { return back.Show(w, p.cfg.Table.ShowRows, true) })
	p.print(func(w io.Writer) error { return WriteListing(w, p.store.URI(), files) })
	return back.Count(), nil
}

// compare checks the table holds exactly the flattened rows
func (p *DemoPipeline) compare(res *Result, back *frame.DataFrame) error {
	if !frame.EqualRows(res.Flattened, back) {
		return errors.New(errors.ErrorTypeData, "rows read back differ from rows written").
			WithDetail("written", res.Flattened.Count()).
			WithDetail("read", back.Count())
	}

	rows, err := models.FlattenedRowsFromFrame(back)
	if err != nil {
		return err
	}
	if !sameRows(rows, models.ExpectedFlattened(res.Records)) {
		return errors.New(errors.ErrorTypeData, "flattened rows do not match the source records")
	}
	return nil
}

func (p *DemoPipeline) cleanup(ctx context.Context, res *Result) (int, error) {
	if p.cfg.Table.KeepTable {
		p.logger.Info("keeping table", zap.String("table", p.store.URI()))
		return 0, nil
	}

	n, err := p.table.Delete(ctx)
	if err != nil {
		return 0, err
	}
	res.Deleted = n

	if _, err := p.table.Read(ctx); !errors.IsNotFound(err) {
		if err == nil {
			return n, errors.New(errors.ErrorTypeInternal, "table is still readable after delete")
		}
		return n, err
	}

	if p.catalog != nil && p.cfg.Table.Name != "" {
		if err := p.catalog.Drop(ctx, p.cfg.Table.Name); err != nil && !errors.IsNotFound(err) {
			return n, err
		}
	}
	return n, nil
}

func (p *DemoPipeline) print(fn func(io.Writer) error) {
	if err := fn(p.out); err != nil {
		p.logger.Warn("failed to write output", zap.Error(err))
	}
}

// Ingest serializes records to a JSON array and loads it as a DataFrame
func Ingest(records []models.Record) (*frame.DataFrame, []byte, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode records")
	}
	df, err := frame.ReadJSON(data)
	if err != nil {
		return nil, nil, err
	}
	return df, data, nil
}

// Flatten explodes Payload.Department and lifts every nested field to a
// top-level column
func Flatten(df *frame.DataFrame) (*frame.DataFrame, error) {
	exploded, err := df.SelectExpr(
		"EventID",
		"Payload.EmpId",
		"Payload.IsPermanent",
		"explode(Payload.Department) as Department",
	)
	if err != nil {
		return nil, err
	}
	return exploded.SelectExpr(
		"EventID",
		"EmpId",
		"IsPermanent",
		"Department.DepartmentID",
		"Department.DepartmentName",
	)
}

// WriteListing prints objects like a file system listing: path, size and
// modification time, one row per object sorted by key
func WriteListing(w io.Writer, root string, objects []storage.ObjectInfo) error {
	sorted := append([]storage.ObjectInfo(nil), objects...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	table := tablewriter.NewWriter(&b)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"path", "size", "modificationTime"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT})

	prefix := strings.TrimSuffix(root, "/") + "/"
	for _, o := range sorted {
		table.Append([]string{
			prefix + o.Key,
			strconv.FormatInt(o.Size, 10),
			o.ModTime.UTC().Format(time.RFC3339),
		})
	}
	table.Render()
	_, err := io.WriteString(w, b.String())
	return err
}

func sameRows(a, b []models.FlattenedRow) bool {
	if len(a) != len(b) {
		return false
	}
	ka := make([]string, len(a))
	kb := make([]string, len(b))
	for i := range a {
		ka[i] = a[i].String()
		kb[i] = b[i].String()
	}
	sort.Strings(ka)
	sort.Strings(kb)
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}
