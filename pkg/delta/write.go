package delta

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/frame"
	"github.com/ajitpratap0/deltaflat/pkg/metrics"
	"github.com/ajitpratap0/deltaflat/pkg/observability"
	"github.com/ajitpratap0/deltaflat/pkg/pool"
	"github.com/ajitpratap0/deltaflat/pkg/schema"
)

// SaveMode decides what Write does when the table already exists
type SaveMode int

const (
	// SaveModeErrorIfExists fails if the table exists
	SaveModeErrorIfExists SaveMode = iota
	// SaveModeAppend adds rows to the table
	SaveModeAppend
	// SaveModeOverwrite replaces all rows
	SaveModeOverwrite
	// SaveModeIgnore does nothing if the table exists
	SaveModeIgnore
)

// String returns the mode name recorded in commitInfo
func (m SaveMode) String() string {
	switch m {
	case SaveModeAppend:
		return "Append"
	case SaveModeOverwrite:
		return "Overwrite"
	case SaveModeIgnore:
		return "Ignore"
	default:
		return "ErrorIfExists"
	}
}

// ParseSaveMode accepts the Spark mode names, case-insensitively
func ParseSaveMode(s string) (SaveMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error", "errorifexists", "default":
		return SaveModeErrorIfExists, nil
	case "append":
		return SaveModeAppend, nil
	case "overwrite":
		return SaveModeOverwrite, nil
	case "ignore":
		return SaveModeIgnore, nil
	}
	return SaveModeErrorIfExists, errors.Newf(errors.ErrorTypeConfig, "unknown save mode %q", s)
}

// WriteOptions controls a Write
type WriteOptions struct {
	Mode SaveMode

	// OverwriteSchema replaces the table schema on overwrite
	OverwriteSchema bool

	// MergeSchema adds new columns to the table schema on append or overwrite
	MergeSchema bool

	// Compression is a parquet codec name; empty means snappy
	Compression string

	// MaxRowsPerFile splits the data into several files; 0 writes one file
	MaxRowsPerFile int

	// UserMetadata is stored in commitInfo
	UserMetadata string

	// Configuration sets table properties when the metadata is (re)written
	Configuration map[string]string

	// Name and Description are stored in the table metadata on creation
	Name        string
	Description string

	// AppID and AppVersion make the write idempotent: it is skipped when
	// the table already records AppVersion or later for AppID.
	AppID      string
	AppVersion int64
}

// CommitResult describes a finished Write
type CommitResult struct {
	Version       int64
	Operation     string
	Mode          SaveMode
	FilesAdded    int
	FilesRemoved  int
	RowsWritten   int64
	BytesWritten  int64
	SchemaChanged bool
	Created       bool
	// Skipped is set when nothing was committed (Ignore on an existing
	// table, or an already applied AppID/AppVersion).
	Skipped  bool
	Attempts int
}

const operationWrite = "WRITE"

// Write stores df in the table according to opts.Mode.
//
// Data files are written first; the commit then claims the next log version
// with PutIfAbsent. If another writer claimed it, the snapshot is re-read,
// the mode and schema checks run again against it, and the commit is
// retried with the same data files.
func (t *Table) Write(ctx context.Context, df *frame.DataFrame, opts WriteOptions) (res *CommitResult, err error) {
	ctx, span := observability.StartSpan(ctx, "delta.write",
		attribute.String("table", t.store.URI()),
		attribute.String("mode", opts.Mode.String()))
	defer func() { observability.EndSpan(span, err) }()

	if df == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "nothing to write")
	}
	codec, err := ParseCodec(opts.Compression)
	if err != nil {
		return nil, err
	}
	if err := validateColumnNames(df.Schema()); err != nil {
		return nil, err
	}

	snap, err := t.latestOrNil(ctx)
	if err != nil {
		return nil, err
	}
	// fail or skip before writing any data file
	if early, err := t.plan(snap, df.Schema(), nil, opts); err != nil || early.result.Skipped {
		if err != nil {
			return nil, err
		}
		return early.result, nil
	}

	added, err := t.writeDataFiles(ctx, df, codec, opts.MaxRowsPerFile)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		p, err := t.plan(snap, df.Schema(), added, opts)
		if err != nil {
			t.discard(ctx, added)
			return nil, err
		}
		if p.result.Skipped {
			t.discard(ctx, added)
			return p.result, nil
		}
		p.result.Attempts = attempt

		data, err := encodeActions(p.actions)
		if err != nil {
			t.discard(ctx, added)
			return nil, err
		}
		err = t.store.PutIfAbsent(ctx, versionKey(p.result.Version), data)
		if err == nil {
			metrics.Commits.WithLabelValues(operationWrite, metrics.StatusSuccess).Inc()
			metrics.Files.WithLabelValues("add").Add(float64(p.result.FilesAdded))
			metrics.Files.WithLabelValues("remove").Add(float64(p.result.FilesRemoved))
			metrics.BytesWritten.WithLabelValues("log").Add(float64(len(data)))
			span.SetAttributes(attribute.Int64("version", p.result.Version))

			t.logger.Info("commit succeeded",
				zap.Int64("version", p.result.Version),
				zap.String("mode", opts.Mode.String()),
				zap.Int("files_added", p.result.FilesAdded),
				zap.Int("files_removed", p.result.FilesRemoved),
				zap.Int64("rows", p.result.RowsWritten),
				zap.Bool("schema_changed", p.result.SchemaChanged),
				zap.Int("attempt", attempt))
			return p.result, nil
		}

		if !errors.IsConflict(err) {
			// the commit may or may not have landed, so keep the data files
			metrics.Commits.WithLabelValues(operationWrite, metrics.StatusFailed).Inc()
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to write commit").
				WithDetail("version", p.result.Version)
		}

		metrics.Commits.WithLabelValues(operationWrite, metrics.StatusConflict).Inc()
		t.logger.Warn("commit conflict, retrying",
			zap.Int64("version", p.result.Version),
			zap.Int("attempt", attempt))

		if attempt >= t.maxCommitAttempts {
			t.discard(ctx, added)
			return nil, errors.Wrap(err, errors.ErrorTypeConflict, "concurrent modification").
				WithDetail("attempts", attempt)
		}
		if snap, err = t.latestOrNil(ctx); err != nil {
			t.discard(ctx, added)
			return nil, err
		}
	}
}

type commitPlan struct {
	actions []Action
	result  *CommitResult
}

// plan builds the actions committing added on top of snap. With added ==
// nil it only runs the mode and schema checks.
func (t *Table) plan(snap *Snapshot, incoming *schema.StructType, added []AddFile, opts WriteOptions) (*commitPlan, error) {
	now := t.now().UnixMilli()
	res := &CommitResult{Operation: operationWrite, Mode: opts.Mode}

	var rows, bytes int64
	for _, a := range added {
		if st, err := a.ParseStats(); err == nil && st != nil {
			rows += st.NumRecords
		}
		bytes += a.Size
	}
	res.FilesAdded = len(added)
	res.RowsWritten = rows
	res.BytesWritten = bytes

	info := &CommitInfo{
		Timestamp: now,
		Operation: operationWrite,
		OperationParameters: map[string]string{
			"mode":        opts.Mode.String(),
			"partitionBy": "[]",
		},
		IsolationLevel: "Serializable",
		EngineInfo:     EngineInfo,
		UserMetadata:   opts.UserMetadata,
		TxnID:          uuid.NewString(),
		OperationMetrics: map[string]string{
			"numFiles":       strconv.Itoa(len(added)),
			"numOutputRows":  strconv.FormatInt(rows, 10),
			"numOutputBytes": strconv.FormatInt(bytes, 10),
		},
	}
	actions := []Action{{CommitInfo: info}}

	if snap == nil {
		res.Version = 0
		res.Created = true
		actions = append(actions,
			Action{Protocol: &Protocol{MinReaderVersion: MinReaderVersion, MinWriterVersion: MinWriterVersion}},
			Action{MetaData: newMetadata(incoming, opts, now)},
		)
		return t.finishPlan(actions, added, opts, now, res), nil
	}

	if opts.AppID != "" && snap.TxnVersion(opts.AppID) >= opts.AppVersion {
		res.Version = snap.Version
		res.Skipped = true
		res.FilesAdded, res.RowsWritten, res.BytesWritten = 0, 0, 0
		t.logger.Info("write already applied, skipping",
			zap.String("app_id", opts.AppID),
			zap.Int64("app_version", opts.AppVersion))
		return &commitPlan{result: res}, nil
	}

	res.Version = snap.Version + 1
	readVersion := snap.Version
	info.ReadVersion = &readVersion

	switch opts.Mode {
	case SaveModeErrorIfExists:
		return nil, errors.Newf(errors.ErrorTypeConflict, "table %s already exists", t.store.URI()).
			WithDetail("mode", opts.Mode.String())

	case SaveModeIgnore:
		res.Version = snap.Version
		res.Skipped = true
		res.FilesAdded, res.RowsWritten, res.BytesWritten = 0, 0, 0
		return &commitPlan{result: res}, nil

	case SaveModeAppend:
		info.IsBlindAppend = true
		target, changed, err := reconcileSchema(snap.Schema, incoming, opts.MergeSchema)
		if err != nil {
			return nil, err
		}
		if changed {
			actions = append(actions, Action{MetaData: updatedMetadata(snap.Metadata, target, opts)})
			res.SchemaChanged = true
		}

	case SaveModeOverwrite:
		target := incoming
		changed := !schema.Equal(snap.Schema, incoming)
		if !opts.OverwriteSchema {
			var err error
			if target, changed, err = reconcileSchema(snap.Schema, incoming, opts.MergeSchema); err != nil {
				return nil, err
			}
		}
		if changed || len(opts.Configuration) > 0 {
			actions = append(actions, Action{MetaData: updatedMetadata(snap.Metadata, target, opts)})
			res.SchemaChanged = changed
		}

		ts := now
		for _, f := range snap.Files() {
			actions = append(actions, Action{Remove: &RemoveFile{
				Path:                 f.Path,
				DeletionTimestamp:    &ts,
				DataChange:           true,
				ExtendedFileMetadata: true,
				PartitionValues:      map[string]string{},
				Size:                 f.Size,
			}})
		}
		res.FilesRemoved = len(snap.files)
		info.OperationMetrics["numRemovedFiles"] = strconv.Itoa(res.FilesRemoved)

	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unsupported save mode %d", int(opts.Mode))
	}

	return t.finishPlan(actions, added, opts, now, res), nil
}

func (t *Table) finishPlan(actions []Action, added []AddFile, opts WriteOptions, now int64, res *CommitResult) *commitPlan {
	if opts.AppID != "" {
		actions = append(actions, Action{Txn: &Transaction{AppID: opts.AppID, Version: opts.AppVersion, LastUpdated: &now}})
	}
	for i := range added {
		actions = append(actions, Action{Add: &added[i]})
	}
	return &commitPlan{actions: actions, result: res}
}

func newMetadata(s *schema.StructType, opts WriteOptions, now int64) *Metadata {
	conf := map[string]string{}
	for k, v := range opts.Configuration {
		conf[k] = v
	}
	return &Metadata{
		ID:               uuid.NewString(),
		Name:             opts.Name,
		Description:      opts.Description,
		Format:           Format{Provider: "parquet", Options: map[string]string{}},
		SchemaString:     schemaString(s),
		PartitionColumns: []string{},
		Configuration:    conf,
		CreatedTime:      &now,
	}
}

// updatedMetadata keeps the table identity and replaces the schema, merging
// in any new configuration.
func updatedMetadata(old Metadata, s *schema.StructType, opts WriteOptions) *Metadata {
	md := old
	md.SchemaString = schemaString(s)
	md.Configuration = map[string]string{}
	for k, v := range old.Configuration {
		md.Configuration[k] = v
	}
	for k, v := range opts.Configuration {
		md.Configuration[k] = v
	}
	if md.PartitionColumns == nil {
		md.PartitionColumns = []string{}
	}
	return &md
}

func schemaString(s *schema.StructType) string {
	data, err := s.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}

// reconcileSchema checks incoming against the table schema. Equal schemas
// pass unchanged, as does data that only lacks some top-level columns (they
// read back as null). Anything else needs merge and compatible types.
func reconcileSchema(table, incoming *schema.StructType, merge bool) (*schema.StructType, bool, error) {
	if schema.Equal(table, incoming) {
		return table, false, nil
	}
	changes := schema.Diff(table, incoming)
	if onlyDroppedColumns(changes) {
		return table, false, nil
	}
	if !merge {
		desc := make([]string, len(changes))
		for i, c := range changes {
			desc[i] = string(c.Type) + " " + c.Field
		}
		return nil, false, errors.New(errors.ErrorTypeSchema,
			"a schema mismatch was detected when writing to the Delta table; "+
				"set OverwriteSchema to replace the schema or MergeSchema to add columns").
			WithDetail("table_schema", table.String()).
			WithDetail("data_schema", incoming.String()).
			WithDetail("changes", strings.Join(desc, ", "))
	}

	merged, err := schema.MergeForWrite(table, incoming)
	if err != nil {
		return nil, false, err
	}
	// merging matches names exactly, so EventID and eventid land side by side
	if err := validateColumnNames(merged); err != nil {
		return nil, false, err
	}
	return merged, !schema.Equal(table, merged), nil
}

func onlyDroppedColumns(changes []schema.SchemaChange) bool {
	for _, c := range changes {
		if c.Type != schema.ChangeTypeRemoveField || strings.Contains(c.Field, ".") {
			return false
		}
	}
	return true
}

// validateColumnNames rejects duplicate (case-insensitive) and unstorable
// column names at every nesting level.
func validateColumnNames(s *schema.StructType) error {
	return checkStructNames("", s)
}

const invalidNameChars = " ,;{}()\n\t="

func checkStructNames(prefix string, s *schema.StructType) error {
	seen := make(map[string]string, len(s.Fields))
	for _, f := range s.Fields {
		full := f.Name
		if prefix != "" {
			full = prefix + "." + f.Name
		}
		if f.Name == "" || strings.ContainsAny(f.Name, invalidNameChars) {
			return errors.Newf(errors.ErrorTypeSchema, "invalid column name %q", full)
		}
		lower := strings.ToLower(f.Name)
		if prev, ok := seen[lower]; ok {
			return errors.Newf(errors.ErrorTypeSchema, "duplicate column %q (also %q)", full, prev)
		}
		seen[lower] = full
		if err := checkNestedNames(full, f.Type); err != nil {
			return err
		}
	}
	return nil
}

func checkNestedNames(prefix string, t schema.DataType) error {
	switch nt := t.(type) {
	case *schema.StructType:
		return checkStructNames(prefix, nt)
	case *schema.ArrayType:
		return checkNestedNames(prefix+".element", nt.ElementType)
	}
	return nil
}

// writeDataFiles encodes and uploads the rows of df as parquet files
func (t *Table) writeDataFiles(ctx context.Context, df *frame.DataFrame, c Codec, maxRows int) ([]AddFile, error) {
	rows := df.Rows()
	if len(rows) == 0 {
		return nil, nil
	}
	if maxRows <= 0 {
		maxRows = len(rows)
	}

	var chunks [][]frame.Row
	for start := 0; start < len(rows); start += maxRows {
		end := start + maxRows
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}

	s := df.Schema()
	added := make([]AddFile, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			data, err := encodeParquet(t.mem, s, chunk, c)
			if err != nil {
				return err
			}
			name := partFileName(i, c)
			if err := t.store.Put(gctx, name, data); err != nil {
				return errors.Wrap(err, errors.ErrorTypeFile, "failed to upload data file").WithDetail("path", name)
			}
			added[i] = AddFile{
				Path:             name,
				PartitionValues:  map[string]string{},
				Size:             int64(len(data)),
				ModificationTime: t.now().UnixMilli(),
				DataChange:       true,
				Stats:            collectStats(s, chunk).encode(),
			}
			metrics.BytesWritten.WithLabelValues("data").Add(float64(len(data)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.discard(ctx, added)
		return nil, err
	}

	allocated, _, gets, discarded := pool.Buffers.Stats()
	t.logger.Debug("data files written",
		zap.Int("files", len(added)),
		zap.String("codec", c.Name),
		zap.Int64("buffers_allocated", allocated),
		zap.Int64("buffer_gets", gets),
		zap.Int64("buffers_discarded", discarded))
	return added, nil
}

// discard best-effort deletes data files that no commit references
func (t *Table) discard(ctx context.Context, files []AddFile) {
	for _, f := range files {
		if f.Path == "" {
			continue
		}
		if err := t.store.Delete(ctx, f.Path); err != nil {
			t.logger.Warn("failed to remove orphaned data file", zap.String("path", f.Path), zap.Error(err))
		}
	}
}
