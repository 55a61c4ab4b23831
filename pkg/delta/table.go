// Package delta implements a Delta Lake compatible table: parquet data files
// plus a JSON transaction log under _delta_log/.
//
// Each commit is a file _delta_log/NNNNNNNNNNNNNNNNNNNN.json holding one
// action per line (commitInfo, protocol, metaData, add, remove, txn).
// Replaying commits 0..N gives the snapshot at version N: the schema and the
// set of active data files. Commits are created with storage PutIfAbsent, so
// two writers racing for the same version cannot both succeed; the loser
// re-reads the log and retries.
//
//	table := delta.Open(store, delta.WithLogger(logger))
//	res, err := table.Write(ctx, df, delta.WriteOptions{
//	    Mode:            delta.SaveModeOverwrite,
//	    OverwriteSchema: true,
//	})
//	back, err := table.Read(ctx)
package delta

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/frame"
	"github.com/ajitpratap0/deltaflat/pkg/metrics"
	"github.com/ajitpratap0/deltaflat/pkg/observability"
	"github.com/ajitpratap0/deltaflat/pkg/storage"
)

// EngineInfo is recorded in every commitInfo
const EngineInfo = "deltaflat"

const (
	defaultConcurrency       = 4
	defaultMaxCommitAttempts = 5

	// DefaultRetention is how long Vacuum keeps unreferenced files
	DefaultRetention = 7 * 24 * time.Hour
)

// Table is a Delta table rooted at a Store
type Table struct {
	store             storage.Store
	logger            *zap.Logger
	mem               memory.Allocator
	concurrency       int
	maxCommitAttempts int
	now               func() time.Time
}

// Option configures a Table
type Option func(*Table)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(t *Table) { t.logger = l }
}

// WithAllocator sets the Arrow allocator used for parquet encoding and
// decoding
func WithAllocator(mem memory.Allocator) Option {
	return func(t *Table) { t.mem = mem }
}

// WithConcurrency bounds how many data files are written or read at once
func WithConcurrency(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

// WithMaxCommitAttempts bounds optimistic commit retries
func WithMaxCommitAttempts(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.maxCommitAttempts = n
		}
	}
}

// WithClock overrides the time source for commit and file timestamps
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// Open binds a table to store. Nothing is read until the first operation.
func Open(store storage.Store, opts ...Option) *Table {
	t := &Table{
		store:             store,
		logger:            zap.NewNop(),
		mem:               memory.NewGoAllocator(),
		concurrency:       defaultConcurrency,
		maxCommitAttempts: defaultMaxCommitAttempts,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("table", store.URI()))
	return t
}

// Location returns the table URI
func (t *Table) Location() string { return t.store.URI() }

// Exists reports whether the table has at least one commit
func (t *Table) Exists(ctx context.Context) (bool, error) {
	versions, err := listVersions(ctx, t.store)
	if err != nil {
		return false, err
	}
	return len(versions) > 0, nil
}

func (t *Table) notATable() error {
	return errors.Newf(errors.ErrorTypeNotFound, "%s is not a Delta table", t.store.URI()).
		WithDetail("table", t.store.URI())
}

// Snapshot replays the whole log
func (t *Table) Snapshot(ctx context.Context) (*Snapshot, error) {
	versions, err := listVersions(ctx, t.store)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, t.notATable()
	}
	return replay(ctx, t.store, versions[len(versions)-1])
}

// SnapshotAt replays the log up to and including version
func (t *Table) SnapshotAt(ctx context.Context, version int64) (*Snapshot, error) {
	versions, err := listVersions(ctx, t.store)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, t.notATable()
	}
	latest := versions[len(versions)-1]
	if version < 0 || version > latest {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"cannot time travel to version %d, available versions: [0, %d]", version, latest).
			WithDetail("table", t.store.URI())
	}
	return replay(ctx, t.store, version)
}

// latestOrNil is Snapshot, but a missing table yields nil instead of an error
func (t *Table) latestOrNil(ctx context.Context) (*Snapshot, error) {
	snap, err := t.Snapshot(ctx)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	return snap, err
}

// Read loads the latest version into a DataFrame
func (t *Table) Read(ctx context.Context) (*frame.DataFrame, error) {
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return t.ReadSnapshot(ctx, snap)
}

// ReadVersion loads an older version (time travel)
func (t *Table) ReadVersion(ctx context.Context, version int64) (*frame.DataFrame, error) {
	snap, err := t.SnapshotAt(ctx, version)
	if err != nil {
		return nil, err
	}
	return t.ReadSnapshot(ctx, snap)
}

// ReadSnapshot reads the data files of snap concurrently. Rows come back
// grouped by file in path order.
func (t *Table) ReadSnapshot(ctx context.Context, snap *Snapshot) (df *frame.DataFrame, err error) {
	ctx, span := observability.StartSpan(ctx, "delta.read",
		attribute.String("table", t.store.URI()),
		attribute.Int64("version", snap.Version))
	defer func() { observability.EndSpan(span, err) }()

	files := snap.Files()
	parts := make([][]frame.Row, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, f := range files {
		g.Go(func() error {
			key := unescapePath(f.Path)
			data, err := t.store.Get(gctx, key)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeFile, "failed to read data file").WithDetail("path", key)
			}
			rows, err := decodeParquet(gctx, t.mem, snap.Schema, data)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "failed to decode data file").WithDetail("path", key)
			}
			parts[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	rows := make([]frame.Row, 0, total)
	for _, p := range parts {
		rows = append(rows, p...)
	}

	metrics.Files.WithLabelValues("read").Add(float64(len(files)))
	t.logger.Debug("snapshot read",
		zap.Int64("version", snap.Version),
		zap.Int("files", len(files)),
		zap.Int("rows", len(rows)))
	return frame.New(snap.Schema, rows)
}

// History returns commit provenance, newest first. limit <= 0 returns all.
func (t *Table) History(ctx context.Context, limit int) ([]CommitInfo, error) {
	versions, err := listVersions(ctx, t.store)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, t.notATable()
	}

	var out []CommitInfo
	for i := len(versions) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		actions, err := readCommit(ctx, t.store, versions[i])
		if err != nil {
			return nil, err
		}
		info := CommitInfo{Version: versions[i]}
		for _, a := range actions {
			if a.CommitInfo != nil {
				info = *a.CommitInfo
				info.Version = versions[i]
				break
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// Files lists every object under the table root, data files and log alike
func (t *Table) Files(ctx context.Context) ([]storage.ObjectInfo, error) {
	return t.store.List(ctx, "")
}

// Delete removes every object under the table root and returns how many
// were removed. Reading the table afterwards fails with a not-found error.
// A root without a transaction log is left untouched and reported as not
// found.
func (t *Table) Delete(ctx context.Context) (int, error) {
	exists, err := t.Exists(ctx)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, t.notATable()
	}
	n, err := t.store.DeletePrefix(ctx, "")
	if err != nil {
		return n, errors.Wrap(err, errors.ErrorTypeFile, "failed to delete table").
			WithDetail("table", t.store.URI())
	}
	t.logger.Info("table deleted", zap.Int("objects", n))
	return n, nil
}

// Vacuum deletes data files that the latest version does not reference and
// that are older than retention. With dryRun it only reports them.
func (t *Table) Vacuum(ctx context.Context, retention time.Duration, dryRun bool) ([]string, error) {
	if retention < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "vacuum retention must not be negative")
	}
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	active := make(map[string]struct{}, len(snap.files))
	for p := range snap.files {
		active[p] = struct{}{}
	}

	objects, err := t.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	cutoff := t.now().Add(-retention)

	var stale []string
	for _, obj := range objects {
		if hiddenPath(obj.Key) {
			continue
		}
		if _, ok := active[obj.Key]; ok {
			continue
		}
		if obj.ModTime.After(cutoff) {
			continue
		}
		stale = append(stale, obj.Key)
	}
	sort.Strings(stale)

	if !dryRun {
		for _, key := range stale {
			if err := t.store.Delete(ctx, key); err != nil {
				return nil, err
			}
		}
		metrics.Files.WithLabelValues("vacuum").Add(float64(len(stale)))
	}
	t.logger.Info("vacuum finished",
		zap.Int("files", len(stale)),
		zap.Bool("dry_run", dryRun),
		zap.Duration("retention", retention))
	return stale, nil
}

// hiddenPath reports whether any path segment starts with _ or ., which
// Vacuum never touches
func hiddenPath(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if strings.HasPrefix(seg, "_") || strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
