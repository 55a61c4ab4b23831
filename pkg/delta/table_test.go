package delta

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/frame"
	"github.com/ajitpratap0/deltaflat/pkg/schema"
	"github.com/ajitpratap0/deltaflat/pkg/storage"
)

func flatSchema() *schema.StructType {
	return schema.NewStruct(
		schema.Field("EventID", schema.LongType),
		schema.Field("EmpId", schema.StringType),
		schema.Field("IsPermanent", schema.BooleanType),
		schema.Field("DepartmentID", schema.StringType),
		schema.Field("DepartmentName", schema.StringType),
	)
}

func flatFrame(t *testing.T) *frame.DataFrame {
	t.Helper()
	df, err := frame.New(flatSchema(), []frame.Row{
		{int64(1), "A01", true, "D1", "Data Science"},
		{int64(2), "A02", false, "D2", "Application"},
		{int64(3), "A03", true, "D1", "Data Science"},
		{int64(4), "A04", false, "D2", "Application"},
	})
	require.NoError(t, err)
	return df
}

func nestedFrame(t *testing.T) *frame.DataFrame {
	t.Helper()
	df, err := frame.ReadJSON([]byte(`[
	  {"EventID": 1, "Payload": {"EmpId": "A01", "IsPermanent": true, "Department": [{"DepartmentID": "D1", "DepartmentName": "Data Science"}]}},
	  {"EventID": 2, "Payload": {"EmpId": "A02", "IsPermanent": false, "Department": []}},
	  {"EventID": 3, "Payload": null}
	]`))
	require.NoError(t, err)
	return df
}

func newMemTable(t *testing.T, opts ...Option) (*Table, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore(strings.ReplaceAll(t.Name(), "/", "_"))
	return Open(store, opts...), store
}

func TestWriteAndReadBack(t *testing.T) {
	ctx := context.Background()
	table, _ := newMemTable(t)
	df := flatFrame(t)

	res, err := table.Write(ctx, df, WriteOptions{Mode: SaveModeOverwrite, OverwriteSchema: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Version)
	assert.True(t, res.Created)
	assert.Equal(t, 1, res.FilesAdded)
	assert.Equal(t, int64(4), res.RowsWritten)
	assert.Equal(t, 1, res.Attempts)

	back, err := table.Read(ctx)
	require.NoError(t, err)
	assert.True(t, schema.Equal(df.Schema(), back.Schema()))
	assert.True(t, frame.EqualRows(df, back))

	snap, err := table.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), snap.NumRecords())
	assert.Equal(t, res.BytesWritten, snap.SizeInBytes())
	assert.Equal(t, "parquet", snap.Metadata.Format.Provider)
	assert.NotEmpty(t, snap.Metadata.ID)
}

func TestWriteLogsBufferPoolUsage(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	table, _ := newMemTable(t, WithLogger(zap.New(core)))

	_, err := table.Write(context.Background(), flatFrame(t), WriteOptions{MaxRowsPerFile: 2})
	require.NoError(t, err)

	written := logs.FilterMessage("data files written").All()
	require.Len(t, written, 1)
	fields := written[0].ContextMap()
	assert.Equal(t, int64(2), fields["files"])
	assert.GreaterOrEqual(t, fields["buffer_gets"], int64(2))
}

func TestWriteNestedOnLocalStore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore(t.TempDir(), storage.Options{})
	require.NoError(t, err)
	table := Open(store)
	df := nestedFrame(t)

	_, err = table.Write(ctx, df, WriteOptions{})
	require.NoError(t, err)

	back, err := table.Read(ctx)
	require.NoError(t, err)
	assert.True(t, schema.Equal(df.Schema(), back.Schema()), "got %s", back.Schema())
	assert.True(t, frame.EqualRows(df, back))

	objects, err := table.Files(ctx)
	require.NoError(t, err)
	var keys []string
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	assert.Contains(t, keys, "_delta_log/00000000000000000000.json")
}

func TestMaxRowsPerFile(t *testing.T) {
	ctx := context.Background()
	table, _ := newMemTable(t, WithConcurrency(2))

	res, err := table.Write(ctx, flatFrame(t), WriteOptions{MaxRowsPerFile: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilesAdded)

	back, err := table.Read(ctx)
	require.NoError(t, err)
	assert.True(t, frame.EqualRows(flatFrame(t), back))
}

func TestSaveModes(t *testing.T) {
	ctx := context.Background()

	t.Run("error if exists", func(t *testing.T) {
		table, _ := newMemTable(t)
		_, err := table.Write(ctx, flatFrame(t), WriteOptions{})
		require.NoError(t, err)

		_, err = table.Write(ctx, flatFrame(t), WriteOptions{Mode: SaveModeErrorIfExists})
		require.Error(t, err)
		assert.True(t, errors.IsConflict(err))
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("ignore", func(t *testing.T) {
		table, store := newMemTable(t)
		_, err := table.Write(ctx, flatFrame(t), WriteOptions{})
		require.NoError(t, err)
		before, err := store.List(ctx, "")
		require.NoError(t, err)

		res, err := table.Write(ctx, flatFrame(t), WriteOptions{Mode: SaveModeIgnore})
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, int64(0), res.Version)

		after, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, after, len(before))
	})

	t.Run("append", func(t *testing.T) {
		table, _ := newMemTable(t)
		_, err := table.Write(ctx, flatFrame(t), WriteOptions{})
		require.NoError(t, err)

		res, err := table.Write(ctx, flatFrame(t), WriteOptions{Mode: SaveModeAppend})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Version)
		assert.Equal(t, 0, res.FilesRemoved)

		back, err := table.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, 8, back.Count())
	})

	t.Run("overwrite", func(t *testing.T) {
		table, _ := newMemTable(t)
		_, err := table.Write(ctx, flatFrame(t), WriteOptions{})
		require.NoError(t, err)

		one := flatFrame(t).Limit(1)
		res, err := table.Write(ctx, one, WriteOptions{Mode: SaveModeOverwrite})
		require.NoError(t, err)
		assert.Equal(t, 1, res.FilesRemoved)
		assert.False(t, res.SchemaChanged)

		back, err := table.Read(ctx)
		require.NoError(t, err)
		assert.True(t, frame.EqualRows(one, back))

		snap, err := table.Snapshot(ctx)
		require.NoError(t, err)
		assert.Len(t, snap.Tombstones(), 1)
	})

	t.Run("append creates missing table", func(t *testing.T) {
		table, _ := newMemTable(t)
		res, err := table.Write(ctx, flatFrame(t), WriteOptions{Mode: SaveModeAppend})
		require.NoError(t, err)
		assert.True(t, res.Created)
	})
}

func TestOverwriteSchema(t *testing.T) {
	ctx := context.Background()
	table, _ := newMemTable(t)

	_, err := table.Write(ctx, nestedFrame(t), WriteOptions{})
	require.NoError(t, err)

	flat := flatFrame(t)
	_, err = table.Write(ctx, flat, WriteOptions{Mode: SaveModeOverwrite})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))
	assert.Contains(t, err.Error(), "schema mismatch")

	// the failed write left no new version behind
	snap, err := table.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)

	res, err := table.Write(ctx, flat, WriteOptions{Mode: SaveModeOverwrite, OverwriteSchema: true})
	require.NoError(t, err)
	assert.True(t, res.SchemaChanged)
	assert.Equal(t, int64(1), res.Version)

	back, err := table.Read(ctx)
	require.NoError(t, err)
	assert.True(t, schema.Equal(flat.Schema(), back.Schema()))
	assert.True(t, frame.EqualRows(flat, back))

	// identity survives a schema replacement
	after, err := table.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Metadata.ID, after.Metadata.ID)
}

func TestMergeSchemaOnAppend(t *testing.T) {
	ctx := context.Background()
	table, _ := newMemTable(t)
	_, err := table.Write(ctx, flatFrame(t), WriteOptions{})
	require.NoError(t, err)

	wide := schema.NewStruct(append(flatSchema().Fields, schema.Field("Salary", schema.DoubleType))...)
	extra, err := frame.New(wide, []frame.Row{{int64(5), "A05", true, "D3", "Finance", 1250.5}})
	require.NoError(t, err)

	_, err = table.Write(ctx, extra, WriteOptions{Mode: SaveModeAppend})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))

	res, err := table.Write(ctx, extra, WriteOptions{Mode: SaveModeAppend, MergeSchema: true})
	require.NoError(t, err)
	assert.True(t, res.SchemaChanged)

	back, err := table.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"EventID", "EmpId", "IsPermanent", "DepartmentID", "DepartmentName", "Salary"}, back.Columns())
	assert.Equal(t, 5, back.Count())

	var salaries []any
	for _, r := range back.Rows() {
		salaries = append(salaries, r[5])
	}
	assert.ElementsMatch(t, []any{nil, nil, nil, nil, 1250.5}, salaries)
}

func TestMergeSchemaRejectsTypeChange(t *testing.T) {
	ctx := context.Background()
	table, _ := newMemTable(t)
	_, err := table.Write(ctx, flatFrame(t), WriteOptions{})
	require.NoError(t, err)

	changed := schema.NewStruct(schema.Field("EventID", schema.StringType))
	df, err := frame.New(changed, []frame.Row{{"x"}})
	require.NoError(t, err)

	_, err = table.Write(ctx, df, WriteOptions{Mode: SaveModeAppend, MergeSchema: true})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))

	objects, err := table.Files(ctx)
	require.NoError(t, err)
	assert.Len(t, objects, 2, "rejected data files are removed")
}

func TestMergeSchemaRejectsCaseOnlyColumnCollision(t *testing.T) {
	ctx := context.Background()
	table, _ := newMemTable(t)
	_, err := table.Write(ctx, flatFrame(t), WriteOptions{})
	require.NoError(t, err)

	lower := schema.NewStruct(schema.Field("eventid", schema.LongType))
	df, err := frame.New(lower, []frame.Row{{int64(9)}})
	require.NoError(t, err)

	_, err = table.Write(ctx, df, WriteOptions{Mode: SaveModeAppend, MergeSchema: true})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))
	assert.Contains(t, err.Error(), "duplicate column")

	snap, err := table.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)
	assert.Equal(t, flatSchema().Names(), snap.Schema.Names())
}

func TestAppendMissingColumnsReadAsNull(t *testing.T) {
	ctx := context.Background()
	table, _ := newMemTable(t)
	_, err := table.Write(ctx, flatFrame(t), WriteOptions{})
	require.NoError(t, err)

	narrow := schema.NewStruct(schema.Field("EventID", schema.LongType), schema.Field("EmpId", schema.StringType))
	df, err := frame.New(narrow, []frame.Row{{int64(9), "A09"}})
	require.NoError(t, err)

	res, err := table.Write(ctx, df, WriteOptions{Mode: SaveModeAppend})
	require.NoError(t, err)
	assert.False(t, res.SchemaChanged)

	back, err := table.Read(ctx)
	require.NoError(t, err)
	assert.Len(t, back.Schema().Fields, 5)
	found := false
	for _, r := range back.Rows() {
		if r[0] == int64(9) {
			found = true
			assert.Equal(t, frame.Row{int64(9), "A09", nil, nil, nil}, r)
		}
	}
	assert.True(t, found)
}

func TestInvalidColumnNames(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		schema *schema.StructType
	}{
		{"space", schema.NewStruct(schema.Field("Emp Id", schema.StringType))},
		{"duplicate", schema.NewStruct(schema.Field("id", schema.LongType), schema.Field("ID", schema.LongType))},
		{"nested", schema.NewStruct(schema.Field("p", schema.NewStruct(schema.Field("a=b", schema.LongType))))},
		{"empty", schema.NewStruct(schema.Field("", schema.LongType))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, _ := newMemTable(t)
			_, err := table.Write(ctx, frame.Empty(tt.schema), WriteOptions{})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))
		})
	}
}

func TestEmptyFrameCreatesTable(t *testing.T) {
	ctx := context.Background()
	table, _ := newMemTable(t)

	res, err := table.Write(ctx, frame.Empty(flatSchema()), WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.FilesAdded)

	back, err := table.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, back.Count())
	assert.True(t, schema.Equal(flatSchema(), back.Schema()))
}

func TestIdempotentAppTransaction(t *testing.T) {
	ctx := context.Background()
	table, _ := newMemTable(t)
	opts := WriteOptions{Mode: SaveModeAppend, AppID: "nightly", AppVersion: 7}

	_, err := table.Write(ctx, flatFrame(t), opts)
	require.NoError(t, err)

	res, err := table.Write(ctx, flatFrame(t), opts)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	snap, err := table.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)
	assert.Equal(t, int64(7), snap.TxnVersion("nightly"))
	assert.Equal(t, int64(-1), snap.TxnVersion("other"))

	opts.AppVersion = 8
	res, err = table.Write(ctx, flatFrame(t), opts)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(1), res.Version)
}

func TestTimeTravelAndHistory(t *testing.T) {
	ctx := context.Background()
	table, _ := newMemTable(t)
	first := flatFrame(t)

	_, err := table.Write(ctx, first, WriteOptions{UserMetadata: "initial load"})
	require.NoError(t, err)
	_, err = table.Write(ctx, first.Limit(2), WriteOptions{Mode: SaveModeOverwrite})
	require.NoError(t, err)
	_, err = table.Write(ctx, first.Limit(1), WriteOptions{Mode: SaveModeAppend})
	require.NoError(t, err)

	v0, err := table.ReadVersion(ctx, 0)
	require.NoError(t, err)
	assert.True(t, frame.EqualRows(first, v0))

	latest, err := table.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Count())

	_, err = table.ReadVersion(ctx, 3)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	history, err := table.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(2), history[0].Version)
	assert.Equal(t, "Append", history[0].OperationParameters["mode"])
	assert.True(t, history[0].IsBlindAppend)
	assert.Equal(t, "Overwrite", history[1].OperationParameters["mode"])
	assert.Equal(t, "1", history[1].OperationMetrics["numRemovedFiles"])
	assert.Equal(t, int64(0), history[2].Version)
	assert.Equal(t, "initial load", history[2].UserMetadata)
	assert.Nil(t, history[2].ReadVersion)
	require.NotNil(t, history[1].ReadVersion)
	assert.Equal(t, int64(0), *history[1].ReadVersion)
	for _, h := range history {
		assert.Equal(t, "WRITE", h.Operation)
		assert.Equal(t, EngineInfo, h.EngineInfo)
	}

	limited, err := table.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, int64(2), limited[0].Version)
}

func TestDeleteTable(t *testing.T) {
	ctx := context.Background()
	table, store := newMemTable(t)
	_, err := table.Write(ctx, flatFrame(t), WriteOptions{})
	require.NoError(t, err)

	exists, err := table.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := table.Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	objects, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, objects)

	exists, err = table.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = table.Read(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "is not a Delta table")

	_, err = table.History(ctx, 0)
	assert.True(t, errors.IsNotFound(err))

	// a deleted table can be recreated from scratch
	res, err := table.Write(ctx, flatFrame(t), WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Version)
}

func TestDeleteRefusesNonTableRoot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	stray := filepath.Join(dir, "thesis.txt")
	require.NoError(t, os.WriteFile(stray, []byte("draft"), 0o600))

	store, err := storage.NewLocalStore(dir, storage.Options{})
	require.NoError(t, err)
	table := Open(store)

	n, err := table.Delete(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 0, n)

	data, err := os.ReadFile(stray)
	require.NoError(t, err)
	assert.Equal(t, "draft", string(data))
}

func TestCodecs(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"snappy", "zstd", "gzip", "lz4", "brotli", "uncompressed"} {
		t.Run(name, func(t *testing.T) {
			table, _ := newMemTable(t)
			_, err := table.Write(ctx, flatFrame(t), WriteOptions{Compression: name})
			require.NoError(t, err)

			snap, err := table.Snapshot(ctx)
			require.NoError(t, err)
			require.Len(t, snap.Files(), 1)
			c, _ := ParseCodec(name)
			assert.True(t, strings.HasSuffix(snap.Files()[0].Path, c.suffix+".parquet"))

			back, err := table.Read(ctx)
			require.NoError(t, err)
			assert.True(t, frame.EqualRows(flatFrame(t), back))
		})
	}

	table, _ := newMemTable(t)
	_, err := table.Write(ctx, flatFrame(t), WriteOptions{Compression: "lzo"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestFileStats(t *testing.T) {
	ctx := context.Background()
	table, _ := newMemTable(t)

	s := schema.NewStruct(
		schema.Field("id", schema.LongType),
		schema.Field("score", schema.DoubleType),
		schema.Field("name", schema.StringType),
		schema.Field("active", schema.BooleanType),
	)
	long := strings.Repeat("z", 40)
	df, err := frame.New(s, []frame.Row{
		{int64(3), 1.5, "bob", true},
		{int64(-1), nil, long, false},
		{int64(10), 9.25, nil, nil},
	})
	require.NoError(t, err)

	_, err = table.Write(ctx, df, WriteOptions{})
	require.NoError(t, err)

	snap, err := table.Snapshot(ctx)
	require.NoError(t, err)
	files := snap.Files()
	require.Len(t, files, 1)

	st, err := files[0].ParseStats()
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, int64(3), st.NumRecords)
	assert.Equal(t, float64(-1), st.MinValues["id"])
	assert.Equal(t, float64(10), st.MaxValues["id"])
	assert.Equal(t, 1.5, st.MinValues["score"])
	assert.Equal(t, 9.25, st.MaxValues["score"])
	assert.Equal(t, "bob", st.MinValues["name"])
	assert.Equal(t, strings.Repeat("z", 32), st.MaxValues["name"])
	assert.NotContains(t, st.MinValues, "active")
	assert.Equal(t, int64(1), st.NullCount["score"])
	assert.Equal(t, int64(1), st.NullCount["name"])
	assert.Equal(t, int64(1), st.NullCount["active"])
	assert.Equal(t, int64(0), st.NullCount["id"])
}

func TestVacuum(t *testing.T) {
	ctx := context.Background()
	clock := time.Now()
	table, store := newMemTable(t, WithClock(func() time.Time { return clock }))

	_, err := table.Write(ctx, flatFrame(t), WriteOptions{})
	require.NoError(t, err)
	_, err = table.Write(ctx, flatFrame(t).Limit(1), WriteOptions{Mode: SaveModeOverwrite})
	require.NoError(t, err)

	// nothing is old enough yet
	stale, err := table.Vacuum(ctx, DefaultRetention, false)
	require.NoError(t, err)
	assert.Empty(t, stale)

	clock = clock.Add(DefaultRetention + time.Hour)

	stale, err = table.Vacuum(ctx, DefaultRetention, true)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	_, err = store.Get(ctx, stale[0])
	require.NoError(t, err, "dry run keeps the file")

	removed, err := table.Vacuum(ctx, DefaultRetention, false)
	require.NoError(t, err)
	assert.Equal(t, stale, removed)
	_, err = store.Get(ctx, stale[0])
	assert.True(t, errors.IsNotFound(err))

	back, err := table.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, back.Count())

	// the vacuumed version is no longer readable
	_, err = table.ReadVersion(ctx, 0)
	require.Error(t, err)

	_, err = table.Vacuum(ctx, -time.Second, false)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

// racingStore lets another writer commit just before the first log write
type racingStore struct {
	storage.Store
	before func()
	fired  atomic.Bool
}

func (s *racingStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if strings.HasPrefix(key, LogDir+"/") && s.fired.CompareAndSwap(false, true) {
		s.before()
	}
	return s.Store.PutIfAbsent(ctx, key, data)
}

func TestCommitConflictRetries(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore("race")
	other := Open(mem)
	_, err := other.Write(ctx, flatFrame(t), WriteOptions{})
	require.NoError(t, err)

	racing := &racingStore{Store: mem}
	racing.before = func() {
		_, err := other.Write(ctx, flatFrame(t).Limit(1), WriteOptions{Mode: SaveModeAppend})
		require.NoError(t, err)
	}
	table := Open(racing)

	res, err := table.Write(ctx, flatFrame(t).Limit(2), WriteOptions{Mode: SaveModeAppend})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Version)
	assert.Equal(t, 2, res.Attempts)

	back, err := table.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, back.Count())
}

func TestCommitConflictRecheckMode(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore("race-create")
	other := Open(mem)

	racing := &racingStore{Store: mem}
	racing.before = func() {
		_, err := other.Write(ctx, flatFrame(t), WriteOptions{})
		require.NoError(t, err)
	}
	table := Open(racing)

	_, err := table.Write(ctx, flatFrame(t).Limit(1), WriteOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	snap, err := other.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)
	objects, err := mem.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, objects, 2, "the losing writer cleaned up its data file")
}

// conflictStore rejects every log commit
type conflictStore struct {
	storage.Store
	attempts atomic.Int32
}

func (s *conflictStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if strings.HasPrefix(key, LogDir+"/") {
		s.attempts.Add(1)
		return errors.New(errors.ErrorTypeConflict, "object already exists")
	}
	return s.Store.PutIfAbsent(ctx, key, data)
}

func TestCommitGivesUp(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore("give-up")
	store := &conflictStore{Store: mem}
	table := Open(store, WithMaxCommitAttempts(3))

	_, err := table.Write(ctx, flatFrame(t), WriteOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	assert.Equal(t, int32(3), store.attempts.Load())

	objects, err := mem.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

// unreadableAfterConflictStore fails log listings once a commit conflicted
type unreadableAfterConflictStore struct {
	conflictStore
}

func (s *unreadableAfterConflictStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if s.attempts.Load() > 0 {
		return nil, errors.New(errors.ErrorTypeConnection, "listing unavailable")
	}
	return s.conflictStore.List(ctx, prefix)
}

func TestCommitRetryReloadFailureDiscardsDataFiles(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore("reload-fails")
	store := &unreadableAfterConflictStore{conflictStore{Store: mem}}
	table := Open(store)

	_, err := table.Write(ctx, flatFrame(t), WriteOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Equal(t, int32(1), store.attempts.Load())

	objects, err := mem.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestDecodeRejectsMismatchedFileSchema(t *testing.T) {
	mem := memory.NewGoAllocator()
	wrong := schema.NewStruct(
		schema.Field("EventID", schema.StringType),
		schema.Field("EmpId", schema.StringType),
	)
	data, err := encodeParquet(mem, wrong, []frame.Row{{"1", "A01"}}, codecs[DefaultCodec])
	require.NoError(t, err)

	_, err = decodeParquet(context.Background(), mem, flatSchema(), data)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))
	assert.Contains(t, err.Error(), `"EventID" is string`)

	// a file lacking later columns still reads, with nulls
	narrow := schema.NewStruct(schema.Field("EventID", schema.LongType))
	data, err = encodeParquet(mem, narrow, []frame.Row{{int64(1)}}, codecs[DefaultCodec])
	require.NoError(t, err)
	rows, err := decodeParquet(context.Background(), mem, flatSchema(), data)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, frame.Row{int64(1), nil, nil, nil, nil}, rows[0])
}

func TestLogGapIsReported(t *testing.T) {
	ctx := context.Background()
	table, store := newMemTable(t)
	_, err := table.Write(ctx, flatFrame(t), WriteOptions{})
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, versionKey(2), []byte(`{"commitInfo":{"timestamp":1,"operation":"WRITE"}}`)))

	_, err = table.Snapshot(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.Contains(t, err.Error(), "missing version 1")
}

func TestUnsupportedReaderVersion(t *testing.T) {
	ctx := context.Background()
	table, store := newMemTable(t)
	commit := `{"protocol":{"minReaderVersion":3,"minWriterVersion":7}}
{"metaData":{"id":"x","format":{"provider":"parquet","options":{}},"schemaString":"{\"type\":\"struct\",\"fields\":[]}","partitionColumns":[],"configuration":{}}}`
	require.NoError(t, store.Put(ctx, versionKey(0), []byte(commit)))

	_, err := table.Snapshot(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestParseVersionKey(t *testing.T) {
	tests := []struct {
		key  string
		want int64
		ok   bool
	}{
		{"_delta_log/00000000000000000000.json", 0, true},
		{"_delta_log/00000000000000000042.json", 42, true},
		{"_delta_log/00000000000000000010.checkpoint.parquet", 0, false},
		{"_delta_log/00000000000000000001.crc", 0, false},
		{"_delta_log/_last_checkpoint", 0, false},
		{"other/00000000000000000001.json", 0, false},
		{"_delta_log/0000000000000000000x.json", 0, false},
	}
	for _, tt := range tests {
		v, ok := parseVersionKey(tt.key)
		assert.Equal(t, tt.ok, ok, tt.key)
		assert.Equal(t, tt.want, v, tt.key)
	}
	assert.Equal(t, "_delta_log/00000000000000000042.json", versionKey(42))
}

func TestParseSaveMode(t *testing.T) {
	tests := map[string]SaveMode{
		"":              SaveModeErrorIfExists,
		"error":         SaveModeErrorIfExists,
		"ErrorIfExists": SaveModeErrorIfExists,
		"APPEND":        SaveModeAppend,
		"overwrite":     SaveModeOverwrite,
		" ignore ":      SaveModeIgnore,
	}
	for in, want := range tests {
		got, err := ParseSaveMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSaveMode("upsert")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Equal(t, "Overwrite", SaveModeOverwrite.String())
}

func TestParseCodecAliases(t *testing.T) {
	for in, want := range map[string]string{"": "snappy", "NONE": "uncompressed", "lz4_raw": "lz4", "Zstd": "zstd"} {
		c, err := ParseCodec(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, c.Name)
	}
	assert.Regexp(t, `^part-00003-[0-9a-f-]{36}-c000\.snappy\.parquet$`, partFileName(3, codecs["snappy"]))
}

func TestDecodeActionsRejectsGarbage(t *testing.T) {
	_, err := decodeActions([]byte("{\"add\":{\"path\":\"a\"}}\nnot json\n"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	actions, err := decodeActions([]byte("{\"add\":{\"path\":\"a%20b.parquet\",\"size\":1}}\n\n{\"unknownAction\":{}}\n"))
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "a b.parquet", unescapePath(actions[0].Add.Path))
}
