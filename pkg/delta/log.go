package delta

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/schema"
	"github.com/ajitpratap0/deltaflat/pkg/storage"
)

// LogDir is the transaction log directory below the table root
const LogDir = "_delta_log"

// versionKey returns the commit file key for version v
func versionKey(v int64) string {
	return fmt.Sprintf("%s/%020d.json", LogDir, v)
}

// parseVersionKey extracts the version from a commit file key. Checkpoints,
// CRC files and anything else in the log directory are skipped.
func parseVersionKey(key string) (int64, bool) {
	if path.Dir(key) != LogDir {
		return 0, false
	}
	name := path.Base(key)
	if len(name) != 25 || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// listVersions returns the committed versions in ascending order. They must
// form a gapless sequence starting at 0.
func listVersions(ctx context.Context, store storage.Store) ([]int64, error) {
	objects, err := store.List(ctx, LogDir+"/")
	if err != nil {
		return nil, err
	}

	var versions []int64
	for _, obj := range objects {
		if v, ok := parseVersionKey(obj.Key); ok {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	for i, v := range versions {
		if v != int64(i) {
			return nil, errors.Newf(errors.ErrorTypeData,
				"transaction log is missing version %d (found %d)", i, v).
				WithDetail("table", store.URI())
		}
	}
	return versions, nil
}

func readCommit(ctx context.Context, store storage.Store, v int64) ([]Action, error) {
	data, err := store.Get(ctx, versionKey(v))
	if err != nil {
		return nil, err
	}
	actions, err := decodeActions(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode commit").WithDetail("version", v)
	}
	return actions, nil
}

// Snapshot is the state of a table at one version
type Snapshot struct {
	Version  int64
	Protocol Protocol
	Metadata Metadata
	Schema   *schema.StructType

	// Timestamp of the commit that produced this version, in milliseconds
	Timestamp int64

	files      map[string]AddFile
	tombstones map[string]RemoveFile
	appTxns    map[string]int64
}

// Files returns the active data files sorted by path
func (s *Snapshot) Files() []AddFile {
	out := make([]AddFile, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Tombstones returns files removed from the table but possibly still in
// storage, sorted by path
func (s *Snapshot) Tombstones() []RemoveFile {
	out := make([]RemoveFile, 0, len(s.tombstones))
	for _, f := range s.tombstones {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// NumRecords sums numRecords over the active files' stats. Files without
// stats are counted as zero.
func (s *Snapshot) NumRecords() int64 {
	var n int64
	for _, f := range s.files {
		if st, err := f.ParseStats(); err == nil && st != nil {
			n += st.NumRecords
		}
	}
	return n
}

// SizeInBytes sums the sizes of the active files
func (s *Snapshot) SizeInBytes() int64 {
	var n int64
	for _, f := range s.files {
		n += f.Size
	}
	return n
}

// TxnVersion returns the last version committed by appID, or -1
func (s *Snapshot) TxnVersion(appID string) int64 {
	if v, ok := s.appTxns[appID]; ok {
		return v
	}
	return -1
}

// replay folds commits 0..upTo into a snapshot.
func replay(ctx context.Context, store storage.Store, upTo int64) (*Snapshot, error) {
	snap := &Snapshot{
		Version:    -1,
		files:      make(map[string]AddFile),
		tombstones: make(map[string]RemoveFile),
		appTxns:    make(map[string]int64),
	}
	var haveProtocol, haveMetadata bool

	for v := int64(0); v <= upTo; v++ {
		actions, err := readCommit(ctx, store, v)
		if err != nil {
			return nil, err
		}
		for _, a := range actions {
			switch {
			case a.Protocol != nil:
				snap.Protocol = *a.Protocol
				haveProtocol = true
			case a.MetaData != nil:
				snap.Metadata = *a.MetaData
				haveMetadata = true
			case a.Add != nil:
				p := unescapePath(a.Add.Path)
				snap.files[p] = *a.Add
				delete(snap.tombstones, p)
			case a.Remove != nil:
				p := unescapePath(a.Remove.Path)
				delete(snap.files, p)
				snap.tombstones[p] = *a.Remove
			case a.Txn != nil:
				snap.appTxns[a.Txn.AppID] = a.Txn.Version
			case a.CommitInfo != nil:
				snap.Timestamp = a.CommitInfo.Timestamp
			}
		}
		snap.Version = v
	}

	if !haveProtocol || !haveMetadata {
		return nil, errors.New(errors.ErrorTypeData, "transaction log has no protocol or metadata").
			WithDetail("table", store.URI())
	}
	if snap.Protocol.MinReaderVersion > MinReaderVersion {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"table requires reader version %d, this reader supports %d",
			snap.Protocol.MinReaderVersion, MinReaderVersion)
	}
	if p := snap.Metadata.Format.Provider; p != "" && p != "parquet" {
		return nil, errors.Newf(errors.ErrorTypeValidation, "unsupported data file format %q", p)
	}

	s, err := schema.ParseJSON([]byte(snap.Metadata.SchemaString))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "invalid table schema")
	}
	snap.Schema = s
	return snap, nil
}

// unescapePath undoes the URL escaping Delta applies to file paths
func unescapePath(p string) string {
	if !strings.Contains(p, "%") {
		return p
	}
	if u, err := url.PathUnescape(p); err == nil {
		return u
	}
	return p
}
