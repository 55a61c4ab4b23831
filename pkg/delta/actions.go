package delta

import (
	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/json"
)

// Protocol versions written by this package
const (
	MinReaderVersion = 1
	MinWriterVersion = 2
)

// Action is one line of a commit file. Exactly one field is set.
type Action struct {
	CommitInfo *CommitInfo  `json:"commitInfo,omitempty"`
	Protocol   *Protocol    `json:"protocol,omitempty"`
	MetaData   *Metadata    `json:"metaData,omitempty"`
	Add        *AddFile     `json:"add,omitempty"`
	Remove     *RemoveFile  `json:"remove,omitempty"`
	Txn        *Transaction `json:"txn,omitempty"`
}

// Protocol declares the reader and writer versions a table requires
type Protocol struct {
	MinReaderVersion int `json:"minReaderVersion"`
	MinWriterVersion int `json:"minWriterVersion"`
}

// Format names the data file format
type Format struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options"`
}

// Metadata describes the table: identity, schema and properties
type Metadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           Format            `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration"`
	CreatedTime      *int64            `json:"createdTime,omitempty"`
}

// AddFile adds a data file to the table
type AddFile struct {
	Path             string            `json:"path"`
	PartitionValues  map[string]string `json:"partitionValues"`
	Size             int64             `json:"size"`
	ModificationTime int64             `json:"modificationTime"`
	DataChange       bool              `json:"dataChange"`
	Stats            string            `json:"stats,omitempty"`
}

// RemoveFile logically deletes a data file. The file stays in storage until
// vacuumed so older versions remain readable.
type RemoveFile struct {
	Path                 string            `json:"path"`
	DeletionTimestamp    *int64            `json:"deletionTimestamp,omitempty"`
	DataChange           bool              `json:"dataChange"`
	ExtendedFileMetadata bool              `json:"extendedFileMetadata"`
	PartitionValues      map[string]string `json:"partitionValues"`
	Size                 int64             `json:"size"`
}

// Transaction records the last version an application committed, for
// idempotent writes.
type Transaction struct {
	AppID       string `json:"appId"`
	Version     int64  `json:"version"`
	LastUpdated *int64 `json:"lastUpdated,omitempty"`
}

// CommitInfo is provenance for one commit, as shown by History
type CommitInfo struct {
	// Version is not stored in the log; History fills it from the file name.
	Version int64 `json:"-"`

	Timestamp           int64             `json:"timestamp"`
	Operation           string            `json:"operation"`
	OperationParameters map[string]string `json:"operationParameters"`
	ReadVersion         *int64            `json:"readVersion,omitempty"`
	IsolationLevel      string            `json:"isolationLevel,omitempty"`
	IsBlindAppend       bool              `json:"isBlindAppend"`
	OperationMetrics    map[string]string `json:"operationMetrics,omitempty"`
	UserMetadata        string            `json:"userMetadata,omitempty"`
	EngineInfo          string            `json:"engineInfo,omitempty"`
	TxnID               string            `json:"txnId,omitempty"`
}

// encodeActions renders actions as newline-delimited JSON
func encodeActions(actions []Action) ([]byte, error) {
	values := make([]interface{}, len(actions))
	for i := range actions {
		values[i] = &actions[i]
	}
	data, err := json.MarshalLines(values)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode log actions")
	}
	return data, nil
}

// decodeActions parses a commit file. Blank lines are skipped; action types
// this package does not know are ignored.
func decodeActions(data []byte) ([]Action, error) {
	lines := json.SplitLines(data)
	actions := make([]Action, 0, len(lines))
	for i, line := range lines {
		var a Action
		if err := json.Unmarshal(line, &a); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed log action").
				WithDetail("line", i+1)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// Stats are per-file column statistics stored as a JSON string in AddFile
type Stats struct {
	NumRecords int64            `json:"numRecords"`
	MinValues  map[string]any   `json:"minValues"`
	MaxValues  map[string]any   `json:"maxValues"`
	NullCount  map[string]int64 `json:"nullCount"`
}

// ParseStats decodes the stats string of an AddFile. Files without stats
// return nil.
func (a *AddFile) ParseStats() (*Stats, error) {
	if a.Stats == "" {
		return nil, nil
	}
	var s Stats
	if err := json.Unmarshal([]byte(a.Stats), &s); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed file stats").WithDetail("path", a.Path)
	}
	return &s, nil
}
