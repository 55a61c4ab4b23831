// Package storage provides the object stores Delta tables live on.
//
// A Store is rooted at a table location and addresses objects by
// slash-separated keys relative to that root, e.g. "_delta_log/00000000000000000000.json".
// Open picks the backend from the URI scheme:
//
//	/tmp/tables/employee_tbl          local filesystem
//	file:///tmp/tables/employee_tbl   local filesystem
//	s3://bucket/warehouse/employee    Amazon S3
//	gs://bucket/warehouse/employee    Google Cloud Storage
//	mem://employee_tbl                process-local memory
//
// Missing objects are reported as errors.ErrorTypeNotFound and failed
// PutIfAbsent preconditions as errors.ErrorTypeConflict.
package storage

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is a flat key/value object store. Implementations are safe for
// concurrent use.
type Store interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// PutIfAbsent writes data under key only if no object exists there yet.
	// It returns an ErrorTypeConflict error otherwise.
	PutIfAbsent(ctx context.Context, key string, data []byte) error

	// Get reads the object under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns every object whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes one object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object whose key starts with prefix and
	// returns how many were removed. An empty prefix removes the whole root.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// URI returns the location the store is rooted at.
	URI() string

	Close() error
}

// Options configures cloud backends. The zero value uses SDK defaults.
type Options struct {
	// Region for S3. Empty uses the AWS default chain.
	Region string `yaml:"region"`

	// Endpoint overrides the S3 endpoint (MinIO, LocalStack).
	Endpoint string `yaml:"endpoint"`

	// UsePathStyle forces path-style S3 addressing.
	UsePathStyle bool `yaml:"use_path_style"`

	// CredentialsFile is a GCS service account key file.
	CredentialsFile string `yaml:"credentials_file"`

	// PartSize and Concurrency tune S3 multipart uploads.
	PartSize    int64 `yaml:"part_size"`
	Concurrency int   `yaml:"concurrency"`

	Logger *zap.Logger `yaml:"-"`
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Open returns the Store for uri.
func Open(ctx context.Context, uri string, opts Options) (Store, error) {
	scheme, bucket, prefix, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case "file":
		return NewLocalStore(prefix, opts)
	case "mem":
		return OpenMemoryStore(bucket), nil
	case "s3":
		return NewS3Store(ctx, bucket, prefix, opts)
	case "gs":
		return NewGCSStore(ctx, bucket, prefix, opts)
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported storage scheme %q", scheme).
		WithDetail("uri", uri)
}

// ParseURI splits a table location into scheme, bucket and key prefix. Bare
// paths are reported as scheme "file" with the path as prefix.
func ParseURI(uri string) (scheme, bucket, prefix string, err error) {
	if uri == "" {
		return "", "", "", errors.New(errors.ErrorTypeConfig, "storage location is empty")
	}
	if !strings.Contains(uri, "://") {
		return "file", "", uri, nil
	}

	u, perr := url.Parse(uri)
	if perr != nil {
		return "", "", "", errors.Wrap(perr, errors.ErrorTypeConfig, "invalid storage location").
			WithDetail("uri", uri)
	}

	switch u.Scheme {
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return "", "", "", errors.Newf(errors.ErrorTypeConfig, "file URI with remote host %q", u.Host)
		}
		if u.Path == "" {
			return "", "", "", errors.New(errors.ErrorTypeConfig, "file URI without a path")
		}
		return "file", "", u.Path, nil
	case "s3", "s3a", "gs", "mem":
		if u.Host == "" {
			return "", "", "", errors.Newf(errors.ErrorTypeConfig, "%s URI without a bucket: %s", u.Scheme, uri)
		}
		s := u.Scheme
		if s == "s3a" {
			s = "s3"
		}
		return s, u.Host, strings.Trim(u.Path, "/"), nil
	}
	return u.Scheme, u.Host, strings.Trim(u.Path, "/"), nil
}

// joinKey joins a store prefix and a relative key with a single slash.
func joinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return errors.Newf(errors.ErrorTypeValidation, "invalid object key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return errors.Newf(errors.ErrorTypeValidation, "invalid object key %q", key)
		}
	}
	return nil
}
