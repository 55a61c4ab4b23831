package storage

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

// GCSStore keeps objects under a prefix of a Cloud Storage bucket.
type GCSStore struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
	prefix string
	logger *zap.Logger
}

// NewGCSStore creates a client with application default credentials, or
// the service account key in opts.CredentialsFile.
func NewGCSStore(ctx context.Context, bucket, prefix string, opts Options) (*GCSStore, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}

	return &GCSStore{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: opts.logger().With(zap.String("store", "gcs"), zap.String("bucket", bucket)),
	}, nil
}

func (s *GCSStore) write(ctx context.Context, obj *gcs.ObjectHandle, full string, data []byte) error {
	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return s.wrap(err, "failed to write object", full)
	}
	if err := w.Close(); err != nil {
		return s.wrap(err, "failed to finalize object", full)
	}
	s.logger.Debug("object written", zap.String("key", full), zap.Int("bytes", len(data)))
	return nil
}

// Put writes an object
func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	full := joinKey(s.prefix, key)
	return s.write(ctx, s.bucket.Object(full), full, data)
}

// PutIfAbsent writes with a DoesNotExist precondition
func (s *GCSStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	full := joinKey(s.prefix, key)
	obj := s.bucket.Object(full).If(gcs.Conditions{DoesNotExist: true})
	return s.write(ctx, obj, full, data)
}

// Get reads an object
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	full := joinKey(s.prefix, key)
	r, err := s.bucket.Object(full).NewReader(ctx)
	if err != nil {
		return nil, s.wrap(err, "failed to open object", full)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, s.wrap(err, "failed to read object", full)
	}
	return data, nil
}

// List iterates objects under the prefix. Results come back in key order.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	root := ""
	if s.prefix != "" {
		root = s.prefix + "/"
	}

	it := s.bucket.Objects(ctx, &gcs.Query{Prefix: root + prefix})
	var out []ObjectInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, s.wrap(err, "failed to list objects", root+prefix)
		}
		out = append(out, ObjectInfo{
			Key:     strings.TrimPrefix(attrs.Name, root),
			Size:    attrs.Size,
			ModTime: attrs.Updated,
		})
	}
	return out, nil
}

// Delete removes one object; missing objects are ignored
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	full := joinKey(s.prefix, key)
	err := s.bucket.Object(full).Delete(ctx)
	if err != nil && !stderrors.Is(err, gcs.ErrObjectNotExist) {
		return s.wrap(err, "failed to delete object", full)
	}
	return nil
}

// DeletePrefix deletes matching objects one by one
func (s *GCSStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for i, obj := range objects {
		if err := s.Delete(ctx, obj.Key); err != nil {
			return i, err
		}
	}
	s.logger.Debug("prefix deleted", zap.String("prefix", prefix), zap.Int("objects", len(objects)))
	return len(objects), nil
}

// URI returns gs://bucket/prefix
func (s *GCSStore) URI() string {
	if s.prefix == "" {
		return "gs://" + s.name
	}
	return "gs://" + s.name + "/" + s.prefix
}

// Close releases the client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) wrap(err error, msg, key string) error {
	if stderrors.Is(err, gcs.ErrObjectNotExist) || stderrors.Is(err, gcs.ErrBucketNotExist) {
		return errors.Wrap(err, errors.ErrorTypeNotFound, msg).WithDetail("key", key)
	}

	var gerr *googleapi.Error
	if stderrors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusPreconditionFailed:
			return errors.Wrap(err, errors.ErrorTypeConflict, msg).WithDetail("key", key)
		case http.StatusNotFound:
			return errors.Wrap(err, errors.ErrorTypeNotFound, msg).WithDetail("key", key)
		case http.StatusForbidden, http.StatusUnauthorized:
			return errors.Wrap(err, errors.ErrorTypePermission, msg).WithDetail("key", key)
		}
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, msg).WithDetail("key", key)
}
