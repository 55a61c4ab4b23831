package storage

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

// S3 limits DeleteObjects to this many keys per request
const s3DeleteBatch = 1000

// S3Store keeps objects under a key prefix of an S3 bucket.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	logger   *zap.Logger
}

// NewS3Store creates a store using the default AWS credential chain.
func NewS3Store(ctx context.Context, bucket, prefix string, opts Options) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewS3StoreWithClient(client, bucket, prefix, opts), nil
}

// NewS3StoreWithClient wraps an existing client
func NewS3StoreWithClient(client *s3.Client, bucket, prefix string, opts Options) *S3Store {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if opts.PartSize > 0 {
			u.PartSize = opts.PartSize
		}
		if opts.Concurrency > 0 {
			u.Concurrency = opts.Concurrency
		}
	})
	return &S3Store{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		logger:   opts.logger().With(zap.String("store", "s3"), zap.String("bucket", bucket)),
	}
}

// Put uploads through the multipart manager
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	full := joinKey(s.prefix, key)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return s.wrap(err, "failed to upload object", full)
	}
	s.logger.Debug("object uploaded", zap.String("key", full), zap.Int("bytes", len(data)))
	return nil
}

// PutIfAbsent uses a conditional write (If-None-Match: *)
func (s *S3Store) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	full := joinKey(s.prefix, key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(full),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		return s.wrap(err, "failed to create object", full)
	}
	s.logger.Debug("object created", zap.String("key", full), zap.Int("bytes", len(data)))
	return nil
}

// Get downloads an object
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	full := joinKey(s.prefix, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		return nil, s.wrap(err, "failed to get object", full)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read object body").WithDetail("key", full)
	}
	return data, nil
}

// List pages through ListObjectsV2
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	root := ""
	if s.prefix != "" {
		root = s.prefix + "/"
	}

	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(root + prefix),
	})

	var out []ObjectInfo
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, s.wrap(err, "failed to list objects", root+prefix)
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{
				Key:     strings.TrimPrefix(aws.ToString(obj.Key), root),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

// Delete removes one object
func (s *S3Store) Delete(ctx context.Context, key string) error {
	full := joinKey(s.prefix, key)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		return s.wrap(err, "failed to delete object", full)
	}
	return nil
}

// DeletePrefix lists matching objects and removes them in batches
func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(objects); start += s3DeleteBatch {
		end := start + s3DeleteBatch
		if end > len(objects) {
			end = len(objects)
		}
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, obj := range objects[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(joinKey(s.prefix, obj.Key))})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, s.wrap(err, "failed to delete objects", prefix)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return deleted, errors.Newf(errors.ErrorTypeConnection, "failed to delete %d objects: %s: %s",
				len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
		deleted += len(ids)
	}
	s.logger.Debug("prefix deleted", zap.String("prefix", prefix), zap.Int("objects", deleted))
	return deleted, nil
}

// URI returns s3://bucket/prefix
func (s *S3Store) URI() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *S3Store) Close() error { return nil }

// wrap maps S3 API errors onto error types
func (s *S3Store) wrap(err error, msg, key string) error {
	var noKey *types.NoSuchKey
	if stderrors.As(err, &noKey) {
		return errors.Wrap(err, errors.ErrorTypeNotFound, msg).WithDetail("key", key)
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return errors.Wrap(err, errors.ErrorTypeNotFound, msg).WithDetail("key", key)
		case "NoSuchBucket":
			return errors.Wrap(err, errors.ErrorTypeNotFound, msg).WithDetail("bucket", s.bucket)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return errors.Wrap(err, errors.ErrorTypeConflict, msg).WithDetail("key", key)
		case "AccessDenied", "Forbidden":
			return errors.Wrap(err, errors.ErrorTypePermission, msg).WithDetail("key", key)
		}
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, msg).WithDetail("key", key)
}
