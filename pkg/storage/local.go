package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

const tempPrefix = ".tmp-"

// LocalStore keeps objects as files below a root directory.
type LocalStore struct {
	root   string
	logger *zap.Logger
}

// NewLocalStore roots a store at dir. The directory is created lazily on
// the first write.
func NewLocalStore(dir string, opts Options) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid local path").WithDetail("path", dir)
	}
	return &LocalStore{
		root:   abs,
		logger: opts.logger().With(zap.String("store", "local"), zap.String("root", abs)),
	}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// writeTemp writes data to a temporary file next to the target
func (s *LocalStore) writeTemp(target string, data []byte) (string, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to create directory").WithDetail("dir", dir)
	}
	f, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to create temp file")
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to write temp file")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to close temp file")
	}
	return f.Name(), nil
}

// Put writes to a temp file and renames it into place
func (s *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.path(key)
	tmp, err := s.writeTemp(target, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to move file into place").WithDetail("key", key)
	}
	s.logger.Debug("object written", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

// PutIfAbsent hard-links a fully written temp file to the target, which
// fails when the target exists.
func (s *LocalStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.path(key)
	tmp, err := s.writeTemp(target, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, target); err != nil {
		if os.IsExist(err) {
			return errors.Newf(errors.ErrorTypeConflict, "object %s already exists", key).WithDetail("key", key)
		}
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create object").WithDetail("key", key)
	}
	s.logger.Debug("object created", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

// Get reads a file
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "object %s not found", key).WithDetail("key", key)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read object").WithDetail("key", key)
	}
	return data, nil
}

// List walks the root directory. A missing root lists as empty.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == s.root {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list directory").WithDetail("root", s.root)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes one file
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to delete object").WithDetail("key", key)
	}
	return nil
}

// DeletePrefix removes matching files and prunes directories left empty. An
// empty prefix removes the root directory itself.
func (s *LocalStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	if prefix == "" {
		if err := os.RemoveAll(s.root); err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to remove directory").WithDetail("root", s.root)
		}
		s.logger.Debug("root removed", zap.Int("objects", len(objects)))
		return len(objects), nil
	}

	dirs := make(map[string]struct{})
	for _, obj := range objects {
		if err := s.Delete(ctx, obj.Key); err != nil {
			return 0, err
		}
		dirs[filepath.Dir(s.path(obj.Key))] = struct{}{}
	}
	for dir := range dirs {
		s.pruneEmpty(dir)
	}
	return len(objects), nil
}

// pruneEmpty removes dir and its empty parents up to, not including, root.
func (s *LocalStore) pruneEmpty(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// URI returns the file:// location of the root
func (s *LocalStore) URI() string {
	return "file://" + filepath.ToSlash(s.root)
}

// Close is a no-op
func (s *LocalStore) Close() error { return nil }
