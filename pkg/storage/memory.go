package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

type memObject struct {
	data    []byte
	modTime time.Time
}

// MemoryStore keeps objects in process memory
type MemoryStore struct {
	name    string
	mu      sync.RWMutex
	objects map[string]memObject
}

var (
	memMu     sync.Mutex
	memStores = make(map[string]*MemoryStore)
)

// OpenMemoryStore returns the process-wide memory store registered under
// name, creating it on first use. Stores opened with the same name share
// their objects.
func OpenMemoryStore(name string) *MemoryStore {
	memMu.Lock()
	defer memMu.Unlock()

	if s, ok := memStores[name]; ok {
		return s
	}
	s := NewMemoryStore(name)
	memStores[name] = s
	return s
}

// NewMemoryStore returns an unregistered, empty memory store
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name, objects: make(map[string]memObject)}
}

// Put stores a copy of data
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{data: append([]byte(nil), data...), modTime: time.Now()}
	return nil
}

// PutIfAbsent stores data unless key is taken
func (s *MemoryStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; ok {
		return errors.Newf(errors.ErrorTypeConflict, "object %s already exists", key).WithDetail("key", key)
	}
	s.objects[key] = memObject{data: append([]byte(nil), data...), modTime: time.Now()}
	return nil
}

// Get returns a copy of the stored bytes
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "object %s not found", key).WithDetail("key", key)
	}
	return append([]byte(nil), obj.data...), nil
}

// List returns matching objects sorted by key
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(obj.data)), ModTime: obj.modTime})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes key if present
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// DeletePrefix removes every key starting with prefix
func (s *MemoryStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
			n++
		}
	}
	return n, nil
}

// URI returns mem://name
func (s *MemoryStore) URI() string { return "mem://" + s.name }

// Close keeps the objects so a later Open with the same name sees them.
func (s *MemoryStore) Close() error { return nil }
