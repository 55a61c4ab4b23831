// Package catalog maps logical table names such as "employee_tbl" to table
// locations, the way a metastore backs saveAsTable.
package catalog

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

// Entry is one registered table
type Entry struct {
	Name        string
	Location    string
	Format      string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Catalog is a table name registry. Names are case-insensitive and stored
// lower-case.
type Catalog interface {
	// Register creates or replaces the entry for e.Name
	Register(ctx context.Context, e Entry) error
	// Lookup returns a not-found error for unknown names
	Lookup(ctx context.Context, name string) (*Entry, error)
	// Drop removes the entry; unknown names return a not-found error
	Drop(ctx context.Context, name string) error
	// List returns all entries sorted by name
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// DefaultFormat is recorded when an entry has no format
const DefaultFormat = "delta"

var namePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

// NormalizeName lower-cases name and checks it is a valid, optionally
// database-qualified, identifier.
func NormalizeName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if !namePattern.MatchString(n) {
		return "", errors.Newf(errors.ErrorTypeValidation, "invalid table name %q", name)
	}
	return n, nil
}

func prepareEntry(e Entry) (Entry, error) {
	name, err := NormalizeName(e.Name)
	if err != nil {
		return Entry{}, err
	}
	if e.Location == "" {
		return Entry{}, errors.Newf(errors.ErrorTypeValidation, "table %s has no location", name)
	}
	e.Name = name
	if e.Format == "" {
		e.Format = DefaultFormat
	}
	return e, nil
}

func notFound(name string) error {
	return errors.Newf(errors.ErrorTypeNotFound, "table %s not found in catalog", name).
		WithDetail("table", name)
}

// Memory is an in-process Catalog
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemory returns an empty in-memory catalog
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry), now: time.Now}
}

func (m *Memory) Register(ctx context.Context, e Entry) error {
	e, err := prepareEntry(e)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if old, ok := m.entries[e.Name]; ok {
		e.CreatedAt = old.CreatedAt
	} else {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	m.entries[e.Name] = e
	return nil
}

func (m *Memory) Lookup(ctx context.Context, name string) (*Entry, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[n]
	if !ok {
		return nil, notFound(n)
	}
	return &e, nil
}

func (m *Memory) Drop(ctx context.Context, name string) error {
	n, err := NormalizeName(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[n]; !ok {
		return notFound(n)
	}
	delete(m.entries, n)
	return nil
}

func (m *Memory) List(ctx context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Close() error { return nil }
