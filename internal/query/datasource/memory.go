// Package datasource adapts concrete stores to the query language's
// DataSource interface.
package datasource

import (
	"context"
	"fmt"
	"sync"

	"netspectra-core/internal/query/lang"
)

// Memory is an in-process DataSource backed by named, appendable row
// tables. It is used for tests and for small reference tables (e.g.
// lookup tables joined against a ClickHouse fact table).
type Memory struct {
	mu        sync.RWMutex
	resources map[string][]lang.Row
}

// NewMemory creates an empty in-memory data source.
func NewMemory() *Memory {
	return &Memory{resources: make(map[string][]lang.Row)}
}

// Load replaces the contents of a named resource wholesale.
func (m *Memory) Load(name string, rows []lang.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[name] = rows
}

// Append adds rows to a named resource, creating it if necessary.
func (m *Memory) Append(name string, rows ...lang.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[name] = append(m.resources[name], rows...)
}

func (m *Memory) Resource(_ context.Context, name string) (lang.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.resources[name]
	if !ok {
		return nil, fmt.Errorf("datasource: unknown resource %q", name)
	}
	return &memoryResource{name: name, rows: rows}, nil
}

type memoryResource struct {
	name string
	rows []lang.Row
}

func (r *memoryResource) Name() string { return r.name }

func (r *memoryResource) Fetch(context.Context) ([]lang.Row, error) {
	out := make([]lang.Row, len(r.rows))
	for i, row := range r.rows {
		out[i] = row.Clone()
	}
	return out, nil
}
