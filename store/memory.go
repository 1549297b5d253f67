package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process KeyedStore. Values are JSON-normalized on write so code
// exercised against it sees the same types as against a remote backend.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{records: map[string]Record{}, now: time.Now}
}

func (m *Memory) Read(ctx context.Context, path string) (Record, bool, error) {
	if err := validPath(path); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[path]
	if !ok {
		return nil, false, nil
	}
	return copyRecord(rec), true, nil
}

func (m *Memory) Write(ctx context.Context, path string, value Record) error {
	if err := validPath(path); err != nil {
		return err
	}
	rec, err := normalize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[path] = rec
	return nil
}

func (m *Memory) Update(ctx context.Context, path string, fields Record) error {
	if err := validPath(path); err != nil {
		return err
	}
	norm, err := normalize(fields)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[path] = merge(copyRecord(m.records[path]), norm)
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := validPath(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, path)
	return nil
}

func (m *Memory) PushKey(ctx context.Context, path string) (string, error) {
	if err := validPath(path); err != nil {
		return "", err
	}
	return NewPushKey(m.now()), nil
}

func (m *Memory) Children(ctx context.Context, path string) (map[string]Record, error) {
	if err := validPath(path); err != nil {
		return nil, err
	}
	prefix := path + "/"
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]Record{}
	for p, rec := range m.records {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		leaf := p[len(prefix):]
		if strings.Contains(leaf, "/") {
			continue
		}
		out[leaf] = copyRecord(rec)
	}
	return out, nil
}

func (m *Memory) Keys(ctx context.Context, path string) ([]string, error) {
	if err := validPath(path); err != nil {
		return nil, err
	}
	prefix := path + "/"
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]struct{}{}
	for p := range m.records {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		leaf, _, _ := strings.Cut(p[len(prefix):], "/")
		seen[leaf] = struct{}{}
	}
	return sortedKeys(seen), nil
}

// Len is the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func copyRecord(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
