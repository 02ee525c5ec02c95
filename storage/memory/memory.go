// Package memory provides a thread-safe in-memory implementation of storage.Store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/funstudy/funstudy/storage"
)

type table struct {
	keyAttr string
	items   map[string][]byte
}

// Store is a thread-safe in-memory implementation of storage.Store.
// Suitable for testing, demos, and single-process use cases.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{tables: make(map[string]*table)}
}

// Items are held as JSON so callers never share maps with the store and
// numbers come back as float64 like every other backend.
func encodeItem(item storage.Item) ([]byte, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshaling item: %w", err)
	}
	return data, nil
}

func decodeItem(data []byte) (storage.Item, error) {
	var item storage.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}
	return item, nil
}

func (s *Store) tableLocked(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, storage.ErrTableNotFound)
	}
	return t, nil
}

func (s *Store) CreateTable(_ context.Context, spec storage.TableSpec) error {
	if spec.Name == "" || spec.KeyAttribute == "" {
		return fmt.Errorf("table name and key attribute are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[spec.Name]; ok {
		return fmt.Errorf("%s: %w", spec.Name, storage.ErrTableExists)
	}
	s.tables[spec.Name] = &table{keyAttr: spec.KeyAttribute, items: make(map[string][]byte)}
	return nil
}

func (s *Store) TableExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tables[name]
	return ok, nil
}

func (s *Store) ListTables(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *Store) Get(_ context.Context, name, key string) (storage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.tableLocked(name)
	if err != nil {
		return nil, err
	}
	data, ok := t.items[key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", name, key, storage.ErrNotFound)
	}
	return decodeItem(data)
}

func (s *Store) Put(_ context.Context, name string, item storage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(name, item, false)
}

func (s *Store) PutIfAbsent(_ context.Context, name string, item storage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(name, item, true)
}

func (s *Store) putLocked(name string, item storage.Item, ifAbsent bool) error {
	t, err := s.tableLocked(name)
	if err != nil {
		return err
	}
	key, err := storage.KeyOf(item, t.keyAttr)
	if err != nil {
		return err
	}
	if _, exists := t.items[key]; exists && ifAbsent {
		return fmt.Errorf("%s/%s: %w", name, key, storage.ErrConditionFailed)
	}
	data, err := encodeItem(item)
	if err != nil {
		return err
	}
	t.items[key] = data
	return nil
}

func (s *Store) Update(_ context.Context, name, key string, fields storage.Item) (storage.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableLocked(name)
	if err != nil {
		return nil, err
	}
	current := storage.Item{}
	if data, ok := t.items[key]; ok {
		if current, err = decodeItem(data); err != nil {
			return nil, err
		}
	}
	current = storage.Merge(current, fields)
	current[t.keyAttr] = key
	data, err := encodeItem(current)
	if err != nil {
		return nil, err
	}
	t.items[key] = data
	return decodeItem(data)
}

func (s *Store) Delete(_ context.Context, name, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableLocked(name)
	if err != nil {
		return err
	}
	if _, ok := t.items[key]; !ok {
		return fmt.Errorf("%s/%s: %w", name, key, storage.ErrNotFound)
	}
	delete(t.items, key)
	return nil
}

func (s *Store) Scan(_ context.Context, name string, filter *storage.Filter) ([]storage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.tableLocked(name)
	if err != nil {
		return nil, err
	}
	var out []storage.Item
	for _, data := range t.items {
		item, err := decodeItem(data)
		if err != nil {
			return nil, err
		}
		if filter.Matches(item) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *Store) BatchGet(_ context.Context, name string, keys []string) ([]storage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.tableLocked(name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(keys))
	var out []storage.Item
	for _, key := range keys {
		data, ok := t.items[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		item, err := decodeItem(data)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// BatchPut writes all items or none: keys are validated before any write.
func (s *Store) BatchPut(_ context.Context, name string, items []storage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableLocked(name)
	if err != nil {
		return err
	}
	encoded := make(map[string][]byte, len(items))
	for _, item := range items {
		key, err := storage.KeyOf(item, t.keyAttr)
		if err != nil {
			return err
		}
		data, err := encodeItem(item)
		if err != nil {
			return err
		}
		encoded[key] = data
	}
	for key, data := range encoded {
		t.items[key] = data
	}
	return nil
}
