// Package storage provides the document store abstraction used for question
// banks, user records, quiz attempts and persisted sessions.
//
// The model follows a managed key-value document service: named tables, a
// single string hash key per table, whole-item reads and writes, and scans
// with an optional equality filter. Every write targets exactly one item;
// there are no multi-item transactions.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Item is a single document. Values are JSON-compatible: strings, float64
// numbers, bools, nil, []any and map[string]any.
type Item map[string]any

// TableSpec describes a table and the attribute holding its hash key.
type TableSpec struct {
	Name         string
	KeyAttribute string
}

// Filter selects items whose Attribute is a string exactly equal to Equals.
// Comparison is case-sensitive.
type Filter struct {
	Attribute string
	Equals    string
}

// Matches reports whether item satisfies the filter. A nil filter matches
// everything.
func (f *Filter) Matches(item Item) bool {
	if f == nil {
		return true
	}
	v, ok := item[f.Attribute].(string)
	return ok && v == f.Equals
}

// Store is the document store used by every domain package.
type Store interface {
	// CreateTable creates an empty table. Returns ErrTableExists if a table
	// with the same name already exists.
	CreateTable(ctx context.Context, spec TableSpec) error
	// TableExists reports whether the named table exists.
	TableExists(ctx context.Context, table string) (bool, error)
	// ListTables returns all table names in lexical order.
	ListTables(ctx context.Context) ([]string, error)

	// Get returns the item with the given key, ErrNotFound if it does not
	// exist, or ErrTableNotFound if the table does not exist.
	Get(ctx context.Context, table, key string) (Item, error)
	// Put creates or replaces an item. The item must carry its key attribute.
	Put(ctx context.Context, table string, item Item) error
	// PutIfAbsent creates an item only if no item with the same key exists,
	// returning ErrConditionFailed otherwise.
	PutIfAbsent(ctx context.Context, table string, item Item) error
	// Update merges fields into the item with the given key, creating it if
	// necessary, and returns the resulting item.
	Update(ctx context.Context, table, key string, fields Item) (Item, error)
	// Delete removes an item. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, table, key string) error

	// Scan returns every item in the table that matches filter.
	Scan(ctx context.Context, table string, filter *Filter) ([]Item, error)
	// BatchGet returns the items for the given keys. Missing keys are
	// skipped; result order is unspecified.
	BatchGet(ctx context.Context, table string, keys []string) ([]Item, error)
	// BatchPut creates or replaces many items.
	BatchPut(ctx context.Context, table string, items []Item) error
}

// KeyOf extracts the string key stored under attr.
func KeyOf(item Item, attr string) (string, error) {
	key, ok := item[attr].(string)
	if !ok || key == "" {
		return "", fmt.Errorf("%s: %w", attr, ErrMissingKey)
	}
	return key, nil
}

// Encode converts a struct with JSON tags into an Item.
func Encode(v any) (Item, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding item: %w", err)
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("encoding item: %w", err)
	}
	return item, nil
}

// Decode converts an Item into v, a pointer to a struct with JSON tags.
func Decode(item Item, v any) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("decoding item: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding item: %w", err)
	}
	return nil
}

// Clone returns a deep copy of item by round-tripping it through JSON, which
// also normalizes numbers to float64 the way every backend returns them.
func Clone(item Item) (Item, error) {
	return Encode(item)
}

// Merge copies fields into item, overwriting existing attributes.
func Merge(item, fields Item) Item {
	if item == nil {
		item = make(Item, len(fields))
	}
	for k, v := range fields {
		item[k] = v
	}
	return item
}
