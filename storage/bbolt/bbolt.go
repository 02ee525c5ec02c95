// Package bbolt provides a BBolt-backed storage.Store for single-node
// deployments.
//
// Each table is a bucket. A reserved catalog bucket maps table names to their
// key attribute.
package bbolt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/funstudy/funstudy/storage"
)

var catalogBucket = []byte("__tables")

// Store implements storage.Store backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(catalogBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("initializing bbolt catalog: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreFromFile opens a BBolt database at the given path and returns a new Store.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func tableBucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, string, error) {
	keyAttr := tx.Bucket(catalogBucket).Get([]byte(name))
	if keyAttr == nil {
		return nil, "", fmt.Errorf("%s: %w", name, storage.ErrTableNotFound)
	}
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, "", fmt.Errorf("%s: %w", name, storage.ErrTableNotFound)
	}
	return b, string(keyAttr), nil
}

func decodeItem(data []byte) (storage.Item, error) {
	var item storage.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}
	return item, nil
}

func putItem(b *bbolt.Bucket, keyAttr string, item storage.Item, ifAbsent bool) error {
	key, err := storage.KeyOf(item, keyAttr)
	if err != nil {
		return err
	}
	if ifAbsent && b.Get([]byte(key)) != nil {
		return fmt.Errorf("%s: %w", key, storage.ErrConditionFailed)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	return b.Put([]byte(key), data)
}

func (s *Store) CreateTable(_ context.Context, spec storage.TableSpec) error {
	if spec.Name == "" || spec.KeyAttribute == "" {
		return errors.New("table name and key attribute are required")
	}
	if bytes.Equal([]byte(spec.Name), catalogBucket) {
		return fmt.Errorf("table name %q is reserved", spec.Name)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		catalog := tx.Bucket(catalogBucket)
		if catalog.Get([]byte(spec.Name)) != nil {
			return fmt.Errorf("%s: %w", spec.Name, storage.ErrTableExists)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(spec.Name)); err != nil {
			return err
		}
		return catalog.Put([]byte(spec.Name), []byte(spec.KeyAttribute))
	})
}

func (s *Store) TableExists(_ context.Context, name string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(catalogBucket).Get([]byte(name)) != nil
		return nil
	})
	return ok, err
}

// ListTables walks the catalog, whose keys bbolt already keeps sorted.
func (s *Store) ListTables(_ context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(catalogBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (s *Store) Get(_ context.Context, name, key string) (storage.Item, error) {
	var item storage.Item
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, _, err := tableBucket(tx, name)
		if err != nil {
			return err
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", name, key, storage.ErrNotFound)
		}
		item, err = decodeItem(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Store) Put(_ context.Context, name string, item storage.Item) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, keyAttr, err := tableBucket(tx, name)
		if err != nil {
			return err
		}
		return putItem(b, keyAttr, item, false)
	})
}

func (s *Store) PutIfAbsent(_ context.Context, name string, item storage.Item) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, keyAttr, err := tableBucket(tx, name)
		if err != nil {
			return err
		}
		return putItem(b, keyAttr, item, true)
	})
}

func (s *Store) Update(_ context.Context, name, key string, fields storage.Item) (storage.Item, error) {
	var result storage.Item
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, keyAttr, err := tableBucket(tx, name)
		if err != nil {
			return err
		}
		current := storage.Item{}
		if data := b.Get([]byte(key)); data != nil {
			if current, err = decodeItem(data); err != nil {
				return err
			}
		}
		current = storage.Merge(current, fields)
		current[keyAttr] = key
		data, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("marshaling item: %w", err)
		}
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
		result, err = decodeItem(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Delete(_ context.Context, name, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, _, err := tableBucket(tx, name)
		if err != nil {
			return err
		}
		if b.Get([]byte(key)) == nil {
			return fmt.Errorf("%s/%s: %w", name, key, storage.ErrNotFound)
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) Scan(_ context.Context, name string, filter *storage.Filter) ([]storage.Item, error) {
	var out []storage.Item
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, _, err := tableBucket(tx, name)
		if err != nil {
			return err
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			item, err := decodeItem(v)
			if err != nil {
				return err
			}
			if filter.Matches(item) {
				out = append(out, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) BatchGet(_ context.Context, name string, keys []string) ([]storage.Item, error) {
	var out []storage.Item
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, _, err := tableBucket(tx, name)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(keys))
		for _, key := range keys {
			if seen[key] {
				continue
			}
			seen[key] = true
			data := b.Get([]byte(key))
			if data == nil {
				continue
			}
			item, err := decodeItem(data)
			if err != nil {
				return err
			}
			out = append(out, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BatchPut writes every item in a single bbolt transaction.
func (s *Store) BatchPut(_ context.Context, name string, items []storage.Item) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, keyAttr, err := tableBucket(tx, name)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := putItem(b, keyAttr, item, false); err != nil {
				return err
			}
		}
		return nil
	})
}
