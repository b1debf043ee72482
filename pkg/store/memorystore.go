// Package store implements a simple concurrency-safe store for artifact
// records keyed by artifact name.
package store

import (
	"errors"
	"sync"
)

var (
	ErrKeyExists      = errors.New("store: key already exists")
	ErrKeyDoesntExist = errors.New("store: key does not exist")
)

// Record points at a published artifact: the tar archive on the host and
// the directory inside the container it was copied from, which is where it
// is restored in consuming containers.
type Record struct {
	TarPath     string
	OriginalDir string
}

type Store interface {
	Set(key string, value Record) error
	Get(key string) (Record, error)
	Delete(key string) error
	Keys() []string
}

type MemStore struct {
	lock  sync.Mutex
	store map[string]Record
}

func NewMemStore() *MemStore {
	return &MemStore{
		store: make(map[string]Record),
	}
}

// Set stores a record under a new key. Publishing the same artifact name
// twice is a pipeline definition defect, so existing keys are not replaced.
func (m *MemStore) Set(key string, value Record) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.store[key]; ok {
		return ErrKeyExists
	}
	m.store[key] = value
	return nil
}

// Get returns the record for a key.
func (m *MemStore) Get(key string) (Record, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	r, ok := m.store[key]
	if !ok {
		return Record{}, ErrKeyDoesntExist
	}
	return r, nil
}

// Delete removes the specified key and record.
func (m *MemStore) Delete(key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.store[key]; !ok {
		return ErrKeyDoesntExist
	}
	delete(m.store, key)
	return nil
}

// Keys returns all stored keys in unspecified order.
func (m *MemStore) Keys() []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	keys := make([]string, 0, len(m.store))
	for k := range m.store {
		keys = append(keys, k)
	}
	return keys
}
