package persistence

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// memoryRepository keeps everything in a map. Used by tests and available as
// a fallback when no durable path is configured.
type memoryRepository struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryRepository returns an empty in-memory Repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{data: make(map[string][]byte)}
}

func (r *memoryRepository) SetJSON(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = data
	return nil
}

func (r *memoryRepository) GetJSON(key string, out interface{}) (bool, error) {
	r.mu.Lock()
	data, ok := r.data[key]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

func (r *memoryRepository) Delete(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key)
	return nil
}

func (r *memoryRepository) ScanPrefix(prefix string, fn func(key string, value []byte) error) error {
	r.mu.Lock()
	keys := make([]string, 0, len(r.data))
	for k := range r.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	snapshot := make(map[string][]byte, len(keys))
	for _, k := range keys {
		snapshot[k] = r.data[k]
	}
	r.mu.Unlock()

	for _, k := range keys {
		if err := fn(k, snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryRepository) Close() error { return nil }
