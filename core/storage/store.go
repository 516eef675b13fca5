// Package storage holds the per-shard state touched by the participant engine:
// the committed resource store, the per-transaction workspaces used for
// optimistic validation, and the pending-lock table.
package storage

import (
	"fmt"
)

// Resource is a committed store entry.
type Resource struct {
	Value   int
	Version int
}

// Store is the live resource map of one shard. It owns the keys in
// [FirstKey, FirstKey+Size). A Store is not safe for concurrent use; it is
// private to the shard actor.
type Store struct {
	firstKey  int
	size      int
	resources map[int]*Resource
}

// NewStore creates the store for shard `shard`, seeding every owned key with
// defaultValue at version 0.
func NewStore(shard, size, defaultValue int) *Store {
	s := &Store{
		firstKey:  shard * size,
		size:      size,
		resources: make(map[int]*Resource, size),
	}
	for k := s.firstKey; k < s.firstKey+size; k++ {
		s.resources[k] = &Resource{Value: defaultValue}
	}
	return s
}

// Owns reports whether key falls in this shard's partition.
func (s *Store) Owns(key int) bool {
	return key >= s.firstKey && key < s.firstKey+s.size
}

// Get returns a copy of the live resource for key.
func (s *Store) Get(key int) (Resource, error) {
	r, ok := s.resources[key]
	if !ok {
		if !s.Owns(key) {
			return Resource{}, fmt.Errorf("key %d: %w", key, ErrKeyNotOwned)
		}
		return Resource{}, fmt.Errorf("key %d: %w", key, ErrResourceNotFound)
	}
	return *r, nil
}

// Apply installs value for key provided the live version still equals
// snapshotVersion, and bumps the version by exactly one.
func (s *Store) Apply(key, value, snapshotVersion int) error {
	r, ok := s.resources[key]
	if !ok {
		return fmt.Errorf("key %d: %w", key, ErrKeyNotOwned)
	}
	if r.Version != snapshotVersion {
		return fmt.Errorf("key %d (live v%d, snapshot v%d): %w", key, r.Version, snapshotVersion, ErrVersionMismatch)
	}
	r.Value = value
	r.Version = snapshotVersion + 1
	return nil
}

// Sum adds up every live value. The auditor compares it against the initial total.
func (s *Store) Sum() int {
	total := 0
	for _, r := range s.resources {
		total += r.Value
	}
	return total
}
