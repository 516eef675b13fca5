package storage

import "sort"

// WorkspaceResource is a transaction-private clone of a Resource taken at
// first touch. Changed marks entries that must be installed on commit.
type WorkspaceResource struct {
	Resource
	Changed bool
}

// Workspace stages the reads and writes of one transaction on one shard.
type Workspace struct {
	entries map[int]*WorkspaceResource
}

func NewWorkspace() *Workspace {
	return &Workspace{entries: make(map[int]*WorkspaceResource)}
}

// Touch returns the workspace entry for key, cloning it from the live store
// the first time the key is referenced.
func (w *Workspace) Touch(key int, store *Store) (*WorkspaceResource, error) {
	if e, ok := w.entries[key]; ok {
		return e, nil
	}
	live, err := store.Get(key)
	if err != nil {
		return nil, err
	}
	e := &WorkspaceResource{Resource: live}
	w.entries[key] = e
	return e, nil
}

// Read returns the staged value for key.
func (w *Workspace) Read(key int, store *Store) (int, error) {
	e, err := w.Touch(key, store)
	if err != nil {
		return 0, err
	}
	return e.Value, nil
}

// Write stages value for key without touching the live store.
func (w *Workspace) Write(key, value int, store *Store) error {
	e, err := w.Touch(key, store)
	if err != nil {
		return err
	}
	e.Value = value
	e.Changed = true
	return nil
}

// Entry returns the staged entry for key, if any.
func (w *Workspace) Entry(key int) (*WorkspaceResource, bool) {
	e, ok := w.entries[key]
	return e, ok
}

// Keys returns every touched key in ascending order.
func (w *Workspace) Keys() []int {
	keys := make([]int, 0, len(w.entries))
	for k := range w.entries {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func (w *Workspace) Len() int { return len(w.entries) }
