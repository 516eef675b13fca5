package transaction

import "sort"

// Handle is the registry-owned key of a live transaction. Handles are never reused.
type Handle uint64

// Registry owns the live transactions of one node. Other structures refer to
// transactions by Handle or ID, never by pointer.
type Registry[T any] struct {
	next    Handle
	entries map[Handle]*T
	byID    map[ID]Handle
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[Handle]*T),
		byID:    make(map[ID]Handle),
	}
}

// Add registers txn under id. An existing entry for the same id is replaced.
func (r *Registry[T]) Add(id ID, txn *T) Handle {
	if old, ok := r.byID[id]; ok {
		delete(r.entries, old)
	}
	r.next++
	h := r.next
	r.entries[h] = txn
	r.byID[id] = h
	return h
}

func (r *Registry[T]) Get(h Handle) (*T, bool) {
	t, ok := r.entries[h]
	return t, ok
}

func (r *Registry[T]) Lookup(id ID) (Handle, *T, bool) {
	h, ok := r.byID[id]
	if !ok {
		return 0, nil, false
	}
	return h, r.entries[h], true
}

// Remove drops the transaction registered under id.
func (r *Registry[T]) Remove(id ID) {
	if h, ok := r.byID[id]; ok {
		delete(r.entries, h)
		delete(r.byID, id)
	}
}

// IDs returns the registered ids in registration order.
func (r *Registry[T]) IDs() []ID {
	type pair struct {
		h  Handle
		id ID
	}
	pairs := make([]pair, 0, len(r.byID))
	for id, h := range r.byID {
		pairs = append(pairs, pair{h, id})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].h < pairs[j].h })
	ids := make([]ID, len(pairs))
	for i, p := range pairs {
		ids[i] = p.id
	}
	return ids
}

func (r *Registry[T]) Len() int { return len(r.entries) }

// DecisionLog remembers every decision a node has fixed. It outlives the
// registry entry so late DecisionRequests can still be answered.
type DecisionLog struct {
	decisions map[ID]Decision
}

func NewDecisionLog() *DecisionLog {
	return &DecisionLog{decisions: make(map[ID]Decision)}
}

// Record stores d for id unless a decision is already known. It returns the
// decision in force afterwards and whether this call set it.
func (l *DecisionLog) Record(id ID, d Decision) (Decision, bool) {
	if known, ok := l.decisions[id]; ok {
		return known, false
	}
	l.decisions[id] = d
	return d, true
}

func (l *DecisionLog) Get(id ID) (Decision, bool) {
	d, ok := l.decisions[id]
	return d, ok
}

func (l *DecisionLog) Len() int { return len(l.decisions) }
