package storage

import "sort"

// LockTable is the pending-resource table of a shard: key -> owner. A lock is
// a plain exclusion marker, not reentrant, held from a YES vote until the
// owning transaction is freed.
type LockTable[ID comparable] struct {
	owners map[int]ID
}

func NewLockTable[ID comparable]() *LockTable[ID] {
	return &LockTable[ID]{owners: make(map[int]ID)}
}

// LockedByOther reports whether key is held by a transaction other than id.
func (l *LockTable[ID]) LockedByOther(key int, id ID) bool {
	owner, ok := l.owners[key]
	return ok && owner != id
}

// Owner returns the transaction holding key.
func (l *LockTable[ID]) Owner(key int) (ID, bool) {
	owner, ok := l.owners[key]
	return owner, ok
}

// Lock marks every key as owned by id. It fails without side effects if any
// key is held by another transaction.
func (l *LockTable[ID]) Lock(id ID, keys []int) error {
	for _, k := range keys {
		if l.LockedByOther(k, id) {
			return ErrKeyLocked
		}
	}
	for _, k := range keys {
		l.owners[k] = id
	}
	return nil
}

// Release drops the locks id holds on keys. Keys owned by someone else are left alone.
func (l *LockTable[ID]) Release(id ID, keys []int) {
	for _, k := range keys {
		if owner, ok := l.owners[k]; ok && owner == id {
			delete(l.owners, k)
		}
	}
}

// Locked returns the currently locked keys in ascending order.
func (l *LockTable[ID]) Locked() []int {
	keys := make([]int, 0, len(l.owners))
	for k := range l.owners {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func (l *LockTable[ID]) Len() int { return len(l.owners) }
