package storage

import "errors"

var (
	ErrKeyNotOwned      = errors.New("key is not owned by this shard")
	ErrVersionMismatch  = errors.New("live version differs from workspace snapshot")
	ErrKeyLocked        = errors.New("key is currently locked by another transaction")
	ErrResourceNotFound = errors.New("resource not found")
)
