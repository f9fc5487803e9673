package storage

import (
	"errors"
)

var (
	// ErrNotFound is returned by all stores for missing keys. Stores translate
	// badger.ErrKeyNotFound into it, so callers never see badger errors.
	ErrNotFound = errors.New("key not found")

	// ErrAlreadyExists is returned by inserts of keys already present.
	ErrAlreadyExists = errors.New("key already exists")
)
