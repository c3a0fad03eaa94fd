package kv

import (
	"errors"
	"fmt"
)

var (
	ErrKeyRequired   = errors.New("key is required")
	ErrValueRequired = errors.New("value is required")

	ErrNotFound = errors.New("key not found")
	ErrStore    = errors.New("backing store failure")
)

// StoreError reports a failed backing-store call. It matches ErrStore so callers
// can tell a failed lookup apart from ErrNotFound.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func NewStoreError(op string, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err}
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store %s %q failed", e.Op, e.Key)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }
