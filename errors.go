// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package muninn defines the error kinds shared by the archive engine
// and its backends.
package muninn

import (
	"errors"

	"github.com/zeebo/errs"
)

var (
	// ErrUser means the caller supplied bad input: an unknown archive, a
	// malformed expression, a schema violation, a path escaping the
	// archive root.
	ErrUser = errs.Class("invalid input")
	// ErrNotFound means a product, namespace, plugin or export format
	// lookup failed.
	ErrNotFound = errs.Class("not found")
	// ErrIntegrity means a catalogue uniqueness or invariant violation.
	ErrIntegrity = errs.Class("integrity error")
	// ErrDownload means a remote transfer or credential failure.
	ErrDownload = errs.Class("download error")
	// ErrHashMismatch means a stored and computed digest differ.
	ErrHashMismatch = errs.Class("hash mismatch")
	// ErrInternal means a broken contract inside the engine, such as a
	// nested transaction or an unresolved expression node.
	ErrInternal = errs.Class("internal error")
	// ErrStorage wraps storage backend failures; see StorageError for the
	// partial-write flag.
	ErrStorage = errs.Class("storage error")
)

// StorageError reports an I/O failure during a storage operation.
// AnythingStored tells the coordinator whether bytes may have reached
// storage, which decides whether rolling back the catalogue is safe.
type StorageError struct {
	Err            error
	AnythingStored bool
}

// WrapStorageError wraps err into the ErrStorage class carrying the
// partial-write flag. A nil err returns nil.
func WrapStorageError(err error, anythingStored bool) error {
	if err == nil {
		return nil
	}
	return ErrStorage.Wrap(&StorageError{Err: err, AnythingStored: anythingStored})
}

// Error implements error.
func (e *StorageError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying failure.
func (e *StorageError) Unwrap() error { return e.Err }

// AnythingStored reports whether err carries a storage failure that may
// have left bytes in storage. Errors that are not storage errors report
// true, since nothing is known about them.
func AnythingStored(err error) bool {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.AnythingStored
	}
	return true
}
