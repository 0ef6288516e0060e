package models

import (
	"errors"
	"fmt"
)

var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrNoCandidates   = errors.New("conflict has no candidates")

	ErrConflictNotFound = errors.New("conflict not found")
	ErrConflictResolved = errors.New("conflict already resolved")

	// ErrMalformedMessage marks broker payloads that can never be processed
	ErrMalformedMessage = errors.New("malformed message")
)

// StorageError is returned when the snapshot store cannot be read or written.
// It aborts the current operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DeliveryError is attached to transactions and propagation attempts whose
// remote side (audit sink or platform) failed. Local state stays authoritative.
type DeliveryError struct {
	Target string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ItemSyncError is one entity failing on one platform during a pass
type ItemSyncError struct {
	GUID     string
	Platform Platform
	Err      error
}

func (e *ItemSyncError) Error() string {
	return fmt.Sprintf("sync %s -> %s: %v", e.GUID, e.Platform, e.Err)
}

func (e *ItemSyncError) Unwrap() error { return e.Err }

// IsStorageError reports whether err carries a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
