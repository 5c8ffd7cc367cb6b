package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrUnsupportedDatabaseType = errors.New("unsupported database type")
	ErrJobAlreadyActive        = errors.New("a job is already pending or running for this connection")
	ErrJobTerminal             = errors.New("job is in a terminal state")
	ErrConnectionInactive      = errors.New("connection is inactive")
	ErrCredentialsKeyMismatch  = errors.New("connection credentials were encrypted with a different key")
)

// Category classifies a sync failure. The category decides retry behavior
// and which record (job vs connection) absorbs the failure.
type Category string

const (
	CategoryConfig       Category = "config"
	CategoryAuth         Category = "auth"
	CategoryConnect      Category = "connect"
	CategoryTimeout      Category = "timeout"
	CategoryUnsupported  Category = "unsupported_type"
	CategoryDecryption   Category = "decryption"
	CategoryPartialTable Category = "partial_table"
	CategoryLoad         Category = "load"
)

// SyncError wraps an underlying failure with its taxonomy category.
type SyncError struct {
	Category Category
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is transient. Auth, decryption,
// unsupported-type and config failures never succeed on retry; connect,
// timeout and load failures might.
func (e *SyncError) IsRetryable() bool {
	switch e.Category {
	case CategoryConnect, CategoryTimeout, CategoryLoad:
		return true
	default:
		return false
	}
}

// ConnectionLevel reports whether the failure should flip the owning
// connection to failed status. Table-scoped failures leave the connection
// status untouched.
func (e *SyncError) ConnectionLevel() bool {
	switch e.Category {
	case CategoryAuth, CategoryConnect, CategoryTimeout, CategoryDecryption, CategoryUnsupported:
		return true
	default:
		return false
	}
}

// NewSyncError wraps err with a category. Returns nil if err is nil.
func NewSyncError(category Category, err error) *SyncError {
	if err == nil {
		return nil
	}
	return &SyncError{Category: category, Err: err}
}

// CategoryOf extracts the category from err, walking the wrap chain.
// Unclassified errors report CategoryConnect since the dominant failure
// mode at the connector boundary is network-shaped.
func CategoryOf(err error) Category {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Category
	}
	return CategoryConnect
}
