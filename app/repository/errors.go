package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrStatusChanged is returned by a lifecycle write whose expected status no
// longer matches the stored row.
var ErrStatusChanged = errors.New("tenant status changed concurrently")

// StorageError wraps a failed persistence call. Callers treat it as
// retryable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err carries a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
