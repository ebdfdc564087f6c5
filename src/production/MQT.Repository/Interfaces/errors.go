package interfaces

import (
	"errors"
	"fmt"
)

// ErrReadingNotFound indicates the device has no stored readings
var ErrReadingNotFound = errors.New("reading not found")

// StorageError reports a connectivity or persistence-engine failure
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

// NewStorageError wraps err as a StorageError, passing nil through
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is, or wraps, a StorageError
func IsStorageError(err error) bool {
	var serr *StorageError
	return errors.As(err, &serr)
}
