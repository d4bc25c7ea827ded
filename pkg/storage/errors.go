package storage

import "errors"

// These errors are shared by all backends. Implementations wrap them with
// context:
//
//	return fmt.Errorf("object %s: %w", key, storage.ErrObjectNotFound)
//
// and the safe layer maps them to engine error kinds.
var (
	// ErrObjectNotFound indicates the requested object does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidKey indicates a malformed object key.
	ErrInvalidKey = errors.New("invalid object key")

	// ErrInvalidURL indicates a storage URL that cannot be parsed or
	// uses an unknown scheme.
	ErrInvalidURL = errors.New("invalid storage url")

	// ErrClosed indicates the store was already closed.
	ErrClosed = errors.New("store is closed")
)

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
