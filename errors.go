package contentcache

import (
	"github.com/jmgilman/go/contentcache/errors"
)

// Sentinel errors returned for caller contract violations. Test with
// errors.Is.
var (
	// ErrInvalidIdentifier is returned for an empty resource identifier.
	ErrInvalidIdentifier = errors.New(errors.CodeInvalidInput, "identifier must not be empty")

	// ErrInvalidKey is returned by RemoveKey for a malformed storage key.
	ErrInvalidKey = errors.New(errors.CodeInvalidInput, "invalid storage key")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New(errors.CodeInvalidConfig, "invalid configuration")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New(errors.CodeClosed, "engine is closed")
)
