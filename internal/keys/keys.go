// Package keys derives storage keys from resource identifiers.
//
// A storage key is the lowercase hex SHA-256 of the identifier. Identifiers
// are never persisted; every table is keyed by the derived value.
package keys

import (
	_ "crypto/sha256" // registers SHA-256 for go-digest
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Algorithm is the digest algorithm used for storage keys.
const Algorithm = digest.SHA256

// Length is the length of every storage key.
var Length = Algorithm.Size() * 2

// Derive returns the storage key for identifier. It is total and
// deterministic; the output is always Length characters long.
func Derive(identifier string) string {
	return Algorithm.FromString(identifier).Encoded()
}

// Validate reports whether key is a well-formed storage key.
func Validate(key string) error {
	if err := Algorithm.Validate(key); err != nil {
		return fmt.Errorf("invalid storage key %q: %w", key, err)
	}
	return nil
}
