// Package uuid wraps UUID generation behind a minimal interface so the
// rest of the codebase does not depend on a specific provider.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}
