// Package storage provides the key material storage abstraction for issued
// certificate and key pairs. Stores hold opaque PEM bytes under a
// name+suffix convention and have no cryptographic knowledge; parsing and
// validation of the stored material belong to the pki package.
package storage

import "errors"

var (
	// ErrNotFound is returned when no artifact exists under the requested
	// name.
	ErrNotFound = errors.New("artifact not found")

	// ErrCorrupted is returned when an artifact exists but cannot be
	// trusted: one of its two files is missing, or the stored material
	// fails to decode. A corrupted artifact is never treated as absent,
	// since that would cause silent regeneration over material an
	// operator may still need.
	ErrCorrupted = errors.New("artifact corrupted")

	// ErrInvalidName is returned when an artifact name is empty or would
	// escape the store's directory.
	ErrInvalidName = errors.New("invalid artifact name")
)

// Artifact is a stored key/certificate pair in PEM encoding.
type Artifact struct {
	CertPEM []byte
	KeyPEM  []byte
}

// Store persists key/certificate pairs under a name. Implementations map
// each name to two entries: <name>.crt and <name>.key.
type Store interface {
	// Exists reports whether a complete artifact is present under name.
	// Load is authoritative; Exists is a convenience that reports false
	// for partial pairs.
	Exists(name string) bool

	// Load returns the artifact stored under name. It returns ErrNotFound
	// when neither half exists and ErrCorrupted when exactly one does.
	Load(name string) (*Artifact, error)

	// Save persists the artifact under name, overwriting any previous
	// pair. Writes are atomic with respect to partial content: a crash
	// mid-save never leaves a half-written file under the final name.
	// Implementations copy or write out the slices before returning, so
	// the caller may wipe key material afterwards.
	Save(name string, art *Artifact) error

	// Archive renames the pair stored under name to a timestamped backup,
	// clearing the canonical name for a replacement. Archiving a missing
	// artifact returns ErrNotFound.
	Archive(name string) error
}
