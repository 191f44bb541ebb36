// Package filesystem implements storage.Store on a local directory.
package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmcleod/certward/storage"
)

const (
	certSuffix = ".crt"
	keySuffix  = ".key"

	dirPerm  = 0o700
	certPerm = 0o644
	keyPerm  = 0o600
)

// Store reads and writes artifacts as <name>.crt / <name>.key file pairs
// under a single directory. Certificates are world-readable, keys are
// owner-only.
type Store struct {
	dir string
}

var _ storage.Store = (*Store)(nil)

// New returns a Store rooted at dir, creating the directory with
// owner-only permissions when missing.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory the store operates on.
func (s *Store) Dir() string {
	return s.dir
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%q: %w", name, storage.ErrInvalidName)
	}
	return nil
}

func (s *Store) certPath(name string) string {
	return filepath.Join(s.dir, name+certSuffix)
}

func (s *Store) keyPath(name string) string {
	return filepath.Join(s.dir, name+keySuffix)
}

func (s *Store) Exists(name string) bool {
	if validName(name) != nil {
		return false
	}
	if _, err := os.Stat(s.certPath(name)); err != nil {
		return false
	}
	if _, err := os.Stat(s.keyPath(name)); err != nil {
		return false
	}
	return true
}

func (s *Store) Load(name string) (*storage.Artifact, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	certPEM, certErr := os.ReadFile(s.certPath(name))
	keyPEM, keyErr := os.ReadFile(s.keyPath(name))

	switch {
	case certErr == nil && keyErr == nil:
		return &storage.Artifact{CertPEM: certPEM, KeyPEM: keyPEM}, nil
	case errors.Is(certErr, fs.ErrNotExist) && errors.Is(keyErr, fs.ErrNotExist):
		return nil, fmt.Errorf("%s: %w", name, storage.ErrNotFound)
	case errors.Is(certErr, fs.ErrNotExist) || errors.Is(keyErr, fs.ErrNotExist):
		// One half of the pair is missing. Treating this as absent would
		// silently regenerate over material an operator may still need.
		return nil, fmt.Errorf("%s: incomplete pair: %w", name, storage.ErrCorrupted)
	case certErr != nil:
		return nil, fmt.Errorf("reading certificate for %s: %w", name, certErr)
	default:
		return nil, fmt.Errorf("reading key for %s: %w", name, keyErr)
	}
}

func (s *Store) Save(name string, art *storage.Artifact) error {
	if err := validName(name); err != nil {
		return err
	}
	// Key first: a crash between the two writes leaves a key without a
	// certificate, which Load reports as corrupted rather than trusting.
	if err := atomicWrite(s.keyPath(name), art.KeyPEM, keyPerm); err != nil {
		return fmt.Errorf("writing key for %s: %w", name, err)
	}
	if err := atomicWrite(s.certPath(name), art.CertPEM, certPerm); err != nil {
		return fmt.Errorf("writing certificate for %s: %w", name, err)
	}
	return nil
}

func (s *Store) Archive(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if !s.Exists(name) {
		return fmt.Errorf("%s: %w", name, storage.ErrNotFound)
	}
	stamp := time.Now().Format("20060102150405")
	archived := fmt.Sprintf("%s.old.%s", name, stamp)
	if err := os.Rename(s.certPath(name), filepath.Join(s.dir, archived+certSuffix)); err != nil {
		return fmt.Errorf("archiving certificate for %s: %w", name, err)
	}
	if err := os.Rename(s.keyPath(name), filepath.Join(s.dir, archived+keySuffix)); err != nil {
		return fmt.Errorf("archiving key for %s: %w", name, err)
	}
	return nil
}

// atomicWrite writes data to a temporary file in the target directory and
// renames it into place, so readers never observe a partially written file.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	// Best-effort cleanup; a no-op once the rename has happened.
	defer os.Remove(tmpName)

	// Restrict permissions before any bytes are written.
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	// Make the rename durable. Failure here leaves a valid file either way.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
