package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
)

// ---------------------------------------------------------------------------
// Authority key custody
// ---------------------------------------------------------------------------

// AuthorityKey holds the authority's private key sealed in an encrypted
// enclave. The key lives in plaintext only for the duration of a single
// signing operation; Destroy wipes it when reconciliation finishes.
type AuthorityKey struct {
	enclave   *memguard.Enclave
	public    crypto.PublicKey
	destroyed bool
}

// newAuthorityKey seals a private key. NewEnclave wipes the DER buffer it
// is handed, so no plaintext copy outlives this call.
func newAuthorityKey(key *ecdsa.PrivateKey) (*AuthorityKey, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("sealing authority key: %w", err)
	}
	return &AuthorityKey{
		enclave: memguard.NewEnclave(der),
		public:  key.Public(),
	}, nil
}

// Public returns the public half of the sealed key.
func (k *AuthorityKey) Public() crypto.PublicKey {
	return k.public
}

// Signer returns a crypto.Signer backed by the enclave. Each Sign call
// unseals the key, signs, and wipes the plaintext again.
func (k *AuthorityKey) Signer() crypto.Signer {
	return enclaveSigner{key: k}
}

// Destroy wipes the sealed key. Further signing fails with
// ErrKeyDestroyed. Destroy is idempotent.
func (k *AuthorityKey) Destroy() {
	if k == nil || k.destroyed {
		return
	}
	k.destroyed = true
	k.enclave = nil
}

type enclaveSigner struct {
	key *AuthorityKey
}

var _ crypto.Signer = enclaveSigner{}

func (s enclaveSigner) Public() crypto.PublicKey {
	return s.key.public
}

func (s enclaveSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if s.key.destroyed || s.key.enclave == nil {
		return nil, ErrKeyDestroyed
	}
	buf, err := s.key.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("unsealing authority key: %w", err)
	}
	defer buf.Destroy()

	priv, err := x509.ParseECPrivateKey(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("parsing unsealed authority key: %w", err)
	}
	return priv.Sign(rand, digest, opts)
}
