package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/certward/internal/util"
	"github.com/jmcleod/certward/storage"
)

// ---------------------------------------------------------------------------
// Authority resolution
// ---------------------------------------------------------------------------

// AuthorityManager resolves the root CA against a store: it reuses a
// stored pair whose embedded fingerprint matches the spec, and generates
// a fresh self-signed pair otherwise.
type AuthorityManager struct {
	store  storage.Store
	policy Policy
}

// NewAuthorityManager creates an AuthorityManager over the given store.
func NewAuthorityManager(store storage.Store, policy Policy) *AuthorityManager {
	return &AuthorityManager{store: store, policy: policy.normalized()}
}

// AuthorityResolution is the result of resolving the root CA. The caller
// owns the sealed key and must Destroy it when done issuing.
type AuthorityResolution struct {
	Outcome     Outcome
	Certificate *x509.Certificate
	CertPEM     []byte
	Fingerprint Fingerprint
	Key         *AuthorityKey
}

// Signing returns the read-only view leaf issuance needs.
func (r *AuthorityResolution) Signing() SigningAuthority {
	return SigningAuthority{
		Certificate: r.Certificate,
		Signer:      r.Key.Signer(),
	}
}

// Destroy wipes the resolved authority key.
func (r *AuthorityResolution) Destroy() {
	if r != nil {
		r.Key.Destroy()
	}
}

// SigningAuthority is what leaf issuance sees of a resolved authority:
// the certificate and a signer over the sealed key. Leaf fingerprints
// are derived from the certificate itself, never from the spec it was
// generated under.
type SigningAuthority struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer
}

func validateAuthoritySpec(spec AuthoritySpec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: authority name is empty", ErrInvalidSpec)
	}
	if spec.Identity.Organization == "" {
		return fmt.Errorf("%w: organization is empty", ErrInvalidSpec)
	}
	if spec.ValidityDays <= 0 {
		return fmt.Errorf("%w: authority validity must be positive, got %d", ErrInvalidSpec, spec.ValidityDays)
	}
	return nil
}

// Resolve reconciles the root CA. A stored pair is reused only when it
// decodes cleanly, its embedded fingerprint matches the spec, and it is
// outside the renewal window. A corrupted pair aborts resolution rather
// than being silently regenerated; a missing fingerprint counts as drift
// and regenerates.
func (m *AuthorityManager) Resolve(spec AuthoritySpec) (*AuthorityResolution, error) {
	if err := validateAuthoritySpec(spec); err != nil {
		return nil, err
	}
	wantFp := spec.Fingerprint()

	replaced := false
	art, err := m.store.Load(spec.Name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// First run, nothing stored yet.
	case err != nil:
		return nil, fmt.Errorf("loading authority %q: %w", spec.Name, err)
	default:
		cert, key, derr := decodeArtifact(art)
		if derr != nil {
			return nil, fmt.Errorf("authority %q: %w", spec.Name, derr)
		}
		storedFp, ferr := EmbeddedFingerprint(cert)
		if ferr == nil && storedFp == wantFp && !m.policy.needsRenewal(cert.NotAfter) {
			sealed, kerr := newAuthorityKey(key)
			if kerr != nil {
				return nil, kerr
			}
			util.WipeBytes(art.KeyPEM)
			return &AuthorityResolution{
				Outcome:     OutcomeReused,
				Certificate: cert,
				CertPEM:     art.CertPEM,
				Fingerprint: wantFp,
				Key:         sealed,
			}, nil
		}
		replaced = true
	}

	return m.generate(spec, wantFp, replaced)
}

// generate creates a fresh self-signed authority pair and persists it,
// archiving the previous pair first when one is being replaced.
func (m *AuthorityManager) generate(spec AuthoritySpec, fp Fingerprint, replaced bool) (*AuthorityResolution, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating authority key: %w", err)
	}
	serial, err := newSerialNumber()
	if err != nil {
		return nil, err
	}
	ext, err := fingerprintExtension(fp)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               authoritySubject(spec),
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, spec.ValidityDays),
		KeyUsage:              authorityKeyUsages,
		BasicConstraintsValid: true,
		IsCA:                  true,
		ExtraExtensions:       []pkix.Extension{ext},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("self-signing authority certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing generated authority certificate: %w", err)
	}

	certPEM := encodeCertPEM(der)
	keyPEM, err := encodeKeyPEM(key)
	if err != nil {
		return nil, fmt.Errorf("encoding authority key: %w", err)
	}
	defer util.WipeBytes(keyPEM)

	if replaced {
		if err := m.store.Archive(spec.Name); err != nil {
			return nil, fmt.Errorf("archiving authority %q: %w", spec.Name, err)
		}
	}
	if err := m.store.Save(spec.Name, &storage.Artifact{CertPEM: certPEM, KeyPEM: keyPEM}); err != nil {
		return nil, fmt.Errorf("saving authority %q: %w", spec.Name, err)
	}

	sealed, err := newAuthorityKey(key)
	if err != nil {
		return nil, err
	}
	return &AuthorityResolution{
		Outcome:     OutcomeRegenerated,
		Certificate: cert,
		CertPEM:     certPEM,
		Fingerprint: fp,
		Key:         sealed,
	}, nil
}
