package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jmcleod/certward/internal/util"
	"github.com/jmcleod/certward/storage"
)

// ---------------------------------------------------------------------------
// Leaf issuance
// ---------------------------------------------------------------------------

// LeafIssuer reconciles server certificates against a store under a
// resolved signing authority.
type LeafIssuer struct {
	store  storage.Store
	policy Policy
}

// NewLeafIssuer creates a LeafIssuer over the given store.
func NewLeafIssuer(store storage.Store, policy Policy) *LeafIssuer {
	return &LeafIssuer{store: store, policy: policy.normalized()}
}

// LeafResolution is the result of reconciling one leaf spec.
type LeafResolution struct {
	Outcome     Outcome
	Certificate *x509.Certificate
	CertPEM     []byte
	Fingerprint Fingerprint
}

func validateLeafSpec(spec LeafSpec) error {
	if spec.PrimaryName == "" {
		return fmt.Errorf("%w: leaf name is empty", ErrInvalidSpec)
	}
	if spec.Identity.Organization == "" {
		return fmt.Errorf("%w: organization is empty", ErrInvalidSpec)
	}
	if spec.ValidityDays <= 0 {
		return fmt.Errorf("%w: leaf validity must be positive, got %d", ErrInvalidSpec, spec.ValidityDays)
	}
	return nil
}

// Issue reconciles one leaf. The effective fingerprint binds the leaf
// spec to the authority certificate material, so replacing the authority
// pair regenerates every leaf under it, even when neither spec changed.
// Names are classified before any state is touched: an invalid alt name
// rejects the leaf without writing or archiving anything.
func (i *LeafIssuer) Issue(spec LeafSpec, authority SigningAuthority) (*LeafResolution, error) {
	spec = spec.withDefaults()
	if err := validateLeafSpec(spec); err != nil {
		return nil, err
	}
	if authority.Certificate == nil || authority.Signer == nil {
		return nil, fmt.Errorf("%w: no signing authority", ErrInvalidSpec)
	}

	dnsNames, ips, err := classifySANSet(spec.PrimaryName, spec.AltNames)
	if err != nil {
		return nil, err
	}

	wantFp := Combine(spec.Fingerprint(), CertificateFingerprint(authority.Certificate))

	replaced := false
	art, err := i.store.Load(spec.PrimaryName)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Nothing stored for this name yet.
	case err != nil:
		return nil, fmt.Errorf("loading leaf %q: %w", spec.PrimaryName, err)
	default:
		cert, _, derr := decodeArtifact(art)
		if derr != nil {
			return nil, fmt.Errorf("leaf %q: %w", spec.PrimaryName, derr)
		}
		storedFp, ferr := EmbeddedFingerprint(cert)
		if ferr == nil && storedFp == wantFp && !i.policy.needsRenewal(cert.NotAfter) {
			util.WipeBytes(art.KeyPEM)
			return &LeafResolution{
				Outcome:     OutcomeReused,
				Certificate: cert,
				CertPEM:     art.CertPEM,
				Fingerprint: wantFp,
			}, nil
		}
		replaced = true
	}

	return i.generate(spec, authority, wantFp, dnsNames, ips, replaced)
}

func (i *LeafIssuer) generate(spec LeafSpec, authority SigningAuthority, fp Fingerprint, dnsNames []string, ips []net.IP, replaced bool) (*LeafResolution, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating leaf key: %w", err)
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
	notAfter := now.AddDate(0, 0, spec.ValidityDays)
	// A leaf must not outlive its signing authority.
	if notAfter.After(authority.Certificate.NotAfter) {
		notAfter = authority.Certificate.NotAfter
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               leafSubject(spec),
		NotBefore:             now,
		NotAfter:              notAfter,
		KeyUsage:              leafKeyUsages,
		ExtKeyUsage:           leafExtKeyUsages,
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
		ExtraExtensions:       []pkix.Extension{ext},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, authority.Certificate, key.Public(), authority.Signer)
	if err != nil {
		return nil, fmt.Errorf("signing leaf certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing generated leaf certificate: %w", err)
	}

	certPEM := encodeCertPEM(der)
	keyPEM, err := encodeKeyPEM(key)
	if err != nil {
		return nil, fmt.Errorf("encoding leaf key: %w", err)
	}
	defer util.WipeBytes(keyPEM)

	if replaced {
		if err := i.store.Archive(spec.PrimaryName); err != nil {
			return nil, fmt.Errorf("archiving leaf %q: %w", spec.PrimaryName, err)
		}
	}
	if err := i.store.Save(spec.PrimaryName, &storage.Artifact{CertPEM: certPEM, KeyPEM: keyPEM}); err != nil {
		return nil, fmt.Errorf("saving leaf %q: %w", spec.PrimaryName, err)
	}

	return &LeafResolution{
		Outcome:     OutcomeRegenerated,
		Certificate: cert,
		CertPEM:     certPEM,
		Fingerprint: fp,
	}, nil
}
