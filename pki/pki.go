// Package pki implements the certificate reconciliation core: fingerprint
// computation over certificate specs, root CA resolution, and leaf
// issuance. Decisions are fingerprint-gated: a stored pair is reused only
// when the fingerprint embedded in its certificate matches the spec and
// the pair is not near expiry; everything else regenerates. Persistence
// goes through a storage.Store; the authority's private key is held in
// sealed custody for the duration of a run.
package pki

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jmcleod/certward/storage"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")

	// ErrInvalidSpec is returned when a spec fails basic validation:
	// empty name, empty organization, or non-positive validity.
	ErrInvalidSpec = errors.New("invalid certificate spec")

	// ErrInvalidAltName is returned when an alternate name is neither a
	// valid DNS name nor an IP literal.
	ErrInvalidAltName = errors.New("invalid subject alternative name")

	// ErrKeyMismatch is returned when a stored private key does not match
	// the public key in its certificate.
	ErrKeyMismatch = errors.New("private key does not match certificate")

	// ErrNoFingerprint is returned when a certificate carries no embedded
	// spec fingerprint.
	ErrNoFingerprint = errors.New("certificate has no embedded fingerprint")

	// ErrKeyDestroyed is returned when signing is attempted after the
	// authority key custody has been destroyed.
	ErrKeyDestroyed = errors.New("authority key has been destroyed")
)

// ---------------------------------------------------------------------------
// Reconciliation outcomes
// ---------------------------------------------------------------------------

// Outcome is the reconciliation decision for a single identity.
type Outcome int

const (
	// OutcomeReused means the stored pair matched its spec and was left
	// untouched.
	OutcomeReused Outcome = iota

	// OutcomeRegenerated means a fresh pair was generated and persisted.
	OutcomeRegenerated

	// OutcomeRejected means the identity could not be reconciled.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReused:
		return "reused"
	case OutcomeRegenerated:
		return "regenerated"
	case OutcomeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ---------------------------------------------------------------------------
// Specs
// ---------------------------------------------------------------------------

// Identity carries the organization-wide fields embedded verbatim into the
// subject of every issued certificate.
type Identity struct {
	Organization string
	Email        string
	Country      string // optional
	Province     string // optional
}

// AuthoritySpec describes the desired root CA. Name doubles as the
// artifact file-name prefix and the certificate common name.
type AuthoritySpec struct {
	Name         string
	ValidityDays int
	Identity     Identity
}

// LeafSpec describes a desired server certificate. PrimaryName doubles as
// the artifact file-name prefix and is always included in the SAN set.
type LeafSpec struct {
	PrimaryName  string
	DisplayName  string // defaults to PrimaryName
	ValidityDays int
	AltNames     []string
	Identity     Identity
}

func (s LeafSpec) withDefaults() LeafSpec {
	if s.DisplayName == "" {
		s.DisplayName = s.PrimaryName
	}
	return s
}

// ---------------------------------------------------------------------------
// Subject construction
// ---------------------------------------------------------------------------

// oidEmailAddress is the PKCS#9 emailAddress attribute. RFC 5280 requires
// IA5String encoding for it, which pkix does not produce for plain string
// values, hence the RawValue below.
var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

func subjectName(commonName, orgUnit string, id Identity) pkix.Name {
	name := pkix.Name{
		CommonName:         commonName,
		Organization:       []string{id.Organization},
		OrganizationalUnit: []string{orgUnit},
	}
	if id.Country != "" {
		name.Country = []string{id.Country}
	}
	if id.Province != "" {
		name.Province = []string{id.Province}
	}
	if id.Email != "" {
		name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{
			Type: oidEmailAddress,
			Value: asn1.RawValue{
				Tag:   asn1.TagIA5String,
				Class: asn1.ClassUniversal,
				Bytes: []byte(id.Email),
			},
		})
	}
	return name
}

func authoritySubject(spec AuthoritySpec) pkix.Name {
	return subjectName(spec.Name, spec.Identity.Organization, spec.Identity)
}

func leafSubject(spec LeafSpec) pkix.Name {
	return subjectName(spec.DisplayName, spec.DisplayName, spec.Identity)
}

// subjectString formats a pkix.Name as a readable DN string.
func subjectString(name pkix.Name) string {
	var parts []string
	if name.CommonName != "" {
		parts = append(parts, "CN="+name.CommonName)
	}
	for _, ou := range name.OrganizationalUnit {
		parts = append(parts, "OU="+ou)
	}
	for _, o := range name.Organization {
		parts = append(parts, "O="+o)
	}
	for _, p := range name.Province {
		parts = append(parts, "ST="+p)
	}
	for _, c := range name.Country {
		parts = append(parts, "C="+c)
	}
	for _, atv := range name.Names {
		if atv.Type.Equal(oidEmailAddress) {
			if s, ok := atv.Value.(string); ok {
				parts = append(parts, "emailAddress="+s)
			}
		}
	}
	return strings.Join(parts, ", ")
}

// ---------------------------------------------------------------------------
// Key material encoding
// ---------------------------------------------------------------------------

func encodeCertPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func encodeKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

func decodeCertPEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, ErrInvalidPEM
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return cert, nil
}

func decodeKeyPEM(keyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, ErrInvalidPEM
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		key, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an EC key", ErrInvalidPEM)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unexpected block type %q", ErrInvalidPEM, block.Type)
	}
}

// decodeArtifact parses a stored pair and verifies the private key matches
// the certificate. Failures surface as storage.ErrCorrupted so callers
// never mistake unreadable material for absence.
func decodeArtifact(art *storage.Artifact) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	cert, err := decodeCertPEM(art.CertPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("stored certificate: %w: %v", storage.ErrCorrupted, err)
	}
	key, err := decodeKeyPEM(art.KeyPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("stored key: %w: %v", storage.ErrCorrupted, err)
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || !pub.Equal(key.Public()) {
		return nil, nil, fmt.Errorf("%w: %v", storage.ErrCorrupted, ErrKeyMismatch)
	}
	return cert, key, nil
}

func newSerialNumber() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}
	return serial, nil
}

// ---------------------------------------------------------------------------
// Certificate inspection
// ---------------------------------------------------------------------------

// Certificate status values.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// CertificateInfo is the parsed summary of a stored certificate.
type CertificateInfo struct {
	Subject           string    `json:"subject"`
	Issuer            string    `json:"issuer"`
	SerialNumber      string    `json:"serial_number"`
	NotBefore         time.Time `json:"not_before"`
	NotAfter          time.Time `json:"not_after"`
	DNSNames          []string  `json:"dns_names,omitempty"`
	IPAddresses       []string  `json:"ip_addresses,omitempty"`
	IsCA              bool      `json:"is_ca"`
	KeyAlgorithm      string    `json:"key_algorithm"`
	FingerprintSHA256 string    `json:"fingerprint_sha256"`
	SpecFingerprint   string    `json:"spec_fingerprint,omitempty"`
	Status            string    `json:"status"`
}

// ParseCertificatePEM decodes a PEM certificate and returns a summary of
// the parsed x509 certificate, including the embedded spec fingerprint
// when present.
func ParseCertificatePEM(certPEM []byte) (*CertificateInfo, error) {
	cert, err := decodeCertPEM(certPEM)
	if err != nil {
		return nil, err
	}

	info := &CertificateInfo{
		Subject:           subjectString(cert.Subject),
		Issuer:            subjectString(cert.Issuer),
		SerialNumber:      hex.EncodeToString(cert.SerialNumber.Bytes()),
		NotBefore:         cert.NotBefore.UTC(),
		NotAfter:          cert.NotAfter.UTC(),
		DNSNames:          cert.DNSNames,
		IsCA:              cert.IsCA,
		KeyAlgorithm:      keyAlgorithmString(cert),
		FingerprintSHA256: string(CertificateFingerprint(cert)),
		Status:            certStatus(cert),
	}
	for _, ip := range cert.IPAddresses {
		info.IPAddresses = append(info.IPAddresses, ip.String())
	}
	if fp, err := EmbeddedFingerprint(cert); err == nil {
		info.SpecFingerprint = string(fp)
	}
	return info, nil
}

// certStatus returns "active" or "expired" based on the certificate's validity window.
func certStatus(cert *x509.Certificate) string {
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return StatusExpired
	}
	return StatusActive
}

// keyAlgorithmString returns a human-readable key algorithm description.
func keyAlgorithmString(cert *x509.Certificate) string {
	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		return fmt.Sprintf("ECDSA %s", pub.Curve.Params().Name)
	default:
		return cert.PublicKeyAlgorithm.String()
	}
}
