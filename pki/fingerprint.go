package pki

import (
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmcleod/certward/internal/util"
)

// ---------------------------------------------------------------------------
// Spec fingerprints
// ---------------------------------------------------------------------------

// Fingerprint is the hex-encoded SHA-256 digest of a spec's canonical
// form. Two specs with the same fingerprint produce interchangeable
// certificates; any material change to a spec changes its fingerprint.
type Fingerprint string

// oidSpecFingerprint is the private-arc extension under which issued
// certificates carry the fingerprint of the spec they were generated
// from. The stored artifact is self-describing: reconciliation reads the
// fingerprint back from the certificate, never from a sidecar file.
var oidSpecFingerprint = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 60321, 1, 1}

// canonicalizer accumulates key=value lines in a fixed order. Values are
// Unicode-normalized and trimmed so cosmetic edits to a config do not
// change the digest.
type canonicalizer struct {
	b strings.Builder
}

func (c *canonicalizer) field(key, value string) {
	c.b.WriteString(key)
	c.b.WriteByte('=')
	c.b.WriteString(util.Normalize(strings.TrimSpace(value)))
	c.b.WriteByte('\n')
}

func (c *canonicalizer) intField(key string, value int) {
	c.b.WriteString(key)
	c.b.WriteByte('=')
	c.b.WriteString(strconv.Itoa(value))
	c.b.WriteByte('\n')
}

func (c *canonicalizer) listField(key string, values []string) {
	c.field(key, strings.Join(values, ","))
}

func (c *canonicalizer) sum() Fingerprint {
	digest := sha256.Sum256([]byte(c.b.String()))
	return Fingerprint(util.HexEncode(digest[:]))
}

func (id Identity) canonicalize(c *canonicalizer) {
	c.field("organization", id.Organization)
	c.field("email", id.Email)
	c.field("country", id.Country)
	c.field("province", id.Province)
}

// Fingerprint returns the digest of the spec's canonical form.
func (s AuthoritySpec) Fingerprint() Fingerprint {
	var c canonicalizer
	c.field("kind", "authority")
	c.field("name", s.Name)
	s.Identity.canonicalize(&c)
	c.intField("validity_days", s.ValidityDays)
	return c.sum()
}

// Fingerprint returns the digest of the spec's canonical form. Alt names
// are lowercased, deduplicated, and sorted first, so reordering them in a
// config does not change the digest.
func (s LeafSpec) Fingerprint() Fingerprint {
	s = s.withDefaults()
	var c canonicalizer
	c.field("kind", "leaf")
	c.field("name", s.PrimaryName)
	c.field("display_name", s.DisplayName)
	s.Identity.canonicalize(&c)
	c.intField("validity_days", s.ValidityDays)
	c.listField("alt_names", CanonicalAltNames(s.AltNames))
	return c.sum()
}

// CertificateFingerprint is the digest of a certificate's raw DER bytes.
// Unlike a spec fingerprint it identifies the exact issued material: two
// pairs generated from the same spec still digest differently.
func CertificateFingerprint(cert *x509.Certificate) Fingerprint {
	digest := sha256.Sum256(cert.Raw)
	return Fingerprint(util.HexEncode(digest[:]))
}

// Combine derives the effective fingerprint of a leaf under a given
// authority. Binding the authority certificate material in means any
// replacement of the authority pair re-issues every leaf it signed,
// whether or not the authority spec changed.
func Combine(leaf, authority Fingerprint) Fingerprint {
	digest := sha256.Sum256([]byte(string(leaf) + "\n" + string(authority) + "\n"))
	return Fingerprint(util.HexEncode(digest[:]))
}

// fingerprintExtension encodes a fingerprint as a certificate extension.
func fingerprintExtension(fp Fingerprint) (pkix.Extension, error) {
	value, err := asn1.Marshal(string(fp))
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("encoding fingerprint extension: %w", err)
	}
	return pkix.Extension{Id: oidSpecFingerprint, Value: value}, nil
}

// EmbeddedFingerprint extracts the spec fingerprint a certificate was
// generated from. Certificates issued elsewhere carry no such extension
// and return ErrNoFingerprint; reconciliation treats them as drifted.
func EmbeddedFingerprint(cert *x509.Certificate) (Fingerprint, error) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidSpecFingerprint) {
			continue
		}
		var value string
		if _, err := asn1.Unmarshal(ext.Value, &value); err != nil {
			return "", fmt.Errorf("decoding fingerprint extension: %w", err)
		}
		return Fingerprint(value), nil
	}
	return "", ErrNoFingerprint
}
