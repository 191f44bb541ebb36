package pki

import (
	"crypto/x509"
	"time"
)

// ---------------------------------------------------------------------------
// Issuance policy
// ---------------------------------------------------------------------------

// Default validity periods, in days.
const (
	DefaultAuthorityValidityDays = 3650
	DefaultLeafValidityDays      = 365
)

// Key usages follow RFC 5480: an ECDSA signing authority certifies and
// revokes, a leaf only signs handshakes.
var (
	authorityKeyUsages = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	leafKeyUsages      = x509.KeyUsageDigitalSignature
	leafExtKeyUsages   = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
)

// Policy tunes reconciliation decisions that are not part of a spec.
type Policy struct {
	// RenewWindow is the duration before NotAfter at which a stored pair
	// stops being reusable. Zero disables early renewal: material is
	// replaced only once it has expired.
	RenewWindow time.Duration
}

// normalized clamps a negative renewal window to zero.
func (p Policy) normalized() Policy {
	if p.RenewWindow < 0 {
		p.RenewWindow = 0
	}
	return p
}

// needsRenewal reports whether a certificate expiring at notAfter is
// inside the renewal window. Expired certificates always need renewal.
func (p Policy) needsRenewal(notAfter time.Time) bool {
	return !time.Now().Before(notAfter.Add(-p.RenewWindow))
}
