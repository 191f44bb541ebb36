package pki_test

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/certward/pki"
	"github.com/jmcleod/certward/storage"
	"github.com/jmcleod/certward/storage/memory"
)

func testAuthoritySpec() pki.AuthoritySpec {
	return pki.AuthoritySpec{
		Name:         "root_ca",
		ValidityDays: 3650,
		Identity:     testIdentity(),
	}
}

// externalPair builds a self-signed pair the way a foreign tool would:
// valid material, but without an embedded fingerprint.
func externalPair(t *testing.T, notAfter time.Time) *storage.Artifact {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "external", Organization: []string{"Elsewhere"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	return &storage.Artifact{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}
}

func TestResolve_FreshAuthority(t *testing.T) {
	store := memory.New()
	manager := pki.NewAuthorityManager(store, pki.Policy{})

	res, err := manager.Resolve(testAuthoritySpec())
	require.NoError(t, err)
	t.Cleanup(res.Destroy)

	assert.Equal(t, pki.OutcomeRegenerated, res.Outcome)
	assert.True(t, res.Certificate.IsCA)
	assert.True(t, res.Certificate.BasicConstraintsValid)
	assert.Equal(t, x509.KeyUsageCertSign|x509.KeyUsageCRLSign, res.Certificate.KeyUsage)
	assert.Equal(t, "root_ca", res.Certificate.Subject.CommonName)
	assert.Contains(t, res.Certificate.Subject.Organization, "Example Labs")
	assert.Contains(t, res.Certificate.Subject.OrganizationalUnit, "Example Labs")
	assert.Contains(t, res.Certificate.Subject.Country, "US")

	// Self-signed and within the requested validity window.
	assert.NoError(t, res.Certificate.CheckSignatureFrom(res.Certificate))
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 3650), res.Certificate.NotAfter, time.Hour)

	// The spec fingerprint rides inside the certificate.
	fp, err := pki.EmbeddedFingerprint(res.Certificate)
	require.NoError(t, err)
	assert.Equal(t, res.Fingerprint, fp)

	assert.True(t, store.Exists("root_ca"))
}

func TestResolve_ReuseIsByteIdentical(t *testing.T) {
	store := memory.New()
	manager := pki.NewAuthorityManager(store, pki.Policy{})
	spec := testAuthoritySpec()

	res1, err := manager.Resolve(spec)
	require.NoError(t, err)
	t.Cleanup(res1.Destroy)
	first, err := store.Load("root_ca")
	require.NoError(t, err)

	res2, err := manager.Resolve(spec)
	require.NoError(t, err)
	t.Cleanup(res2.Destroy)
	second, err := store.Load("root_ca")
	require.NoError(t, err)

	assert.Equal(t, pki.OutcomeReused, res2.Outcome)
	assert.Equal(t, first.CertPEM, second.CertPEM)
	assert.Equal(t, first.KeyPEM, second.KeyPEM)
	assert.Equal(t, res1.CertPEM, res2.CertPEM)
	assert.Equal(t, 1, store.Len())
}

func TestResolve_RegenerateOnDrift(t *testing.T) {
	store := memory.New()
	manager := pki.NewAuthorityManager(store, pki.Policy{})

	res1, err := manager.Resolve(testAuthoritySpec())
	require.NoError(t, err)
	t.Cleanup(res1.Destroy)

	drifted := testAuthoritySpec()
	drifted.ValidityDays = 1825
	res2, err := manager.Resolve(drifted)
	require.NoError(t, err)
	t.Cleanup(res2.Destroy)

	assert.Equal(t, pki.OutcomeRegenerated, res2.Outcome)
	assert.NotEqual(t, res1.Fingerprint, res2.Fingerprint)
	assert.NotEqual(t, res1.Certificate.SerialNumber, res2.Certificate.SerialNumber)
	// The replaced pair was archived, not overwritten.
	assert.Equal(t, 2, store.Len())
}

func TestResolve_RegenerateNearExpiry(t *testing.T) {
	store := memory.New()
	spec := testAuthoritySpec()
	spec.ValidityDays = 40

	res1, err := pki.NewAuthorityManager(store, pki.Policy{}).Resolve(spec)
	require.NoError(t, err)
	t.Cleanup(res1.Destroy)
	require.Equal(t, pki.OutcomeRegenerated, res1.Outcome)

	// Same spec, but a renewal window wider than the remaining validity.
	wide := pki.NewAuthorityManager(store, pki.Policy{RenewWindow: 90 * 24 * time.Hour})
	res2, err := wide.Resolve(spec)
	require.NoError(t, err)
	t.Cleanup(res2.Destroy)

	assert.Equal(t, pki.OutcomeRegenerated, res2.Outcome)
	assert.Equal(t, res1.Fingerprint, res2.Fingerprint)
}

func TestResolve_ZeroWindowReusesUntilExpiry(t *testing.T) {
	store := memory.New()
	spec := testAuthoritySpec()
	spec.ValidityDays = 2

	res1, err := pki.NewAuthorityManager(store, pki.Policy{}).Resolve(spec)
	require.NoError(t, err)
	t.Cleanup(res1.Destroy)
	require.Equal(t, pki.OutcomeRegenerated, res1.Outcome)

	// No renewal window: the pair stays in use right up to expiry.
	res2, err := pki.NewAuthorityManager(store, pki.Policy{}).Resolve(spec)
	require.NoError(t, err)
	t.Cleanup(res2.Destroy)
	assert.Equal(t, pki.OutcomeReused, res2.Outcome)

	// A window wider than the remaining validity still renews early.
	narrow := pki.NewAuthorityManager(store, pki.Policy{RenewWindow: 10 * 24 * time.Hour})
	res3, err := narrow.Resolve(spec)
	require.NoError(t, err)
	t.Cleanup(res3.Destroy)
	assert.Equal(t, pki.OutcomeRegenerated, res3.Outcome)
}

func TestResolve_ForeignCertificateRegenerates(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Save("root_ca", externalPair(t, time.Now().AddDate(10, 0, 0))))

	res, err := pki.NewAuthorityManager(store, pki.Policy{}).Resolve(testAuthoritySpec())
	require.NoError(t, err)
	t.Cleanup(res.Destroy)

	// No embedded fingerprint counts as drift, not corruption.
	assert.Equal(t, pki.OutcomeRegenerated, res.Outcome)
	assert.Equal(t, "root_ca", res.Certificate.Subject.CommonName)
}

func TestResolve_CorruptArtifact(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Save("root_ca", &storage.Artifact{
		CertPEM: []byte("not a certificate"),
		KeyPEM:  []byte("not a key"),
	}))

	_, err := pki.NewAuthorityManager(store, pki.Policy{}).Resolve(testAuthoritySpec())
	assert.ErrorIs(t, err, storage.ErrCorrupted)
}

func TestResolve_KeyMismatchIsCorrupt(t *testing.T) {
	store := memory.New()
	a := externalPair(t, time.Now().AddDate(10, 0, 0))
	b := externalPair(t, time.Now().AddDate(10, 0, 0))
	require.NoError(t, store.Save("root_ca", &storage.Artifact{CertPEM: a.CertPEM, KeyPEM: b.KeyPEM}))

	_, err := pki.NewAuthorityManager(store, pki.Policy{}).Resolve(testAuthoritySpec())
	assert.ErrorIs(t, err, storage.ErrCorrupted)
}

func TestResolve_InvalidSpec(t *testing.T) {
	store := memory.New()
	manager := pki.NewAuthorityManager(store, pki.Policy{})

	tests := map[string]pki.AuthoritySpec{
		"empty name":         {ValidityDays: 3650, Identity: testIdentity()},
		"empty organization": {Name: "root_ca", ValidityDays: 3650},
		"zero validity":      {Name: "root_ca", Identity: testIdentity()},
		"negative validity":  {Name: "root_ca", ValidityDays: -1, Identity: testIdentity()},
	}
	for name, spec := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := manager.Resolve(spec)
			assert.ErrorIs(t, err, pki.ErrInvalidSpec)
		})
	}
	// Nothing was written.
	assert.Equal(t, 0, store.Len())
}

func TestAuthorityKey_DestroyFailsClosed(t *testing.T) {
	store := memory.New()
	res, err := pki.NewAuthorityManager(store, pki.Policy{}).Resolve(testAuthoritySpec())
	require.NoError(t, err)

	signing := res.Signing()
	digest := sha256.Sum256([]byte("payload"))

	// Signing works while the key is alive.
	_, err = signing.Signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	require.NoError(t, err)

	res.Destroy()
	_, err = signing.Signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	assert.ErrorIs(t, err, pki.ErrKeyDestroyed)

	// Destroy is idempotent.
	res.Destroy()
}
