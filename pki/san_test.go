package pki_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/certward/pki"
)

func TestClassifyAltName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		kind pki.SANKind
		want string
	}{
		{"plain dns", "backup.example.net", pki.SANDNS, "backup.example.net"},
		{"single label", "srv", pki.SANDNS, "srv"},
		{"uppercase lowered", "SRV.Example.NET", pki.SANDNS, "srv.example.net"},
		{"wildcard", "*.example.net", pki.SANDNS, "*.example.net"},
		{"digits and hyphens", "db-01.example.net", pki.SANDNS, "db-01.example.net"},
		{"surrounding space trimmed", "  srv.example.net  ", pki.SANDNS, "srv.example.net"},
		{"ipv4", "192.168.0.2", pki.SANIP, "192.168.0.2"},
		{"ipv6", "::1", pki.SANIP, "::1"},
		{"out of range octet is dns", "256.0.0.1", pki.SANDNS, "256.0.0.1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			san, err := pki.ClassifyAltName(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, san.Kind)
			switch tc.kind {
			case pki.SANIP:
				assert.Equal(t, tc.want, san.IP.String())
			default:
				assert.Equal(t, tc.want, san.DNS)
			}
		})
	}
}

func TestClassifyAltName_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"   ",
		"not a valid name!!",
		"a..b",
		".example.net",
		"example.net.",
		"-bad.example.net",
		"bad-.example.net",
		"under_score.example.net",
		"*",
		"srv.*.example.net",
		strings.Repeat("a", 64) + ".example.net",
		strings.Repeat("a.", 126) + "aa",
	}
	for _, in := range invalid {
		t.Run(in, func(t *testing.T) {
			_, err := pki.ClassifyAltName(in)
			assert.ErrorIs(t, err, pki.ErrInvalidAltName)
		})
	}
}

func TestCanonicalAltNames(t *testing.T) {
	got := pki.CanonicalAltNames([]string{
		"SRV.Example.Net",
		"backup.example.net",
		"srv.example.net",
		"  backup.example.net ",
		"",
		"192.168.0.2",
	})
	assert.Equal(t, []string{"192.168.0.2", "backup.example.net", "srv.example.net"}, got)
}

func TestCanonicalAltNames_Empty(t *testing.T) {
	assert.Empty(t, pki.CanonicalAltNames(nil))
	assert.Empty(t, pki.CanonicalAltNames([]string{"", "  "}))
}
