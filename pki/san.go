package pki

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/jmcleod/certward/internal/util"
)

// ---------------------------------------------------------------------------
// Subject alternative names
// ---------------------------------------------------------------------------

// SANKind discriminates how an alternate name is embedded in a
// certificate.
type SANKind int

const (
	// SANDNS embeds the name in the certificate's DNS name list.
	SANDNS SANKind = iota

	// SANIP embeds the name in the certificate's IP address list.
	SANIP
)

// SAN is a classified subject alternative name. Exactly one of DNS or IP
// is set, according to Kind.
type SAN struct {
	Kind SANKind
	DNS  string
	IP   net.IP
}

// ClassifyAltName decides whether a configured name is an IP address or a
// DNS name. IP parsing wins: a string that parses as an IP literal is an
// IP SAN even if it would also read as a DNS name. Anything that is
// neither is ErrInvalidAltName; misclassified names are never silently
// dropped.
func ClassifyAltName(name string) (SAN, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return SAN{}, fmt.Errorf("%w: empty name", ErrInvalidAltName)
	}
	if ip := net.ParseIP(name); ip != nil {
		return SAN{Kind: SANIP, IP: ip}, nil
	}
	lowered := strings.ToLower(util.Normalize(name))
	if err := validateDNSName(lowered); err != nil {
		return SAN{}, fmt.Errorf("%w: %q: %v", ErrInvalidAltName, name, err)
	}
	return SAN{Kind: SANDNS, DNS: lowered}, nil
}

// validateDNSName checks a lowercased hostname against the RFC 1035 label
// rules. A leading "*." wildcard label is accepted.
func validateDNSName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("empty name")
	}
	if len(name) > 253 {
		return fmt.Errorf("name exceeds 253 characters")
	}
	labels := strings.Split(name, ".")
	for i, label := range labels {
		if i == 0 && label == "*" && len(labels) > 1 {
			continue
		}
		if err := validateLabel(label); err != nil {
			return err
		}
	}
	return nil
}

func validateLabel(label string) error {
	if len(label) == 0 {
		return fmt.Errorf("empty label")
	}
	if len(label) > 63 {
		return fmt.Errorf("label %q exceeds 63 characters", label)
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("label %q starts or ends with a hyphen", label)
	}
	for _, r := range label {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return fmt.Errorf("label %q contains %q", label, r)
		}
	}
	return nil
}

// CanonicalAltNames returns the fingerprint form of an alt-name list:
// trimmed, Unicode-normalized, lowercased, deduplicated, sorted. Empty
// entries are skipped; invalid entries are kept verbatim so that a spec
// with a bad name still fingerprints deterministically.
func CanonicalAltNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(util.Normalize(strings.TrimSpace(name)))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// classifySANSet classifies the primary name plus all alt names into the
// DNS and IP lists for a certificate template, deduplicating across both.
// The primary name is always first in the DNS list.
func classifySANSet(primary string, altNames []string) ([]string, []net.IP, error) {
	var (
		dnsNames []string
		ips      []net.IP
	)
	seen := make(map[string]struct{}, len(altNames)+1)

	add := func(name string) error {
		san, err := ClassifyAltName(name)
		if err != nil {
			return err
		}
		switch san.Kind {
		case SANIP:
			key := "ip:" + san.IP.String()
			if _, ok := seen[key]; ok {
				return nil
			}
			seen[key] = struct{}{}
			ips = append(ips, san.IP)
		default:
			key := "dns:" + san.DNS
			if _, ok := seen[key]; ok {
				return nil
			}
			seen[key] = struct{}{}
			dnsNames = append(dnsNames, san.DNS)
		}
		return nil
	}

	if err := add(primary); err != nil {
		return nil, nil, err
	}
	for _, name := range altNames {
		if err := add(name); err != nil {
			return nil, nil, err
		}
	}
	return dnsNames, ips, nil
}
