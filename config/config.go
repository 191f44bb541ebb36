// Package config loads and validates the YAML configuration that drives
// reconciliation: one network section describing the organization and its
// root authority, and a map of site identifiers to server certificate
// sections. Validation is strict and complete before any artifact is
// touched.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/certward/pki"
)

// ErrInvalid is returned for any configuration problem: missing required
// fields, non-positive validity values, or an alternate name that is
// neither a DNS name nor an IP literal.
var ErrInvalid = errors.New("invalid configuration")

// Defaults for optional fields.
const (
	DefaultRootCAName      = "root_ca"
	DefaultRenewBeforeDays = 30
)

// Network describes the organization and its root authority.
type Network struct {
	Name               string `yaml:"name"`
	Email              string `yaml:"email"`
	Country            string `yaml:"country,omitempty"`
	Province           string `yaml:"province,omitempty"`
	RootCAName         string `yaml:"root_ca_name,omitempty"`
	RootCAValidityDays int    `yaml:"root_ca_validity_days,omitempty"`
}

// Site describes one server certificate. The map key in Config.Sites is
// the primary domain name and the artifact file prefix; Name is an
// optional display name used as the certificate's common name.
type Site struct {
	Name            string   `yaml:"name,omitempty"`
	CrtValidityDays int      `yaml:"crt_validity_days,omitempty"`
	AltNames        []string `yaml:"alt_names,omitempty"`
}

// Log tunes diagnostic output.
type Log struct {
	Level  string `yaml:"level,omitempty"`
	Pretty bool   `yaml:"pretty,omitempty"`
}

// Config is the full reconciliation configuration.
type Config struct {
	Network   Network         `yaml:"network"`
	Sites     map[string]Site `yaml:"sites,omitempty"`
	OutputDir string          `yaml:"output_dir,omitempty"`
	Journal   string          `yaml:"journal,omitempty"`
	// RenewBeforeDays is the early-renewal window. Left unset it defaults
	// to DefaultRenewBeforeDays; an explicit 0 disables early renewal so
	// certificates are replaced only once they have expired.
	RenewBeforeDays *int `yaml:"renew_before_days,omitempty"`
	Log             Log  `yaml:"log,omitempty"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration data. Unknown fields are rejected so
// a typo in a key name fails loudly instead of silently applying a
// default.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{Log: Log{Level: "info", Pretty: true}}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset optional fields. Validate expects defaults
// to have been applied.
func (c *Config) ApplyDefaults() {
	if c.Network.RootCAName == "" {
		c.Network.RootCAName = DefaultRootCAName
	}
	if c.Network.RootCAValidityDays == 0 {
		c.Network.RootCAValidityDays = pki.DefaultAuthorityValidityDays
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.RenewBeforeDays == nil {
		days := DefaultRenewBeforeDays
		c.RenewBeforeDays = &days
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	for id, site := range c.Sites {
		if site.CrtValidityDays == 0 {
			site.CrtValidityDays = pki.DefaultLeafValidityDays
			c.Sites[id] = site
		}
	}
}

// Validate checks the full configuration. Any failure wraps ErrInvalid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Network.Name) == "" {
		return fmt.Errorf("%w: network name is required", ErrInvalid)
	}
	if strings.TrimSpace(c.Network.Email) == "" {
		return fmt.Errorf("%w: network email is required", ErrInvalid)
	}
	if c.Network.RootCAValidityDays <= 0 {
		return fmt.Errorf("%w: root_ca_validity_days must be positive, got %d", ErrInvalid, c.Network.RootCAValidityDays)
	}
	if name := c.Network.RootCAName; name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: root_ca_name %q is not a valid artifact name", ErrInvalid, name)
	}
	if c.RenewBeforeDays != nil && *c.RenewBeforeDays < 0 {
		return fmt.Errorf("%w: renew_before_days must not be negative, got %d", ErrInvalid, *c.RenewBeforeDays)
	}

	for _, id := range c.siteIDs() {
		site := c.Sites[id]
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: site identifier is empty", ErrInvalid)
		}
		if id == c.Network.RootCAName {
			return fmt.Errorf("%w: site %q collides with the authority artifact name", ErrInvalid, id)
		}
		if site.CrtValidityDays <= 0 {
			return fmt.Errorf("%w: site %q: crt_validity_days must be positive, got %d", ErrInvalid, id, site.CrtValidityDays)
		}
		if _, err := pki.ClassifyAltName(id); err != nil {
			return fmt.Errorf("%w: site %q: %v", ErrInvalid, id, err)
		}
		for _, alt := range site.AltNames {
			if _, err := pki.ClassifyAltName(alt); err != nil {
				return fmt.Errorf("%w: site %q: %v", ErrInvalid, id, err)
			}
		}
	}
	return nil
}

// siteIDs returns the site identifiers in sorted order, so validation
// errors and issuance order are deterministic.
func (c *Config) siteIDs() []string {
	ids := make([]string, 0, len(c.Sites))
	for id := range c.Sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Config) identity() pki.Identity {
	return pki.Identity{
		Organization: c.Network.Name,
		Email:        c.Network.Email,
		Country:      c.Network.Country,
		Province:     c.Network.Province,
	}
}

// AuthoritySpec derives the root CA spec from the network section.
func (c *Config) AuthoritySpec() pki.AuthoritySpec {
	return pki.AuthoritySpec{
		Name:         c.Network.RootCAName,
		ValidityDays: c.Network.RootCAValidityDays,
		Identity:     c.identity(),
	}
}

// LeafSpecs derives one leaf spec per site, sorted by primary name.
func (c *Config) LeafSpecs() []pki.LeafSpec {
	specs := make([]pki.LeafSpec, 0, len(c.Sites))
	for _, id := range c.siteIDs() {
		site := c.Sites[id]
		specs = append(specs, pki.LeafSpec{
			PrimaryName:  id,
			DisplayName:  site.Name,
			ValidityDays: site.CrtValidityDays,
			AltNames:     site.AltNames,
			Identity:     c.identity(),
		})
	}
	return specs
}

// Policy derives the reconciliation policy.
func (c *Config) Policy() pki.Policy {
	days := DefaultRenewBeforeDays
	if c.RenewBeforeDays != nil {
		days = *c.RenewBeforeDays
	}
	return pki.Policy{
		RenewWindow: time.Duration(days) * 24 * time.Hour,
	}
}
