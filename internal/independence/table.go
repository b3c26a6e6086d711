package independence

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/publicsuffix"
	"gopkg.in/yaml.v3"
)

//go:embed ownership.yaml
var defaultOwnership []byte

// OwnershipGroup is a set of domains controlled by the same owner
type OwnershipGroup struct {
	ID      string   `yaml:"id" json:"id"`
	Owner   string   `yaml:"owner" json:"owner"`
	Domains []string `yaml:"domains" json:"domains"`
}

type ownershipFile struct {
	Version string           `yaml:"version"`
	Groups  []OwnershipGroup `yaml:"groups"`
}

// OwnershipTable indexes ownership groups by domain. Read-only after load.
type OwnershipTable struct {
	version  string
	groups   []*OwnershipGroup
	byDomain map[string]*OwnershipGroup
}

// DefaultOwnership parses the embedded ownership table
func DefaultOwnership() (*OwnershipTable, error) {
	return ParseOwnership(defaultOwnership)
}

// LoadOwnership reads an ownership table file; an empty path returns the embedded table
func LoadOwnership(path string) (*OwnershipTable, error) {
	if path == "" {
		return DefaultOwnership()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ownership table: %w", err)
	}
	return ParseOwnership(data)
}

// ParseOwnership validates and indexes a YAML or JSON ownership document.
// A domain may belong to one group only.
func ParseOwnership(data []byte) (*OwnershipTable, error) {
	var file ownershipFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse ownership table: %w", err)
	}

	hash := sha256.Sum256(data)
	t := &OwnershipTable{
		version:  file.Version + "+" + hex.EncodeToString(hash[:8]),
		byDomain: make(map[string]*OwnershipGroup),
	}

	seenIDs := make(map[string]bool)
	for i := range file.Groups {
		g := file.Groups[i]
		if g.ID == "" {
			return nil, fmt.Errorf("ownership group %d has no id", i)
		}
		if seenIDs[g.ID] {
			return nil, fmt.Errorf("duplicate ownership group id %q", g.ID)
		}
		seenIDs[g.ID] = true

		group := &OwnershipGroup{ID: g.ID, Owner: g.Owner}
		for _, d := range g.Domains {
			d = normalizeDomain(d)
			if d == "" {
				continue
			}
			if other, ok := t.byDomain[d]; ok {
				return nil, fmt.Errorf("domain %s is in groups %q and %q", d, other.ID, g.ID)
			}
			t.byDomain[d] = group
			group.Domains = append(group.Domains, d)
		}
		t.groups = append(t.groups, group)
	}

	return t, nil
}

// Version identifies the loaded table data
func (t *OwnershipTable) Version() string {
	return t.version
}

// Groups returns all groups in table order
func (t *OwnershipTable) Groups() []*OwnershipGroup {
	return t.groups
}

// GroupFor returns the group owning a domain: the exact host, then its parents down
// to the registrable domain. Unknown domains are independent.
func (t *OwnershipTable) GroupFor(domain string) (*OwnershipGroup, bool) {
	domain = normalizeDomain(domain)
	if domain == "" {
		return nil, false
	}
	if g, ok := t.byDomain[domain]; ok {
		return g, true
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return nil, false
	}
	for h := domain; h != registrable; {
		idx := strings.Index(h, ".")
		if idx < 0 {
			break
		}
		h = h[idx+1:]
		if g, ok := t.byDomain[h]; ok {
			return g, true
		}
	}
	return nil, false
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimSuffix(domain, ".")
	return strings.TrimPrefix(domain, "www.")
}
