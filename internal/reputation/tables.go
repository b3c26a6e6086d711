package reputation

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ppiankov/tru8/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed reputation.yaml
var defaultTable []byte

// TableFile is the on-disk shape of the reputation tables (YAML or JSON)
type TableFile struct {
	Version            string                `yaml:"version"`
	DefaultCredibility float64               `yaml:"default_credibility"`
	Tiers              []TierEntry           `yaml:"tiers"`
	Domains            map[string]DomainInfo `yaml:"domains"`
	Risk               map[string]RiskEntry  `yaml:"risk"`
}

// TierEntry assigns one credibility and category to a list of domains or wildcards
type TierEntry struct {
	Category    model.Category `yaml:"category"`
	Credibility float64        `yaml:"credibility"`
	Domains     []string       `yaml:"domains"`
}

// DomainInfo is a credibility table row
type DomainInfo struct {
	Credibility float64        `yaml:"credibility" json:"credibility"`
	Category    model.Category `yaml:"category,omitempty" json:"category,omitempty"`
}

// RiskEntry is a reputation risk table row
type RiskEntry struct {
	Level                 model.RiskLevel `yaml:"level"`
	Flags                 []string        `yaml:"flags"`
	CredibilityAdjustment *float64        `yaml:"credibility_adjustment"`
}

// Tables is the immutable index built from a TableFile
type Tables struct {
	version            string
	digest             string
	defaultCredibility float64
	exact              map[string]DomainInfo
	wildcards          []wildcard // longest suffix first
	risk               map[string]RiskEntry
}

type wildcard struct {
	suffix string // ".gov.uk"
	info   DomainInfo
}

// DefaultTables parses the embedded tables
func DefaultTables() (*Tables, error) {
	return ParseTables(defaultTable)
}

// LoadTables reads a table file; an empty path returns the embedded defaults
func LoadTables(path string) (*Tables, error) {
	if path == "" {
		return DefaultTables()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reputation table: %w", err)
	}
	return ParseTables(data)
}

// ParseTables validates and indexes a YAML or JSON table document
func ParseTables(data []byte) (*Tables, error) {
	var file TableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse reputation table: %w", err)
	}

	hash := sha256.Sum256(data)
	t := &Tables{
		version:            file.Version,
		digest:             hex.EncodeToString(hash[:8]),
		defaultCredibility: file.DefaultCredibility,
		exact:              make(map[string]DomainInfo),
		risk:               make(map[string]RiskEntry),
	}
	if t.defaultCredibility <= 0 {
		t.defaultCredibility = 0.6
	}

	for _, tier := range file.Tiers {
		if !tier.Category.Valid() {
			return nil, fmt.Errorf("tier has unknown category %q", tier.Category)
		}
		if err := checkCredibility(string(tier.Category), tier.Credibility); err != nil {
			return nil, err
		}
		for _, domain := range tier.Domains {
			t.add(domain, DomainInfo{Credibility: tier.Credibility, Category: tier.Category})
		}
	}

	// Domain rows win over tier membership
	for domain, info := range file.Domains {
		if err := checkCredibility(domain, info.Credibility); err != nil {
			return nil, err
		}
		if info.Category == "" {
			info.Category = CategoryForCredibility(info.Credibility)
		} else if !info.Category.Valid() {
			return nil, fmt.Errorf("domain %s has unknown category %q", domain, info.Category)
		}
		t.add(domain, info)
	}

	for domain, entry := range file.Risk {
		if !entry.Level.Valid() {
			return nil, fmt.Errorf("domain %s has unknown risk level %q", domain, entry.Level)
		}
		if entry.CredibilityAdjustment != nil {
			if err := checkCredibility(domain+" adjustment", *entry.CredibilityAdjustment); err != nil {
				return nil, err
			}
		}
		t.risk[normalizeDomain(domain)] = entry
	}

	sortWildcards(t.wildcards)
	return t, nil
}

// Version identifies the loaded table data (declared version plus content digest)
func (t *Tables) Version() string {
	return t.version + "+" + t.digest
}

// Size returns the number of exact and wildcard credibility entries
func (t *Tables) Size() int {
	return len(t.exact) + len(t.wildcards)
}

func (t *Tables) add(domain string, info DomainInfo) {
	domain = normalizeDomain(domain)
	if strings.HasPrefix(domain, "*.") {
		suffix := domain[1:]
		for i := range t.wildcards {
			if t.wildcards[i].suffix == suffix {
				t.wildcards[i].info = info
				return
			}
		}
		t.wildcards = append(t.wildcards, wildcard{suffix: suffix, info: info})
		return
	}
	t.exact[domain] = info
}

// sortWildcards puts the most specific (longest) suffix first
func sortWildcards(ws []wildcard) {
	sort.SliceStable(ws, func(i, j int) bool {
		return len(ws[i].suffix) > len(ws[j].suffix)
	})
}

func checkCredibility(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s: credibility %.2f outside [0, 1]", name, v)
	}
	return nil
}

// CategoryForCredibility buckets table rows that carry no explicit category
func CategoryForCredibility(credibility float64) model.Category {
	switch {
	case credibility >= 0.85:
		return model.CategoryTier1News
	case credibility >= 0.75:
		return model.CategoryTier2News
	default:
		return model.CategoryGeneral
	}
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimSuffix(domain, ".")
	return strings.TrimPrefix(domain, "www.")
}
