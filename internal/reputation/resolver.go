package reputation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ppiankov/tru8/internal/cache"
	"github.com/ppiankov/tru8/internal/model"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// How a domain was matched against the credibility table
const (
	MatchExact    = "exact"
	MatchSuffix   = "suffix"
	MatchWildcard = "wildcard"
	MatchDefault  = "default"
)

// Resolution is the reputation of one source
type Resolution struct {
	URL                   string          `json:"url"`
	Domain                string          `json:"domain"`
	BaseCredibility       float64         `json:"base_credibility"`
	Category              model.Category  `json:"category"`
	MatchedBy             string          `json:"matched_by"`
	RiskLevel             model.RiskLevel `json:"risk_level"`
	RiskFlags             []string        `json:"risk_flags,omitempty"`
	RiskAdjustment        float64         `json:"risk_adjustment"`
	PageQualityMultiplier float64         `json:"page_quality_multiplier"`
	QualityFlags          []string        `json:"quality_flags,omitempty"`
}

// domainRecord is the cacheable, page-independent part of a resolution
type domainRecord struct {
	Credibility    float64         `json:"credibility"`
	Category       model.Category  `json:"category"`
	MatchedBy      string          `json:"matched_by"`
	RiskLevel      model.RiskLevel `json:"risk_level"`
	RiskFlags      []string        `json:"risk_flags,omitempty"`
	RiskAdjustment float64         `json:"risk_adjustment"`
}

// Resolver maps sources to credibility, risk and page quality.
// It performs no network calls; domain lookups are read through the cache.
type Resolver struct {
	tables *Tables
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewResolver creates a resolver over loaded tables. c may be nil.
func NewResolver(tables *Tables, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Resolver {
	if c == nil {
		c = cache.NoopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		tables: tables,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

// Resolve returns the reputation of a URL plus page-quality heuristics on its title and snippet
func (r *Resolver) Resolve(rawURL, title, snippet string) Resolution {
	domain := normalizeDomain(model.HostFromURL(rawURL))
	rec := r.lookupDomain(domain)
	multiplier, qualityFlags := PageQuality(rawURL, title, snippet)

	return Resolution{
		URL:                   rawURL,
		Domain:                domain,
		BaseCredibility:       rec.Credibility,
		Category:              rec.Category,
		MatchedBy:             rec.MatchedBy,
		RiskLevel:             rec.RiskLevel,
		RiskFlags:             rec.RiskFlags,
		RiskAdjustment:        rec.RiskAdjustment,
		PageQualityMultiplier: multiplier,
		QualityFlags:          qualityFlags,
	}
}

// Annotate resolves each item in place and recomputes its final credibility
func (r *Resolver) Annotate(items []*model.ScoredEvidence) {
	for _, item := range items {
		res := r.Resolve(item.URL, item.Title, item.Snippet)
		item.BaseCredibility = res.BaseCredibility
		item.Category = res.Category
		item.RiskLevel = res.RiskLevel
		item.RiskFlags = res.RiskFlags
		item.RiskAdjustment = res.RiskAdjustment
		item.PageQualityMultiplier = res.PageQualityMultiplier
		item.QualityFlags = res.QualityFlags
		item.Recompute()

		if res.MatchedBy == MatchDefault {
			r.logger.Debug("reputation lookup miss", zap.String("domain", res.Domain))
		}
	}
}

func (r *Resolver) lookupDomain(domain string) domainRecord {
	key := cache.Key("reputation", r.tables.Version(), domain)
	data, err := cache.ReadThrough(r.cache, key, r.ttl, func() ([]byte, error) {
		return json.Marshal(r.tables.record(domain))
	})
	if err == nil {
		var rec domainRecord
		if json.Unmarshal(data, &rec) == nil {
			return rec
		}
	}
	return r.tables.record(domain)
}

// record looks up credibility and risk for a normalized domain
func (t *Tables) record(domain string) domainRecord {
	info, matchedBy := t.Lookup(domain)
	rec := domainRecord{
		Credibility:    info.Credibility,
		Category:       info.Category,
		MatchedBy:      matchedBy,
		RiskLevel:      model.RiskNone,
		RiskAdjustment: 1.0,
	}
	if entry, ok := t.Risk(domain); ok {
		rec.RiskLevel = entry.Level
		rec.RiskFlags = entry.Flags
		rec.RiskAdjustment = entry.Level.DefaultAdjustment()
		if entry.CredibilityAdjustment != nil {
			rec.RiskAdjustment = *entry.CredibilityAdjustment
		}
	}
	return rec
}

// Lookup finds the credibility entry for a domain: exact match, then parent domains
// down to the registrable domain, then wildcard patterns, then the default.
func (t *Tables) Lookup(domain string) (DomainInfo, string) {
	domain = normalizeDomain(domain)
	if domain != "" {
		if info, ok := t.exact[domain]; ok {
			return info, MatchExact
		}
		for _, parent := range parentDomains(domain) {
			if info, ok := t.exact[parent]; ok {
				return info, MatchSuffix
			}
		}
		for _, w := range t.wildcards {
			if strings.HasSuffix(domain, w.suffix) {
				return w.info, MatchWildcard
			}
		}
	}
	return DomainInfo{Credibility: t.defaultCredibility, Category: model.CategoryGeneral}, MatchDefault
}

// Risk finds the risk entry for a domain or one of its parents
func (t *Tables) Risk(domain string) (RiskEntry, bool) {
	domain = normalizeDomain(domain)
	if entry, ok := t.risk[domain]; ok {
		return entry, true
	}
	for _, parent := range parentDomains(domain) {
		if entry, ok := t.risk[parent]; ok {
			return entry, true
		}
	}
	return RiskEntry{}, false
}

// parentDomains lists the parents of a host, nearest first, stopping at the
// registrable domain so public suffixes like co.uk never match
func parentDomains(host string) []string {
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil || registrable == host {
		return nil
	}
	var parents []string
	for h := host; h != registrable; {
		idx := strings.Index(h, ".")
		if idx < 0 {
			break
		}
		h = h[idx+1:]
		parents = append(parents, h)
	}
	return parents
}
