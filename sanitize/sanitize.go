// Package sanitize applies the content policy to detection results.
package sanitize

import (
	_ "embed"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v3"

	"github.com/snaplook/scraper/models"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

var droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "share_sanitizer_dropped_total",
	Help: "Detection results removed by the content policy",
}, []string{"reason"})

// Drop reasons
const (
	ReasonKeyword = "keyword"
	ReasonDomain  = "domain"
)

// Policy is the versioned content policy document
type Policy struct {
	Version  int      `yaml:"version"`
	Keywords []string `yaml:"keywords"`
	Domains  []string `yaml:"domains"`
}

// ParsePolicy decodes a YAML policy document
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy: %w", err)
	}
	return p, nil
}

// Sanitizer filters results. It holds no mutable state and is safe for concurrent use.
type Sanitizer struct {
	version  int
	keywords []*regexp.Regexp
	domains  []string
}

// New compiles a policy. Keyword fragments only ever match whole words.
func New(p Policy) (*Sanitizer, error) {
	s := &Sanitizer{version: p.Version}
	for _, kw := range p.Keywords {
		re, err := regexp.Compile(`(?i)\b(?:` + kw + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("invalid policy keyword %q: %w", kw, err)
		}
		s.keywords = append(s.keywords, re)
	}
	for _, d := range p.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			s.domains = append(s.domains, d)
		}
	}
	return s, nil
}

var defaultSanitizer = func() *Sanitizer {
	p, err := ParsePolicy(defaultPolicyYAML)
	if err != nil {
		panic(err)
	}
	s, err := New(p)
	if err != nil {
		panic(err)
	}
	return s
}()

// Default returns the sanitizer built from the embedded policy
func Default() *Sanitizer {
	return defaultSanitizer
}

// Version reports the policy version the sanitizer was built from
func (s *Sanitizer) Version() int {
	return s.version
}

// Filter returns the items that pass the policy, in their original order.
// Items are never modified; dropped items leave no trace besides a metric.
func (s *Sanitizer) Filter(items []models.DetectionResultItem) []models.DetectionResultItem {
	out := make([]models.DetectionResultItem, 0, len(items))
	for _, item := range items {
		if reason, banned := s.Check(item); banned {
			droppedTotal.WithLabelValues(reason).Inc()
			continue
		}
		out = append(out, item)
	}
	return out
}

// Check reports whether item violates the policy and why
func (s *Sanitizer) Check(item models.DetectionResultItem) (string, bool) {
	text := strings.Join([]string{
		item.ProductName,
		item.BrandName(),
		item.DescriptionText(),
		item.PurchaseLink(),
	}, " ")
	for _, re := range s.keywords {
		if re.MatchString(text) {
			return ReasonKeyword, true
		}
	}
	if s.bannedDomain(item.PurchaseLink()) {
		return ReasonDomain, true
	}
	return "", false
}

func (s *Sanitizer) bannedDomain(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, d := range s.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
