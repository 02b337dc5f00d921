// Package category maps free-text product metadata onto the fixed taxonomy
// and the coarse groups used for result tabs.
package category

import (
	"sort"
	"strings"
	"unicode"

	"github.com/snaplook/scraper/models"
)

// Scoring weights. Changing any of these changes every assignment.
const (
	SynonymSeed    = 3
	PositiveWeight = 2
	NegativeWeight = -3
	MinimumScore   = 3
	TieWindow      = 1
	MaxCategories  = 2
)

// Product is the metadata the normalizer scores
type Product struct {
	Name        string
	Brand       string
	Description string
	Category    string
}

// ProductFromItem adapts a detection result for scoring
func ProductFromItem(item models.DetectionResultItem) Product {
	return Product{
		Name:        item.ProductName,
		Brand:       item.BrandName(),
		Description: item.DescriptionText(),
		Category:    item.Category,
	}
}

// Normalizer scores products against a rule table. The zero value is not
// usable; build one with NewNormalizer.
type Normalizer struct {
	rules    []compiledRule
	synonyms map[string]models.NormalizedCategory
}

type compiledRule struct {
	category models.NormalizedCategory
	positive []string
	negative []string
}

// NewNormalizer prepares rules and synonyms for matching
func NewNormalizer(rules []Rule, synonyms map[string]models.NormalizedCategory) *Normalizer {
	n := &Normalizer{
		rules:    make([]compiledRule, 0, len(rules)),
		synonyms: make(map[string]models.NormalizedCategory, len(synonyms)),
	}
	for _, r := range rules {
		n.rules = append(n.rules, compiledRule{
			category: r.Category,
			positive: cleanKeywords(r.Positive),
			negative: cleanKeywords(r.Negative),
		})
	}
	for k, v := range synonyms {
		n.synonyms[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return n
}

var defaultNormalizer = NewNormalizer(Rules, Synonyms)

// Assign scores p with the built-in tables
func Assign(p Product) models.NormalizedCategoryAssignment {
	return defaultNormalizer.Assign(p)
}

// AssignItem scores a detection result with the built-in tables
func AssignItem(item models.DetectionResultItem) models.NormalizedCategoryAssignment {
	return defaultNormalizer.Assign(ProductFromItem(item))
}

// Assign returns at most two categories and the winning score
func (n *Normalizer) Assign(p Product) models.NormalizedCategoryAssignment {
	scores := make(map[models.NormalizedCategory]int)

	synonym, hasSynonym := n.synonyms[strings.ToLower(strings.TrimSpace(p.Category))]
	if hasSynonym {
		scores[synonym] += SynonymSeed
	}

	text := newTokenText(strings.Join([]string{p.Name, p.Brand, p.Description, p.Category}, " "))
	for _, r := range n.rules {
		for _, kw := range r.positive {
			if text.has(kw) {
				scores[r.category] += PositiveWeight
			}
		}
		for _, kw := range r.negative {
			if text.has(kw) {
				scores[r.category] += NegativeWeight
			}
		}
	}

	var selected []models.NormalizedCategory
	best, ok := topScore(scores)
	if ok && best >= MinimumScore {
		for cat, score := range scores {
			if score > 0 && score >= MinimumScore && score >= best-TieWindow {
				selected = append(selected, cat)
			}
		}
		sort.Slice(selected, func(i, j int) bool {
			si, sj := scores[selected[i]], scores[selected[j]]
			if si != sj {
				return si > sj
			}
			return selected[i].Order() < selected[j].Order()
		})
		if len(selected) > MaxCategories {
			selected = selected[:MaxCategories]
		}
	}

	if len(selected) == 0 {
		if hasSynonym {
			selected = []models.NormalizedCategory{synonym}
		} else {
			selected = []models.NormalizedCategory{models.CategoryOther}
		}
	}

	if len(selected) > 1 {
		concrete := selected[:0:0]
		for _, c := range selected {
			if c != models.CategoryOther {
				concrete = append(concrete, c)
			}
		}
		if len(concrete) > 0 {
			selected = concrete
		}
	}

	confidence := scores[selected[0]]
	if confidence < 0 {
		confidence = 0
	}

	return models.NormalizedCategoryAssignment{
		Categories: selected,
		Confidence: confidence,
	}
}

func topScore(scores map[models.NormalizedCategory]int) (int, bool) {
	best, found := 0, false
	for _, s := range scores {
		if !found || s > best {
			best, found = s, true
		}
	}
	return best, found
}

// tokenText holds both views of cleaned product text: the word set for
// single-word keywords and the padded string for phrases.
type tokenText struct {
	padded string
	words  map[string]struct{}
}

func newTokenText(s string) tokenText {
	cleaned := cleanText(s)
	words := make(map[string]struct{})
	for _, w := range strings.Fields(cleaned) {
		words[w] = struct{}{}
	}
	return tokenText{padded: " " + cleaned + " ", words: words}
}

func (t tokenText) has(keyword string) bool {
	if strings.Contains(keyword, " ") {
		return strings.Contains(t.padded, " "+keyword+" ")
	}
	_, ok := t.words[keyword]
	return ok
}

// cleanText lowercases and collapses every run of non-alphanumerics into a single space
func cleanText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func cleanKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if c := cleanText(kw); c != "" {
			out = append(out, c)
		}
	}
	return out
}
