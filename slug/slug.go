// Package slug derives short filesystem-safe names for stored images
package slug

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength bounds generated slugs so filenames stay readable
const MaxLength = 60

var (
	nonSlugChars = regexp.MustCompile("[^a-z0-9-]+")
	hyphenRuns   = regexp.MustCompile("-+")
	// CDN size tokens such as _s640x640 or 1080x1920 carry no meaning
	sizeTokens = regexp.MustCompile(`(?:^|[-_])[sp]?\d{2,4}x\d{2,4}(?:$|[-_])`)
)

// genericNames are file names that say nothing about the image itself
var genericNames = map[string]bool{
	"image": true, "img": true, "photo": true, "original": true, "default": true,
	"maxresdefault": true, "maxres1": true, "hq720": true, "sddefault": true,
	"hqdefault": true, "mqdefault": true, "hq1": true, "maxresdefault-live": true,
}

// Generate creates a URL-friendly slug from a string
func Generate(s string) string {
	if s == "" {
		return ""
	}

	s = transliterate(strings.ToLower(s))
	s = strings.NewReplacer(" ", "-", "_", "-", ".", "-").Replace(s)
	s = nonSlugChars.ReplaceAllString(s, "")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if len(s) > MaxLength {
		s = strings.TrimRight(s[:MaxLength], "-")
	}
	return s
}

// GenerateWithFallback generates a slug, falling back to a default if the input produces an empty slug
func GenerateWithFallback(s, fallback string) string {
	if slug := Generate(s); slug != "" {
		return slug
	}
	return Generate(fallback)
}

// transliterate converts unicode characters to ASCII equivalents
func transliterate(s string) string {
	// Normalize unicode characters to NFD form (decomposed)
	t := transform.Chain(norm.NFD, transform.RemoveFunc(isMn), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// isMn checks if a rune is a nonspacing mark (accents, diacritics)
func isMn(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}

// FromImageURL names an image after its URL. The last path segment wins
// unless it is a generic or numeric name, in which case the segment before
// it is used, so ".../vi/dQw4w9WgXcQ/maxresdefault.jpg" becomes "dqw4w9wgxcq".
func FromImageURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	for i := len(segments) - 1; i >= 0; i-- {
		name := segments[i]
		if idx := strings.LastIndex(name, "."); idx > 0 {
			name = name[:idx]
		}
		name = sizeTokens.ReplaceAllString(name, "-")
		slug := Generate(name)
		if slug == "" || genericNames[slug] || isNumeric(slug) {
			continue
		}
		return slug
	}
	return Generate(strings.TrimPrefix(u.Hostname(), "www."))
}

func isNumeric(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}
