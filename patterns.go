package scraper

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatternsYAML []byte

// patternFile is the on-disk layout of patterns.yaml
type patternFile struct {
	Version   int `yaml:"version"`
	Instagram struct {
		Markers     []string `yaml:"markers"`
		ImageURL    string   `yaml:"image_url"`
		DisplayURL  string   `yaml:"display_url"`
		SizeSuffix  string   `yaml:"size_suffix"`
		SizePath    string   `yaml:"size_path"`
		StripParams []string `yaml:"strip_params"`
		MaxImgTags  int      `yaml:"max_img_tags"`
	} `yaml:"instagram"`
	TikTok struct {
		CDNHosts      []string `yaml:"cdn_hosts"`
		Cover         string   `yaml:"cover"`
		Origin        string   `yaml:"origin"`
		Poster        string   `yaml:"poster"`
		BareURL       string   `yaml:"bare_url"`
		MarkdownImage string   `yaml:"markdown_image"`
		LowValue      []string `yaml:"low_value"`
	} `yaml:"tiktok"`
	Pinterest struct {
		Originals string `yaml:"originals"`
		Medium    string `yaml:"medium"`
		AnyImage  string `yaml:"any_image"`
	} `yaml:"pinterest"`
	YouTube YouTubePatterns `yaml:"youtube"`
	Generic GenericPatterns `yaml:"generic"`
}

// YouTubePatterns describes the thumbnail URL grid
type YouTubePatterns struct {
	Hosts        []string `yaml:"hosts"`
	Variants     []string `yaml:"variants"`
	LiveVariant  string   `yaml:"live_variant"`
	WebPVariants []string `yaml:"webp_variants"`
}

// GenericPatterns holds the heuristics for arbitrary web pages
type GenericPatterns struct {
	ImageExtensions []string `yaml:"image_extensions"`
	ThumbnailHosts  []string `yaml:"thumbnail_hosts"`
	NoiseHosts      []string `yaml:"noise_hosts"`
	SkipKeywords    []string `yaml:"skip_keywords"`
	MaxImgTags      int      `yaml:"max_img_tags"`
}

// InstagramPatterns are the compiled Instagram tables
type InstagramPatterns struct {
	Markers     []string
	ImageURL    *regexp.Regexp
	DisplayURL  *regexp.Regexp
	SizeSuffix  *regexp.Regexp
	SizePath    *regexp.Regexp
	StripParams []string
	MaxImgTags  int
}

// TikTokPatterns are the compiled TikTok tables
type TikTokPatterns struct {
	CDNHosts      []string
	Cover         *regexp.Regexp
	Origin        *regexp.Regexp
	Poster        *regexp.Regexp
	BareURL       *regexp.Regexp
	MarkdownImage *regexp.Regexp
	LowValue      []string
}

// PinterestPatterns are the compiled Pinterest tables
type PinterestPatterns struct {
	Originals *regexp.Regexp
	Medium    *regexp.Regexp
	AnyImage  *regexp.Regexp
}

// PatternSet is every extraction table, compiled once and shared read-only
type PatternSet struct {
	Version   int
	Instagram InstagramPatterns
	TikTok    TikTokPatterns
	Pinterest PinterestPatterns
	YouTube   YouTubePatterns
	Generic   GenericPatterns
}

// LoadPatterns parses and compiles a patterns document
func LoadPatterns(data []byte) (*PatternSet, error) {
	var f patternFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse patterns: %w", err)
	}

	c := &compiler{}
	ps := &PatternSet{
		Version: f.Version,
		Instagram: InstagramPatterns{
			Markers:     f.Instagram.Markers,
			ImageURL:    c.compile("instagram.image_url", f.Instagram.ImageURL),
			DisplayURL:  c.compile("instagram.display_url", f.Instagram.DisplayURL),
			SizeSuffix:  c.compile("instagram.size_suffix", f.Instagram.SizeSuffix),
			SizePath:    c.compile("instagram.size_path", f.Instagram.SizePath),
			StripParams: f.Instagram.StripParams,
			MaxImgTags:  f.Instagram.MaxImgTags,
		},
		TikTok: TikTokPatterns{
			CDNHosts:      f.TikTok.CDNHosts,
			Cover:         c.compile("tiktok.cover", f.TikTok.Cover),
			Origin:        c.compile("tiktok.origin", f.TikTok.Origin),
			Poster:        c.compile("tiktok.poster", f.TikTok.Poster),
			BareURL:       c.compile("tiktok.bare_url", f.TikTok.BareURL),
			MarkdownImage: c.compile("tiktok.markdown_image", f.TikTok.MarkdownImage),
			LowValue:      f.TikTok.LowValue,
		},
		Pinterest: PinterestPatterns{
			Originals: c.compile("pinterest.originals", f.Pinterest.Originals),
			Medium:    c.compile("pinterest.medium", f.Pinterest.Medium),
			AnyImage:  c.compile("pinterest.any_image", f.Pinterest.AnyImage),
		},
		YouTube: f.YouTube,
		Generic: f.Generic,
	}
	if c.err != nil {
		return nil, c.err
	}
	return ps, nil
}

// DefaultPatterns returns the embedded pattern tables
func DefaultPatterns() *PatternSet {
	return defaultPatterns
}

var defaultPatterns = mustLoadPatterns(defaultPatternsYAML)

func mustLoadPatterns(data []byte) *PatternSet {
	ps, err := LoadPatterns(data)
	if err != nil {
		panic(err)
	}
	return ps
}

// compiler keeps the first compile error so a table can be built in one expression
type compiler struct {
	err error
}

func (c *compiler) compile(name, expr string) *regexp.Regexp {
	if c.err != nil {
		return nil
	}
	if expr == "" {
		c.err = fmt.Errorf("pattern %s is empty", name)
		return nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		c.err = fmt.Errorf("pattern %s: %w", name, err)
		return nil
	}
	return re
}
