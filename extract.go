package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/snaplook/scraper/models"
)

// ExtractOptions carries per-platform hints for Fetch-and-Select
type ExtractOptions struct {
	TargetAspect float64 // width/height; 0 leaves the image uncropped
}

// portrait is the 9:16 aspect of vertical video covers
const portrait = 9.0 / 16.0

type extractFunc func(s *Scraper, ctx context.Context, rawURL string) ([]models.ImageCandidate, ExtractOptions, error)

var extractors = map[models.PlatformKind]extractFunc{
	models.PlatformInstagram:   (*Scraper).extractInstagram,
	models.PlatformTikTok:      (*Scraper).extractTikTok,
	models.PlatformPinterest:   (*Scraper).extractPinterest,
	models.PlatformYouTube:     (*Scraper).extractYouTube,
	models.PlatformGoogleImage: (*Scraper).extractGoogleImage,
	models.PlatformGenericLink: (*Scraper).extractGeneric,
}

// Extract runs the extractor for kind. Candidates come back ordered best
// first; an empty list is always reported as an ExtractionError.
func (s *Scraper) Extract(ctx context.Context, kind models.PlatformKind, rawURL string) ([]models.ImageCandidate, ExtractOptions, error) {
	fn, ok := extractors[kind]
	if !ok {
		return nil, ExtractOptions{}, extractionError(kind, ReasonMalformedURL, fmt.Errorf("no extractor for %q", kind))
	}

	start := time.Now()
	candidates, opts, err := fn(s, ctx, rawURL)
	extractionDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())

	if err == nil && len(candidates) == 0 {
		err = noCandidates(kind)
	}
	if err != nil {
		reason := "error"
		var extErr *ExtractionError
		if errors.As(err, &extErr) {
			reason = extErr.Reason
		}
		extractionsTotal.WithLabelValues(string(kind), reason).Inc()
		s.logger.Info("extraction failed", "platform", kind, "reason", reason, "error", err)
		return nil, opts, err
	}

	extractionsTotal.WithLabelValues(string(kind), "ok").Inc()
	s.logger.Debug("extraction complete", "platform", kind, "candidates", len(candidates))
	return candidates, opts, nil
}

func (l *candidateList) candidates() []models.ImageCandidate {
	out := make([]models.ImageCandidate, 0, len(l.items))
	for _, c := range l.items {
		out = append(out, models.ImageCandidate{URL: c.url, Priority: c.priority})
	}
	return out
}
