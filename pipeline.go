package scraper

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/snaplook/scraper/category"
	"github.com/snaplook/scraper/detection"
	"github.com/snaplook/scraper/handoff"
	"github.com/snaplook/scraper/models"
	"github.com/snaplook/scraper/sanitize"
	"github.com/snaplook/scraper/slug"
)

// Detector is the part of the detection API the pipeline needs
type Detector interface {
	CheckCache(ctx context.Context, sourceURL string) (*detection.CacheCheckResponse, error)
	Analyze(ctx context.Context, req detection.AnalyzeRequest) (*detection.AnalyzeResponse, error)
}

// ResultFilter drops results that must never be shown
type ResultFilter interface {
	Filter(items []models.DetectionResultItem) []models.DetectionResultItem
}

// SessionStore persists share sessions. Implemented by db.DB.
type SessionStore interface {
	SaveSession(ctx context.Context, s *models.ShareSession) error
	UpdateStatus(ctx context.Context, id string, status models.HandoffStatus) error
}

// HandoffWriter leaves the share for the host application. Implemented by handoff.Writer.
type HandoffWriter interface {
	Write(record models.HandoffRecord) error
	UpdateStatus(sessionID string, status models.HandoffStatus) error
	Clear(sessionID string) error
	RedirectURL() string
}

// imageReader is implemented by sinks that can hand stored bytes back
type imageReader interface {
	ReadImage(ctx context.Context, path string) ([]byte, error)
}

// PipelineDeps are the optional collaborators of a Pipeline. A nil Detector
// makes every analysis fail as unconfigured; nil Sessions or Handoff skip
// that side effect; a nil Filter uses the embedded sanitizer policy.
type PipelineDeps struct {
	Detector Detector
	Filter   ResultFilter
	Sessions SessionStore
	Handoff  HandoffWriter
}

// ProcessOptions controls one pipeline run
type ProcessOptions struct {
	Analyze        bool
	SearchType     string
	SourceUsername string
}

// ShareResult is everything a share produced
type ShareResult struct {
	SessionID   string                  `json:"session_id"`
	Kind        models.ShareKind        `json:"kind"`
	Platform    models.PlatformKind     `json:"platform"`
	SourceURL   string                  `json:"source_url,omitempty"`
	Image       *models.SavedImage      `json:"image,omitempty"`
	File        *models.SharedMediaFile `json:"file,omitempty"`
	Message     string                  `json:"message,omitempty"`
	Status      models.HandoffStatus    `json:"status"`
	SearchID    string                  `json:"search_id,omitempty"`
	Cached      bool                    `json:"cached"`
	Garment     detection.Garment       `json:"detected_garment,omitempty"`
	Results     []category.Classified   `json:"results,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
	RedirectURL string                  `json:"redirect_url,omitempty"`
}

// DetectionFailure is a failed analysis. NeedsConfiguration tells the host
// to open the app for setup instead of offering a retry.
type DetectionFailure struct {
	Reason             string
	NeedsConfiguration bool
	Err                error
}

func (e *DetectionFailure) Error() string {
	return fmt.Sprintf("detection failed: %s: %v", e.Reason, e.Err)
}

func (e *DetectionFailure) Unwrap() error {
	return e.Err
}

var (
	// ErrEmptyShare is returned when the share carries nothing usable
	ErrEmptyShare = errors.New("share contains no content")

	// ErrNotImage is returned when an image share does not decode as an image
	ErrNotImage = errors.New("shared data is not an image")
)

const defaultSearchType = "all"

// Pipeline runs a share from intake to handoff
type Pipeline struct {
	scraper *Scraper
	deps    PipelineDeps
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewPipeline wires a scraper with its downstream collaborators
func NewPipeline(s *Scraper, deps PipelineDeps) *Pipeline {
	if deps.Filter == nil {
		deps.Filter = sanitize.Default()
	}
	return &Pipeline{
		scraper: s,
		deps:    deps,
		tracer:  otel.Tracer("github.com/snaplook/scraper"),
		logger:  slog.Default().With("component", "pipeline"),
	}
}

// run is the mutable state of one Process call
type run struct {
	result    *ShareResult
	imageData []byte
	persisted string
	wroteHand bool
}

// Process runs one share. A URL that yields no image still completes as a
// text share and the failure is reported in Warnings. When analysis fails
// the result is returned together with a *DetectionFailure.
func (p *Pipeline) Process(ctx context.Context, in models.ShareInput, opts ProcessOptions) (res *ShareResult, err error) {
	ctx, span := p.tracer.Start(ctx, "share.process", trace.WithAttributes(
		attribute.String("share.kind", string(in.Kind)),
	))
	defer span.End()

	r := &run{result: &ShareResult{
		SessionID: uuid.NewString(),
		Kind:      in.Kind,
		Platform:  models.PlatformNone,
		Status:    models.StatusPending,
	}}
	logger := p.logger.With("session_id", r.result.SessionID)

	defer func() {
		outcome := "ok"
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			outcome = "cancelled"
			p.rollback(r, logger)
		default:
			outcome = "error"
			var df *DetectionFailure
			if errors.As(err, &df) {
				outcome = "detection_failed"
			} else {
				p.rollback(r, logger)
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		sharesTotal.WithLabelValues(string(in.Kind), outcome).Inc()
	}()

	if err := p.prepareMedia(ctx, in, r, logger); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("share.platform", string(r.result.Platform)))

	if err := p.writeHandoff(ctx, r); err != nil {
		return nil, err
	}

	if !opts.Analyze {
		return p.complete(ctx, r, logger)
	}
	if r.result.File != nil {
		r.result.Warnings = append(r.result.Warnings, "analysis skipped: shared file is not an image")
		return p.complete(ctx, r, logger)
	}
	if r.result.Image == nil {
		r.result.Warnings = append(r.result.Warnings, "nothing to analyze: share has no image")
		return p.complete(ctx, r, logger)
	}

	p.setStatus(ctx, r, models.StatusProcessing, logger)
	if err := p.analyze(ctx, r, opts, logger); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return r.result, err
	}
	return p.complete(ctx, r, logger)
}

// prepareMedia turns the share into a stored image or a literal message
func (p *Pipeline) prepareMedia(ctx context.Context, in models.ShareInput, r *run, logger *slog.Logger) error {
	switch in.Kind {
	case models.ShareText:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return ErrEmptyShare
		}
		if kind := Classify(text); kind != models.PlatformNone {
			return p.prepareURL(ctx, text, kind, r, logger)
		}
		r.result.Message = text
		return nil

	case models.ShareURL:
		raw := strings.TrimSpace(in.URL)
		if raw == "" {
			raw = strings.TrimSpace(in.Text)
		}
		if raw == "" {
			return ErrEmptyShare
		}
		return p.prepareURL(ctx, raw, Classify(raw), r, logger)

	case models.ShareImage:
		if len(in.Bytes) == 0 {
			return ErrEmptyShare
		}
		contentType := strings.ToLower(strings.TrimSpace(in.MimeType))
		if !strings.HasPrefix(contentType, "image/") {
			contentType = http.DetectContentType(in.Bytes)
		}
		if !strings.HasPrefix(contentType, "image/") {
			return fmt.Errorf("%w: %s", ErrNotImage, contentType)
		}
		return p.persistImage(ctx, in.Bytes, contentType, "shared-image", r)

	case models.ShareFile:
		if in.Path == "" {
			return ErrEmptyShare
		}
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return fmt.Errorf("failed to read shared file: %w", err)
		}
		if len(data) == 0 {
			return ErrEmptyShare
		}
		name := slug.GenerateWithFallback(baseName(in.Path), "shared-file")
		contentType := fileContentType(in.MimeType, in.Path, data)
		if mediaTypeFor(contentType) == models.MediaImage {
			return p.persistImage(ctx, data, contentType, name, r)
		}
		return p.persistFile(ctx, data, contentType, name, r, logger)
	}
	return fmt.Errorf("unsupported share kind %q", in.Kind)
}

func (p *Pipeline) prepareURL(ctx context.Context, raw string, kind models.PlatformKind, r *run, logger *slog.Logger) error {
	r.result.SourceURL = raw
	r.result.Platform = kind
	if kind == models.PlatformNone {
		r.result.Message = raw
		r.result.Warnings = append(r.result.Warnings, "unrecognized link shared as text")
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "share.extract", trace.WithAttributes(
		attribute.String("share.platform", string(kind)),
	))
	defer span.End()

	candidates, opts, err := p.scraper.Extract(ctx, kind, raw)
	if err == nil {
		span.SetAttributes(attribute.Int("share.candidates", len(candidates)))
		var saved *models.SavedImage
		saved, err = p.scraper.SelectFirstValid(ctx, models.CandidateURLs(candidates), opts.TargetAspect)
		if err == nil {
			r.result.Image = saved
			r.persisted = saved.Path
			return nil
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if IsConfigurationError(err) {
		r.result.Warnings = append(r.result.Warnings, "image extraction needs configuration: "+err.Error())
	} else {
		r.result.Warnings = append(r.result.Warnings, "no image found: "+err.Error())
	}
	span.RecordError(err)
	logger.Info("falling back to text share", "platform", kind, "error", err)
	r.result.Message = raw
	return nil
}

func (p *Pipeline) persistImage(ctx context.Context, data []byte, contentType, name string, r *run) error {
	if p.scraper.sink == nil {
		return &ConfigurationError{Setting: "image_sink"}
	}

	img := p.scraper.prepareImage(data, contentType, 0)
	path, err := p.scraper.sink.SaveImage(ctx, img.data, name+"-"+uuid.NewString()[:8], img.contentType)
	if err != nil {
		return fmt.Errorf("failed to persist image: %w", err)
	}

	r.persisted = path
	r.imageData = img.data
	r.result.Image = &models.SavedImage{
		Path:        path,
		ContentType: img.contentType,
		Width:       img.width,
		Height:      img.height,
		Orientation: img.orientation,
		SizeBytes:   int64(len(img.data)),
	}
	return nil
}

// persistFile stores a non-image file as is. Videos carry their duration
// when the container header can be read.
func (p *Pipeline) persistFile(ctx context.Context, data []byte, contentType, name string, r *run, logger *slog.Logger) error {
	if p.scraper.sink == nil {
		return &ConfigurationError{Setting: "image_sink"}
	}
	path, err := p.scraper.sink.SaveImage(ctx, data, name+"-"+uuid.NewString()[:8], contentType)
	if err != nil {
		return fmt.Errorf("failed to persist file: %w", err)
	}
	r.persisted = path

	file := &models.SharedMediaFile{
		Path:     path,
		MimeType: contentType,
		Type:     mediaTypeFor(contentType),
	}
	if file.Type == models.MediaVideo {
		if seconds, ok := mp4Duration(data); ok {
			file.Duration = &seconds
		} else {
			logger.Debug("video duration unavailable", "content_type", contentType)
		}
	}
	r.result.File = file
	return nil
}

// writeHandoff records the pending share for the host and the session store
func (p *Pipeline) writeHandoff(ctx context.Context, r *run) error {
	now := time.Now().UTC()
	res := r.result

	if p.deps.Handoff != nil {
		record := models.HandoffRecord{
			SessionID: res.SessionID,
			Message:   res.Message,
			Status:    models.StatusPending,
			SourceURL: res.SourceURL,
			CreatedAt: now,
			UpdatedAt: now,
		}
		switch {
		case res.File != nil:
			record.Files = []models.SharedMediaFile{*res.File}
		case res.Image != nil:
			record.Files = []models.SharedMediaFile{{
				Path:     res.Image.Path,
				MimeType: res.Image.ContentType,
				Type:     models.MediaImage,
			}}
		default:
			record.Files = []models.SharedMediaFile{{
				Path: res.Message,
				Type: models.MediaText,
			}}
		}
		if err := p.deps.Handoff.Write(record); err != nil {
			return fmt.Errorf("failed to write handoff: %w", err)
		}
		r.wroteHand = true
		res.RedirectURL = p.deps.Handoff.RedirectURL()
	}

	if p.deps.Sessions != nil {
		session := &models.ShareSession{
			ID:        res.SessionID,
			SourceURL: res.SourceURL,
			Platform:  res.Platform,
			Status:    models.StatusPending,
			Message:   res.Message,
			CreatedAt: now,
		}
		session.ImagePath = r.persisted
		if err := p.deps.Sessions.SaveSession(ctx, session); err != nil {
			p.logger.Warn("failed to save session", "session_id", res.SessionID, "error", err)
		}
	}
	return nil
}

// analyze serves detection from cache when possible, then filters and classifies
func (p *Pipeline) analyze(ctx context.Context, r *run, opts ProcessOptions, logger *slog.Logger) error {
	ctx, span := p.tracer.Start(ctx, "share.detect")
	defer span.End()

	if p.deps.Detector == nil {
		return &DetectionFailure{
			Reason:             "detection service is not configured",
			NeedsConfiguration: true,
			Err:                detection.ErrNotConfigured,
		}
	}

	start := time.Now()
	resp, err := p.detect(ctx, r, opts, logger)
	detectionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return detectionFailure(err)
	}

	kept := p.deps.Filter.Filter(resp.Results)
	r.result.Results = category.Classify(kept)
	r.result.SearchID = resp.SearchID
	r.result.Cached = resp.Cached
	r.result.Garment = resp.DetectedGarment
	span.SetAttributes(
		attribute.Bool("detection.cached", resp.Cached),
		attribute.Int("detection.results", len(resp.Results)),
		attribute.Int("detection.kept", len(kept)),
	)
	logger.Info("detection complete",
		"cached", resp.Cached,
		"results", len(resp.Results),
		"kept", len(kept),
	)
	return nil
}

func (p *Pipeline) detect(ctx context.Context, r *run, opts ProcessOptions, logger *slog.Logger) (*detection.AnalyzeResponse, error) {
	res := r.result
	if res.SourceURL != "" {
		hit, err := p.deps.Detector.CheckCache(ctx, res.SourceURL)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			logger.Debug("cache check failed", "error", err)
		case hit.Cached && len(hit.Results) > 0:
			return hit.AsAnalyzeResponse(), nil
		}
	}

	searchType := opts.SearchType
	if searchType == "" {
		searchType = defaultSearchType
	}
	req := detection.AnalyzeRequest{
		SearchType:     searchType,
		SourceURL:      res.SourceURL,
		SourceUsername: opts.SourceUsername,
	}

	data := r.imageData
	if data == nil {
		if reader, ok := p.scraper.sink.(imageReader); ok {
			var err error
			if data, err = reader.ReadImage(ctx, res.Image.Path); err != nil {
				logger.Warn("failed to read stored image, sending its URL", "error", err)
			}
		}
	}
	if len(data) > 0 {
		req.ImageBase64 = base64.StdEncoding.EncodeToString(data)
	} else {
		req.ImageURL = res.Image.SourceURL
	}
	return p.deps.Detector.Analyze(ctx, req)
}

func detectionFailure(err error) *DetectionFailure {
	if errors.Is(err, detection.ErrNotConfigured) {
		return &DetectionFailure{
			Reason:             "detection service is not configured",
			NeedsConfiguration: true,
			Err:                err,
		}
	}

	reason := "detection service unavailable"
	var apiErr *detection.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		reason = apiErr.Message
	}
	return &DetectionFailure{Reason: reason, Err: err}
}

// complete marks the share done everywhere it was recorded
func (p *Pipeline) complete(ctx context.Context, r *run, logger *slog.Logger) (*ShareResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.setStatus(ctx, r, models.StatusCompleted, logger)

	if p.deps.Sessions != nil && (r.result.SearchID != "" || len(r.result.Results) > 0) {
		session := &models.ShareSession{
			ID:          r.result.SessionID,
			SourceURL:   r.result.SourceURL,
			Platform:    r.result.Platform,
			Status:      models.StatusCompleted,
			Message:     r.result.Message,
			SearchID:    r.result.SearchID,
			ResultCount: len(r.result.Results),
		}
		session.ImagePath = r.persisted
		if err := p.deps.Sessions.SaveSession(ctx, session); err != nil {
			logger.Warn("failed to save session", "error", err)
		}
	}

	logger.Info("share complete",
		"kind", r.result.Kind,
		"platform", r.result.Platform,
		"has_image", r.result.Image != nil,
		"results", len(r.result.Results),
	)
	return r.result, nil
}

func (p *Pipeline) setStatus(ctx context.Context, r *run, status models.HandoffStatus, logger *slog.Logger) {
	r.result.Status = status
	if r.wroteHand {
		if err := p.deps.Handoff.UpdateStatus(r.result.SessionID, status); err != nil {
			logger.Warn("failed to update handoff status", "status", status, "error", err)
		}
	}
	if p.deps.Sessions != nil {
		if err := p.deps.Sessions.UpdateStatus(ctx, r.result.SessionID, status); err != nil {
			logger.Warn("failed to update session status", "status", status, "error", err)
		}
	}
}

// rollback removes what a cancelled or failed run left behind. The handoff
// is only cleared while it still holds this run's record.
func (p *Pipeline) rollback(r *run, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if r.persisted != "" && p.scraper.sink != nil {
		if err := p.scraper.sink.DeleteImage(ctx, r.persisted); err != nil {
			logger.Warn("failed to delete stored media of unfinished share", "path", r.persisted, "error", err)
		}
	}
	if r.wroteHand {
		err := p.deps.Handoff.Clear(r.result.SessionID)
		switch {
		case errors.Is(err, handoff.ErrSessionMismatch):
			logger.Debug("handoff already replaced by another share")
		case err != nil:
			logger.Warn("failed to clear handoff of unfinished share", "error", err)
		}
	}
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	if i := strings.LastIndex(p, "."); i > 0 {
		p = p[:i]
	}
	return p
}
