package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/snaplook/scraper"
	"github.com/snaplook/scraper/category"
	"github.com/snaplook/scraper/db"
	"github.com/snaplook/scraper/detection"
	"github.com/snaplook/scraper/favorites"
	"github.com/snaplook/scraper/models"
)

// maxBodyBytes bounds request bodies, which may carry a base64 image
const maxBodyBytes = 16 << 20

// ShareProcessor runs shares. Implemented by scraper.Pipeline.
type ShareProcessor interface {
	Process(ctx context.Context, in models.ShareInput, opts scraper.ProcessOptions) (*scraper.ShareResult, error)
}

// ResultFilter drops restricted results. Implemented by sanitize.Sanitizer.
type ResultFilter interface {
	Filter(items []models.DetectionResultItem) []models.DetectionResultItem
}

// SessionReader looks up persisted shares. Implemented by db.DB.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (*models.ShareSession, error)
	GetBySourceURL(ctx context.Context, sourceURL string) (*models.ShareSession, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*models.ShareSession, error)
	Count(ctx context.Context) (int, error)
}

// FavoriteStore tracks the user's favorites. Implemented by favorites.Cache.
type FavoriteStore interface {
	Add(ctx context.Context, item models.DetectionResultItem) (string, error)
	Remove(ctx context.Context, productID string) error
	Refresh(ctx context.Context, productIDs []string) error
	Get(productID string) (string, bool)
	Snapshot() map[string]string
}

// SearchSaver bookmarks completed searches. Implemented by detection.Client.
type SearchSaver interface {
	SaveSearch(ctx context.Context, searchID, name string) (string, error)
}

// Deps are the collaborators behind the routes. Pipeline and Filter are
// required; the rest may be nil, which disables their routes.
type Deps struct {
	Pipeline  ShareProcessor
	Filter    ResultFilter
	Sessions  SessionReader
	Favorites FavoriteStore
	Searches  SearchSaver
}

// Server represents the API server
type Server struct {
	pipeline  ShareProcessor
	filter    ResultFilter
	sessions  SessionReader
	favorites FavoriteStore
	searches  SearchSaver
	config    Config
	server    *http.Server
	mux       *http.ServeMux
	logger    *slog.Logger
}

// Config contains server configuration
type Config struct {
	Addr           string
	AllowedOrigins []string // Empty disables CORS
	RequestTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		AllowedOrigins: []string{"*"},
		RequestTimeout: 2 * time.Minute,
	}
}

// NewServer creates a new API server
func NewServer(config Config, deps Deps) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}

	s := &Server{
		pipeline:  deps.Pipeline,
		filter:    deps.Filter,
		sessions:  deps.Sessions,
		favorites: deps.Favorites,
		searches:  deps.Searches,
		config:    config,
		mux:       http.NewServeMux(),
		logger:    slog.Default().With("component", "api"),
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: config.RequestTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/shares", s.handleShare)
	s.mux.HandleFunc("/api/classify", s.handleClassify)
	s.mux.HandleFunc("/api/categorize", s.handleCategorize)
	s.mux.HandleFunc("/api/sanitize", s.handleSanitize)
	s.mux.HandleFunc("/api/sessions", s.handleListSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleGetSession) // Handles /api/sessions/{id}
	s.mux.HandleFunc("/api/favorites", s.handleFavorites)
	s.mux.HandleFunc("/api/favorites/check", s.handleCheckFavorites)
	s.mux.HandleFunc("/api/favorites/", s.handleRemoveFavorite) // Handles /api/favorites/{productID}
	s.mux.HandleFunc("/api/searches/", s.handleSaveSearch)      // Handles /api/searches/{id}/save
	s.mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns the routes wrapped in tracing, CORS and logging middleware
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.logging(s.mux)
	if len(s.config.AllowedOrigins) > 0 {
		h = cors.Handler(cors.Options{
			AllowedOrigins: s.config.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "Traceparent"},
			MaxAge:         300,
		})(h)
	}
	return otelhttp.NewHandler(h, "sharedetect.api", otelhttp.WithFilter(func(r *http.Request) bool {
		return r.URL.Path != "/health" && r.URL.Path != "/metrics"
	}))
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.config.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// statusRecorder captures the status code for request logs
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logging logs each request, skipping health checks to reduce noise
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	}
	if s.sessions != nil {
		count, err := s.sessions.Count(r.Context())
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		body["sessions"] = count
	}

	respondJSON(w, http.StatusOK, body)
}

// ShareRequest is one share submitted over HTTP. Exactly one of URL, Text
// or ImageBase64 is expected; URL wins when several are set.
type ShareRequest struct {
	URL            string `json:"url"`
	Text           string `json:"text"`
	ImageBase64    string `json:"image_base64"`
	MimeType       string `json:"mime_type"`
	Analyze        bool   `json:"analyze"`
	SearchType     string `json:"search_type"`
	SourceUsername string `json:"source_username"`
}

// DetectionError describes a failed analysis in a share response
type DetectionError struct {
	Reason             string `json:"reason"`
	NeedsConfiguration bool   `json:"needs_configuration"`
}

// ShareResponse is the share result plus any detection failure
type ShareResponse struct {
	*scraper.ShareResult
	DetectionError *DetectionError `json:"detection_error,omitempty"`
}

// handleShare runs one share through the pipeline
func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ShareRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in, err := req.input()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	result, err := s.pipeline.Process(ctx, in, scraper.ProcessOptions{
		Analyze:        req.Analyze,
		SearchType:     req.SearchType,
		SourceUsername: req.SourceUsername,
	})

	var failure *scraper.DetectionFailure
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, ShareResponse{ShareResult: result})
	case errors.As(err, &failure) && result != nil:
		respondJSON(w, http.StatusOK, ShareResponse{
			ShareResult: result,
			DetectionError: &DetectionError{
				Reason:             failure.Reason,
				NeedsConfiguration: failure.NeedsConfiguration,
			},
		})
	case errors.Is(err, scraper.ErrEmptyShare), errors.Is(err, scraper.ErrNotImage):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "share processing timed out")
	case errors.Is(err, context.Canceled):
		respondError(w, http.StatusServiceUnavailable, "share cancelled")
	case scraper.IsConfigurationError(err):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("share failed", "error", err)
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("share failed: %v", err))
	}
}

func (req ShareRequest) input() (models.ShareInput, error) {
	switch {
	case strings.TrimSpace(req.URL) != "":
		return models.URLShare(req.URL), nil
	case req.ImageBase64 != "":
		data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			return models.ShareInput{}, errors.New("image_base64 is not valid base64")
		}
		return models.ImageShare(data, req.MimeType), nil
	case strings.TrimSpace(req.Text) != "":
		return models.TextShare(req.Text), nil
	}
	return models.ShareInput{}, errors.New("url, text or image_base64 is required")
}

// ClassifyRequest represents a classify request
type ClassifyRequest struct {
	Text string `json:"text"`
}

// ClassifyResponse represents a classify response
type ClassifyResponse struct {
	Text     string              `json:"text"`
	Platform models.PlatformKind `json:"platform"`
}

// handleClassify reports the platform of a shared string
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ClassifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	respondJSON(w, http.StatusOK, ClassifyResponse{
		Text:     req.Text,
		Platform: scraper.Classify(req.Text),
	})
}

// ItemsRequest carries detection results to post-process
type ItemsRequest struct {
	Items []models.DetectionResultItem `json:"items"`
	Group models.CategoryGroup         `json:"group"`
}

// CategorizeResponse represents a categorize response
type CategorizeResponse struct {
	Results []category.Classified        `json:"results"`
	Groups  map[models.CategoryGroup]int `json:"groups"`
	Count   int                          `json:"count"`
}

// handleCategorize assigns normalized categories and display groups
func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ItemsRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	classified := category.Classify(req.Items)
	groups := make(map[models.CategoryGroup]int)
	for _, c := range classified {
		groups[c.CategoryGroup]++
	}
	if req.Group != "" {
		classified = category.FilterByGroup(classified, req.Group)
	}

	respondJSON(w, http.StatusOK, CategorizeResponse{
		Results: classified,
		Groups:  groups,
		Count:   len(classified),
	})
}

// SanitizeResponse represents a sanitize response
type SanitizeResponse struct {
	Items   []models.DetectionResultItem `json:"items"`
	Dropped int                          `json:"dropped"`
}

// handleSanitize drops restricted results
func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ItemsRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kept := s.filter.Filter(req.Items)
	respondJSON(w, http.StatusOK, SanitizeResponse{
		Items:   kept,
		Dropped: len(req.Items) - len(kept),
	})
}

// handleGetSession retrieves one session by ID
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.sessions == nil {
		respondError(w, http.StatusNotFound, "session persistence is disabled")
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	session, err := s.sessions.GetSession(r.Context(), id)
	s.respondSession(w, session, err)
}

// handleListSessions lists sessions with pagination, or finds the latest
// session for ?source_url=
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.sessions == nil {
		respondError(w, http.StatusNotFound, "session persistence is disabled")
		return
	}

	query := r.URL.Query()
	if sourceURL := query.Get("source_url"); sourceURL != "" {
		session, err := s.sessions.GetBySourceURL(r.Context(), sourceURL)
		s.respondSession(w, session, err)
		return
	}

	limit := 20
	offset := 0
	if v, err := strconv.Atoi(query.Get("limit")); err == nil {
		limit = v
	}
	if v, err := strconv.Atoi(query.Get("offset")); err == nil {
		offset = v
	}

	// Enforce reasonable limits
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	sessions, err := s.sessions.ListSessions(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	count, err := s.sessions.Count(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    count,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) respondSession(w http.ResponseWriter, session *models.ShareSession, err error) {
	switch {
	case errors.Is(err, db.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session not found")
	case err != nil:
		s.logger.Error("session lookup failed", "error", err)
		respondError(w, http.StatusInternalServerError, "database error")
	default:
		respondJSON(w, http.StatusOK, session)
	}
}

// handleFavorites lists cached favorites (GET) or adds one (POST)
func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	if s.favorites == nil {
		respondError(w, http.StatusServiceUnavailable, "favorites are not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"favorites": s.favorites.Snapshot(),
		})
	case http.MethodPost:
		var item models.DetectionResultItem
		if err := decodeBody(w, r, &item); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		favoriteID, err := s.favorites.Add(r.Context(), item)
		if err != nil {
			s.respondRemoteError(w, "add favorite", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"product_id":  item.ID,
			"favorite_id": favoriteID,
		})
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// CheckFavoritesRequest represents a favorites check request
type CheckFavoritesRequest struct {
	ProductIDs []string `json:"product_ids"`
}

// handleCheckFavorites refreshes the given products and reports which are favorites
func (s *Server) handleCheckFavorites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.favorites == nil {
		respondError(w, http.StatusServiceUnavailable, "favorites are not configured")
		return
	}

	var req CheckFavoritesRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.favorites.Refresh(r.Context(), req.ProductIDs); err != nil {
		s.respondRemoteError(w, "check favorites", err)
		return
	}

	found := make(map[string]string)
	for _, id := range req.ProductIDs {
		if favoriteID, ok := s.favorites.Get(id); ok {
			found[id] = favoriteID
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"favorites": found,
	})
}

// handleRemoveFavorite removes the favorite of one product
func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.favorites == nil {
		respondError(w, http.StatusServiceUnavailable, "favorites are not configured")
		return
	}

	productID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/favorites/"), "/")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "product id is required")
		return
	}
	if err := s.favorites.Remove(r.Context(), productID); err != nil {
		s.respondRemoteError(w, "remove favorite", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "favorite removed successfully",
	})
}

// SaveSearchRequest represents a save search request
type SaveSearchRequest struct {
	Name string `json:"name"`
}

// handleSaveSearch bookmarks a completed search
func (s *Server) handleSaveSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.searches == nil {
		respondError(w, http.StatusServiceUnavailable, "saved searches are not configured")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/searches/")
	searchID, ok := strings.CutSuffix(path, "/save")
	if !ok || searchID == "" || strings.Contains(searchID, "/") {
		respondError(w, http.StatusBadRequest, "search id is required")
		return
	}

	var req SaveSearchRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	savedID, err := s.searches.SaveSearch(r.Context(), searchID, req.Name)
	if err != nil {
		s.respondRemoteError(w, "save search", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"search_id":       searchID,
		"saved_search_id": savedID,
	})
}

// respondRemoteError maps detection API failures to status codes
func (s *Server) respondRemoteError(w http.ResponseWriter, op string, err error) {
	var apiErr *detection.APIError
	switch {
	case errors.Is(err, favorites.ErrFavoriteNotFound):
		respondError(w, http.StatusNotFound, "favorite not found")
	case errors.Is(err, detection.ErrNotConfigured):
		respondError(w, http.StatusServiceUnavailable, "detection service is not configured")
	case errors.As(err, &apiErr):
		respondError(w, http.StatusBadGateway, fmt.Sprintf("%s failed: %s", op, apiErr.Message))
	default:
		s.logger.Error(op+" failed", "error", err)
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("%s failed", op))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
