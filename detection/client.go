// Package detection is the client for the remote product detection API:
// image analysis, cache lookups, favorites and saved searches.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/snaplook/scraper/models"
)

const maxResponseBytes = 16 * 1024 * 1024

var (
	// ErrDetectionAPI is wrapped by every failed API call
	ErrDetectionAPI = errors.New("detection API failure")

	// ErrNotConfigured means the base URL or user id is missing
	ErrNotConfigured = errors.New("detection API not configured")
)

// APIError describes a failed call. StatusCode is 0 when no response arrived.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *APIError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDetectionAPI, e.Err}
	}
	return []error{ErrDetectionAPI}
}

// Config contains detection client configuration
type Config struct {
	BaseURL       string
	UserID        string
	Country       string
	Language      string
	Timeout       time.Duration
	RatePerSecond float64 // 0 disables throttling
	Burst         int
}

// DefaultConfig returns default detection client configuration
func DefaultConfig() Config {
	return Config{
		Country:       "US",
		Language:      "en",
		Timeout:       90 * time.Second,
		RatePerSecond: 2,
		Burst:         4,
	}
}

// Client talks to the detection API
type Client struct {
	config      Config
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewClient creates a new detection API client
func NewClient(cfg Config) *Client {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		rateLimiter: rate.NewLimiter(limit, burst),
		logger:      slog.Default().With("component", "detection"),
	}
}

// Configured reports whether the client has what it needs to make calls
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.config.BaseURL) != "" && strings.TrimSpace(c.config.UserID) != ""
}

// Analyze submits an image for detection. A successful response with zero
// results is not an error.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	if req.UserID == "" {
		req.UserID = c.config.UserID
	}
	if req.Country == "" {
		req.Country = c.config.Country
	}
	if req.Language == "" {
		req.Language = c.config.Language
	}
	if req.SearchType == "" {
		req.SearchType = "unknown"
	}

	var resp AnalyzeResponse
	if err := c.do(ctx, "analyze", http.MethodPost, "/api/v1/analyze", nil, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "analysis failed"
		}
		return nil, &APIError{Op: "analyze", StatusCode: http.StatusOK, Message: msg}
	}

	c.logger.Info("analysis complete",
		"results", len(resp.Results),
		"total_results", resp.TotalResults,
		"cached", resp.Cached,
		"search_id", resp.SearchID,
	)
	return &resp, nil
}

// CheckCache asks whether results already exist for a source URL
func (c *Client) CheckCache(ctx context.Context, sourceURL string) (*CacheCheckResponse, error) {
	query := url.Values{}
	query.Set("source_url", sourceURL)

	var resp CacheCheckResponse
	if err := c.do(ctx, "cache_check", http.MethodGet, "/api/v1/cache/check", query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddFavorite stores item as a favorite and returns the new favorite id
func (c *Client) AddFavorite(ctx context.Context, item models.DetectionResultItem) (string, error) {
	body := favoriteRequest{UserID: c.config.UserID, Product: newFavoritePayload(item)}

	var resp mutationResponse
	if err := c.do(ctx, "add_favorite", http.MethodPost, "/api/v1/favorites", nil, body, &resp); err != nil {
		return "", err
	}
	if !resp.ok() || resp.FavoriteID == "" {
		return "", &APIError{Op: "add_favorite", StatusCode: http.StatusOK, Message: messageOr(resp.Message, "no favorite id returned")}
	}
	return resp.FavoriteID, nil
}

// RemoveFavorite deletes a favorite by its favorite id
func (c *Client) RemoveFavorite(ctx context.Context, favoriteID string) error {
	query := url.Values{}
	query.Set("user_id", c.config.UserID)

	var resp mutationResponse
	path := "/api/v1/favorites/" + url.PathEscape(favoriteID)
	if err := c.do(ctx, "remove_favorite", http.MethodDelete, path, query, nil, &resp); err != nil {
		return err
	}
	if !resp.ok() {
		return &APIError{Op: "remove_favorite", StatusCode: http.StatusOK, Message: messageOr(resp.Message, "remove rejected")}
	}
	return nil
}

// ListFavorites returns one page of the user's favorites
func (c *Client) ListFavorites(ctx context.Context, limit, offset int) (*FavoritesPage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var page FavoritesPage
	path := "/api/v1/users/" + url.PathEscape(c.config.UserID) + "/favorites"
	if err := c.do(ctx, "list_favorites", http.MethodGet, path, query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CheckFavorites maps the given product ids to favorite ids. Products that
// are not favorites are absent from the map.
func (c *Client) CheckFavorites(ctx context.Context, productIDs []string) (map[string]string, error) {
	if productIDs == nil {
		productIDs = []string{}
	}

	var raw json.RawMessage
	path := "/api/v1/users/" + url.PathEscape(c.config.UserID) + "/favorites/check"
	if err := c.do(ctx, "check_favorites", http.MethodPost, path, nil, productIDs, &raw); err != nil {
		return nil, err
	}

	found, err := decodeFavoriteMap(raw)
	if err != nil {
		return nil, &APIError{Op: "check_favorites", StatusCode: http.StatusOK, Message: "unexpected response shape", Err: err}
	}
	return found, nil
}

// SaveSearch bookmarks a completed search and returns the saved search id
func (c *Client) SaveSearch(ctx context.Context, searchID, name string) (string, error) {
	body := saveSearchRequest{UserID: c.config.UserID, Name: name}

	var resp mutationResponse
	path := "/api/v1/searches/" + url.PathEscape(searchID) + "/save"
	if err := c.do(ctx, "save_search", http.MethodPost, path, nil, body, &resp); err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", &APIError{Op: "save_search", StatusCode: http.StatusOK, Message: messageOr(resp.Message, "save rejected")}
	}
	return resp.SavedSearchID, nil
}

// do executes one throttled request. body, when non-nil, is sent as JSON
// and a 2xx reply is decoded into out.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if !c.Configured() {
		return fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return &APIError{Op: op, Message: "rate limiter: " + err.Error(), Err: err}
	}

	reqURL := strings.TrimRight(c.config.BaseURL, "/") + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Op: op, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	c.logger.Debug("detection API call",
		"op", op,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err}
	}
	return nil
}

// errorMessage pulls a readable message from an error body
func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if s, ok := payload.Detail.(string); ok && s != "" {
			return s
		}
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" || len(text) > 200 {
		return fallback
	}
	return text
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
