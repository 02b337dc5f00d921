package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplook/scraper"
	"github.com/snaplook/scraper/db"
	"github.com/snaplook/scraper/detection"
	"github.com/snaplook/scraper/favorites"
	"github.com/snaplook/scraper/models"
	"github.com/snaplook/scraper/sanitize"
)

type fakeProcessor struct {
	result *scraper.ShareResult
	err    error
	inputs []models.ShareInput
	opts   []scraper.ProcessOptions
}

func (f *fakeProcessor) Process(_ context.Context, in models.ShareInput, opts scraper.ProcessOptions) (*scraper.ShareResult, error) {
	f.inputs = append(f.inputs, in)
	f.opts = append(f.opts, opts)
	return f.result, f.err
}

type fakeSessions struct {
	sessions map[string]*models.ShareSession
	err      error
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*models.ShareSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, db.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessions) GetBySourceURL(_ context.Context, sourceURL string) (*models.ShareSession, error) {
	for _, s := range f.sessions {
		if s.SourceURL == sourceURL {
			return s, nil
		}
	}
	return nil, db.ErrSessionNotFound
}

func (f *fakeSessions) ListSessions(_ context.Context, limit, offset int) ([]*models.ShareSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []*models.ShareSession{}
	for _, s := range f.sessions {
		out = append(out, s)
	}
	if offset >= len(out) {
		return []*models.ShareSession{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSessions) Count(context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return len(f.sessions), nil
}

func setupTestServer(t *testing.T, processor *fakeProcessor, sessions SessionReader) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = ":0"
	return NewServer(cfg, Deps{Pipeline: processor, Filter: sanitize.Default(), Sessions: sessions})
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp["error"]
}

func TestHandleHealth(t *testing.T) {
	t.Run("without persistence", func(t *testing.T) {
		w := doRequest(t, setupTestServer(t, &fakeProcessor{}, nil), http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "healthy", resp["status"])
		assert.NotContains(t, resp, "sessions")
	})

	t.Run("reports session count", func(t *testing.T) {
		sessions := &fakeSessions{sessions: map[string]*models.ShareSession{"a": {ID: "a"}}}
		w := doRequest(t, setupTestServer(t, &fakeProcessor{}, sessions), http.MethodGet, "/health", nil)

		var resp map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, float64(1), resp["sessions"])
	})

	t.Run("database down", func(t *testing.T) {
		sessions := &fakeSessions{err: errors.New("connection refused")}
		w := doRequest(t, setupTestServer(t, &fakeProcessor{}, sessions), http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("POST not allowed", func(t *testing.T) {
		w := doRequest(t, setupTestServer(t, &fakeProcessor{}, nil), http.MethodPost, "/health", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestHandleShare(t *testing.T) {
	okResult := &scraper.ShareResult{
		SessionID:   "s-1",
		Kind:        models.ShareURL,
		Platform:    models.PlatformPinterest,
		Status:      models.StatusCompleted,
		RedirectURL: "ShareMedia-com.snaplook.app:share",
	}

	tests := []struct {
		name       string
		method     string
		body       interface{}
		result     *scraper.ShareResult
		err        error
		wantStatus int
		wantErrMsg string
		check      func(t *testing.T, p *fakeProcessor, body map[string]interface{})
	}{
		{
			name:       "url share",
			method:     http.MethodPost,
			body:       ShareRequest{URL: "https://www.pinterest.com/pin/123/", Analyze: true, SearchType: "clothing"},
			result:     okResult,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, p *fakeProcessor, body map[string]interface{}) {
				require.Len(t, p.inputs, 1)
				assert.Equal(t, models.ShareURL, p.inputs[0].Kind)
				assert.True(t, p.opts[0].Analyze)
				assert.Equal(t, "clothing", p.opts[0].SearchType)
				assert.Equal(t, "s-1", body["session_id"])
				assert.Equal(t, "ShareMedia-com.snaplook.app:share", body["redirect_url"])
				assert.NotContains(t, body, "detection_error")
			},
		},
		{
			name:       "image share",
			method:     http.MethodPost,
			body:       ShareRequest{ImageBase64: base64.StdEncoding.EncodeToString([]byte("img")), MimeType: "image/jpeg"},
			result:     okResult,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, p *fakeProcessor, _ map[string]interface{}) {
				require.Len(t, p.inputs, 1)
				assert.Equal(t, models.ShareImage, p.inputs[0].Kind)
				assert.Equal(t, []byte("img"), p.inputs[0].Bytes)
			},
		},
		{
			name:       "text share",
			method:     http.MethodPost,
			body:       ShareRequest{Text: "love this"},
			result:     okResult,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, p *fakeProcessor, _ map[string]interface{}) {
				assert.Equal(t, models.ShareText, p.inputs[0].Kind)
			},
		},
		{
			name:   "detection failure keeps the result",
			method: http.MethodPost,
			body:   ShareRequest{URL: "https://example.com/a.jpg", Analyze: true},
			result: okResult,
			err: &scraper.DetectionFailure{
				Reason:             "detection service is not configured",
				NeedsConfiguration: true,
				Err:                detection.ErrNotConfigured,
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, _ *fakeProcessor, body map[string]interface{}) {
				assert.Equal(t, "s-1", body["session_id"])
				detErr, ok := body["detection_error"].(map[string]interface{})
				require.True(t, ok)
				assert.Equal(t, true, detErr["needs_configuration"])
			},
		},
		{
			name:       "empty request",
			method:     http.MethodPost,
			body:       ShareRequest{},
			wantStatus: http.StatusBadRequest,
			wantErrMsg: "url, text or image_base64 is required",
		},
		{
			name:       "bad base64",
			method:     http.MethodPost,
			body:       ShareRequest{ImageBase64: "%%%"},
			wantStatus: http.StatusBadRequest,
			wantErrMsg: "image_base64 is not valid base64",
		},
		{
			name:       "invalid JSON",
			method:     http.MethodPost,
			body:       "invalid json",
			wantStatus: http.StatusBadRequest,
			wantErrMsg: "invalid request body",
		},
		{
			name:       "empty share from pipeline",
			method:     http.MethodPost,
			body:       ShareRequest{Text: "x"},
			err:        scraper.ErrEmptyShare,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "image share that is not an image",
			method:     http.MethodPost,
			body:       ShareRequest{ImageBase64: "aGVsbG8="},
			err:        fmt.Errorf("%w: text/plain", scraper.ErrNotImage),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "timeout",
			method:     http.MethodPost,
			body:       ShareRequest{Text: "x"},
			err:        fmt.Errorf("extract: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "missing sink",
			method:     http.MethodPost,
			body:       ShareRequest{Text: "x"},
			err:        &scraper.ConfigurationError{Setting: "image_sink"},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unexpected failure",
			method:     http.MethodPost,
			body:       ShareRequest{Text: "x"},
			err:        errors.New("handoff disk full"),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "GET method not allowed",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
			wantErrMsg: "method not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProcessor{result: tt.result, err: tt.err}
			w := doRequest(t, setupTestServer(t, p, nil), tt.method, "/api/shares", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantErrMsg != "" {
				assert.Equal(t, tt.wantErrMsg, decodeError(t, w))
			}
			if tt.check != nil {
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				tt.check(t, p, body)
			}
		})
	}
}

func TestHandleClassify(t *testing.T) {
	s := setupTestServer(t, &fakeProcessor{}, nil)

	tests := []struct {
		text string
		want models.PlatformKind
	}{
		{"https://www.instagram.com/p/abc/", models.PlatformInstagram},
		{"https://youtu.be/dQw4w9WgXcQ", models.PlatformYouTube},
		{"just words", models.PlatformNone},
	}

	for _, tt := range tests {
		w := doRequest(t, s, http.MethodPost, "/api/classify", ClassifyRequest{Text: tt.text})
		require.Equal(t, http.StatusOK, w.Code)

		var resp ClassifyResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, tt.want, resp.Platform, tt.text)
	}
}

func TestHandleCategorize(t *testing.T) {
	s := setupTestServer(t, &fakeProcessor{}, nil)
	items := []models.DetectionResultItem{
		{ID: "1", ProductName: "Chunky Leather Sneakers", Category: "Shoes"},
		{ID: "2", ProductName: "Linen Midi Dress", Category: "Dresses"},
	}

	w := doRequest(t, s, http.MethodPost, "/api/categorize", ItemsRequest{Items: items})
	require.Equal(t, http.StatusOK, w.Code)

	var resp CategorizeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, models.GroupFootwear, resp.Results[0].CategoryGroup)
	assert.Equal(t, models.GroupClothing, resp.Results[1].CategoryGroup)
	assert.Equal(t, 1, resp.Groups[models.GroupFootwear])

	w = doRequest(t, s, http.MethodPost, "/api/categorize", ItemsRequest{Items: items, Group: models.GroupClothing})
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "2", resp.Results[0].ID)
}

func TestHandleSanitize(t *testing.T) {
	s := setupTestServer(t, &fakeProcessor{}, nil)
	items := []models.DetectionResultItem{
		{ID: "1", ProductName: "Trench Coat", Category: "Coats"},
		{ID: "2", ProductName: "Human Hair Wig", Category: "Beauty"},
	}

	w := doRequest(t, s, http.MethodPost, "/api/sanitize", ItemsRequest{Items: items})
	require.Equal(t, http.StatusOK, w.Code)

	var resp SanitizeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Dropped)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "1", resp.Items[0].ID)
}

func TestHandleSessions(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*models.ShareSession{
		"s-1": {ID: "s-1", SourceURL: "https://pin.it/abc", Status: models.StatusCompleted, CreatedAt: time.Now()},
	}}
	s := setupTestServer(t, &fakeProcessor{}, sessions)

	t.Run("get by id", func(t *testing.T) {
		w := doRequest(t, s, http.MethodGet, "/api/sessions/s-1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var session models.ShareSession
		require.NoError(t, json.NewDecoder(w.Body).Decode(&session))
		assert.Equal(t, "s-1", session.ID)
		assert.Equal(t, models.StatusCompleted, session.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		w := doRequest(t, s, http.MethodGet, "/api/sessions/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "session not found", decodeError(t, w))
	})

	t.Run("missing id", func(t *testing.T) {
		w := doRequest(t, s, http.MethodGet, "/api/sessions/", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("lookup by source url", func(t *testing.T) {
		w := doRequest(t, s, http.MethodGet, "/api/sessions?source_url=https%3A%2F%2Fpin.it%2Fabc", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var session models.ShareSession
		require.NoError(t, json.NewDecoder(w.Body).Decode(&session))
		assert.Equal(t, "s-1", session.ID)
	})

	t.Run("list clamps limit", func(t *testing.T) {
		w := doRequest(t, s, http.MethodGet, "/api/sessions?limit=500&offset=-2", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, float64(100), resp["limit"])
		assert.Equal(t, float64(0), resp["offset"])
		assert.Equal(t, float64(1), resp["total"])
	})

	t.Run("persistence disabled", func(t *testing.T) {
		w := doRequest(t, setupTestServer(t, &fakeProcessor{}, nil), http.MethodGet, "/api/sessions/s-1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCORSPreflight(t *testing.T) {
	s := setupTestServer(t, &fakeProcessor{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/shares", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToUpper(w.Header().Get("Access-Control-Allow-Methods")), "POST")
}

func TestMetricsEndpoint(t *testing.T) {
	w := doRequest(t, setupTestServer(t, &fakeProcessor{}, nil), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

type fakeRemote struct {
	favorites map[string]string
	nextID    int
	err       error
}

func (f *fakeRemote) CheckFavorites(_ context.Context, productIDs []string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, id := range productIDs {
		if fav, ok := f.favorites[id]; ok {
			out[id] = fav
		}
	}
	return out, nil
}

func (f *fakeRemote) AddFavorite(_ context.Context, item models.DetectionResultItem) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.nextID++
	id := fmt.Sprintf("fav-%d", f.nextID)
	f.favorites[item.ID] = id
	return id, nil
}

func (f *fakeRemote) RemoveFavorite(_ context.Context, favoriteID string) error {
	for product, fav := range f.favorites {
		if fav == favoriteID {
			delete(f.favorites, product)
		}
	}
	return nil
}

func (f *fakeRemote) SaveSearch(_ context.Context, searchID, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "saved-" + searchID + "-" + name, nil
}

func setupFavoritesServer(t *testing.T, remote *fakeRemote) *Server {
	t.Helper()
	return NewServer(DefaultConfig(), Deps{
		Pipeline:  &fakeProcessor{},
		Filter:    sanitize.Default(),
		Favorites: favorites.New(remote),
		Searches:  remote,
	})
}

func TestHandleFavorites(t *testing.T) {
	remote := &fakeRemote{favorites: map[string]string{"known": "fav-known"}}
	s := setupFavoritesServer(t, remote)

	w := doRequest(t, s, http.MethodPost, "/api/favorites", map[string]string{"id": "p1", "product_name": "Wool Coat"})
	require.Equal(t, http.StatusOK, w.Code)
	var added map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&added))
	assert.Equal(t, "p1", added["product_id"])
	assert.Equal(t, "fav-1", added["favorite_id"])

	w = doRequest(t, s, http.MethodPost, "/api/favorites/check", CheckFavoritesRequest{ProductIDs: []string{"known", "other"}})
	require.Equal(t, http.StatusOK, w.Code)
	var checked map[string]map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&checked))
	assert.Equal(t, map[string]string{"known": "fav-known"}, checked["favorites"])

	w = doRequest(t, s, http.MethodGet, "/api/favorites", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed map[string]map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listed))
	assert.Equal(t, map[string]string{"p1": "fav-1", "known": "fav-known"}, listed["favorites"])

	w = doRequest(t, s, http.MethodDelete, "/api/favorites/p1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, remote.favorites, "p1")

	w = doRequest(t, s, http.MethodDelete, "/api/favorites/never", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleFavoritesRemoteErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not configured", fmt.Errorf("add: %w", detection.ErrNotConfigured), http.StatusServiceUnavailable},
		{"api error", &detection.APIError{Op: "add_favorite", StatusCode: 500, Message: "boom"}, http.StatusBadGateway},
		{"other", errors.New("dial tcp: refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupFavoritesServer(t, &fakeRemote{favorites: map[string]string{}, err: tt.err})
			w := doRequest(t, s, http.MethodPost, "/api/favorites", map[string]string{"id": "p1"})
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestHandleFavoritesDisabled(t *testing.T) {
	s := setupTestServer(t, &fakeProcessor{}, nil)

	assert.Equal(t, http.StatusServiceUnavailable, doRequest(t, s, http.MethodGet, "/api/favorites", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(t, s, http.MethodPost, "/api/searches/s1/save", SaveSearchRequest{}).Code)
}

func TestHandleSaveSearch(t *testing.T) {
	s := setupFavoritesServer(t, &fakeRemote{favorites: map[string]string{}})

	w := doRequest(t, s, http.MethodPost, "/api/searches/search-9/save", SaveSearchRequest{Name: "coats"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "search-9", resp["search_id"])
	assert.Equal(t, "saved-search-9-coats", resp["saved_search_id"])

	w = doRequest(t, s, http.MethodPost, "/api/searches/search-9", SaveSearchRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, s, http.MethodGet, "/api/searches/search-9/save", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
