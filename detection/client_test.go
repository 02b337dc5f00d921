package detection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplook/scraper/models"
)

func newTestClient(serverURL string) *Client {
	cfg := DefaultConfig()
	cfg.BaseURL = serverURL
	cfg.UserID = "user-1"
	cfg.RatePerSecond = 0
	return NewClient(cfg)
}

func TestNewClient(t *testing.T) {
	client := NewClient(DefaultConfig())

	assert.NotNil(t, client.httpClient)
	assert.NotNil(t, client.rateLimiter)
	assert.False(t, client.Configured())
}

func TestAnalyze_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req AnalyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user-1", req.UserID)
		assert.Equal(t, "US", req.Country)
		assert.Equal(t, "en", req.Language)
		assert.Equal(t, "instagram", req.SearchType)
		assert.Equal(t, "aGVsbG8=", req.ImageBase64)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"success": true,
			"search_id": "s-1",
			"total_results": 2,
			"detected_garments": [{"label": "dress"}, {"label": "bag"}],
			"search_results": [
				{"id": "a", "product_name": "Linen Dress", "price": "$89.00"},
				{"id": "b", "title": "Leather Tote", "price": 120}
			]
		}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.Analyze(context.Background(), AnalyzeRequest{ImageBase64: "aGVsbG8=", SearchType: "instagram"})

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "s-1", resp.SearchID)
	assert.Equal(t, 2, resp.TotalResults)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Linen Dress", resp.Results[0].ProductName)
	assert.Equal(t, "Leather Tote", resp.Results[1].ProductName)
	assert.Equal(t, "dress", resp.DetectedGarment["label"])
}

func TestAnalyze_ResultsKeyAndSingularGarment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"success": true,
			"detected_garment": {"label": "shoe"},
			"results": [{"product_name": "Runner"}, "not-an-object", {"product_name": "Loafer"}]
		}`)
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Analyze(context.Background(), AnalyzeRequest{})

	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.TotalResults)
	assert.Equal(t, "shoe", resp.DetectedGarment["label"])
	assert.NotEmpty(t, resp.Results[0].ID)
}

func TestAnalyze_ZeroResultsIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success": true, "total_results": 0, "results": []}`)
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Analyze(context.Background(), AnalyzeRequest{})

	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestAnalyze_SuccessFalse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success": false, "message": "No garments detected"}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Analyze(context.Background(), AnalyzeRequest{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "No garments detected", apiErr.Message)
	assert.ErrorIs(t, err, ErrDetectionAPI)
}

func TestAnalyze_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"detail": "model offline"}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Analyze(context.Background(), AnalyzeRequest{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "model offline", apiErr.Message)
	assert.Equal(t, "analyze", apiErr.Op)
}

func TestAnalyze_NotConfigured(t *testing.T) {
	client := NewClient(DefaultConfig())

	_, err := client.Analyze(context.Background(), AnalyzeRequest{})

	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAnalyze_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(server.URL).Analyze(ctx, AnalyzeRequest{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCheckCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/cache/check", r.URL.Path)
		assert.Equal(t, "https://www.instagram.com/p/ABC/", r.URL.Query().Get("source_url"))
		io.WriteString(w, `{"cached": true, "cache_id": "c-9", "total_results": 1, "search_results": [{"product_name": "Coat"}]}`)
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).CheckCache(context.Background(), "https://www.instagram.com/p/ABC/")

	require.NoError(t, err)
	assert.True(t, resp.Cached)
	assert.Equal(t, "c-9", resp.CacheID)
	require.Len(t, resp.Results, 1)

	hit := resp.AsAnalyzeResponse()
	assert.True(t, hit.Cached)
	assert.True(t, hit.Success)
	assert.Equal(t, "Coat", hit.Results[0].ProductName)
}

func TestAddFavorite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/favorites", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-1", body["user_id"])
		product := body["product"].(map[string]any)
		assert.Equal(t, "p-1", product["product_id"])
		assert.Equal(t, 49.99, product["price"])

		io.WriteString(w, `{"success": true, "favorite_id": "f-1"}`)
	}))
	defer server.Close()

	item := models.DetectionResultItem{ID: "p-1", ProductName: "Scarf", Price: models.NewPriceText("$49.99")}
	id, err := newTestClient(server.URL).AddFavorite(context.Background(), item)

	require.NoError(t, err)
	assert.Equal(t, "f-1", id)
}

func TestRemoveFavorite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/favorites/f-1", r.URL.Path)
		assert.Equal(t, "user-1", r.URL.Query().Get("user_id"))
		io.WriteString(w, `{"success": true}`)
	}))
	defer server.Close()

	assert.NoError(t, newTestClient(server.URL).RemoveFavorite(context.Background(), "f-1"))
}

func TestListFavorites(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/user-1/favorites", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))
		io.WriteString(w, `{"favorites": [{"id": "f-1", "product_id": "p-1", "product_name": "Scarf", "price": 49.99}], "total": 1, "limit": 10, "offset": 20}`)
	}))
	defer server.Close()

	page, err := newTestClient(server.URL).ListFavorites(context.Background(), 10, 20)

	require.NoError(t, err)
	require.Len(t, page.Favorites, 1)
	assert.Equal(t, "f-1", page.Favorites[0].ID)
	assert.Equal(t, "$49.99", page.Favorites[0].Price.Display("$"))
}

func TestCheckFavorites(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrapped map", `{"favorites": {"p-1": "f-1"}}`},
		{"bare map", `{"p-1": "f-1"}`},
		{"list", `[{"product_id": "p-1", "favorite_id": "f-1"}, {"product_id": "p-2"}]`},
		{"wrapped list", `{"favorites": [{"product_id": "p-1", "id": "f-1"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/users/user-1/favorites/check", r.URL.Path)
				var ids []string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&ids))
				assert.Equal(t, []string{"p-1", "p-2"}, ids)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			found, err := newTestClient(server.URL).CheckFavorites(context.Background(), []string{"p-1", "p-2"})

			require.NoError(t, err)
			assert.Equal(t, map[string]string{"p-1": "f-1"}, found)
		})
	}
}

func TestSaveSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/searches/s-1/save", r.URL.Path)
		var body saveSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-1", body.UserID)
		assert.Equal(t, "Spring looks", body.Name)
		io.WriteString(w, `{"success": true, "saved_search_id": "ss-1"}`)
	}))
	defer server.Close()

	id, err := newTestClient(server.URL).SaveSearch(context.Background(), "s-1", "Spring looks")

	require.NoError(t, err)
	assert.Equal(t, "ss-1", id)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", errorMessage([]byte(`{"detail": "boom"}`), "500"))
	assert.Equal(t, "bad", errorMessage([]byte(`{"message": "bad"}`), "500"))
	assert.Equal(t, "plain text", errorMessage([]byte("plain text"), "500"))
	assert.Equal(t, "500", errorMessage(nil, "500"))
}
