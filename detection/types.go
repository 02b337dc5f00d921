package detection

import (
	"encoding/json"

	"github.com/snaplook/scraper/models"
)

// AnalyzeRequest is the body of POST /api/v1/analyze. Empty UserID, Country
// and Language are filled from the client configuration.
type AnalyzeRequest struct {
	UserID         string `json:"user_id"`
	ImageBase64    string `json:"image_base64,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	SearchType     string `json:"search_type"`
	Country        string `json:"country,omitempty"`
	Language       string `json:"language,omitempty"`
	SourceURL      string `json:"source_url,omitempty"`
	SourceUsername string `json:"source_username,omitempty"`
}

// Garment is one detected garment as reported by the server
type Garment map[string]any

// AnalyzeResponse is a detection outcome, either fresh or served from cache
type AnalyzeResponse struct {
	Success         bool                         `json:"success"`
	Cached          bool                         `json:"cached"`
	CacheAgeSeconds *int                         `json:"cache_age_seconds,omitempty"`
	SearchID        string                       `json:"search_id,omitempty"`
	ImageCacheID    string                       `json:"image_cache_id,omitempty"`
	TotalResults    int                          `json:"total_results"`
	DetectedGarment Garment                      `json:"detected_garment,omitempty"`
	Results         []models.DetectionResultItem `json:"results"`
	Message         string                       `json:"message,omitempty"`
}

// analyzeWire accepts both historical spellings of the results and garment keys
type analyzeWire struct {
	Success          *bool             `json:"success"`
	Cached           bool              `json:"cached"`
	CacheAgeSeconds  *int              `json:"cache_age_seconds"`
	SearchID         string            `json:"search_id"`
	ImageCacheID     string            `json:"image_cache_id"`
	CacheID          string            `json:"cache_id"`
	TotalResults     int               `json:"total_results"`
	DetectedGarment  json.RawMessage   `json:"detected_garment"`
	DetectedGarments []json.RawMessage `json:"detected_garments"`
	Results          []json.RawMessage `json:"results"`
	SearchResults    []json.RawMessage `json:"search_results"`
	Message          string            `json:"message"`
}

func (r *AnalyzeResponse) UnmarshalJSON(data []byte) error {
	var w analyzeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	raw := w.Results
	if len(raw) == 0 {
		raw = w.SearchResults
	}

	*r = AnalyzeResponse{
		Success:         w.Success == nil || *w.Success,
		Cached:          w.Cached,
		CacheAgeSeconds: w.CacheAgeSeconds,
		SearchID:        w.SearchID,
		ImageCacheID:    w.ImageCacheID,
		TotalResults:    w.TotalResults,
		Results:         decodeItems(raw),
		Message:         w.Message,
	}
	if r.ImageCacheID == "" {
		r.ImageCacheID = w.CacheID
	}
	if r.TotalResults == 0 {
		r.TotalResults = len(r.Results)
	}

	garment := w.DetectedGarment
	if len(garment) == 0 && len(w.DetectedGarments) > 0 {
		garment = w.DetectedGarments[0]
	}
	if len(garment) > 0 {
		var g Garment
		if json.Unmarshal(garment, &g) == nil {
			r.DetectedGarment = g
		}
	}
	return nil
}

// decodeItems skips entries that are not objects instead of failing the batch
func decodeItems(raw []json.RawMessage) []models.DetectionResultItem {
	items := make([]models.DetectionResultItem, 0, len(raw))
	for _, msg := range raw {
		var item models.DetectionResultItem
		if err := json.Unmarshal(msg, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items
}

// CacheCheckResponse is the reply of GET /api/v1/cache/check
type CacheCheckResponse struct {
	Cached       bool
	CacheID      string
	TotalResults int
	Garment      Garment
	Results      []models.DetectionResultItem
}

func (r *CacheCheckResponse) UnmarshalJSON(data []byte) error {
	var a AnalyzeResponse
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = CacheCheckResponse{
		Cached:       a.Cached,
		CacheID:      a.ImageCacheID,
		TotalResults: a.TotalResults,
		Garment:      a.DetectedGarment,
		Results:      a.Results,
	}
	return nil
}

// AsAnalyzeResponse presents a cache hit the way a fresh analysis would look
func (r *CacheCheckResponse) AsAnalyzeResponse() *AnalyzeResponse {
	return &AnalyzeResponse{
		Success:         true,
		Cached:          true,
		ImageCacheID:    r.CacheID,
		TotalResults:    r.TotalResults,
		DetectedGarment: r.Garment,
		Results:         r.Results,
	}
}

// Favorite is a stored favorite as listed by the server
type Favorite struct {
	ID          string       `json:"id"`
	ProductID   string       `json:"product_id"`
	ProductName string       `json:"product_name"`
	Brand       string       `json:"brand,omitempty"`
	Price       models.Price `json:"price"`
	ImageURL    string       `json:"image_url,omitempty"`
	PurchaseURL string       `json:"purchase_url,omitempty"`
	Category    string       `json:"category,omitempty"`
}

// FavoritesPage is one page of GET /api/v1/users/{id}/favorites
type FavoritesPage struct {
	Favorites []Favorite `json:"favorites"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

type favoriteRequest struct {
	UserID  string          `json:"user_id"`
	Product favoritePayload `json:"product"`
}

type favoritePayload struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Brand       string  `json:"brand"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"image_url"`
	PurchaseURL *string `json:"purchase_url,omitempty"`
	Category    string  `json:"category"`
}

func newFavoritePayload(item models.DetectionResultItem) favoritePayload {
	var price float64
	if item.Price.Amount != nil {
		price = item.Price.Amount.InexactFloat64()
	}
	return favoritePayload{
		ID:          item.ID,
		ProductID:   item.ID,
		ProductName: item.ProductName,
		Brand:       item.BrandName(),
		Price:       price,
		ImageURL:    item.ImageURL,
		PurchaseURL: item.PurchaseURL,
		Category:    item.Category,
	}
}

type saveSearchRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// mutationResponse covers the {success, *_id, message} replies
type mutationResponse struct {
	Success       *bool  `json:"success"`
	FavoriteID    string `json:"favorite_id"`
	SavedSearchID string `json:"saved_search_id"`
	Message       string `json:"message"`
}

func (m mutationResponse) ok() bool {
	return m.Success == nil || *m.Success
}

// favoriteLink is one entry of the list form of the bulk-check reply
type favoriteLink struct {
	ProductID  string `json:"product_id"`
	FavoriteID string `json:"favorite_id"`
	ID         string `json:"id"`
}

// decodeFavoriteMap accepts {"favorites": {pid: fid}}, a bare {pid: fid}
// object, or a list of {product_id, favorite_id} entries.
func decodeFavoriteMap(data []byte) (map[string]string, error) {
	var wrapped struct {
		Favorites json.RawMessage `json:"favorites"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Favorites) > 0 {
		data = wrapped.Favorites
	}

	var asMap map[string]string
	if err := json.Unmarshal(data, &asMap); err == nil {
		return asMap, nil
	}

	var links []favoriteLink
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(links))
	for _, l := range links {
		id := l.FavoriteID
		if id == "" {
			id = l.ID
		}
		if l.ProductID != "" && id != "" {
			out[l.ProductID] = id
		}
	}
	return out, nil
}
