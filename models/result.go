package models

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultProductName = "Untitled"
	defaultCategory    = "Uncategorized"
	seeStore           = "See store"
)

var priceNoise = regexp.MustCompile(`[^0-9.,]`)

// Price keeps the price text exactly as received next to a numeric value
// derived from it. Text always wins for display.
type Price struct {
	Text   string
	Amount *decimal.Decimal
}

// NewPriceText builds a price from display text, deriving the numeric side
func NewPriceText(text string) Price {
	text = strings.TrimSpace(text)
	return Price{Text: text, Amount: ParsePriceAmount(text)}
}

// NewPriceAmount builds a price that only has a numeric value
func NewPriceAmount(amount decimal.Decimal) Price {
	return Price{Amount: &amount}
}

// ParsePriceAmount strips everything but digits and separators and parses the
// remainder. A comma is a thousands separator when a later dot exists or when
// exactly three digits follow it; otherwise it is the decimal separator.
// Ranges such as "$49-$59" collapse to a single best-effort number.
func ParsePriceAmount(text string) *decimal.Decimal {
	cleaned := priceNoise.ReplaceAllString(text, "")
	if cleaned == "" {
		return nil
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma < lastDot {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	case lastComma >= 0:
		if len(cleaned)-lastComma-1 == 3 {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil
	}
	return &d
}

// IsZero reports whether neither text nor amount is present
func (p Price) IsZero() bool {
	return p.Text == "" && p.Amount == nil
}

// Display returns the text when present, the formatted amount when it is
// positive, and "See store" otherwise.
func (p Price) Display(currencySymbol string) string {
	if p.Text != "" {
		return p.Text
	}
	if p.Amount != nil && p.Amount.IsPositive() {
		return currencySymbol + p.Amount.StringFixed(2)
	}
	return seeStore
}

// UnmarshalJSON accepts a number, a string or null. Any other shape leaves
// the price empty instead of failing the surrounding item.
func (p *Price) UnmarshalJSON(data []byte) error {
	*p = Price{}
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			*p = NewPriceText(s)
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if d, err := decimal.NewFromString(string(raw)); err == nil {
			p.Amount = &d
		}
	}
	return nil
}

// MarshalJSON writes the text when present, otherwise the number
func (p Price) MarshalJSON() ([]byte, error) {
	if p.Text != "" {
		return json.Marshal(p.Text)
	}
	if p.Amount != nil {
		return []byte(p.Amount.String()), nil
	}
	return []byte("null"), nil
}

// DetectionResultItem is one product returned by the detection service
type DetectionResultItem struct {
	ID          string   `json:"id"`
	ProductName string   `json:"product_name"`
	Brand       *string  `json:"brand,omitempty"`
	Price       Price    `json:"price"`
	ImageURL    string   `json:"image_url"`
	Category    string   `json:"category"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Description *string  `json:"description,omitempty"`
	PurchaseURL *string  `json:"purchase_url,omitempty"`
}

// UnmarshalJSON decodes an item field by field so one malformed optional
// field falls back to its default rather than rejecting the item.
func (item *DetectionResultItem) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*item = DetectionResultItem{}

	if id, ok := stringField(fields, "id"); ok && strings.TrimSpace(id) != "" {
		item.ID = strings.TrimSpace(id)
	} else {
		item.ID = uuid.NewString()
	}

	item.ProductName = defaultProductName
	if name, ok := stringField(fields, "product_name", "productName", "title"); ok {
		if name = strings.TrimSpace(name); name != "" {
			item.ProductName = name
		}
	}

	if brand, ok := stringField(fields, "brand"); ok {
		item.Brand = optionalString(brand)
	}

	if raw, ok := fields["price"]; ok {
		_ = item.Price.UnmarshalJSON(raw)
	}

	if img, ok := stringField(fields, "image_url", "imageUrl", "thumbnail"); ok {
		item.ImageURL = strings.TrimSpace(img)
	}

	item.Category = defaultCategory
	if cat, ok := stringField(fields, "category"); ok {
		if cat = strings.TrimSpace(cat); cat != "" {
			item.Category = cat
		}
	}

	if conf, ok := floatField(fields, "confidence"); ok {
		item.Confidence = &conf
	}

	if desc, ok := stringField(fields, "description", "snippet"); ok {
		item.Description = optionalString(desc)
	}

	if link, ok := stringField(fields, "purchase_url", "purchaseUrl", "link"); ok {
		item.PurchaseURL = optionalString(link)
	}

	return nil
}

// BrandName returns the brand or an empty string
func (item DetectionResultItem) BrandName() string {
	if item.Brand == nil {
		return ""
	}
	return *item.Brand
}

// DescriptionText returns the description or an empty string
func (item DetectionResultItem) DescriptionText() string {
	if item.Description == nil {
		return ""
	}
	return *item.Description
}

// PurchaseLink returns the purchase URL or an empty string
func (item DetectionResultItem) PurchaseLink() string {
	if item.PurchaseURL == nil {
		return ""
	}
	return *item.PurchaseURL
}

// stringField returns the first key holding a JSON string. Numbers are
// accepted as their literal text so numeric ids survive.
func stringField(fields map[string]json.RawMessage, keys ...string) (string, bool) {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String(), true
		}
	}
	return "", false
}

func floatField(fields map[string]json.RawMessage, key string) (float64, bool) {
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
