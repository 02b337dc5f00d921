package category

import (
	"strings"

	"github.com/snaplook/scraper/models"
)

// Group picks the display group for a set of categories, falling back to
// keywords in the title when the set carries no signal. It always returns
// a group.
func Group(categories []models.NormalizedCategory, title string) models.CategoryGroup {
	has := func(targets ...models.NormalizedCategory) bool {
		for _, c := range categories {
			for _, t := range targets {
				if c == t {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has(models.CategoryShoes):
		return models.GroupFootwear
	case has(models.CategoryTops, models.CategoryBottoms, models.CategoryDresses, models.CategoryOuterwear):
		return models.GroupClothing
	case has(models.CategoryBags, models.CategoryAccessories, models.CategoryHeadwear, models.CategoryOther):
		return models.GroupAccessories
	}

	lower := strings.ToLower(title)
	if containsAny(lower, FootwearTitleKeywords) {
		return models.GroupFootwear
	}
	if containsAny(lower, ClothingTitleKeywords) {
		return models.GroupClothing
	}
	return models.GroupAccessories
}

// GroupForItem normalizes the item and maps it to a display group
func GroupForItem(item models.DetectionResultItem) models.CategoryGroup {
	return Group(AssignItem(item).Categories, item.ProductName)
}

// Classified pairs a result with its derived categories and group
type Classified struct {
	models.DetectionResultItem
	NormalizedCategories []models.NormalizedCategory `json:"normalized_categories"`
	CategoryConfidence   int                         `json:"category_confidence"`
	CategoryGroup        models.CategoryGroup        `json:"category_group"`
}

// Classify derives categories and group for each item without touching the items
func Classify(items []models.DetectionResultItem) []Classified {
	out := make([]Classified, 0, len(items))
	for _, item := range items {
		a := AssignItem(item)
		out = append(out, Classified{
			DetectionResultItem:  item,
			NormalizedCategories: a.Categories,
			CategoryConfidence:   a.Confidence,
			CategoryGroup:        Group(a.Categories, item.ProductName),
		})
	}
	return out
}

// FilterByGroup keeps classified items in group g; GroupAll keeps everything
func FilterByGroup(items []Classified, g models.CategoryGroup) []Classified {
	if g == models.GroupAll {
		return items
	}
	var out []Classified
	for _, item := range items {
		if item.CategoryGroup == g {
			out = append(out, item)
		}
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
