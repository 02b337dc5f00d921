package category

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/snaplook/scraper/models"
)

func TestGroup(t *testing.T) {
	tests := []struct {
		name       string
		categories []models.NormalizedCategory
		title      string
		want       models.CategoryGroup
	}{
		{"shoes wins regardless of title", []models.NormalizedCategory{models.CategoryShoes}, "Denim Jacket", models.GroupFootwear},
		{"shoes beats clothing", []models.NormalizedCategory{models.CategoryDresses, models.CategoryShoes}, "", models.GroupFootwear},
		{"clothing", []models.NormalizedCategory{models.CategoryOuterwear}, "", models.GroupClothing},
		{"bags", []models.NormalizedCategory{models.CategoryBags}, "Ankle Boot Bag", models.GroupAccessories},
		{"other is accessory family", []models.NormalizedCategory{models.CategoryOther}, "Red Dress", models.GroupAccessories},
		{"title footwear fallback", nil, "Suede Ankle Boots", models.GroupFootwear},
		{"title clothing fallback", []models.NormalizedCategory{}, "Oversized Hoodie", models.GroupClothing},
		{"default accessories", nil, "Gold Hoops", models.GroupAccessories},
		{"empty everything", nil, "", models.GroupAccessories},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Group(tt.categories, tt.title))
		})
	}
}

func TestClassifyAndFilter(t *testing.T) {
	items := []models.DetectionResultItem{
		{ID: "1", ProductName: "Classic Leather Ankle Boot", Category: "Shoes"},
		{ID: "2", ProductName: "Red Wool Coat", Category: "Uncategorized"},
		{ID: "3", ProductName: "Leather Tote Bag", Category: "Bags"},
	}

	classified := Classify(items)
	assert.Len(t, classified, 3)
	assert.Equal(t, models.GroupFootwear, classified[0].CategoryGroup)
	assert.Equal(t, models.GroupClothing, classified[1].CategoryGroup)
	assert.Equal(t, models.GroupAccessories, classified[2].CategoryGroup)
	assert.Equal(t, "Red Wool Coat", items[1].ProductName, "input must not be modified")

	clothing := FilterByGroup(classified, models.GroupClothing)
	assert.Len(t, clothing, 1)
	assert.Equal(t, "2", clothing[0].ID)
	assert.Len(t, FilterByGroup(classified, models.GroupAll), 3)

	assert.Equal(t, models.GroupFootwear, GroupForItem(items[0]))
}
