package models

// NormalizedCategory is one entry of the fixed product taxonomy
type NormalizedCategory string

const (
	CategoryTops        NormalizedCategory = "tops"
	CategoryBottoms     NormalizedCategory = "bottoms"
	CategoryDresses     NormalizedCategory = "dresses"
	CategoryOuterwear   NormalizedCategory = "outerwear"
	CategoryShoes       NormalizedCategory = "shoes"
	CategoryBags        NormalizedCategory = "bags"
	CategoryAccessories NormalizedCategory = "accessories"
	CategoryHeadwear    NormalizedCategory = "headwear"
	CategoryOther       NormalizedCategory = "other"
)

// AllNormalizedCategories lists the taxonomy in preferred display order
var AllNormalizedCategories = []NormalizedCategory{
	CategoryTops,
	CategoryBottoms,
	CategoryDresses,
	CategoryOuterwear,
	CategoryShoes,
	CategoryBags,
	CategoryAccessories,
	CategoryHeadwear,
	CategoryOther,
}

// DisplayName returns the label shown to users
func (c NormalizedCategory) DisplayName() string {
	switch c {
	case CategoryTops:
		return "Tops"
	case CategoryBottoms:
		return "Bottoms"
	case CategoryDresses:
		return "Dresses"
	case CategoryOuterwear:
		return "Outerwear"
	case CategoryShoes:
		return "Shoes"
	case CategoryBags:
		return "Bags"
	case CategoryAccessories:
		return "Accessories"
	case CategoryHeadwear:
		return "Headwear"
	default:
		return "Other"
	}
}

// Order is the position in the preferred ordering; unknown values sort last
func (c NormalizedCategory) Order() int {
	for i, cat := range AllNormalizedCategories {
		if cat == c {
			return i
		}
	}
	return len(AllNormalizedCategories)
}

// NormalizedCategoryAssignment is the normalizer's verdict for one product
type NormalizedCategoryAssignment struct {
	Categories []NormalizedCategory `json:"categories"`
	Confidence int                  `json:"confidence"`
}

// Primary returns the first assigned category, or other when empty
func (a NormalizedCategoryAssignment) Primary() NormalizedCategory {
	if len(a.Categories) == 0 {
		return CategoryOther
	}
	return a.Categories[0]
}

// Contains reports whether c was assigned
func (a NormalizedCategoryAssignment) Contains(c NormalizedCategory) bool {
	for _, cat := range a.Categories {
		if cat == c {
			return true
		}
	}
	return false
}

// CategoryGroup is the coarse grouping used by result tabs
type CategoryGroup string

const (
	GroupAll         CategoryGroup = "all"
	GroupClothing    CategoryGroup = "clothing"
	GroupFootwear    CategoryGroup = "footwear"
	GroupAccessories CategoryGroup = "accessories"
)

// DisplayName returns the tab label for the group
func (g CategoryGroup) DisplayName() string {
	switch g {
	case GroupClothing:
		return "Clothing"
	case GroupFootwear:
		return "Footwear"
	case GroupAccessories:
		return "Accessories"
	default:
		return "All"
	}
}
