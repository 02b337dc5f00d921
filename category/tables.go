package category

import "github.com/snaplook/scraper/models"

// Rule lists the keywords that move one category's score
type Rule struct {
	Category models.NormalizedCategory
	Positive []string
	Negative []string
}

// Rules covers the eight substantive categories. Keywords may be multi-word;
// they are cleaned the same way product text is before matching.
var Rules = []Rule{
	{
		Category: models.CategoryTops,
		Positive: []string{"top", "tops", "shirt", "shirts", "t-shirt", "tee", "tank", "blouse", "polo", "sweater", "hoodie", "sweatshirt", "cardigan", "camisole", "tunic", "crewneck", "jumper", "long sleeve"},
		Negative: []string{"dress", "skirt", "pants", "jeans", "shorts", "shoe", "shoes", "boots", "bag"},
	},
	{
		Category: models.CategoryBottoms,
		Positive: []string{"pants", "trousers", "trouser", "jeans", "shorts", "skirt", "skirts", "leggings", "joggers", "sweatpants", "chinos", "culottes", "cargo", "denim"},
		Negative: []string{"jacket", "dress", "shirt", "top", "shoe", "boots"},
	},
	{
		Category: models.CategoryDresses,
		Positive: []string{"dress", "dresses", "gown", "jumpsuit", "romper", "bodysuit", "sundress", "maxi", "midi", "slip dress"},
		Negative: []string{"shoe", "shoes", "boots", "sandals", "bag", "necklace"},
	},
	{
		Category: models.CategoryOuterwear,
		Positive: []string{"coat", "coats", "jacket", "jackets", "blazer", "parka", "puffer", "trench", "windbreaker", "anorak", "raincoat", "gilet", "wool", "fleece"},
		Negative: []string{"dress", "shoe", "boots", "pants", "jeans"},
	},
	{
		Category: models.CategoryShoes,
		Positive: []string{"shoe", "shoes", "sneaker", "sneakers", "boot", "boots", "heel", "heels", "loafer", "loafers", "sandal", "sandals", "trainers", "slipper", "mules", "clog", "pumps"},
		Negative: []string{"bag", "dress", "shirt", "socks", "shoelace"},
	},
	{
		Category: models.CategoryBags,
		Positive: []string{"bag", "bags", "handbag", "tote", "crossbody", "backpack", "satchel", "clutch", "purse", "wallet", "duffel", "shoulder bag"},
		Negative: []string{"shoe", "shoes", "boots", "dress", "pants"},
	},
	{
		Category: models.CategoryAccessories,
		Positive: []string{"belt", "scarf", "sunglasses", "glasses", "watch", "necklace", "earrings", "earring", "bracelet", "ring", "jewelry", "brooch", "gloves", "keychain"},
		Negative: []string{"dress", "shoes", "boots", "pants", "jacket"},
	},
	{
		Category: models.CategoryHeadwear,
		Positive: []string{"hat", "hats", "cap", "caps", "beanie", "beret", "visor", "bucket hat", "headband", "fedora", "balaclava"},
		Negative: []string{"shoe", "shoes", "sleeve", "dress", "bag"},
	},
}

// Synonyms maps raw category strings (case-folded) from the detection
// service onto the taxonomy.
var Synonyms = map[string]models.NormalizedCategory{
	"tops":        models.CategoryTops,
	"top":         models.CategoryTops,
	"shirt":       models.CategoryTops,
	"shirts":      models.CategoryTops,
	"t-shirt":     models.CategoryTops,
	"blouse":      models.CategoryTops,
	"sweater":     models.CategoryTops,
	"knitwear":    models.CategoryTops,
	"bottoms":     models.CategoryBottoms,
	"pants":       models.CategoryBottoms,
	"jeans":       models.CategoryBottoms,
	"trousers":    models.CategoryBottoms,
	"skirt":       models.CategoryBottoms,
	"shorts":      models.CategoryBottoms,
	"dress":       models.CategoryDresses,
	"dresses":     models.CategoryDresses,
	"jumpsuit":    models.CategoryDresses,
	"outerwear":   models.CategoryOuterwear,
	"coat":        models.CategoryOuterwear,
	"coats":       models.CategoryOuterwear,
	"jacket":      models.CategoryOuterwear,
	"jackets":     models.CategoryOuterwear,
	"shoes":       models.CategoryShoes,
	"shoe":        models.CategoryShoes,
	"footwear":    models.CategoryShoes,
	"sneakers":    models.CategoryShoes,
	"boots":       models.CategoryShoes,
	"bags":        models.CategoryBags,
	"bag":         models.CategoryBags,
	"handbags":    models.CategoryBags,
	"accessories": models.CategoryAccessories,
	"accessory":   models.CategoryAccessories,
	"jewelry":     models.CategoryAccessories,
	"jewellery":   models.CategoryAccessories,
	"glasses":     models.CategoryAccessories,
	"sunglasses":  models.CategoryAccessories,
	"scarf":       models.CategoryAccessories,
	"headwear":    models.CategoryHeadwear,
	"hat":         models.CategoryHeadwear,
	"hats":        models.CategoryHeadwear,
	"other":       models.CategoryOther,

	// Combined labels reported by the detection service
	"shirt, blouse":            models.CategoryTops,
	"top, t-shirt, sweatshirt": models.CategoryTops,
	"bag, wallet":              models.CategoryBags,

	"headband, head covering, hair accessory": models.CategoryHeadwear,
}

// FootwearTitleKeywords and ClothingTitleKeywords drive the group mapper's
// title fallback; matching is substring-based on the lowercased title.
var (
	FootwearTitleKeywords = []string{"shoe", "sneaker", "boot", "heel", "loafer", "sandal", "trainer", "slipper", "mule", "clog", "espadrille"}
	ClothingTitleKeywords = []string{"dress", "shirt", "top", "tee", "blouse", "sweater", "hoodie", "cardigan", "jacket", "coat", "blazer", "pants", "jeans", "trouser", "skirt", "shorts", "legging", "jumpsuit"}
)
