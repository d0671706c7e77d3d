package normalize

// shape is a table-driven field mapping for one known source payload shape.
// Each canonical field lists the raw keys that may carry it, in priority
// order. Adding a source means adding a table here, not new logic.
type shape struct {
	brand        []string
	model        []string
	fullName     []string
	category     []string
	releaseYear  []string
	msrp         []string
	currentPrice []string
	sensor       []string
	processor    []string
	mount        []string
	manualURL    []string
	keyFeatures  []string
	specs        []string
	imageURL     []string
	imageAuthor  []string
	imageLicense []string
}

// ShapeCatalogV1 is the generic product-dump shape and the fallback for
// unknown shape names.
const ShapeCatalogV1 = "catalog_v1"

// ShapePressFeed matches announcement/press-wire style feeds.
const ShapePressFeed = "press_feed"

// ShapeRetailListing matches retail listing exports.
const ShapeRetailListing = "retail_listing"

func builtinShapes() map[string]shape {
	return map[string]shape{
		ShapeCatalogV1: {
			brand:        []string{"brand", "manufacturer"},
			model:        []string{"model", "name"},
			fullName:     []string{"full_name", "fullName", "title"},
			category:     []string{"category", "type"},
			releaseYear:  []string{"release_year", "releaseYear", "year"},
			msrp:         []string{"msrp", "list_price"},
			currentPrice: []string{"current_price", "price"},
			sensor:       []string{"sensor", "sensor_size"},
			processor:    []string{"processor", "engine"},
			mount:        []string{"mount", "lens_mount"},
			manualURL:    []string{"manual_url", "manualUrl"},
			keyFeatures:  []string{"key_features", "keyFeatures", "features"},
			specs:        []string{"specs", "specifications"},
			imageURL:     []string{"image_url", "imageUrl", "image"},
			imageAuthor:  []string{"image_author", "photo_credit"},
			imageLicense: []string{"image_license", "photo_license"},
		},
		ShapePressFeed: {
			brand:        []string{"maker", "manufacturer", "brand"},
			model:        []string{"product", "model"},
			fullName:     []string{"headline_name", "title"},
			category:     []string{"segment", "category"},
			releaseYear:  []string{"announced", "announced_year"},
			msrp:         []string{"price_usd", "launch_price"},
			currentPrice: []string{"street_price"},
			sensor:       []string{"sensor_size", "sensor"},
			processor:    []string{"image_engine", "processor"},
			mount:        []string{"lens_mount", "mount"},
			manualURL:    []string{"manual", "manual_url"},
			keyFeatures:  []string{"highlights", "features"},
			specs:        []string{"spec_sheet", "specs"},
			imageURL:     []string{"photo", "photo_url", "press_image"},
			imageAuthor:  []string{"photo_credit"},
			imageLicense: []string{"photo_license"},
		},
		ShapeRetailListing: {
			brand:        []string{"brandName", "brand"},
			model:        []string{"modelName", "model"},
			fullName:     []string{"displayName", "title"},
			category:     []string{"productGroup", "category"},
			releaseYear:  []string{"launchYear", "year"},
			msrp:         []string{"listPrice"},
			currentPrice: []string{"salePrice", "price"},
			sensor:       []string{"sensorFormat"},
			processor:    []string{"imageProcessor"},
			mount:        []string{"lensMount"},
			manualURL:    []string{"manualLink"},
			keyFeatures:  []string{"sellingPoints"},
			specs:        []string{"attributes"},
			imageURL:     []string{"heroImage", "imageUrl"},
			imageAuthor:  []string{"imageCredit"},
			imageLicense: []string{"imageLicense"},
		},
	}
}

// sensorVocabulary folds the many ways sources spell a sensor format into
// one canonical label.
var sensorVocabulary = map[string]string{
	"full frame":         "Full-Frame",
	"full-frame":         "Full-Frame",
	"fullframe":          "Full-Frame",
	"ff":                 "Full-Frame",
	"35mm":               "Full-Frame",
	"aps-c":              "APS-C",
	"apsc":               "APS-C",
	"crop":               "APS-C",
	"aps-h":              "APS-H",
	"micro four thirds":  "Micro Four Thirds",
	"micro 4/3":          "Micro Four Thirds",
	"mft":                "Micro Four Thirds",
	"m4/3":               "Micro Four Thirds",
	"1 inch":             "1-Inch",
	"1\"":                "1-Inch",
	"1-inch":             "1-Inch",
	"medium format":      "Medium Format",
	"medium-format":      "Medium Format",
	"gfx medium format":  "Medium Format",
}
