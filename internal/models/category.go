package models

// CategoryOther is the fallback category for records that carry none or an
// unrecognized one.
const CategoryOther = "other"

// CategoryIDs lists all known categories in menu order.
var CategoryIDs = []string{
	"politics",
	"crypto",
	"sports",
	"entertainment",
	"technology",
	"finance",
	"science",
	CategoryOther,
}

var categoryNames = map[string]string{
	"politics":      "Politics",
	"crypto":        "Cryptocurrency",
	"sports":        "Sports",
	"entertainment": "Entertainment",
	"technology":    "Technology",
	"finance":       "Finance",
	"science":       "Science",
	CategoryOther:   "Other",
}

// IsValidCategory reports whether id is one of the known categories.
func IsValidCategory(id string) bool {
	_, ok := categoryNames[id]
	return ok
}

// CategoryName returns the display name for a category ID, falling back to
// the raw ID for unknown values.
func CategoryName(id string) string {
	if name, ok := categoryNames[id]; ok {
		return name
	}
	return id
}
