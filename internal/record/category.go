package record

import "strings"

// Category is an expense category from the fixed taxonomy.
type Category string

const (
	CategoryMeals         Category = "Meals"
	CategoryTravel        Category = "Travel"
	CategoryOffice        Category = "Office"
	CategorySoftware      Category = "Software"
	CategoryRent          Category = "Rent"
	CategoryUtilities     Category = "Utilities"
	CategoryOther         Category = "Other"
	CategoryUncategorized Category = "Uncategorized"
)

// taxonomy lists every valid category in display order. Uncategorized is a
// member so records that fell through categorization still carry a valid
// value.
var taxonomy = []Category{
	CategoryMeals,
	CategoryTravel,
	CategoryOffice,
	CategorySoftware,
	CategoryRent,
	CategoryUtilities,
	CategoryOther,
	CategoryUncategorized,
}

// Taxonomy returns the full category list in display order.
func Taxonomy() []Category {
	out := make([]Category, len(taxonomy))
	copy(out, taxonomy)
	return out
}

// ParseCategory resolves a string to a taxonomy member, case-insensitively.
func ParseCategory(s string) (Category, bool) {
	want := strings.ToLower(strings.TrimSpace(s))
	for _, c := range taxonomy {
		if strings.ToLower(string(c)) == want {
			return c, true
		}
	}
	return "", false
}

// Valid reports taxonomy membership.
func (c Category) Valid() bool {
	_, ok := ParseCategory(string(c))
	return ok
}
