package scanning

import "strings"

// Category is the fixed set of inventory shelves an item can live on
type Category string

const (
	CategoryFridge    Category = "Fridge"
	CategoryFreezer   Category = "Freezer"
	CategoryPantry    Category = "Pantry"
	CategoryBathroom  Category = "Bathroom"
	CategoryLaundry   Category = "Laundry"
	CategoryCleaning  Category = "Cleaning"
	CategorySnacks    Category = "Snacks"
	CategoryBeverages Category = "Beverages"
	CategoryOther     Category = "Other"
)

// Categories lists every valid category in display order
var Categories = []Category{
	CategoryFridge,
	CategoryFreezer,
	CategoryPantry,
	CategoryBathroom,
	CategoryLaundry,
	CategoryCleaning,
	CategorySnacks,
	CategoryBeverages,
	CategoryOther,
}

// categoryGuidance is the worded hint given to the extraction model per category
var categoryGuidance = map[Category]string{
	CategoryFridge:    "dairy, deli meat, fresh produce, eggs, juice, yogurt, cheese",
	CategoryFreezer:   "frozen meals, ice cream, frozen vegetables/meat",
	CategoryPantry:    "canned goods, pasta, rice, bread, cereal, cooking oils, spices, baking",
	CategoryBathroom:  "toiletries, soap, shampoo, toothpaste, medicine",
	CategoryLaundry:   "detergent, fabric softener, dryer sheets",
	CategoryCleaning:  "cleaning sprays, paper towels, trash bags, dish soap",
	CategorySnacks:    "chips, cookies, candy, nuts, crackers",
	CategoryBeverages: "soda, water, coffee, tea, sports drinks, alcohol",
	CategoryOther:     "anything else",
}

// ParseCategory matches s case-insensitively against the fixed set.
// Unknown or empty values map to CategoryOther with ok=false so callers can flag the record.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(s, string(c)) {
			return c, true
		}
	}
	return CategoryOther, false
}

// Valid reports whether c is one of the fixed categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}
