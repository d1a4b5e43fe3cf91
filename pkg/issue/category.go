package issue

import (
	"fmt"
	"strings"
)

// Category is the kind of community issue a post reports.
type Category string

const (
	CategoryGarbage   Category = "Garbage"
	CategoryPotholes  Category = "Potholes"
	CategoryWater     Category = "Water Issue"
	CategoryLostFound Category = "Lost & Found"
	CategoryEvent     Category = "Event"
	CategoryNews      Category = "News"
	CategoryOther     Category = "Other"
)

// Categories lists every accepted category in display order.
var Categories = []Category{
	CategoryGarbage,
	CategoryPotholes,
	CategoryWater,
	CategoryLostFound,
	CategoryEvent,
	CategoryNews,
	CategoryOther,
}

// ParseCategory matches s against the known categories, ignoring case and
// surrounding whitespace.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func (c Category) String() string { return string(c) }
