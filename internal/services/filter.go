package services

import (
	"github.com/hacknation/dozin/internal/models"
)

// FilterListings keeps the listings matching f, in their original order.
// An unset category or an empty city set matches everything.
func FilterListings(listings []models.Listing, f models.SearchFilter) []models.Listing {
	out := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if f.Category != "" && l.Category != f.Category {
			continue
		}
		if len(f.Cities) > 0 && !f.HasCity(l.City) {
			continue
		}
		out = append(out, l)
	}
	return out
}
