package models

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Category identifiers
const (
	CategoryMoney          = "money"
	CategoryNationalID     = "national-id"
	CategoryPassport       = "passport"
	CategoryVehicleLicense = "vehicle-license"
	CategoryKeys           = "keys"
	CategoryMobile         = "mobile"
	CategoryBag            = "bag"
	CategoryOther          = "other"
)

// Option is a selectable value with its display label.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Categories lists the closed set of item categories in display order.
var Categories = []Option{
	{Value: CategoryMoney, Label: "پارە"},
	{Value: CategoryNationalID, Label: "کارتی نیشتیمانی"},
	{Value: CategoryPassport, Label: "پاسپۆرت"},
	{Value: CategoryVehicleLicense, Label: "مۆڵەتی شۆفێری"},
	{Value: CategoryKeys, Label: "کەل و پەل"},
	{Value: CategoryMobile, Label: "مۆبایل"},
	{Value: CategoryBag, Label: "جانتا"},
	{Value: CategoryOther, Label: "هی تر..."},
}

// Cities lists the closed set of cities in display order.
var Cities = []string{
	"سلێمانی",
	"چەمچەماڵ",
	"هەڵەبجەی تازە",
	"هەڵەبجەی شەهید",
	"هەولێر",
	"دهۆک",
	"ڕانیە",
	"قەڵادزێ",
	"کۆیە",
	"زاخۆ",
}

// IsCategory reports whether value names a known category.
func IsCategory(value string) bool {
	for _, c := range Categories {
		if c.Value == value {
			return true
		}
	}
	return false
}

// CategoryLabel returns the label for value, or value itself when unknown.
func CategoryLabel(value string) string {
	for _, c := range Categories {
		if c.Value == value {
			return c.Label
		}
	}
	return value
}

// NormalizeCity trims surrounding space and composes the string to NFC so
// that equivalent Kurdish spellings compare equal.
func NormalizeCity(city string) string {
	return norm.NFC.String(strings.TrimSpace(city))
}

// IsCity reports whether city, after normalization, is a known city.
func IsCity(city string) bool {
	city = NormalizeCity(city)
	for _, c := range Cities {
		if c == city {
			return true
		}
	}
	return false
}
