package models

import (
	"time"
)

// DateLayout is the calendar-date format used for Listing.Date.
const DateLayout = "2006-01-02"

// Listing represents a persisted found-item report
type Listing struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	City        string    `json:"city"`
	Description string    `json:"description"`
	Phone       string    `json:"phone"`
	Name        string    `json:"name,omitempty"`
	Date        string    `json:"date"`
	Images      []string  `json:"images"`
	CreatedAt   time.Time `json:"created_at"`
}

// CategoryLabel returns the display label of the listing's category.
func (l Listing) CategoryLabel() string {
	return CategoryLabel(l.Category)
}

// SearchFilter narrows the listing set for lost-item browsing.
// An empty Category and an empty Cities set both mean "no restriction".
type SearchFilter struct {
	Category string   `json:"category,omitempty"`
	Cities   []string `json:"cities,omitempty"`
}

// HasCity reports whether city is one of the selected cities.
func (f SearchFilter) HasCity(city string) bool {
	for _, c := range f.Cities {
		if c == city {
			return true
		}
	}
	return false
}

// ListingCreatedEvent represents the event published to RabbitMQ
type ListingCreatedEvent struct {
	ID         string    `json:"id"`
	Category   string    `json:"category"`
	City       string    `json:"city"`
	Date       string    `json:"date"`
	ImageCount int       `json:"image_count"`
	Timestamp  time.Time `json:"timestamp"`
}
