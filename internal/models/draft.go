package models

import (
	"time"
)

// Draft field keys, shared by the validator, the error map and the HTML form.
const (
	FieldCategory    = "category"
	FieldCity        = "city"
	FieldDescription = "description"
	FieldPhone       = "phone"
	FieldName        = "name"
	FieldDate        = "date"
)

// StagedFile is an image selected by the user but not uploaded yet.
type StagedFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"`
}

// Draft is an in-progress found-item report.
type Draft struct {
	Category    string
	City        string
	Description string
	Phone       string
	Name        string
	Date        string
	Images      []StagedFile
}

// NewDraft returns an empty draft dated to today.
func NewDraft(today time.Time) Draft {
	return Draft{Date: today.Format(DateLayout)}
}

// Set assigns a text field by key. Unknown keys are ignored.
func (d *Draft) Set(field, value string) {
	switch field {
	case FieldCategory:
		d.Category = value
	case FieldCity:
		d.City = NormalizeCity(value)
	case FieldDescription:
		d.Description = value
	case FieldPhone:
		d.Phone = value
	case FieldName:
		d.Name = value
	case FieldDate:
		d.Date = value
	}
}

// Clone returns a copy whose Images slice is independent of d.
func (d Draft) Clone() Draft {
	if d.Images != nil {
		images := make([]StagedFile, len(d.Images))
		copy(images, d.Images)
		d.Images = images
	}
	return d
}

// Listing converts the draft into a listing carrying the given image URLs.
func (d Draft) Listing(images []string) Listing {
	if images == nil {
		images = []string{}
	}
	return Listing{
		Category:    d.Category,
		City:        NormalizeCity(d.City),
		Description: d.Description,
		Phone:       d.Phone,
		Name:        d.Name,
		Date:        d.Date,
		Images:      images,
	}
}

// FieldErrors maps a draft field key to its user-facing message.
type FieldErrors map[string]string

// Error implements error so validation failures can travel as errors.
func (e FieldErrors) Error() string {
	return "draft has invalid fields"
}
