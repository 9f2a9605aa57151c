package services

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hacknation/dozin/internal/models"
)

// MinTextLength is the minimum length, in characters, of description and phone.
const MinTextLength = 10

// User-facing validation messages
const (
	MsgCategoryRequired    = "جۆری شتەکە پێویستە"
	MsgCityRequired        = "شار پێویستە"
	MsgDescriptionRequired = "وەسف پێویستە (کەمەیەک ۱۰ پیت بێت)"
	MsgPhoneRequired       = "ژمارەی تەلەفۆن پێویستە"
	MsgDateRequired        = "بەرواری دۆزینەوە پێویستە"
)

// ValidateDraft checks a draft and returns one message per failing field.
// An empty map means the draft may be submitted. Name and images are never checked.
func ValidateDraft(d models.Draft) models.FieldErrors {
	errs := models.FieldErrors{}

	if !models.IsCategory(d.Category) {
		errs[models.FieldCategory] = MsgCategoryRequired
	}
	if !models.IsCity(d.City) {
		errs[models.FieldCity] = MsgCityRequired
	}
	if strings.TrimSpace(d.Description) == "" || utf8.RuneCountInString(d.Description) < MinTextLength {
		errs[models.FieldDescription] = MsgDescriptionRequired
	}
	if d.Phone == "" || utf8.RuneCountInString(d.Phone) < MinTextLength {
		errs[models.FieldPhone] = MsgPhoneRequired
	}
	if _, err := time.Parse(models.DateLayout, d.Date); err != nil {
		errs[models.FieldDate] = MsgDateRequired
	}

	return errs
}
