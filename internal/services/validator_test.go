package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hacknation/dozin/internal/models"
)

func validDraft() models.Draft {
	return models.Draft{
		Category:    models.CategoryMobile,
		City:        "هەولێر",
		Description: "Black Samsung phone",
		Phone:       "07501234567",
		Date:        "2026-10-14",
	}
}

func TestValidateDraftAcceptsValidDraft(t *testing.T) {
	assert.Empty(t, ValidateDraft(validDraft()))

	d := validDraft()
	d.Name = ""
	d.Images = nil
	assert.Empty(t, ValidateDraft(d))
}

func TestValidateDraftEmptyDraftFailsEveryRequiredField(t *testing.T) {
	errs := ValidateDraft(models.Draft{})

	assert.Equal(t, models.FieldErrors{
		models.FieldCategory:    MsgCategoryRequired,
		models.FieldCity:        MsgCityRequired,
		models.FieldDescription: MsgDescriptionRequired,
		models.FieldPhone:       MsgPhoneRequired,
		models.FieldDate:        MsgDateRequired,
	}, errs)
}

func TestValidateDraftKeysExactlyFailingFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(d *models.Draft)
		field  string
	}{
		{"short description", func(d *models.Draft) { d.Description = "short" }, models.FieldDescription},
		{"blank description", func(d *models.Draft) { d.Description = strings.Repeat(" ", 12) }, models.FieldDescription},
		{"short phone", func(d *models.Draft) { d.Phone = "075012345" }, models.FieldPhone},
		{"unknown category", func(d *models.Draft) { d.Category = "car-license" }, models.FieldCategory},
		{"unknown city", func(d *models.Draft) { d.City = "Baghdad" }, models.FieldCity},
		{"missing date", func(d *models.Draft) { d.Date = "" }, models.FieldDate},
		{"malformed date", func(d *models.Draft) { d.Date = "14/10/2026" }, models.FieldDate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDraft()
			tc.mutate(&d)
			errs := ValidateDraft(d)
			assert.Len(t, errs, 1)
			assert.Contains(t, errs, tc.field)
		})
	}
}

func TestValidateDraftCountsCharactersNotBytes(t *testing.T) {
	d := validDraft()
	d.Description = "مۆبایلی ڕەش"
	assert.Empty(t, ValidateDraft(d))

	d.Description = "مۆبایل"
	assert.Contains(t, ValidateDraft(d), models.FieldDescription)
}

func TestValidateDraftAcceptsLengthBoundary(t *testing.T) {
	d := validDraft()
	d.Description = "0123456789"
	d.Phone = "0750123456"
	assert.Empty(t, ValidateDraft(d))
}
