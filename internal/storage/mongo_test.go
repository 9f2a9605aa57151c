package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hacknation/dozin/internal/models"
)

func TestListingDocumentRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := toListingDocument(sampleListing("هەولێر"), now)
	assert.NotNil(t, doc.Images)
	assert.Equal(t, now, doc.CreatedAt)

	doc.ID = primitive.NewObjectID()
	l := doc.toListing()
	assert.Equal(t, doc.ID.Hex(), l.ID)
	assert.Equal(t, models.CategoryMobile, l.Category)
	assert.Equal(t, "2026-01-02", l.Date)
}
