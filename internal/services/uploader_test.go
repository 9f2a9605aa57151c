package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hacknation/dozin/internal/models"
	"github.com/hacknation/dozin/internal/storage"
)

func withData(name string, n int) models.StagedFile {
	return models.StagedFile{Name: name, ContentType: "image/jpeg", Size: int64(n), Data: make([]byte, n)}
}

func TestObjectKey(t *testing.T) {
	ts := time.Unix(0, 1234)
	assert.Equal(t, "images/1234-0_a.png", ObjectKey(ts, 0, "a.png"))
	assert.Equal(t, "images/1234-2_b.png", ObjectKey(ts, 2, "../../b.png"))
	assert.Equal(t, "images/1234-1_c.png", ObjectKey(ts, 1, `C:\photos\c.png`))
	assert.Equal(t, "images/1234-3_image", ObjectKey(ts, 3, ""))
}

func TestUploadAllEmptyBatch(t *testing.T) {
	blobs := newFakeBlobStore()
	u := NewUploader(blobs, fixedClock)

	urls, err := u.UploadAll(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, urls)
	assert.Empty(t, urls)
	assert.Equal(t, 0, blobs.count())
}

func TestUploadAllPreservesInputOrder(t *testing.T) {
	blobs := newFakeBlobStore()
	// later files finish first
	blobs.delay = func(key string) time.Duration {
		switch {
		case strings.Contains(key, "-0_"):
			return 60 * time.Millisecond
		case strings.Contains(key, "-1_"):
			return 30 * time.Millisecond
		}
		return 0
	}
	u := NewUploader(blobs, fixedClock)

	files := []models.StagedFile{withData("same.jpg", 3), withData("same.jpg", 4), withData("other.jpg", 5)}
	urls, err := u.UploadAll(context.Background(), files)
	require.NoError(t, err)

	ts := fixedClock()
	require.Len(t, urls, 3)
	for i, f := range files {
		assert.Equal(t, "https://blobs.test/"+ObjectKey(ts, i, f.Name), urls[i])
	}
	assert.Equal(t, 3, blobs.count(), "same-named files must not collide")
	assert.Greater(t, blobs.maxPar, int32(1), "uploads should overlap")
}

func TestUploadAllFailsWholeBatch(t *testing.T) {
	blobs := newFakeBlobStore()
	blobs.failPut = func(key string) error {
		if strings.Contains(key, "-1_") {
			return errBoom
		}
		return nil
	}
	u := NewUploader(blobs, fixedClock)

	urls, err := u.UploadAll(context.Background(), []models.StagedFile{withData("a.jpg", 1), withData("b.jpg", 1)})
	assert.Nil(t, urls)

	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, UploadStore, uploadErr.Code)
	assert.Equal(t, "b.jpg", uploadErr.File)
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, uploadErr.Informative())
}

func TestUploadAllClassifiesFailures(t *testing.T) {
	cases := []struct {
		name    string
		failPut error
		failURL error
		code    UploadErrorCode
	}{
		{"blob store rejects size", fmt.Errorf("x: %w", storage.ErrBlobTooLarge), nil, UploadTooLarge},
		{"url resolution fails", nil, errBoom, UploadResolve},
		{"deadline", context.DeadlineExceeded, nil, UploadCanceled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blobs := newFakeBlobStore()
			blobs.failPut = func(string) error { return tc.failPut }
			blobs.failURL = func(string) error { return tc.failURL }
			u := NewUploader(blobs, fixedClock)

			_, err := u.UploadAll(context.Background(), []models.StagedFile{withData("a.jpg", 1)})
			var uploadErr *UploadError
			require.ErrorAs(t, err, &uploadErr)
			assert.Equal(t, tc.code, uploadErr.Code)
		})
	}
}

func TestUploadAllRejectsOversizedPayload(t *testing.T) {
	blobs := newFakeBlobStore()
	u := NewUploader(blobs, fixedClock)

	_, err := u.UploadAll(context.Background(), []models.StagedFile{withData("big.jpg", int(MaxImageSize)+1)})
	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.True(t, uploadErr.Informative())
	assert.Contains(t, uploadErr.UserMessage(), "big.jpg")
	assert.Equal(t, 0, blobs.count())
}
