package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hacknation/dozin/internal/models"
	"github.com/hacknation/dozin/internal/storage"
)

// BlobStore stores bytes under a key and resolves keys to fetchable URLs.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	URL(ctx context.Context, key string) (string, error)
}

// UploadErrorCode classifies a failed upload.
type UploadErrorCode string

const (
	UploadTooLarge UploadErrorCode = "too_large"
	UploadStore    UploadErrorCode = "store"
	UploadResolve  UploadErrorCode = "resolve"
	UploadCanceled UploadErrorCode = "canceled"
)

// UploadError reports the first failure of an upload batch.
type UploadError struct {
	Code UploadErrorCode
	File string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed (%s): %v", e.File, e.Code, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Informative reports whether the failure is worth showing to the user verbatim.
func (e *UploadError) Informative() bool {
	return e.Code == UploadTooLarge
}

// UserMessage is the user-facing description of an informative failure.
func (e *UploadError) UserMessage() string {
	if e.Code == UploadTooLarge {
		return OversizedMessage(e.File)
	}
	return MsgGenericFailure
}

// Uploader transfers staged images to the blob store.
type Uploader struct {
	blobs   BlobStore
	now     func() time.Time
	maxSize int64
}

// NewUploader creates an uploader. now stamps object keys; nil means time.Now.
func NewUploader(blobs BlobStore, now func() time.Time) *Uploader {
	if now == nil {
		now = time.Now
	}
	return &Uploader{blobs: blobs, now: now, maxSize: MaxImageSize}
}

// ObjectKey builds the storage key of the file at index in a batch stamped at ts.
func ObjectKey(ts time.Time, index int, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "image"
	}
	return fmt.Sprintf("images/%d-%d_%s", ts.UnixNano(), index, name)
}

// UploadAll uploads every file concurrently and returns their URLs in input
// order. Any failure fails the whole batch; already stored objects are left behind.
func (u *Uploader) UploadAll(ctx context.Context, files []models.StagedFile) ([]string, error) {
	urls := make([]string, len(files))
	if len(files) == 0 {
		return urls, nil
	}

	ts := u.now()
	g, gctx := errgroup.WithContext(ctx)

	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if u.maxSize > 0 && int64(len(f.Data)) > u.maxSize {
				return &UploadError{Code: UploadTooLarge, File: f.Name, Err: storage.ErrBlobTooLarge}
			}

			key := ObjectKey(ts, i, f.Name)
			if err := u.blobs.Put(gctx, key, f.Data, f.ContentType); err != nil {
				return classify(UploadStore, f.Name, err)
			}

			url, err := u.blobs.URL(gctx, key)
			if err != nil {
				return classify(UploadResolve, f.Name, err)
			}
			urls[i] = url
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Int("files", len(files)).Msg("Image upload batch failed")
		return nil, err
	}

	log.Info().Int("files", len(files)).Msg("Image batch uploaded")
	return urls, nil
}

func classify(code UploadErrorCode, file string, err error) *UploadError {
	switch {
	case errors.Is(err, storage.ErrBlobTooLarge):
		code = UploadTooLarge
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = UploadCanceled
	}
	return &UploadError{Code: code, File: file, Err: err}
}
