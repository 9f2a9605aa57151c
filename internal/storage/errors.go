package storage

import "errors"

var (
	// ErrBlobNotFound is returned when a URL is requested for a key that was never stored.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrBlobTooLarge is returned when the blob store refuses an object for its size.
	ErrBlobTooLarge = errors.New("blob too large")
)
