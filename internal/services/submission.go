package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hacknation/dozin/internal/metrics"
	"github.com/hacknation/dozin/internal/models"
	"github.com/hacknation/dozin/internal/session"
	"github.com/hacknation/dozin/internal/storage"
)

// User-facing submission outcomes
const (
	MsgSubmitted      = "شتێکەکەت بە سەرکەوتوویی تۆمار کرا!"
	MsgGenericFailure = "هەڵەیەک ڕۆیدا. تکایە دووبارە هەوڵ بدە."
)

// DocumentStore persists listings and streams the listing set.
type DocumentStore interface {
	Create(ctx context.Context, l models.Listing) (string, error)
	Subscribe(ctx context.Context, fn storage.SnapshotFunc) (*storage.Subscription, error)
}

// EventPublisher announces created listings. Optional.
type EventPublisher interface {
	PublishListingCreated(ctx context.Context, event models.ListingCreatedEvent) error
}

// PersistError wraps a failed document store write.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist listing: %v", e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one submission attempt. Exactly one of Listing
// and Errors is set when Submit returns a nil error.
type Result struct {
	Listing *models.Listing
	Errors  models.FieldErrors
	Notice  session.Notice
}

// Pipeline turns a validated draft into a persisted listing.
type Pipeline struct {
	uploader *Uploader
	store    DocumentStore
	events   EventPublisher
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewPipeline wires the pipeline. events may be nil.
func NewPipeline(uploader *Uploader, store DocumentStore, events EventPublisher) *Pipeline {
	return &Pipeline{
		uploader: uploader,
		store:    store,
		events:   events,
		now:      time.Now,
	}
}

// WithMetrics records submission outcomes on m.
func (p *Pipeline) WithMetrics(m *metrics.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// Submit validates the form's draft, uploads its images, and writes one listing.
//
// Validation failures are returned in Result.Errors with no side effects.
// Operational failures are returned as an error together with a failure
// notice; the draft is left untouched. On success the form is reset.
// A submission already in flight yields session.ErrSubmissionInProgress.
func (p *Pipeline) Submit(ctx context.Context, form *session.Form) (Result, error) {
	draft, fieldErrs, err := form.BeginSubmit(ValidateDraft)
	if err != nil {
		return Result{}, err
	}
	if len(fieldErrs) > 0 {
		log.Debug().Interface("errors", fieldErrs).Msg("Draft rejected by validator")
		p.metrics.ObserveSubmission(metrics.OutcomeInvalid)
		return Result{Errors: fieldErrs}, nil
	}

	success := false
	defer func() { form.EndSubmit(success) }()

	listing, err := p.publish(ctx, draft)
	if err != nil {
		p.metrics.ObserveSubmission(metrics.OutcomeFailed)
		var uploadErr *UploadError
		if errors.As(err, &uploadErr) {
			p.metrics.ObserveUploadError(string(uploadErr.Code))
		}
		return Result{Notice: FailureNotice(err)}, err
	}

	success = true
	p.metrics.ObserveSubmission(metrics.OutcomeCreated)
	return Result{
		Listing: listing,
		Notice:  session.Notice{Kind: session.NoticeSuccess, Message: MsgSubmitted},
	}, nil
}

func (p *Pipeline) publish(ctx context.Context, draft models.Draft) (*models.Listing, error) {
	urls, err := p.uploader.UploadAll(ctx, draft.Images)
	if err != nil {
		return nil, err
	}

	listing := draft.Listing(urls)
	id, err := p.store.Create(ctx, listing)
	if err != nil {
		return nil, &PersistError{Err: err}
	}
	listing.ID = id

	log.Info().
		Str("listing_id", id).
		Str("category", listing.Category).
		Str("city", listing.City).
		Int("images", len(urls)).
		Msg("Listing created successfully")

	if p.events != nil {
		event := models.ListingCreatedEvent{
			ID:         id,
			Category:   listing.Category,
			City:       listing.City,
			Date:       listing.Date,
			ImageCount: len(urls),
			Timestamp:  p.now(),
		}
		if err := p.events.PublishListingCreated(ctx, event); err != nil {
			log.Error().Err(err).Str("listing_id", id).Msg("Failed to publish event to RabbitMQ")
			p.metrics.ObserveEventPublishError()
		}
	}

	return &listing, nil
}

// FailureNotice maps an operational error to the message shown to the user.
func FailureNotice(err error) session.Notice {
	msg := MsgGenericFailure
	var uploadErr *UploadError
	if errors.As(err, &uploadErr) && uploadErr.Informative() {
		msg = uploadErr.UserMessage()
	}
	return session.Notice{Kind: session.NoticeFailure, Message: msg}
}
