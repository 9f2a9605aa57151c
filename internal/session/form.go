package session

import (
	"errors"
	"sync"
	"time"

	"github.com/hacknation/dozin/internal/models"
)

var (
	// ErrFormClosed is returned when the draft is edited or submitted while the form is not open.
	ErrFormClosed = errors.New("form is not open")
	// ErrSubmissionInProgress is returned while a submission is in flight.
	ErrSubmissionInProgress = errors.New("submission already in progress")
)

// FormState is the authoring sub-state of found mode.
type FormState int

const (
	FormClosed FormState = iota
	FormOpen
	FormSubmitting
)

func (s FormState) String() string {
	switch s {
	case FormOpen:
		return "open"
	case FormSubmitting:
		return "submitting"
	default:
		return "closed"
	}
}

// Form owns one draft and its authoring cycle:
// closed -> open -> submitting -> closed (success) or open (failure).
type Form struct {
	mu          sync.Mutex
	state       FormState
	draft       *models.Draft
	errors      models.FieldErrors
	closeOnDone bool
	now         func() time.Time
}

// NewForm returns a closed form without a draft.
func NewForm(now func() time.Time) *Form {
	if now == nil {
		now = time.Now
	}
	return &Form{now: now}
}

// FormView is a consistent copy of the form for rendering.
type FormView struct {
	State  FormState
	Draft  models.Draft
	Errors models.FieldErrors
}

// Open shows the form, creating a default draft if none survives.
func (f *Form) Open() {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case FormClosed:
		f.state = FormOpen
	case FormSubmitting:
		f.closeOnDone = false
	}
	if f.draft == nil {
		d := models.NewDraft(f.now())
		f.draft = &d
	}
}

// Close hides the form and keeps the draft. While submitting, the form
// closes once the submission finishes.
func (f *Form) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case FormOpen:
		f.state = FormClosed
	case FormSubmitting:
		f.closeOnDone = true
	}
}

// Cancel closes the form and discards the draft.
func (f *Form) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == FormSubmitting {
		return ErrSubmissionInProgress
	}
	f.state = FormClosed
	f.draft = nil
	f.errors = nil
	return nil
}

// Update assigns text fields of the draft by key.
func (f *Form) Update(fields map[string]string) error {
	return f.edit(func(d *models.Draft) {
		for k, v := range fields {
			d.Set(k, v)
		}
	})
}

// SetImages replaces the staged image set. An empty set clears it.
func (f *Form) SetImages(files []models.StagedFile) error {
	return f.edit(func(d *models.Draft) {
		if len(files) == 0 {
			d.Images = nil
			return
		}
		d.Images = append([]models.StagedFile(nil), files...)
	})
}

// RemoveImage drops the staged image at index. Out-of-range indexes are ignored.
func (f *Form) RemoveImage(index int) error {
	return f.edit(func(d *models.Draft) {
		if index < 0 || index >= len(d.Images) {
			return
		}
		images := make([]models.StagedFile, 0, len(d.Images)-1)
		images = append(images, d.Images[:index]...)
		d.Images = append(images, d.Images[index+1:]...)
	})
}

func (f *Form) edit(fn func(d *models.Draft)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case FormClosed:
		return ErrFormClosed
	case FormSubmitting:
		return ErrSubmissionInProgress
	}
	fn(f.draft)
	return nil
}

// BeginSubmit validates the draft and, when it is clean, enters the
// submitting state and returns a copy of the draft to publish.
// Validation errors are stored on the form and returned; the state is unchanged.
func (f *Form) BeginSubmit(validate func(models.Draft) models.FieldErrors) (models.Draft, models.FieldErrors, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case FormClosed:
		return models.Draft{}, nil, ErrFormClosed
	case FormSubmitting:
		return models.Draft{}, nil, ErrSubmissionInProgress
	}

	errs := validate(*f.draft)
	f.errors = errs
	if len(errs) > 0 {
		return models.Draft{}, errs, nil
	}

	f.state = FormSubmitting
	f.closeOnDone = false
	return f.draft.Clone(), nil, nil
}

// EndSubmit leaves the submitting state. On success the draft is reset to
// defaults and the form closes; on failure the draft is kept and the form
// reopens, unless it was closed meanwhile.
func (f *Form) EndSubmit(success bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != FormSubmitting {
		return
	}

	if success {
		d := models.NewDraft(f.now())
		f.draft = &d
		f.errors = nil
		f.state = FormClosed
		return
	}

	if f.closeOnDone {
		f.state = FormClosed
	} else {
		f.state = FormOpen
	}
}

// State returns the current authoring state.
func (f *Form) State() FormState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// HasDraft reports whether a draft exists.
func (f *Form) HasDraft() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft != nil
}

// View returns a copy of the form for rendering.
func (f *Form) View() FormView {
	f.mu.Lock()
	defer f.mu.Unlock()

	v := FormView{State: f.state}
	if f.draft != nil {
		v.Draft = f.draft.Clone()
	}
	if len(f.errors) > 0 {
		v.Errors = make(models.FieldErrors, len(f.errors))
		for k, msg := range f.errors {
			v.Errors[k] = msg
		}
	}
	return v
}
