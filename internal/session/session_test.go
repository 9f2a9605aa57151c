package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hacknation/dozin/internal/models"
)

var fixedNow = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }

func noErrors(models.Draft) models.FieldErrors { return models.FieldErrors{} }

func TestModeTransitions(t *testing.T) {
	s := New("s1", fixedNow)
	assert.Equal(t, ModeUnselected, s.Mode())

	require.NoError(t, s.SelectMode(ModeFound))
	assert.Equal(t, ModeFound, s.Mode())

	require.NoError(t, s.SelectMode(ModeLost))
	assert.Equal(t, ModeLost, s.Mode())

	require.NoError(t, s.SelectMode(ModeFound))
	assert.Equal(t, ModeFound, s.Mode())

	err := s.SelectMode(ModeUnselected)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, ModeFound, s.Mode())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("lost")
	require.NoError(t, err)
	assert.Equal(t, ModeLost, m)

	_, err = ParseMode("unselected")
	assert.Error(t, err)
}

func TestModeToggleClosesFormAndKeepsDraft(t *testing.T) {
	s := New("s1", fixedNow)
	require.NoError(t, s.SelectMode(ModeFound))

	s.Form().Open()
	require.NoError(t, s.Form().Update(map[string]string{models.FieldDescription: "a brown leather wallet"}))

	require.NoError(t, s.SelectMode(ModeLost))
	assert.Equal(t, FormClosed, s.Form().State())

	require.NoError(t, s.SelectMode(ModeFound))
	s.Form().Open()
	assert.Equal(t, "a brown leather wallet", s.Form().View().Draft.Description)
}

func TestFormOpenCreatesDefaultDraft(t *testing.T) {
	f := NewForm(fixedNow)
	assert.False(t, f.HasDraft())

	f.Open()
	v := f.View()
	assert.Equal(t, FormOpen, v.State)
	assert.Equal(t, "2026-05-01", v.Draft.Date)
}

func TestFormCancelDestroysDraft(t *testing.T) {
	f := NewForm(fixedNow)
	f.Open()
	require.NoError(t, f.Update(map[string]string{models.FieldPhone: "07701234567"}))

	require.NoError(t, f.Cancel())
	assert.Equal(t, FormClosed, f.State())
	assert.False(t, f.HasDraft())

	f.Open()
	assert.Empty(t, f.View().Draft.Phone)
}

func TestFormEditsRequireOpenForm(t *testing.T) {
	f := NewForm(fixedNow)
	assert.ErrorIs(t, f.Update(map[string]string{models.FieldCity: "هەولێر"}), ErrFormClosed)
	assert.ErrorIs(t, f.SetImages([]models.StagedFile{{Name: "a.png"}}), ErrFormClosed)

	_, _, err := f.BeginSubmit(noErrors)
	assert.ErrorIs(t, err, ErrFormClosed)
}

func TestFormRemoveImage(t *testing.T) {
	f := NewForm(fixedNow)
	f.Open()
	require.NoError(t, f.SetImages([]models.StagedFile{{Name: "a.png"}, {Name: "b.png"}, {Name: "c.png"}}))

	require.NoError(t, f.RemoveImage(1))
	require.NoError(t, f.RemoveImage(7))
	require.NoError(t, f.RemoveImage(-1))

	images := f.View().Draft.Images
	require.Len(t, images, 2)
	assert.Equal(t, "a.png", images[0].Name)
	assert.Equal(t, "c.png", images[1].Name)
}

func TestBeginSubmitWithValidationErrorsKeepsState(t *testing.T) {
	f := NewForm(fixedNow)
	f.Open()

	_, errs, err := f.BeginSubmit(func(models.Draft) models.FieldErrors {
		return models.FieldErrors{models.FieldCity: "required"}
	})
	require.NoError(t, err)
	assert.Equal(t, models.FieldErrors{models.FieldCity: "required"}, errs)
	assert.Equal(t, FormOpen, f.State())
	assert.Equal(t, "required", f.View().Errors[models.FieldCity])
}

func TestSubmitCycle(t *testing.T) {
	f := NewForm(fixedNow)
	f.Open()
	require.NoError(t, f.Update(map[string]string{models.FieldName: "Aram", models.FieldDate: "2026-04-20"}))

	draft, errs, err := f.BeginSubmit(noErrors)
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, "Aram", draft.Name)
	assert.Equal(t, FormSubmitting, f.State())

	_, _, err = f.BeginSubmit(noErrors)
	assert.ErrorIs(t, err, ErrSubmissionInProgress)
	assert.ErrorIs(t, f.Update(map[string]string{models.FieldName: "x"}), ErrSubmissionInProgress)
	assert.ErrorIs(t, f.Cancel(), ErrSubmissionInProgress)

	f.EndSubmit(false)
	assert.Equal(t, FormOpen, f.State())
	assert.Equal(t, "Aram", f.View().Draft.Name)

	_, _, err = f.BeginSubmit(noErrors)
	require.NoError(t, err)
	f.EndSubmit(true)

	v := f.View()
	assert.Equal(t, FormClosed, v.State)
	assert.Empty(t, v.Draft.Name)
	assert.Equal(t, "2026-05-01", v.Draft.Date)
}

func TestCloseDuringSubmitClosesAfterFailure(t *testing.T) {
	f := NewForm(fixedNow)
	f.Open()
	_, _, err := f.BeginSubmit(noErrors)
	require.NoError(t, err)

	f.Close()
	assert.Equal(t, FormSubmitting, f.State())

	f.EndSubmit(false)
	assert.Equal(t, FormClosed, f.State())
	assert.True(t, f.HasDraft())
}

func TestFilterToggleCity(t *testing.T) {
	f := NewFilter()
	f.ToggleCity("هەولێر")
	f.ToggleCity("دهۆک")
	f.ToggleCity(" هەولێر ")
	f.ToggleCity("")

	assert.Equal(t, []string{"دهۆک"}, f.Snapshot().Cities)

	f.SetCategory(models.CategoryMoney)
	assert.Equal(t, models.CategoryMoney, f.Snapshot().Category)
	f.SetCategory("")
	assert.Empty(t, f.Snapshot().Category)
}

func TestNoticesAreTakenOnce(t *testing.T) {
	s := New("s1", fixedNow)
	s.Notify(Notice{Kind: NoticeWarning, Message: "big file"})

	assert.Len(t, s.TakeNotices(), 1)
	assert.Empty(t, s.TakeNotices())
}
