package services

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hacknation/dozin/internal/models"
	"github.com/hacknation/dozin/internal/session"
)

// MaxImageSize is the per-file ceiling accepted by the gate, in bytes.
const MaxImageSize int64 = 1 << 20

// GateResult is the outcome of screening one selection batch.
type GateResult struct {
	Accepted []models.StagedFile
	Rejected []models.StagedFile
	Warnings []session.Notice
}

// Staged reports whether the batch changed the staged image set.
func (r GateResult) Staged() bool {
	return len(r.Accepted) > 0 || len(r.Rejected) > 0
}

// ImageGate screens user-selected images before they are staged.
type ImageGate struct {
	MaxSize int64
}

// NewImageGate returns a gate with the standard ceiling.
func NewImageGate() ImageGate {
	return ImageGate{MaxSize: MaxImageSize}
}

// Screen partitions files by size. A file exactly at the ceiling is accepted.
func (g ImageGate) Screen(files []models.StagedFile) GateResult {
	limit := g.MaxSize
	if limit <= 0 {
		limit = MaxImageSize
	}

	var res GateResult
	for _, f := range files {
		if f.Size > limit {
			res.Rejected = append(res.Rejected, f)
			res.Warnings = append(res.Warnings, session.Notice{
				Kind:    session.NoticeWarning,
				Message: OversizedMessage(f.Name),
			})
			continue
		}
		res.Accepted = append(res.Accepted, f)
	}
	return res
}

// Stage screens files and applies the result to the form: the accepted
// subset replaces the staged set; when every file is rejected the staged set
// is cleared; an empty batch leaves the form untouched.
func (g ImageGate) Stage(form *session.Form, files []models.StagedFile) (GateResult, error) {
	res := g.Screen(files)
	if !res.Staged() {
		return res, nil
	}

	if err := form.SetImages(res.Accepted); err != nil {
		return res, err
	}

	if len(res.Rejected) > 0 {
		log.Debug().
			Int("accepted", len(res.Accepted)).
			Int("rejected", len(res.Rejected)).
			Msg("Oversized images rejected")
	}
	return res, nil
}

// OversizedMessage is the warning shown for a file over the ceiling.
func OversizedMessage(name string) string {
	return fmt.Sprintf("فایل \"%s\" گەورەیە لە ۱ مەگابایت. تکایە فایلی کەمتر دیاری بکە.", name)
}
