package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hacknation/dozin/internal/models"
)

// ErrInvalidTransition is returned for mode changes the state machine forbids.
var ErrInvalidTransition = errors.New("invalid mode transition")

// Mode is the top-level UI mode.
type Mode int

const (
	ModeUnselected Mode = iota
	ModeFound
	ModeLost
)

func (m Mode) String() string {
	switch m {
	case ModeFound:
		return "found"
	case ModeLost:
		return "lost"
	default:
		return "unselected"
	}
}

// ParseMode parses "found" or "lost".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "found":
		return ModeFound, nil
	case "lost":
		return ModeLost, nil
	}
	return ModeUnselected, fmt.Errorf("unknown mode %q", s)
}

// NoticeKind classifies a user notice.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeFailure NoticeKind = "failure"
	NoticeWarning NoticeKind = "warning"
)

// Notice is a one-shot message shown to the user.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Session is the state of one browser: its mode, its authoring form,
// its search filter and pending notices.
type Session struct {
	ID string

	mu       sync.Mutex
	mode     Mode
	notices  []Notice
	lastSeen time.Time

	form   *Form
	filter *Filter
}

// New creates a session in the unselected mode.
func New(id string, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{
		ID:       id,
		lastSeen: now(),
		form:     NewForm(now),
		filter:   NewFilter(),
	}
}

// Mode returns the current mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SelectMode switches to found or lost mode. Switching closes the
// authoring form but keeps its draft. Returning to unselected is rejected.
func (s *Session) SelectMode(m Mode) error {
	if m != ModeFound && m != ModeLost {
		return fmt.Errorf("%w: to %s", ErrInvalidTransition, m)
	}

	s.mu.Lock()
	changed := s.mode != m
	s.mode = m
	s.mu.Unlock()

	if changed {
		s.form.Close()
	}
	return nil
}

// Form returns the authoring form.
func (s *Session) Form() *Form {
	return s.form
}

// Filter returns the search filter.
func (s *Session) Filter() *Filter {
	return s.filter
}

// Notify queues notices for the next render.
func (s *Session) Notify(notices ...Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, notices...)
}

// TakeNotices returns and clears the queued notices.
func (s *Session) TakeNotices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.notices
	s.notices = nil
	return n
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Filter holds the lost-mode search criteria.
type Filter struct {
	mu       sync.Mutex
	category string
	cities   []string
}

// NewFilter returns an unrestricted filter.
func NewFilter() *Filter {
	return &Filter{}
}

// SetCategory selects a category; the empty string clears it.
func (f *Filter) SetCategory(category string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.category = category
}

// ToggleCity adds city to the selection, or removes it if already selected.
func (f *Filter) ToggleCity(city string) {
	city = models.NormalizeCity(city)
	if city == "" {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.cities {
		if c == city {
			f.cities = append(f.cities[:i:i], f.cities[i+1:]...)
			return
		}
	}
	f.cities = append(f.cities, city)
}

// Snapshot returns a copy of the current criteria.
func (f *Filter) Snapshot() models.SearchFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.SearchFilter{
		Category: f.category,
		Cities:   append([]string(nil), f.cities...),
	}
}
