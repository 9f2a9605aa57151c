package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/dozin/internal/metrics"
	"github.com/hacknation/dozin/internal/models"
	"github.com/hacknation/dozin/internal/services"
	"github.com/hacknation/dozin/internal/session"
)

// SessionCookie names the cookie carrying the browser session id
const SessionCookie = "dozin_session"

const (
	maxRequestBytes = 64 << 20
	maxMemoryBytes  = 32 << 20

	// a submission outlives its request and is bounded by this instead
	defaultSubmitTimeout = 2 * time.Minute
)

// HealthChecker is implemented by every backend reported on /health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains all HTTP handlers
type Handler struct {
	templates map[string]*template.Template // page name -> template set
	sessions  *session.Registry
	gate      services.ImageGate
	pipeline  *services.Pipeline
	store     services.DocumentStore
	listings  *services.LiveView // server-lifetime mirror of the store
	checks    map[string]HealthChecker
	metrics   *metrics.Metrics

	submitTimeout time.Duration
	streams       context.Context // ends every open event stream when done
}

// NewHandler parses the templates and wires the handler dependencies
func NewHandler(
	templatesPath string,
	sessions *session.Registry,
	pipeline *services.Pipeline,
	store services.DocumentStore,
	listings *services.LiveView,
	checks map[string]HealthChecker,
) (*Handler, error) {
	funcMap := template.FuncMap{
		"categoryLabel": models.CategoryLabel,
		"kb": func(size int64) string {
			return fmt.Sprintf("%.0f KB", float64(size)/1024)
		},
	}

	baseTmpl, err := template.New("base.html").Funcs(funcMap).ParseFiles(
		filepath.Join(templatesPath, "base.html"),
		filepath.Join(templatesPath, "partials.html"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base template: %w", err)
	}

	pages := []string{"index.html", "found.html", "lost.html"}
	templates := make(map[string]*template.Template)

	for _, page := range pages {
		tmpl, err := baseTmpl.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to clone base template for %s: %w", page, err)
		}
		if _, err := tmpl.ParseFiles(filepath.Join(templatesPath, page)); err != nil {
			return nil, fmt.Errorf("failed to parse page template %s: %w", page, err)
		}
		templates[page] = tmpl
	}

	return &Handler{
		templates: templates,
		sessions:  sessions,
		gate:      services.NewImageGate(),
		pipeline:  pipeline,
		store:     store,
		listings:  listings,
		checks:    checks,

		submitTimeout: defaultSubmitTimeout,
		streams:       context.Background(),
	}, nil
}

// WithMetrics records gate rejections and open streams on m
func (h *Handler) WithMetrics(m *metrics.Metrics) *Handler {
	h.metrics = m
	return h
}

// WithStreamContext closes every open event stream once ctx is done.
// Other requests are left to drain.
func (h *Handler) WithStreamContext(ctx context.Context) *Handler {
	h.streams = ctx
	return h
}

// WithSubmitTimeout bounds how long one submission may run
func (h *Handler) WithSubmitTimeout(d time.Duration) *Handler {
	h.submitTimeout = d
	return h
}

// submitContext detaches a submission from its request. Once uploads begin
// they run to completion or failure even if the client goes away.
func (h *Handler) submitContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), h.submitTimeout)
}

// Register mounts every route on r
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/", h.IndexHandler).Methods("GET")
	r.HandleFunc("/mode/{mode}", h.SelectModeHandler).Methods("POST")

	r.HandleFunc("/found", h.FoundHandler).Methods("GET")
	r.HandleFunc("/found/form/open", h.OpenFormHandler).Methods("POST")
	r.HandleFunc("/found/form/cancel", h.CancelFormHandler).Methods("POST")
	r.HandleFunc("/found/images", h.StageImagesHandler).Methods("POST")
	r.HandleFunc("/found/images/{index:[0-9]+}/remove", h.RemoveImageHandler).Methods("POST")
	r.HandleFunc("/found/submit", h.SubmitHandler).Methods("POST")

	r.HandleFunc("/lost", h.LostHandler).Methods("GET")
	r.HandleFunc("/lost/category", h.SetCategoryHandler).Methods("POST")
	r.HandleFunc("/lost/cities/toggle", h.ToggleCityHandler).Methods("POST")
	r.HandleFunc("/lost/listings", h.LostListingsHandler).Methods("GET")

	r.HandleFunc("/listings/events", h.ListingEventsHandler).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/catalog", h.CatalogHandler).Methods("GET")
	api.HandleFunc("/listings", h.ListListingsHandler).Methods("GET")
	api.HandleFunc("/listings", h.CreateListingHandler).Methods("POST")
	api.HandleFunc("/listings/stream", h.StreamListingsHandler).Methods("GET")
	api.HandleFunc("/listings/{id}", h.GetListingHandler).Methods("GET")
	api.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")
}

// session returns the caller's session, starting a new one when the cookie is missing or stale
func (h *Handler) session(w http.ResponseWriter, r *http.Request) *session.Session {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if s, err := h.sessions.Get(c.Value); err == nil {
			return s
		}
	}

	s := h.sessions.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	log.Debug().Str("session_id", s.ID).Msg("Session started")
	return s
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// render executes name from the page's template set
func (h *Handler) render(w http.ResponseWriter, page, name string, data map[string]interface{}) {
	tmpl, ok := h.templates[page]
	if !ok {
		log.Error().Msgf("Template %s not found", page)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		log.Error().Err(err).Str("page", page).Str("template", name).Msg("Failed to render template")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// redirect sends the browser to target, through HX-Redirect for HTMX requests
func redirect(w http.ResponseWriter, r *http.Request, target string) {
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) pageData(s *session.Session, title string) map[string]interface{} {
	filter := s.Filter().Snapshot()
	return map[string]interface{}{
		"Title":      title,
		"Mode":       s.Mode().String(),
		"Form":       s.Form().View(),
		"Filter":     filter,
		"Listings":   services.FilterListings(h.listings.Listings(), filter),
		"Ready":      h.listings.Ready(),
		"Categories": models.Categories,
		"Cities":     models.Cities,
		"Notices":    s.TakeNotices(),
	}
}

// IndexHandler shows the mode picker, or the page of the mode already chosen
func (h *Handler) IndexHandler(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	switch s.Mode() {
	case session.ModeFound:
		redirect(w, r, "/found")
		return
	case session.ModeLost:
		redirect(w, r, "/lost")
		return
	}

	h.render(w, "index.html", "base.html", h.pageData(s, "دۆزینەوە"))
}

// SelectModeHandler switches between found and lost mode
func (h *Handler) SelectModeHandler(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)

	mode, err := session.ParseMode(mux.Vars(r)["mode"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.SelectMode(mode); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	redirect(w, r, "/"+mode.String())
}

// FoundHandler shows the found-item page
func (h *Handler) FoundHandler(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if err := s.SelectMode(session.ModeFound); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	data := h.pageData(s, "شتێکم دۆزیوەتەوە")
	if isHTMX(r) {
		h.render(w, "found.html", "found-panel", data)
		return
	}
	h.render(w, "found.html", "base.html", data)
}

func (h *Handler) renderPanel(w http.ResponseWriter, s *session.Session) {
	h.render(w, "found.html", "found-panel", h.pageData(s, ""))
}

// OpenFormHandler opens the authoring form
func (h *Handler) OpenFormHandler(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	s.Form().Open()
	h.panelOrRedirect(w, r, s)
}

// CancelFormHandler closes the form and discards the draft
func (h *Handler) CancelFormHandler(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if err := s.Form().Cancel(); err != nil {
		log.Debug().Err(err).Msg("Cancel rejected")
	}
	h.panelOrRedirect(w, r, s)
}

func (h *Handler) panelOrRedirect(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if isHTMX(r) {
		h.renderPanel(w, s)
		return
	}
	redirect(w, r, "/found")
}

// StageImagesHandler runs a file selection through the image gate
func (h *Handler) StageImagesHandler(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		log.Error().Err(err).Msg("Failed to parse form")
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	// keep whatever the user typed so far
	if err := s.Form().Update(draftFields(r)); err != nil && !errors.Is(err, session.ErrFormClosed) {
		log.Debug().Err(err).Msg("Draft update skipped")
	}

	files, err := readStagedFiles(r.MultipartForm.File["images"])
	if err != nil {
		log.Error().Err(err).Msg("Failed to read uploaded files")
		http.Error(w, "Failed to read files", http.StatusBadRequest)
		return
	}

	res, err := h.gate.Stage(s.Form(), files)
	if err != nil {
		log.Debug().Err(err).Msg("Images not staged")
	}
	h.metrics.ObserveRejectedImages(len(res.Rejected))
	s.Notify(res.Warnings...)

	h.panelOrRedirect(w, r, s)
}

// RemoveImageHandler drops one staged image
func (h *Handler) RemoveImageHandler(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)

	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		http.Error(w, "Invalid image index", http.StatusBadRequest)
		return
	}
	if err := s.Form().RemoveImage(index); err != nil {
		log.Debug().Err(err).Int("index", index).Msg("Image not removed")
	}

	h.panelOrRedirect(w, r, s)
}

// SubmitHandler publishes the session draft
func (h *Handler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	if err := s.Form().Update(draftFields(r)); err != nil {
		if !errors.Is(err, session.ErrSubmissionInProgress) {
			h.panelOrRedirect(w, r, s)
			return
		}
	}

	ctx, cancel := h.submitContext(r)
	defer cancel()

	res, err := h.pipeline.Submit(ctx, s.Form())
	switch {
	case errors.Is(err, session.ErrSubmissionInProgress), errors.Is(err, session.ErrFormClosed):
		log.Debug().Err(err).Msg("Submit ignored")
	case err != nil:
		log.Error().Err(err).Msg("Failed to create listing")
		s.Notify(res.Notice)
	case res.Listing != nil:
		s.Notify(res.Notice)
	}

	h.panelOrRedirect(w, r, s)
}

// LostHandler shows the search page
func (h *Handler) LostHandler(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if err := s.SelectMode(session.ModeLost); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	data := h.pageData(s, "شتێکم ونکردووە")
	if isHTMX(r) {
		h.render(w, "lost.html", "lost-results", data)
		return
	}
	h.render(w, "lost.html", "base.html", data)
}

// SetCategoryHandler selects or clears the category filter
func (h *Handler) SetCategoryHandler(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	s.Filter().SetCategory(r.FormValue("category"))
	h.resultsOrRedirect(w, r, s)
}

// ToggleCityHandler adds or removes one city from the filter
func (h *Handler) ToggleCityHandler(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	s.Filter().ToggleCity(r.FormValue("city"))
	h.resultsOrRedirect(w, r, s)
}

// LostListingsHandler renders the filtered listing grid
func (h *Handler) LostListingsHandler(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	h.render(w, "lost.html", "lost-results", h.pageData(s, ""))
}

func (h *Handler) resultsOrRedirect(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if isHTMX(r) {
		h.render(w, "lost.html", "lost-results", h.pageData(s, ""))
		return
	}
	redirect(w, r, "/lost")
}

// draftFields collects the draft text fields present in the request form
func draftFields(r *http.Request) map[string]string {
	fields := make(map[string]string)
	for _, key := range []string{
		models.FieldCategory, models.FieldCity, models.FieldDescription,
		models.FieldPhone, models.FieldName, models.FieldDate,
	} {
		if values, ok := r.Form[key]; ok && len(values) > 0 {
			fields[key] = values[0]
		}
	}
	return fields
}

// readStagedFiles loads selected files into memory. Files over the image
// ceiling are not read; the gate rejects them by their declared size.
func readStagedFiles(headers []*multipart.FileHeader) ([]models.StagedFile, error) {
	files := make([]models.StagedFile, 0, len(headers))
	for _, fh := range headers {
		sf := models.StagedFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
		}

		if fh.Size <= services.MaxImageSize {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
			}
			data, err := io.ReadAll(io.LimitReader(f, services.MaxImageSize+1))
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
			}
			sf.Data = data
			sf.Size = int64(len(data))
			if sf.ContentType == "" || sf.ContentType == "application/octet-stream" {
				sf.ContentType = http.DetectContentType(data)
			}
		}

		files = append(files, sf)
	}
	return files, nil
}
