package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/dozin/internal/models"
	"github.com/hacknation/dozin/internal/services"
	"github.com/hacknation/dozin/internal/session"
)

const streamKeepAlive = 25 * time.Second

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// filterFromQuery reads ?category=&city=&city= into a filter
func filterFromQuery(r *http.Request) models.SearchFilter {
	q := r.URL.Query()
	f := models.SearchFilter{Category: q.Get("category")}
	for _, c := range q["city"] {
		if c = models.NormalizeCity(c); c != "" && !f.HasCity(c) {
			f.Cities = append(f.Cities, c)
		}
	}
	return f
}

// CatalogHandler returns the selectable categories and cities
func (h *Handler) CatalogHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"categories": models.Categories,
		"cities":     models.Cities,
	})
}

// ListListingsHandler returns the current listings matching the query filter
func (h *Handler) ListListingsHandler(w http.ResponseWriter, r *http.Request) {
	listings := services.FilterListings(h.listings.Listings(), filterFromQuery(r))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"listings": listings,
		"count":    len(listings),
	})
}

// GetListingHandler returns one listing by id
func (h *Handler) GetListingHandler(w http.ResponseWriter, r *http.Request) {
	l, ok := h.listings.Get(mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "listing not found"})
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// CreateListingHandler runs a one-shot multipart submission through the gate and the pipeline
func (h *Handler) CreateListingHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to parse form"})
		return
	}

	form := session.NewForm(nil)
	form.Open()
	if err := form.Update(draftFields(r)); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	files, err := readStagedFiles(r.MultipartForm.File["images"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	gated, err := h.gate.Stage(form, files)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.metrics.ObserveRejectedImages(len(gated.Rejected))
	warnings := gated.Warnings
	if warnings == nil {
		warnings = []session.Notice{}
	}

	ctx, cancel := h.submitContext(r)
	defer cancel()

	res, err := h.pipeline.Submit(ctx, form)
	if err != nil {
		var uploadErr *services.UploadError
		code := "persist"
		if errors.As(err, &uploadErr) {
			code = string(uploadErr.Code)
		}
		log.Error().Err(err).Msg("Failed to create listing")
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"message":  res.Notice.Message,
			"code":     code,
			"warnings": warnings,
		})
		return
	}

	if len(res.Errors) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"errors":   res.Errors,
			"warnings": warnings,
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"listing":  res.Listing,
		"message":  res.Notice.Message,
		"warnings": warnings,
	})
}

// StreamListingsHandler streams filtered JSON snapshots as server-sent events
func (h *Handler) StreamListingsHandler(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)
	h.stream(w, r, func() models.SearchFilter { return filter }, func(listings []models.Listing) ([]byte, error) {
		return json.Marshal(listings)
	})
}

// ListingEventsHandler streams the session-filtered listing grid as HTML fragments
func (h *Handler) ListingEventsHandler(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	tmpl := h.templates["lost.html"]

	h.stream(w, r, s.Filter().Snapshot, func(listings []models.Listing) ([]byte, error) {
		var buf bytes.Buffer
		err := tmpl.ExecuteTemplate(&buf, "listings-grid", map[string]interface{}{
			"Listings": listings,
			"Ready":    true,
		})
		return buf.Bytes(), err
	})
}

// stream holds a per-connection live view and writes one "listings" event
// per snapshot until the client goes away
func (h *Handler) stream(
	w http.ResponseWriter,
	r *http.Request,
	filter func() models.SearchFilter,
	encode func([]models.Listing) ([]byte, error),
) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stopAfter := context.AfterFunc(h.streams, cancel)
	defer stopAfter()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Debug().Err(err).Msg("Write deadline not adjustable for stream")
	}

	view := services.NewLiveView(h.store)
	if err := view.Activate(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to subscribe to listings")
		http.Error(w, "Listings unavailable", http.StatusServiceUnavailable)
		return
	}
	defer view.Deactivate()
	defer h.metrics.StreamOpened()()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Error().Err(err).Msg("Streaming unsupported")
		return
	}

	if err := view.WaitReady(ctx); err != nil {
		return
	}

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		changed := view.Changed()

		payload, err := encode(services.FilterListings(view.Listings(), filter()))
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode listings event")
			return
		}
		if err := writeEvent(w, "listings", payload); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				break wait
			case <-keepAlive.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			}
		}
	}
}

// writeEvent writes one SSE event; multi-line payloads become several data lines
func writeEvent(w http.ResponseWriter, event string, payload []byte) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteByte('\n')
	for _, line := range strings.Split(string(payload), "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimRight(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := w.Write([]byte(b.String()))
	return err
}

// HealthCheckHandler returns health status
func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "healthy"
	checks := make(map[string]string, len(h.checks)+1)

	for name, checker := range h.checks {
		if err := checker.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	if h.listings.Ready() {
		checks["live_view"] = "ok"
	} else {
		status = "unhealthy"
		checks["live_view"] = "no current snapshot"
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}
