package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/dozin/internal/config"
	"github.com/hacknation/dozin/internal/handlers"
	"github.com/hacknation/dozin/internal/metrics"
	"github.com/hacknation/dozin/internal/services"
	"github.com/hacknation/dozin/internal/session"
	"github.com/hacknation/dozin/internal/storage"
)

const blobsPrefix = "/blobs/"

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.ConfigureLogger("info", "console", os.Stderr)
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	config.ConfigureLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	log.Info().
		Str("host", cfg.Host).
		Str("port", cfg.Port).
		Str("store", cfg.StoreDriver).
		Str("blobs", cfg.BlobDriver).
		Msg("Starting dozin")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, closeStore, err := storage.OpenListingStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize listing storage")
	}
	log.Info().Msg("Listing storage initialized successfully")

	blobs, err := storage.OpenBlobStore(cfg, cfg.BaseURL()+"/blobs")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob storage")
	}
	log.Info().Msg("Blob storage initialized successfully")

	checks := map[string]handlers.HealthChecker{
		"store": store,
		"blobs": blobs,
	}

	var events services.EventPublisher
	var publisher *services.RabbitMQPublisher
	if cfg.RabbitMQURL != "" {
		log.Info().Msg("Initializing RabbitMQ publisher...")
		publisher, err = services.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize RabbitMQ publisher")
		}
		events = publisher
		checks["rabbitmq"] = publisher
		log.Info().Msg("RabbitMQ publisher initialized successfully")
	} else {
		log.Warn().Msg("RABBITMQ_URL not set - listing events will not be published")
	}

	m := metrics.New("dozin")

	pipeline := services.NewPipeline(services.NewUploader(blobs, nil), store, events).WithMetrics(m)

	listings := services.NewLiveView(store)
	if err := listings.Activate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to listings")
	}

	sessions := session.NewRegistry(cfg.SessionTTL, nil)
	go sessions.Run(ctx, time.Minute)
	m.RegisterGauge("dozin_sessions", "Live browser sessions.", func() float64 { return float64(sessions.Len()) })

	log.Info().Msg("Initializing HTTP handlers...")
	handler, err := handlers.NewHandler(cfg.TemplatesPath, sessions, pipeline, store, listings, checks)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize handlers")
	}
	handler.WithMetrics(m).WithStreamContext(ctx)

	var blobHandler http.Handler
	if h, ok := blobs.(http.Handler); ok {
		blobHandler = h
	}
	router := setupRouter(handler, m, cfg.StaticPath, blobHandler)

	// WriteTimeout is lifted per request by the event stream handlers
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("address", srv.Addr).
			Msg("Server starting...")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	log.Info().Msgf("Open %s in your browser", cfg.BaseURL())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// ends open event streams so Shutdown does not wait on them;
	// submissions in flight are detached from ctx and drain below
	stop()
	listings.Deactivate()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close RabbitMQ publisher")
		}
	}
	if err := closeStore(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to close listing storage")
	}

	log.Info().Msg("Server exited gracefully")
}

// setupRouter configures all routes and middleware
func setupRouter(h *handlers.Handler, m *metrics.Metrics, staticPath string, blobs http.Handler) *mux.Router {
	r := mux.NewRouter()

	r.Use(loggingMiddleware(m))
	r.Use(recoveryMiddleware)

	r.Handle("/metrics", m.Handler()).Methods("GET")

	if _, err := os.Stat(staticPath); err == nil {
		fs := http.FileServer(http.Dir(staticPath))
		r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", fs))
		log.Info().Str("path", staticPath).Msg("Serving static files")
	}

	if blobs != nil {
		r.PathPrefix(blobsPrefix).Handler(http.StripPrefix(blobsPrefix, blobs)).Methods("GET")
		log.Info().Str("prefix", blobsPrefix).Msg("Serving in-memory images")
	}

	h.Register(r)

	log.Info().Msg("Routes configured successfully")
	return r
}

// loggingMiddleware logs all HTTP requests and records their latency per route
func loggingMiddleware(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tmpl, err := cur.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			m.ObserveRequest(r.Method, route, wrapped.statusCode, time.Since(start))

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration_ms", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach Flush and SetWriteDeadline
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
