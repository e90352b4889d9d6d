package api

import (
	"net/http"
	"time"

	"media-gateway/config"
	"media-gateway/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// NewRouter creates and configures a Chi router with all routes
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Duration(cfg.HTTP.RequestTimeoutSeconds) * time.Second))
	r.Use(CORSMiddleware(cfg.HTTP.CORSAllowedOrigins))
	r.Use(MetricsMiddleware)
	r.Use(LoggingMiddleware)

	// Root routes
	r.Get("/", h.HandleIndex)
	r.Get("/index.html", h.HandleIndex)
	r.Get("/favicon.ico", h.HandleFavicon)
	r.Get("/uploads/{filename}", h.HandleServeUpload)

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealth)

		// Image/video tasks
		r.Post("/create-task", h.HandleCreateTask(services.TaskProviderDefault))
		r.Get("/query-task", h.HandleQueryTask(services.TaskProviderDefault))
		r.Post("/gpt4o-create", h.HandleCreateTask(services.TaskProviderGPT4o))
		r.Get("/gpt4o-query", h.HandleQueryTask(services.TaskProviderGPT4o))
		r.Post("/flux-kontext-create", h.HandleCreateTask(services.TaskProviderFluxKontext))
		r.Get("/flux-kontext-query", h.HandleQueryTask(services.TaskProviderFluxKontext))

		// Google
		r.Post("/google-auth", h.HandleGoogleAuth)
		r.Route("/sheets", func(r chi.Router) {
			r.Get("/read", h.HandleSheetsRead)
			r.Post("/append", h.HandleSheetsAppend)
		})

		// AI assist
		r.Post("/enhance-prompt", h.HandleEnhancePrompt)
		r.Post("/generate-video-prompt", h.HandleVideoPrompt)
		r.Post("/describe-image", h.HandleDescribeImage)

		// Uploads
		r.Post("/video/upload", h.HandleUpload)
	})

	return r
}

// CORSMiddleware returns CORS middleware with the specified allowed origins
func CORSMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}).Handler
}
