package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"media-gateway/config"
	"media-gateway/internal/app"
	"media-gateway/internal/storage"
	"media-gateway/observability"
	"media-gateway/services"

	"github.com/go-chi/chi/v5"
)

// Handler handles HTTP API requests
type Handler struct {
	app *app.App
	cfg *config.Config
}

// NewHandler creates a new Handler
func NewHandler(application *app.App, cfg *config.Config) *Handler {
	return &Handler{app: application, cfg: cfg}
}

// HandleIndex serves the front-end page from disk
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := os.ReadFile(h.cfg.HTTP.IndexPath)
	if err != nil {
		observability.WithContext(r.Context()).Error("failed to read index page", "path", h.cfg.HTTP.IndexPath, "error", err)
		h.jsonError(w, "index page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// HandleFavicon answers favicon probes with no content
func (h *Handler) HandleFavicon(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth returns the health status of the application
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.app.Health())
}

// HandleServeUpload streams a previously uploaded file
func (h *Handler) HandleServeUpload(w http.ResponseWriter, r *http.Request) {
	metrics := observability.GetMetrics()

	name, err := uploadName(r)
	if err != nil {
		metrics.RecordUploadServe("rejected")
		h.jsonError(w, "file not found", http.StatusNotFound)
		return
	}

	file, info, err := h.app.OpenUpload(name)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidFilename):
			metrics.RecordUploadServe("rejected")
			h.jsonError(w, "file not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrNotFound):
			metrics.RecordUploadServe("not_found")
			h.jsonError(w, "file not found", http.StatusNotFound)
		default:
			metrics.RecordUploadServe("error")
			h.handleError(w, r, err)
		}
		return
	}
	defer file.Close()

	metrics.RecordUploadServe("success")
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

// uploadName returns the decoded filename route parameter. chi matches on
// RawPath when the request carries one, leaving the parameter escaped.
func uploadName(r *http.Request) (string, error) {
	name := chi.URLParam(r, "filename")
	if r.URL.RawPath == "" {
		return name, nil
	}
	return url.PathUnescape(name)
}

// HandleCreateTask returns a handler that forwards a task creation body to provider
func (h *Handler) HandleCreateTask(provider services.TaskProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.HTTP.MaxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			if h.tooLarge(w, err) {
				return
			}
			h.handleError(w, r, fmt.Errorf("%w: %v", services.ErrInvalidPayload, err))
			return
		}
		relayed, err := h.app.CreateTask(r.Context(), provider, body)
		h.relay(w, r, relayed, err)
	}
}

// HandleQueryTask returns a handler that polls provider for the taskId query parameter
func (h *Handler) HandleQueryTask(provider services.TaskProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		relayed, err := h.app.QueryTask(r.Context(), provider, r.URL.Query().Get("taskId"))
		h.relay(w, r, relayed, err)
	}
}

// HandleGoogleAuth mints a service account assertion and relays the token response
func (h *Handler) HandleGoogleAuth(w http.ResponseWriter, r *http.Request) {
	relayed, err := h.app.GoogleToken(r.Context())
	h.relay(w, r, relayed, err)
}

// HandleSheetsRead relays a values read with the caller's credentials
func (h *Handler) HandleSheetsRead(w http.ResponseWriter, r *http.Request) {
	relayed, err := h.app.ReadSheet(r.Context(), r.Header.Get("Authorization"), r.URL.Query().Get("range"))
	h.relay(w, r, relayed, err)
}

// SheetsAppendRequest is the /api/sheets/append request body
type SheetsAppendRequest struct {
	Values json.RawMessage `json:"values"`
	Sheet  string          `json:"sheet"`
}

// HandleSheetsAppend relays a values append with the caller's credentials
func (h *Handler) HandleSheetsAppend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.HTTP.MaxBodyBytes)

	var req SheetsAppendRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Values) == 0 || string(req.Values) == "null" {
		h.jsonError(w, "values is required", http.StatusBadRequest)
		return
	}

	relayed, err := h.app.AppendSheet(r.Context(), r.Header.Get("Authorization"), req.Sheet, req.Values)
	h.relay(w, r, relayed, err)
}

// EnhancePromptRequest is the /api/enhance-prompt request body
type EnhancePromptRequest struct {
	Prompt       string `json:"prompt"`
	HasReference bool   `json:"hasReference"`
}

// HandleEnhancePrompt rewrites an image prompt
func (h *Handler) HandleEnhancePrompt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.HTTP.MaxBodyBytes)

	var req EnhancePromptRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		h.jsonError(w, "prompt is required", http.StatusBadRequest)
		return
	}

	enhanced, err := h.app.EnhancePrompt(r.Context(), req.Prompt, req.HasReference)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonResponse(w, map[string]string{"enhanced": enhanced})
}

// VideoPromptRequest is the /api/generate-video-prompt request body
type VideoPromptRequest struct {
	Prompt string `json:"prompt"`
}

// HandleVideoPrompt converts an image prompt into an animation prompt
func (h *Handler) HandleVideoPrompt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.HTTP.MaxBodyBytes)

	var req VideoPromptRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		h.jsonError(w, "prompt is required", http.StatusBadRequest)
		return
	}

	videoPrompt, err := h.app.VideoPrompt(r.Context(), req.Prompt)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonResponse(w, map[string]string{"videoPrompt": videoPrompt})
}

// DescribeImageRequest is the /api/describe-image request body
type DescribeImageRequest struct {
	ImageData string `json:"imageData"`
}

// HandleDescribeImage describes a base64 encoded image
func (h *Handler) HandleDescribeImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.HTTP.MaxBodyBytes)

	var req DescribeImageRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.ImageData == "" {
		h.jsonError(w, "imageData is required", http.StatusBadRequest)
		return
	}

	description, err := h.app.DescribeImage(r.Context(), req.ImageData)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonResponse(w, map[string]string{"description": description})
}

// UploadRequest is the /api/video/upload request body
type UploadRequest struct {
	Filename string `json:"filename"`
	FileData string `json:"fileData"`
}

// UploadResponse is the /api/video/upload response body
type UploadResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
	URL      string `json:"url"`
}

// HandleUpload stores a base64 encoded file in the uploads directory
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Storage.MaxUploadBytes)

	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if h.tooLarge(w, err) {
			observability.GetMetrics().RecordUpload("too_large", 0)
			return
		}
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	stored, err := h.app.SaveUpload(req.Filename, req.FileData)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.jsonResponse(w, UploadResponse{
		Success:  true,
		Filename: stored.Name,
		Path:     stored.Path,
		URL:      stored.URL,
	})
}

// decodeJSON decodes the request body into v, writing a 400 or 413 on failure
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if h.tooLarge(w, err) {
			return false
		}
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// tooLarge answers 413 when err came from an http.MaxBytesReader
func (h *Handler) tooLarge(w http.ResponseWriter, err error) bool {
	var maxErr *http.MaxBytesError
	if !errors.As(err, &maxErr) {
		return false
	}
	h.jsonError(w, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), http.StatusRequestEntityTooLarge)
	return true
}

// relay writes an upstream JSON body verbatim with status 200
func (h *Handler) relay(w http.ResponseWriter, r *http.Request, relayed *services.Relayed, err error) {
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(relayed.Body)
}

// statusFor maps an application error to an HTTP status
func statusFor(err error) int {
	var upErr *services.UpstreamError
	switch {
	case errors.Is(err, services.ErrInvalidPayload),
		errors.Is(err, storage.ErrInvalidFilename),
		errors.Is(err, storage.ErrInvalidData):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrInvalidPrivateKey):
		return http.StatusInternalServerError
	case errors.As(err, &upErr),
		errors.Is(err, services.ErrInvalidJSON),
		errors.Is(err, services.ErrUnexpectedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := observability.WithContext(r.Context()).With("path", r.URL.Path, "status", status)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Warn("request rejected", "error", err)
	}
	h.jsonError(w, err.Error(), status)
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
