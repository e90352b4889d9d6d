// Package e2e provides end-to-end testing infrastructure for media-gateway.
package e2e

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"media-gateway/config"
	"media-gateway/e2e/mocks"
	"media-gateway/internal/api"
	"media-gateway/internal/app"
)

// IndexPageMarker is written into the harness index page.
const IndexPageMarker = "Media Gateway E2E"

// TestHarness provides the infrastructure for running E2E tests.
type TestHarness struct {
	t          *testing.T
	ctx        context.Context
	cancel     context.CancelFunc
	mockServer *mocks.MockServer
	app        *app.App
	router     http.Handler
	config     *config.Config
	workDir    string
}

// NewTestHarness creates a new test harness with all dependencies initialized.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	return &TestHarness{
		t:       t,
		ctx:     ctx,
		cancel:  cancel,
		workDir: t.TempDir(),
	}
}

// Setup initializes all test dependencies.
func (h *TestHarness) Setup() error {
	// Start mock server for external APIs
	h.mockServer = mocks.NewMockServer()

	cfg, err := h.createTestConfig()
	if err != nil {
		return err
	}
	h.config = cfg

	h.app, err = app.NewFromConfig(h.ctx, h.config)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	handler := api.NewHandler(h.app, h.config)
	h.router = api.NewRouter(handler, h.config)

	return nil
}

// Teardown cleans up all test resources.
func (h *TestHarness) Teardown() {
	if h.cancel != nil {
		h.cancel()
	}
	if h.mockServer != nil {
		h.mockServer.Close()
	}
}

// Context returns the test context.
func (h *TestHarness) Context() context.Context {
	return h.ctx
}

// MockServer returns the mock server for configuring responses.
func (h *TestHarness) MockServer() *mocks.MockServer {
	return h.mockServer
}

// App returns the application instance.
func (h *TestHarness) App() *app.App {
	return h.app
}

// Router returns the HTTP router for making requests.
func (h *TestHarness) Router() http.Handler {
	return h.router
}

// Config returns the test configuration.
func (h *TestHarness) Config() *config.Config {
	return h.config
}

// UploadsDir returns the directory uploads are written to.
func (h *TestHarness) UploadsDir() string {
	return h.config.Storage.UploadsDir
}

// DoRequest performs an HTTP request and returns the response.
// headers are name/value pairs.
func (h *TestHarness) DoRequest(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// DecodeJSON decodes a response body into a generic map, failing the test on error.
func (h *TestHarness) DecodeJSON(w *httptest.ResponseRecorder) map[string]interface{} {
	h.t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		h.t.Fatalf("response is not JSON (%d): %s", w.Code, w.Body.String())
	}
	return out
}

func (h *TestHarness) createTestConfig() (*config.Config, error) {
	mockURL := h.mockServer.URL()

	indexPath := filepath.Join(h.workDir, "standalone.html")
	page := "<!doctype html><html><head><title>" + IndexPageMarker + "</title></head><body></body></html>"
	if err := os.WriteFile(indexPath, []byte(page), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write index page: %w", err)
	}

	privateKey, err := generatePrivateKey()
	if err != nil {
		return nil, err
	}

	// Override external service URLs to point to mock server
	cfg := config.NewTestConfig()
	cfg.ImageAPI.APIKey = "mock-api-key"
	cfg.ImageAPI.BaseURL = mockURL + mocks.TasksBasePath
	cfg.ImageAPI.ProviderBaseURL = mockURL + mocks.ProviderBasePath
	cfg.Google.PrivateKey = privateKey
	cfg.Google.TokenURL = mockURL + mocks.TokenPath
	cfg.Google.SheetsBaseURL = mockURL + mocks.SheetsBasePath
	cfg.Assist.BaseURL = mockURL
	cfg.HTTP.IndexPath = indexPath
	cfg.HTTP.UpstreamTimeoutSeconds = 10
	cfg.Storage.UploadsDir = filepath.Join(h.workDir, "uploads")

	return cfg, cfg.Validate()
}

func generatePrivateKey() (string, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", fmt.Errorf("failed to generate service account key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to encode service account key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}
