// Package mocks provides an HTTP mock of every third-party API the gateway calls.
package mocks

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2/jws"
)

// Upstream names used for failure injection and request log filtering.
const (
	UpstreamTasks  = "tasks"
	UpstreamToken  = "token"
	UpstreamSheets = "sheets"
	UpstreamAssist = "assist"
)

// Paths the gateway should be configured with, relative to URL().
const (
	TasksBasePath    = "/api/v1/jobs"
	ProviderBasePath = "/api/v1"
	TokenPath        = "/token"
	SheetsBasePath   = "/v4"
	AssistBasePath   = "/v1"
)

// MockServer provides configurable mock responses for all external APIs.
type MockServer struct {
	mu     sync.RWMutex
	server *httptest.Server

	// Response configurations
	apiKey      string
	taskCounter int
	taskRecord  TaskRecord
	accessToken string
	sheetRows   map[string][][]string
	assistText  string

	// Error injection
	failures map[string]FailureResponse

	// Request tracking for assertions
	requestLog []RequestLog
}

// RequestLog records incoming requests for test assertions.
type RequestLog struct {
	Upstream      string
	Method        string
	Path          string
	Query         string
	Authorization string
	APIKey        string
	Body          string
}

// NewMockHandler creates a mock with default responses that is not yet listening.
func NewMockHandler() *MockServer {
	m := &MockServer{
		sheetRows:  make(map[string][][]string),
		failures:   make(map[string]FailureResponse),
		requestLog: make([]RequestLog, 0),
	}
	m.setDefaults()
	return m
}

// NewMockServer creates a new mock server with default responses.
func NewMockServer() *MockServer {
	m := NewMockHandler()
	m.server = httptest.NewServer(m)
	return m
}

// URL returns the mock server's base URL.
func (m *MockServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	if m.server != nil {
		m.server.Close()
	}
}

// ServeHTTP implements http.Handler to route requests to appropriate mock handlers.
func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := r.URL.Path
	upstream := classify(path)

	m.mu.Lock()
	m.requestLog = append(m.requestLog, RequestLog{
		Upstream:      upstream,
		Method:        r.Method,
		Path:          path,
		Query:         r.URL.RawQuery,
		Authorization: r.Header.Get("Authorization"),
		APIKey:        r.Header.Get("x-api-key"),
		Body:          string(body),
	})
	failure, failing := m.failures[upstream]
	m.mu.Unlock()

	if failing {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(failure.Status)
		io.WriteString(w, failure.Body)
		return
	}

	switch {
	case upstream == UpstreamTasks && r.Method == http.MethodPost:
		m.handleCreateTask(w, r, body)
	case upstream == UpstreamTasks && r.Method == http.MethodGet:
		m.handleQueryTask(w, r)
	case upstream == UpstreamToken && r.Method == http.MethodPost:
		m.handleToken(w, body)
	case upstream == UpstreamSheets && r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		m.handleSheetsAppend(w, r, body)
	case upstream == UpstreamSheets && r.Method == http.MethodGet:
		m.handleSheetsRead(w, r)
	case upstream == UpstreamAssist && r.Method == http.MethodPost:
		m.handleMessages(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func classify(path string) string {
	switch {
	case path == TasksBasePath+"/createTask", path == TasksBasePath+"/recordInfo",
		strings.HasPrefix(path, ProviderBasePath+"/gpt4o-image/"),
		strings.HasPrefix(path, ProviderBasePath+"/flux/kontext/"):
		return UpstreamTasks
	case path == TokenPath:
		return UpstreamToken
	case strings.HasPrefix(path, SheetsBasePath+"/spreadsheets/"):
		return UpstreamSheets
	case path == AssistBasePath+"/messages":
		return UpstreamAssist
	default:
		return "unknown"
	}
}

// GetRequestLog returns all logged requests for assertions.
func (m *MockServer) GetRequestLog() []RequestLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RequestLog{}, m.requestLog...)
}

// RequestsFor returns logged requests that reached upstream.
func (m *MockServer) RequestsFor(upstream string) []RequestLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RequestLog
	for _, entry := range m.requestLog {
		if entry.Upstream == upstream {
			out = append(out, entry)
		}
	}
	return out
}

// ClearRequestLog clears the request log.
func (m *MockServer) ClearRequestLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestLog = make([]RequestLog, 0)
}

// SetAPIKey sets the bearer key the task endpoints accept.
func (m *MockServer) SetAPIKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKey = key
}

// SetTaskRecord configures the query response.
func (m *MockServer) SetTaskRecord(record TaskRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskRecord = record
}

// SetAccessToken configures the token issued by the OAuth endpoint.
func (m *MockServer) SetAccessToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = token
}

// SetSheetRows replaces the rows stored for sheet.
func (m *MockServer) SetSheetRows(sheet string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheetRows[sheet] = rows
}

// SheetRows returns the rows currently stored for sheet.
func (m *MockServer) SheetRows(sheet string) [][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]string{}, m.sheetRows[sheet]...)
}

// SetAssistText configures the text the messages endpoint answers with.
func (m *MockServer) SetAssistText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assistText = text
}

// SetFailure makes upstream answer every request with status and body.
func (m *MockServer) SetFailure(upstream string, status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[upstream] = FailureResponse{Status: status, Body: body}
}

// ClearFailures removes all injected failures.
func (m *MockServer) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]FailureResponse)
}

func (m *MockServer) setDefaults() {
	m.apiKey = "mock-api-key"
	m.taskRecord = TaskRecord{
		State:      "success",
		Progress:   "1.00",
		ResultURLs: []string{"https://cdn.example.com/result.png"},
	}
	m.accessToken = "mock-access-token"
	m.sheetRows["02_Video"] = [][]string{{"prompt", "taskId", "url"}}
	m.assistText = "A cinematic portrait bathed in warm golden light."
}

func (m *MockServer) authorized(r *http.Request) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return r.Header.Get("Authorization") == "Bearer "+m.apiKey
}

func (m *MockServer) handleCreateTask(w http.ResponseWriter, r *http.Request, body []byte) {
	if !m.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, TaskEnvelope{Code: 401, Msg: "You do not have access permissions"})
		return
	}

	var req struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusOK, TaskEnvelope{Code: 422, Msg: "invalid request body"})
		return
	}

	m.mu.Lock()
	m.taskCounter++
	id := fmt.Sprintf("mock-task-%d", m.taskCounter)
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, TaskEnvelope{Code: 200, Msg: "success", Data: TaskCreated{TaskID: id}})
}

func (m *MockServer) handleQueryTask(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, TaskEnvelope{Code: 401, Msg: "You do not have access permissions"})
		return
	}

	taskID := r.URL.Query().Get("taskId")
	if taskID == "" {
		writeJSON(w, http.StatusOK, TaskEnvelope{Code: 422, Msg: "taskId is required"})
		return
	}

	m.mu.RLock()
	record := m.taskRecord
	m.mu.RUnlock()
	record.TaskID = taskID

	writeJSON(w, http.StatusOK, TaskEnvelope{Code: 200, Msg: "success", Data: record})
}

func (m *MockServer) handleToken(w http.ResponseWriter, body []byte) {
	form, err := url.ParseQuery(string(body))
	if err != nil || form.Get("grant_type") != "urn:ietf:params:oauth:grant-type:jwt-bearer" {
		writeJSON(w, http.StatusBadRequest, OAuthError{Error: "unsupported_grant_type", ErrorDescription: "Invalid grant_type"})
		return
	}

	claims, err := jws.Decode(form.Get("assertion"))
	if err != nil || claims.Iss == "" || claims.Exp-claims.Iat != 3600 {
		writeJSON(w, http.StatusBadRequest, OAuthError{Error: "invalid_grant", ErrorDescription: "Invalid JWT Signature."})
		return
	}

	m.mu.RLock()
	token := m.accessToken
	m.mu.RUnlock()

	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, ExpiresIn: 3599, TokenType: "Bearer"})
}

// sheetsTarget splits /v4/spreadsheets/{id}/values/{range} into id and range
func sheetsTarget(path string) (string, string, bool) {
	rest := strings.TrimPrefix(path, SheetsBasePath+"/spreadsheets/")
	id, rangeName, ok := strings.Cut(rest, "/values/")
	return id, rangeName, ok && id != "" && rangeName != ""
}

func sheetName(rangeName string) string {
	name, _, _ := strings.Cut(rangeName, "!")
	return name
}

func (m *MockServer) sheetsAuthorized(w http.ResponseWriter, r *http.Request) bool {
	m.mu.RLock()
	want := "Bearer " + m.accessToken
	m.mu.RUnlock()
	if r.Header.Get("Authorization") != want {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error": map[string]interface{}{"code": 401, "message": "Request is missing required authentication credential.", "status": "UNAUTHENTICATED"},
		})
		return false
	}
	return true
}

func (m *MockServer) handleSheetsRead(w http.ResponseWriter, r *http.Request) {
	if !m.sheetsAuthorized(w, r) {
		return
	}
	_, rangeName, ok := sheetsTarget(r.URL.Path)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad range"})
		return
	}

	writeJSON(w, http.StatusOK, ValueRange{
		Range:          rangeName,
		MajorDimension: r.URL.Query().Get("majorDimension"),
		Values:         m.SheetRows(sheetName(rangeName)),
	})
}

func (m *MockServer) handleSheetsAppend(w http.ResponseWriter, r *http.Request, body []byte) {
	if !m.sheetsAuthorized(w, r) {
		return
	}
	id, rangeName, ok := sheetsTarget(strings.TrimSuffix(r.URL.Path, ":append"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad range"})
		return
	}

	var req struct {
		Values [][]string `json:"values"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload received."})
		return
	}

	sheet := sheetName(rangeName)
	m.mu.Lock()
	m.sheetRows[sheet] = append(m.sheetRows[sheet], req.Values...)
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, AppendResponse{
		SpreadsheetID: id,
		TableRange:    sheet,
		Updates: AppendUpdates{
			SpreadsheetID: id,
			UpdatedRange:  sheet,
			UpdatedRows:   len(req.Values),
		},
	})
}

func (m *MockServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-api-key") == "" || r.Header.Get("anthropic-version") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"type":  "error",
			"error": map[string]string{"type": "authentication_error", "message": "invalid x-api-key"},
		})
		return
	}

	m.mu.RLock()
	text := m.assistText
	m.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          "msg_mock",
		"type":        "message",
		"role":        "assistant",
		"content":     []map[string]string{{"type": "text", "text": text}},
		"stop_reason": "end_turn",
		"usage":       map[string]int{"input_tokens": 10, "output_tokens": 12},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
