package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"media-gateway/observability"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Upstream service names, used as metric and log labels
const (
	ServiceTasks       = "tasks"
	ServiceGoogleOAuth = "google_oauth"
	ServiceSheets      = "sheets"
	ServiceAssist      = "assist"
)

// RequestIDHeader carries the inbound request id to upstream APIs
const RequestIDHeader = "X-Request-Id"

var (
	// ErrInvalidPayload is returned when a caller-supplied body is not valid JSON
	ErrInvalidPayload = errors.New("request body is not valid JSON")

	// ErrInvalidJSON is returned when an upstream answers with a non-JSON body
	ErrInvalidJSON = errors.New("upstream returned a non-JSON body")

	// ErrUnexpectedResponse is returned when an upstream JSON body lacks the expected shape
	ErrUnexpectedResponse = errors.New("unexpected upstream response shape")
)

// Relayed is an upstream response handed back to the caller untouched
type Relayed struct {
	StatusCode int
	Body       json.RawMessage
}

// UpstreamError describes a failed upstream call
type UpstreamError struct {
	Service   string
	Operation string
	Err       error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Operation, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// upstream performs single-attempt calls against one third-party API
type upstream struct {
	service    string
	httpClient *http.Client
}

func newUpstream(service string, timeout time.Duration) upstream {
	return upstream{
		service:    service,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// do sends req once and returns the JSON body verbatim
func (u upstream) do(ctx context.Context, operation string, req *http.Request) (*Relayed, error) {
	metrics := observability.GetMetrics()
	metrics.RecordUpstreamRequest(u.service, operation)
	timer := metrics.NewTimer()

	req.Header.Set(RequestIDHeader, requestID(ctx))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		timer.ObserveUpstream(u.service, operation)
		metrics.RecordUpstreamError(u.service, operation, categorizeAPIError(err))
		return nil, &UpstreamError{Service: u.service, Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	timer.ObserveUpstream(u.service, operation)
	metrics.RecordUpstreamStatus(u.service, operation, strconv.Itoa(resp.StatusCode))
	if err != nil {
		metrics.RecordUpstreamError(u.service, operation, categorizeAPIError(err))
		return nil, &UpstreamError{Service: u.service, Operation: operation, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if !json.Valid(body) {
		metrics.RecordUpstreamError(u.service, operation, "invalid_json")
		return nil, &UpstreamError{
			Service:   u.service,
			Operation: operation,
			Err:       fmt.Errorf("%w (status %d)", ErrInvalidJSON, resp.StatusCode),
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		observability.WithUpstream(u.service, operation).Warn("upstream returned error status",
			"status", resp.StatusCode)
	}

	return &Relayed{StatusCode: resp.StatusCode, Body: body}, nil
}

// requestID returns the chi request id, or a fresh one when there is none
func requestID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

// categorizeAPIError maps an error to a metric label
func categorizeAPIError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, "timeout", "deadline"):
		return "timeout"
	case containsAny(errStr, "rate limit", "429"):
		return "rate_limit"
	case containsAny(errStr, "unauthorized", "401"):
		return "auth_error"
	case containsAny(errStr, "connection", "network", "no such host"):
		return "connection_error"
	default:
		return "unknown"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
