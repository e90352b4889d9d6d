package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"media-gateway/config"
)

// TaskProvider selects which generation endpoint pair a task call goes to
type TaskProvider string

const (
	// TaskProviderDefault uses the configurable API_BASE endpoints
	TaskProviderDefault TaskProvider = "default"
	// TaskProviderGPT4o uses the gpt4o-image endpoints
	TaskProviderGPT4o TaskProvider = "gpt4o"
	// TaskProviderFluxKontext uses the flux kontext endpoints
	TaskProviderFluxKontext TaskProvider = "flux-kontext"
)

type taskEndpoints struct {
	create string
	query  string
}

// TaskService forwards task creation and polling to the image generation API
type TaskService struct {
	upstream
	apiKey    string
	endpoints map[TaskProvider]taskEndpoints
}

// NewTaskService creates a new TaskService instance
func NewTaskService(cfg *config.Config) *TaskService {
	base := cfg.ImageAPI.BaseURL
	kie := cfg.ImageAPI.ProviderBaseURL

	return &TaskService{
		upstream: newUpstream(ServiceTasks, time.Duration(cfg.HTTP.UpstreamTimeoutSeconds)*time.Second),
		apiKey:   cfg.ImageAPI.APIKey,
		endpoints: map[TaskProvider]taskEndpoints{
			TaskProviderDefault: {
				create: base + "/createTask",
				query:  base + "/recordInfo",
			},
			TaskProviderGPT4o: {
				create: kie + "/gpt4o-image/generate",
				query:  kie + "/gpt4o-image/record-info",
			},
			TaskProviderFluxKontext: {
				create: kie + "/flux/kontext/generate",
				query:  kie + "/flux/kontext/record-info",
			},
		},
	}
}

// Create forwards body unmodified as a new generation task
func (s *TaskService) Create(ctx context.Context, provider TaskProvider, body json.RawMessage) (*Relayed, error) {
	ep, ok := s.endpoints[provider]
	if !ok {
		return nil, fmt.Errorf("unknown task provider %q", provider)
	}
	if !json.Valid(body) {
		return nil, ErrInvalidPayload
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.create, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	return s.do(ctx, string(provider)+"_create", req)
}

// Query polls a task. An empty taskID is forwarded as-is.
func (s *TaskService) Query(ctx context.Context, provider TaskProvider, taskID string) (*Relayed, error) {
	ep, ok := s.endpoints[provider]
	if !ok {
		return nil, fmt.Errorf("unknown task provider %q", provider)
	}

	params := url.Values{}
	params.Set("taskId", taskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.query+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	return s.do(ctx, string(provider)+"_query", req)
}
