package services

import (
	"context"
	"encoding/json"
	"time"
)

// TaskServiceInterface defines the image/video task proxy operations
type TaskServiceInterface interface {
	Create(ctx context.Context, provider TaskProvider, body json.RawMessage) (*Relayed, error)
	Query(ctx context.Context, provider TaskProvider, taskID string) (*Relayed, error)
}

// GoogleAuthServiceInterface defines the service account token operations
type GoogleAuthServiceInterface interface {
	MintAssertion(issuedAt time.Time) (string, error)
	ExchangeToken(ctx context.Context, assertion string) (*Relayed, error)
	Authenticate(ctx context.Context) (*Relayed, error)
}

// SheetsServiceInterface defines the Sheets proxy operations
type SheetsServiceInterface interface {
	Read(ctx context.Context, authorization, rangeName string) (*Relayed, error)
	Append(ctx context.Context, authorization, sheet string, values json.RawMessage) (*Relayed, error)
}

// AssistServiceInterface defines the AI assist operations
type AssistServiceInterface interface {
	EnhancePrompt(ctx context.Context, prompt string, hasReference bool) (string, error)
	VideoPrompt(ctx context.Context, prompt string) (string, error)
	DescribeImage(ctx context.Context, imageData string) (string, error)
}

// Compile-time interface verification
var _ TaskServiceInterface = (*TaskService)(nil)
var _ GoogleAuthServiceInterface = (*GoogleAuthService)(nil)
var _ SheetsServiceInterface = (*SheetsService)(nil)
var _ AssistServiceInterface = (*AssistService)(nil)
var _ MessageClient = (*AnthropicClient)(nil)
var _ MessageClient = (*BedrockClient)(nil)
