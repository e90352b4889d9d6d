package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"media-gateway/config"
	"media-gateway/observability"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicMessages defines the interface for Anthropic API calls (for testing)
type anthropicMessages interface {
	NewMessage(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// anthropicClientWrapper wraps the anthropic.Client to implement our interface
type anthropicClientWrapper struct {
	client anthropic.Client
}

func (w *anthropicClientWrapper) NewMessage(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	return w.client.Messages.New(ctx, params, opts...)
}

// AnthropicClient sends messages requests to the Anthropic API
type AnthropicClient struct {
	client anthropicMessages
}

// NewAnthropicClient creates a new AnthropicClient instance. Retries are
// disabled so every call is a single attempt.
func NewAnthropicClient(cfg *config.Config) *AnthropicClient {
	client := anthropic.NewClient(
		option.WithAPIKey(cfg.Assist.APIKey),
		option.WithBaseURL(strings.TrimRight(cfg.Assist.BaseURL, "/")+"/"),
		option.WithHeader("anthropic-version", cfg.Assist.APIVersion),
		option.WithRequestTimeout(time.Duration(cfg.HTTP.UpstreamTimeoutSeconds)*time.Second),
		option.WithMaxRetries(0),
	)
	return &AnthropicClient{client: &anthropicClientWrapper{client: client}}
}

// newAnthropicClientWithMessages creates an AnthropicClient with a custom client (for testing)
func newAnthropicClientWithMessages(client anthropicMessages) *AnthropicClient {
	return &AnthropicClient{client: client}
}

// CreateMessage sends one messages call
func (c *AnthropicClient) CreateMessage(ctx context.Context, request MessageRequest) (*MessageResponse, error) {
	metrics := observability.GetMetrics()
	metrics.RecordUpstreamRequest(ServiceAssist, "messages")
	timer := metrics.NewTimer()

	params, err := toAnthropicParams(request)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.NewMessage(ctx, params, option.WithHeader(RequestIDHeader, requestID(ctx)))
	timer.ObserveUpstream(ServiceAssist, "messages")
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			metrics.RecordUpstreamStatus(ServiceAssist, "messages", strconv.Itoa(apiErr.StatusCode))
			metrics.RecordUpstreamError(ServiceAssist, "messages", categorizeAPIError(err))
			observability.WithUpstream(ServiceAssist, "messages").Warn("upstream returned error status",
				"status", apiErr.StatusCode)
			return nil, &UpstreamError{
				Service:   ServiceAssist,
				Operation: "messages",
				Err:       fmt.Errorf("%w: status %d: %v", ErrUnexpectedResponse, apiErr.StatusCode, err),
			}
		}
		metrics.RecordUpstreamError(ServiceAssist, "messages", categorizeAPIError(err))
		return nil, &UpstreamError{Service: ServiceAssist, Operation: "messages", Err: err}
	}
	metrics.RecordUpstreamStatus(ServiceAssist, "messages", strconv.Itoa(http.StatusOK))

	return fromAnthropicMessage(msg), nil
}

func toAnthropicParams(request MessageRequest) (anthropic.MessageNewParams, error) {
	messages := make([]anthropic.MessageParam, 0, len(request.Messages))
	for _, m := range request.Messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, block := range m.Content {
			switch {
			case block.Type == "text":
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			case block.Type == "image" && block.Source != nil:
				blocks = append(blocks, anthropic.NewImageBlockBase64(block.Source.MediaType, block.Source.Data))
			default:
				return anthropic.MessageNewParams{}, fmt.Errorf("unsupported content block %q", block.Type)
			}
		}
		switch m.Role {
		case "user":
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	return anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		MaxTokens: int64(request.MaxTokens),
		Messages:  messages,
	}, nil
}

func fromAnthropicMessage(msg *anthropic.Message) *MessageResponse {
	response := &MessageResponse{
		ID:         msg.ID,
		Type:       string(msg.Type),
		Role:       string(msg.Role),
		StopReason: string(msg.StopReason),
		Content:    make([]ContentBlock, 0, len(msg.Content)),
	}
	for _, block := range msg.Content {
		response.Content = append(response.Content, ContentBlock{Type: block.Type, Text: block.Text})
	}
	response.Usage.InputTokens = int(msg.Usage.InputTokens)
	response.Usage.OutputTokens = int(msg.Usage.OutputTokens)
	return response
}
