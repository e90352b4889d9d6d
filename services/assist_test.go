package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"media-gateway/config"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// fakeMessageClient records requests and returns a canned response
type fakeMessageClient struct {
	requests []MessageRequest
	response *MessageResponse
	err      error
}

func (f *fakeMessageClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func textResponse(text string) *MessageResponse {
	return &MessageResponse{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func TestBuildEnhanceInstruction(t *testing.T) {
	withRef := BuildEnhanceInstruction("a knight at dawn", true)
	if !strings.Contains(withRef, ReferencePrefix) {
		t.Errorf("expected instruction to contain %q", ReferencePrefix)
	}
	if !strings.HasSuffix(withRef, "a knight at dawn") {
		t.Error("expected instruction to end with the user prompt")
	}

	withoutRef := BuildEnhanceInstruction("a knight at dawn", false)
	if strings.Contains(withoutRef, ReferencePrefix) {
		t.Errorf("instruction without a reference must not contain %q", ReferencePrefix)
	}
}

func TestAssistService_EnhancePrompt(t *testing.T) {
	client := &fakeMessageClient{response: textResponse("Use Reference Image as Character, a knight in silver armor")}
	service := NewAssistService(client, "claude-test")

	got, err := service.EnhancePrompt(context.Background(), "knight", true)
	if err != nil {
		t.Fatalf("EnhancePrompt() error = %v", err)
	}
	if got != "Use Reference Image as Character, a knight in silver armor" {
		t.Errorf("EnhancePrompt() = %q", got)
	}

	req := client.requests[0]
	if req.Model != "claude-test" {
		t.Errorf("model = %s", req.Model)
	}
	if req.MaxTokens != 1000 {
		t.Errorf("max_tokens = %d, want 1000", req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("expected a single user message, got %+v", req.Messages)
	}
	if text := req.Messages[0].Content[0].Text; !strings.Contains(text, ReferencePrefix) || !strings.Contains(text, "knight") {
		t.Errorf("instruction = %q", text)
	}
}

func TestAssistService_VideoPrompt(t *testing.T) {
	client := &fakeMessageClient{response: textResponse("Slow dolly in as the knight raises a sword")}
	service := NewAssistService(client, "claude-test")

	got, err := service.VideoPrompt(context.Background(), "a knight at dawn")
	if err != nil {
		t.Fatalf("VideoPrompt() error = %v", err)
	}
	if got != "Slow dolly in as the knight raises a sword" {
		t.Errorf("VideoPrompt() = %q", got)
	}
	if client.requests[0].MaxTokens != 500 {
		t.Errorf("max_tokens = %d, want 500", client.requests[0].MaxTokens)
	}
	if !strings.Contains(client.requests[0].Messages[0].Content[0].Text, "a knight at dawn") {
		t.Error("expected instruction to embed the image prompt")
	}
}

func TestAssistService_DescribeImage(t *testing.T) {
	client := &fakeMessageClient{response: textResponse("A red bicycle leaning on a brick wall")}
	service := NewAssistService(client, "claude-test")

	got, err := service.DescribeImage(context.Background(), "/9j/4AAQSkZJRg==")
	if err != nil {
		t.Fatalf("DescribeImage() error = %v", err)
	}
	if got != "A red bicycle leaning on a brick wall" {
		t.Errorf("DescribeImage() = %q", got)
	}

	req := client.requests[0]
	if req.MaxTokens != 1000 {
		t.Errorf("max_tokens = %d, want 1000", req.MaxTokens)
	}
	blocks := req.Messages[0].Content
	if len(blocks) != 2 {
		t.Fatalf("expected image and text blocks, got %d", len(blocks))
	}
	if blocks[0].Type != "image" || blocks[0].Source == nil {
		t.Fatalf("first block = %+v, want image", blocks[0])
	}
	src := blocks[0].Source
	if src.Type != "base64" || src.MediaType != "image/jpeg" || src.Data != "/9j/4AAQSkZJRg==" {
		t.Errorf("image source = %+v", src)
	}
	if blocks[1].Type != "text" || blocks[1].Text == "" {
		t.Errorf("second block = %+v, want text instruction", blocks[1])
	}

	encoded, _ := json.Marshal(blocks[0])
	if !strings.Contains(string(encoded), `"media_type":"image/jpeg"`) {
		t.Errorf("image block encodes as %s", encoded)
	}
}

func TestAssistService_Errors(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeMessageClient
		want   error
	}{
		{"empty content", &fakeMessageClient{response: &MessageResponse{}}, ErrUnexpectedResponse},
		{"non-text first block", &fakeMessageClient{response: &MessageResponse{Content: []ContentBlock{{Type: "tool_use"}}}}, ErrUnexpectedResponse},
		{"client failure", &fakeMessageClient{err: &UpstreamError{Service: ServiceAssist, Operation: "messages", Err: errors.New("boom")}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewAssistService(tt.client, "m")
			_, err := service.VideoPrompt(context.Background(), "p")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMessageResponse_FirstTextNil(t *testing.T) {
	var resp *MessageResponse
	if _, err := resp.FirstText(); !errors.Is(err, ErrUnexpectedResponse) {
		t.Errorf("expected ErrUnexpectedResponse, got %v", err)
	}
}

func anthropicTestConfig(baseURL string) *config.Config {
	cfg := config.NewTestConfig()
	cfg.Assist.BaseURL = baseURL
	cfg.Assist.APIKey = "sk-ant-test"
	cfg.Assist.APIVersion = "2023-06-01"
	return cfg
}

func TestAnthropicClient_CreateMessage(t *testing.T) {
	stub := newUpstreamStub(t, http.StatusOK, `{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"hello"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":1}}`)
	client := NewAnthropicClient(anthropicTestConfig(stub.URL))

	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-test",
		MaxTokens: 500,
		Messages:  []Message{userText("hi")},
	})
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if text, _ := resp.FirstText(); text != "hello" {
		t.Errorf("text = %q, want hello", text)
	}
	if resp.Usage.OutputTokens != 1 {
		t.Errorf("output tokens = %d", resp.Usage.OutputTokens)
	}

	got := stub.last(t)
	if got.Method != http.MethodPost || got.Path != "/v1/messages" {
		t.Errorf("request = %s %s, want POST /v1/messages", got.Method, got.Path)
	}
	if got.Header.Get("x-api-key") != "sk-ant-test" {
		t.Errorf("x-api-key = %q", got.Header.Get("x-api-key"))
	}
	if got.Header.Get("anthropic-version") != "2023-06-01" {
		t.Errorf("anthropic-version = %q", got.Header.Get("anthropic-version"))
	}

	var sent map[string]interface{}
	if err := json.Unmarshal(got.Body, &sent); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if sent["model"] != "claude-test" || sent["max_tokens"] != float64(500) {
		t.Errorf("body = %s", got.Body)
	}
	if _, ok := sent["anthropic_version"]; ok {
		t.Error("anthropic_version belongs in the header for the direct API")
	}
}

func TestAnthropicClient_ErrorStatus(t *testing.T) {
	stub := newUpstreamStub(t, http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	client := NewAnthropicClient(anthropicTestConfig(stub.URL))

	_, err := client.CreateMessage(context.Background(), MessageRequest{MaxTokens: 1, Messages: []Message{userText("hi")}})
	if !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("expected ErrUnexpectedResponse, got %v", err)
	}
	var upErr *UpstreamError
	if !errors.As(err, &upErr) || upErr.Service != ServiceAssist {
		t.Errorf("expected assist UpstreamError, got %v", err)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should mention the status: %v", err)
	}
}

// mockMessages implements anthropicMessages for testing
type mockMessages struct {
	params anthropic.MessageNewParams
	msg    *anthropic.Message
	err    error
}

func (m *mockMessages) NewMessage(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	return m.msg, nil
}

func TestAnthropicClient_ImageRequest(t *testing.T) {
	mock := &mockMessages{msg: &anthropic.Message{
		ID:      "msg_2",
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "a red kite"}},
	}}
	client := newAnthropicClientWithMessages(mock)
	service := NewAssistService(client, "claude-test")

	text, err := service.DescribeImage(context.Background(), "aGVsbG8=")
	if err != nil {
		t.Fatalf("DescribeImage() error = %v", err)
	}
	if text != "a red kite" {
		t.Errorf("text = %q, want a red kite", text)
	}

	if string(mock.params.Model) != "claude-test" || mock.params.MaxTokens != describeMaxTokens {
		t.Errorf("params model=%q max_tokens=%d", mock.params.Model, mock.params.MaxTokens)
	}
	body, err := json.Marshal(mock.params)
	if err != nil {
		t.Fatalf("failed to encode params: %v", err)
	}
	for _, want := range []string{`"type":"image"`, `"media_type":"image/jpeg"`, `"data":"aGVsbG8="`, `"role":"user"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("params %s missing %s", body, want)
		}
	}
}

func TestAnthropicClient_TransportError(t *testing.T) {
	client := newAnthropicClientWithMessages(&mockMessages{err: errors.New("connection refused")})

	_, err := client.CreateMessage(context.Background(), MessageRequest{MaxTokens: 1, Messages: []Message{userText("hi")}})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) || upErr.Operation != "messages" {
		t.Fatalf("expected messages UpstreamError, got %v", err)
	}
	if errors.Is(err, ErrUnexpectedResponse) {
		t.Error("transport failures are not response shape errors")
	}
}

func TestAnthropicClient_UnsupportedBlock(t *testing.T) {
	mock := &mockMessages{}
	client := newAnthropicClientWithMessages(mock)

	_, err := client.CreateMessage(context.Background(), MessageRequest{
		MaxTokens: 1,
		Messages:  []Message{{Role: "user", Content: []ContentBlock{{Type: "video"}}}},
	})
	if err == nil {
		t.Fatal("expected an error for an unsupported block")
	}
}

// mockInvoker implements bedrockInvoker for testing
type mockInvoker struct {
	input  *bedrockruntime.InvokeModelInput
	output []byte
	err    error
}

func (m *mockInvoker) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: m.output}, nil
}

func TestBedrockClient_CreateMessage(t *testing.T) {
	invoker := &mockInvoker{output: []byte(`{"content":[{"type":"text","text":"from bedrock"}]}`)}
	client := newBedrockClientWithInvoker(invoker, "anthropic.claude-3-5-sonnet-20241022-v2:0")

	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-test",
		MaxTokens: 1000,
		Messages:  []Message{userText("hi")},
	})
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if text, _ := resp.FirstText(); text != "from bedrock" {
		t.Errorf("text = %q", text)
	}

	if *invoker.input.ModelId != "anthropic.claude-3-5-sonnet-20241022-v2:0" {
		t.Errorf("ModelId = %s", *invoker.input.ModelId)
	}

	var sent map[string]interface{}
	if err := json.Unmarshal(invoker.input.Body, &sent); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if sent["anthropic_version"] != "bedrock-2023-05-31" {
		t.Errorf("anthropic_version = %v", sent["anthropic_version"])
	}
	if _, ok := sent["model"]; ok {
		t.Error("model must not be sent in the Bedrock body")
	}
}

func TestBedrockClient_Errors(t *testing.T) {
	t.Run("invoke failure", func(t *testing.T) {
		client := newBedrockClientWithInvoker(&mockInvoker{err: errors.New("AccessDeniedException")}, "m")
		_, err := client.CreateMessage(context.Background(), MessageRequest{})
		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("expected *UpstreamError, got %v", err)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		client := newBedrockClientWithInvoker(&mockInvoker{output: []byte("not json")}, "m")
		_, err := client.CreateMessage(context.Background(), MessageRequest{})
		if !errors.Is(err, ErrInvalidJSON) {
			t.Fatalf("expected ErrInvalidJSON, got %v", err)
		}
	})
}
