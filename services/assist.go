package services

import (
	"context"
	"fmt"
	"strings"
)

// ReferencePrefix is the phrase an enhanced prompt starts with when the
// caller supplied a reference image
const ReferencePrefix = "Use Reference Image as Character"

// Output budgets per assist operation
const (
	enhanceMaxTokens  = 1000
	videoMaxTokens    = 500
	describeMaxTokens = 1000
)

const describeInstruction = "Describe this image in detail so it can be used as a prompt for an image generation model. " +
	"Cover the subject, appearance, clothing, pose, setting, lighting, color palette, camera angle and artistic style. " +
	"Respond with the description only, as a single paragraph."

// ContentBlock is one block of a message's content
type ContentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource holds inline image data for a vision request
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Message is a single conversation turn
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// MessageRequest is the messages API request body
type MessageRequest struct {
	AnthropicVersion string    `json:"anthropic_version,omitempty"`
	Model            string    `json:"model,omitempty"`
	MaxTokens        int       `json:"max_tokens"`
	Messages         []Message `json:"messages"`
}

// MessageResponse is the messages API response body
type MessageResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// FirstText returns the first content block, which must be text
func (r *MessageResponse) FirstText() (string, error) {
	if r == nil || len(r.Content) == 0 {
		return "", fmt.Errorf("%w: empty content", ErrUnexpectedResponse)
	}
	if r.Content[0].Type != "text" {
		return "", fmt.Errorf("%w: first content block is %q", ErrUnexpectedResponse, r.Content[0].Type)
	}
	return r.Content[0].Text, nil
}

// MessageClient sends a single messages API call
type MessageClient interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// AssistService rewrites prompts and describes images through a MessageClient
type AssistService struct {
	client MessageClient
	model  string
}

// NewAssistService creates a new AssistService instance
func NewAssistService(client MessageClient, model string) *AssistService {
	return &AssistService{client: client, model: model}
}

// BuildEnhanceInstruction builds the prompt rewriting instruction
func BuildEnhanceInstruction(prompt string, hasReference bool) string {
	var b strings.Builder
	b.WriteString("You are an expert prompt engineer for AI image generation. ")
	b.WriteString("Rewrite the following prompt so it is vivid, specific and well structured: ")
	b.WriteString("describe the subject, composition, lighting, mood and style in one paragraph. ")
	b.WriteString("Keep the original intent and do not add unrelated elements.")
	if hasReference {
		fmt.Fprintf(&b, " The user supplied a reference image, so the rewritten prompt must begin with the exact phrase %q.", ReferencePrefix)
	}
	b.WriteString(" Return only the rewritten prompt with no commentary.\n\nPrompt: ")
	b.WriteString(prompt)
	return b.String()
}

// BuildVideoInstruction builds the image-to-animation conversion instruction
func BuildVideoInstruction(prompt string) string {
	return "You are a cinematographer writing prompts for an image-to-video model. " +
		"Convert the following image description into a short cinematic animation prompt: " +
		"describe the motion of the subject, camera movement (pan, tilt, dolly, orbit or zoom), pacing and atmosphere. " +
		"Return only the video prompt with no commentary.\n\nImage prompt: " + prompt
}

func userText(text string) Message {
	return Message{Role: "user", Content: []ContentBlock{{Type: "text", Text: text}}}
}

func (s *AssistService) complete(ctx context.Context, maxTokens int, msg Message) (string, error) {
	resp, err := s.client.CreateMessage(ctx, MessageRequest{
		Model:     s.model,
		MaxTokens: maxTokens,
		Messages:  []Message{msg},
	})
	if err != nil {
		return "", err
	}
	return resp.FirstText()
}

// EnhancePrompt returns an improved version of prompt
func (s *AssistService) EnhancePrompt(ctx context.Context, prompt string, hasReference bool) (string, error) {
	return s.complete(ctx, enhanceMaxTokens, userText(BuildEnhanceInstruction(prompt, hasReference)))
}

// VideoPrompt turns an image prompt into an animation prompt
func (s *AssistService) VideoPrompt(ctx context.Context, prompt string) (string, error) {
	return s.complete(ctx, videoMaxTokens, userText(BuildVideoInstruction(prompt)))
}

// DescribeImage describes a base64 encoded JPEG
func (s *AssistService) DescribeImage(ctx context.Context, imageData string) (string, error) {
	msg := Message{
		Role: "user",
		Content: []ContentBlock{
			{
				Type: "image",
				Source: &ImageSource{
					Type:      "base64",
					MediaType: "image/jpeg",
					Data:      imageData,
				},
			},
			{Type: "text", Text: describeInstruction},
		},
	}
	return s.complete(ctx, describeMaxTokens, msg)
}
