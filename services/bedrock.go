package services

import (
	"context"
	"encoding/json"
	"fmt"

	"media-gateway/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// bedrockInvoker is the subset of the Bedrock runtime client we use
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient sends messages requests to Claude models hosted on AWS Bedrock
type BedrockClient struct {
	client bedrockInvoker
	model  string
}

// NewBedrockClient creates a new BedrockClient using the default AWS credential chain
func NewBedrockClient(ctx context.Context, region, modelID string) (*BedrockClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	return &BedrockClient{
		client: bedrockruntime.NewFromConfig(cfg),
		model:  modelID,
	}, nil
}

// newBedrockClientWithInvoker creates a BedrockClient with a custom invoker (for testing)
func newBedrockClientWithInvoker(invoker bedrockInvoker, modelID string) *BedrockClient {
	return &BedrockClient{client: invoker, model: modelID}
}

// CreateMessage sends one messages request through InvokeModel.
// The model is selected by ModelId, so it is dropped from the body.
func (c *BedrockClient) CreateMessage(ctx context.Context, request MessageRequest) (*MessageResponse, error) {
	metrics := observability.GetMetrics()
	metrics.RecordUpstreamRequest(ServiceAssist, "bedrock_invoke")
	timer := metrics.NewTimer()

	request.Model = ""
	request.AnthropicVersion = bedrockAnthropicVersion

	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.model),
		Body:        reqBody,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	timer.ObserveUpstream(ServiceAssist, "bedrock_invoke")
	if err != nil {
		metrics.RecordUpstreamError(ServiceAssist, "bedrock_invoke", categorizeAPIError(err))
		return nil, &UpstreamError{Service: ServiceAssist, Operation: "bedrock_invoke", Err: err}
	}

	var response MessageResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		metrics.RecordUpstreamError(ServiceAssist, "bedrock_invoke", "invalid_json")
		return nil, &UpstreamError{
			Service:   ServiceAssist,
			Operation: "bedrock_invoke",
			Err:       fmt.Errorf("%w: %v", ErrInvalidJSON, err),
		}
	}

	return &response, nil
}
