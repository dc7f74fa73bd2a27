package llm

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
)

// ErrEmptyCompletion is returned when the provider responds without any choices.
var ErrEmptyCompletion = errors.New("llm: empty completion response")

// OpenAIClient calls the OpenAI chat completions API via the official SDK.
type OpenAIClient struct {
	sdk openaisdk.Client
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a chat completion client using the official SDK.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{sdk: openaisdk.NewClient(option.WithAPIKey(apiKey))}
}

// Complete sends a single system+user chat completion and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model: shared.ChatModel(req.Model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(req.System),
			openaisdk.UserMessage(req.User),
		},
	}

	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSONMode {
		params.ResponseFormat = openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
	}, nil
}
