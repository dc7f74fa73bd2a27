// Package llm provides chat completion clients used for template extraction
// and cluster reasoning, with model routing and provider resilience.
package llm

import "context"

// Request describes a single chat completion call.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool
}

// Response carries the completion text and the model that produced it.
type Response struct {
	Content string
	Model   string
}

// Client defines the interface for chat completions.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// MockClient implements Client for testing via a settable function field.
type MockClient struct {
	CompleteFunc func(ctx context.Context, req Request) (*Response, error)
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	return m.CompleteFunc(ctx, req)
}
