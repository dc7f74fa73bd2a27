package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/llm"
	"github.com/promptlens/core/internal/models"
)

type staticRouter struct {
	model string
}

func (r staticRouter) Route(string) string { return r.model }

func extractionMembers() []models.Prompt {
	return []models.Prompt{
		{ID: uuid.New(), Content: "Summarize the quarterly report in three bullets"},
		{ID: uuid.New(), Content: "Summarize the incident postmortem in five bullets"},
	}
}

const validExtraction = `{
	"canonical_template": "Summarize the {{document}} in {{count}} bullets",
	"slots": [
		{"name": "document", "type": "string", "example_values": ["quarterly report"], "confidence": 0.9},
		{"name": "count", "type": "number", "example_values": ["three", "five"], "confidence": 0.8}
	],
	"confidence": 0.87,
	"explanation": "both prompts share the summarize-in-N-bullets frame"
}`

func TestExtractorService_Extract(t *testing.T) {
	ctx := context.Background()
	cluster := &models.Cluster{ID: uuid.New()}

	t.Run("valid completion becomes a template", func(t *testing.T) {
		client := &llm.MockClient{
			CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
				assert.True(t, req.JSONMode)
				assert.Equal(t, "test-model", req.Model)
				return &llm.Response{Content: validExtraction, Model: req.Model}, nil
			},
		}
		svc := NewExtractorService(client, staticRouter{"test-model"}, nil)

		extracted, err := svc.Extract(ctx, cluster, extractionMembers())

		require.NoError(t, err)
		assert.False(t, extracted.Degraded)
		assert.Equal(t, "Summarize the {{document}} in {{count}} bullets", extracted.Body)
		require.Len(t, extracted.Slots, 2)
		assert.Equal(t, models.SlotTypeNumber, extracted.Slots[1].Type)
		assert.InDelta(t, 0.87, extracted.Confidence, 1e-9)
	})

	t.Run("markdown-wrapped JSON is still accepted", func(t *testing.T) {
		client := &llm.MockClient{
			CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
				return &llm.Response{Content: "```json\n" + validExtraction + "\n```"}, nil
			},
		}
		svc := NewExtractorService(client, staticRouter{"test-model"}, nil)

		extracted, err := svc.Extract(ctx, cluster, extractionMembers())

		require.NoError(t, err)
		assert.False(t, extracted.Degraded)
	})

	t.Run("schema violation retries stricter then succeeds", func(t *testing.T) {
		calls := 0
		client := &llm.MockClient{
			CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
				calls++
				if calls == 1 {
					return &llm.Response{Content: `{"wrong": true}`}, nil
				}
				assert.Contains(t, req.System, "failed schema validation")
				return &llm.Response{Content: validExtraction}, nil
			},
		}
		svc := NewExtractorService(client, staticRouter{"test-model"}, nil)

		extracted, err := svc.Extract(ctx, cluster, extractionMembers())

		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.False(t, extracted.Degraded)
	})

	t.Run("two schema failures degrade to the fallback", func(t *testing.T) {
		client := &llm.MockClient{
			CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
				return &llm.Response{Content: "not json at all"}, nil
			},
		}
		svc := NewExtractorService(client, staticRouter{"test-model"}, nil)

		extracted, err := svc.Extract(ctx, cluster, extractionMembers())

		require.NoError(t, err)
		assert.True(t, extracted.Degraded)
		assert.LessOrEqual(t, extracted.Confidence, fallbackConfidenceCap)
		assert.NotEmpty(t, extracted.Body)
	})

	t.Run("provider errors also degrade instead of failing", func(t *testing.T) {
		client := &llm.MockClient{
			CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
				return nil, errors.New("rate limited")
			},
		}
		svc := NewExtractorService(client, staticRouter{"test-model"}, nil)

		extracted, err := svc.Extract(ctx, cluster, extractionMembers())

		require.NoError(t, err)
		assert.True(t, extracted.Degraded)
	})

	t.Run("empty member set is invalid", func(t *testing.T) {
		svc := NewExtractorService(&llm.MockClient{}, staticRouter{"test-model"}, nil)

		_, err := svc.Extract(ctx, cluster, nil)

		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("slots referenced in the body but missing from the list are repaired", func(t *testing.T) {
		client := &llm.MockClient{
			CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
				return &llm.Response{Content: `{
					"canonical_template": "Translate {{text}} to {{language}}",
					"slots": [{"name": "text", "type": "string"}],
					"confidence": 0.8
				}`}, nil
			},
		}
		svc := NewExtractorService(client, staticRouter{"test-model"}, nil)

		extracted, err := svc.Extract(ctx, cluster, extractionMembers())

		require.NoError(t, err)
		require.Len(t, extracted.Slots, 2)
		assert.Equal(t, "language", extracted.Slots[1].Name)
		assert.Equal(t, models.SlotTypeString, extracted.Slots[1].Type)
		assert.InDelta(t, 0.5, extracted.Slots[1].Confidence, 1e-9)
	})
}

func TestNormalizeSlotType(t *testing.T) {
	assert.Equal(t, models.SlotTypeNumber, normalizeSlotType("Integer"))
	assert.Equal(t, models.SlotTypeBoolean, normalizeSlotType("bool"))
	assert.Equal(t, models.SlotTypeEnum, normalizeSlotType("enum"))
	assert.Equal(t, models.SlotTypeCodeFragment, normalizeSlotType("snippet"))
	assert.Equal(t, models.SlotTypeString, normalizeSlotType("anything else"))
}
