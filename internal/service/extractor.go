package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/llm"
	"github.com/promptlens/core/internal/models"
	"github.com/promptlens/core/internal/observability"
)

// templateExtractionSchema is the fixed contract the LLM response must
// satisfy. Validation failures never surface raw to callers; they trigger
// one stricter retry and then the degraded LCS fallback.
const templateExtractionSchema = `{
	"type": "object",
	"properties": {
		"canonical_template": {"type": "string", "minLength": 1},
		"slots": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"type": {"type": "string"},
					"example_values": {"type": "array", "items": {"type": "string"}},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1}
				},
				"required": ["name", "type"]
			}
		},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"explanation": {"type": "string"}
	},
	"required": ["canonical_template", "slots", "confidence"]
}`

var slotPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// ExtractedTemplate is the extractor's output before versioning.
type ExtractedTemplate struct {
	Body        string
	Slots       []models.TemplateSlot
	Confidence  float64
	Explanation string
	// Degraded marks the LCS fallback path; versioning still commits it.
	Degraded bool
}

// ModelRouter picks a completion model for a member set.
type ModelRouter interface {
	Route(text string) string
}

// ExtractorService derives canonical templates from cluster members via a
// schema-constrained LLM completion.
type ExtractorService struct {
	client     llm.Client
	router     ModelRouter
	schema     *jsonschema.Schema
	maxMembers int
	metrics    observability.PipelineMetrics
}

// NewExtractorService creates the extractor. Panics if the embedded schema
// fails to compile, which is a programming error.
func NewExtractorService(client llm.Client, router ModelRouter, metrics observability.PipelineMetrics) *ExtractorService {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("template.json", strings.NewReader(templateExtractionSchema)); err != nil {
		panic(fmt.Sprintf("extractor schema resource: %v", err))
	}
	schema, err := compiler.Compile("template.json")
	if err != nil {
		panic(fmt.Sprintf("extractor schema compile: %v", err))
	}

	return &ExtractorService{
		client:     client,
		router:     router,
		schema:     schema,
		maxMembers: 10,
		metrics:    metrics,
	}
}

const extractionSystem = "You are an expert at extracting canonical templates from semantically similar prompts. Always return valid JSON."

const extractionStricterSystem = extractionSystem + " Your previous response failed schema validation. Return ONLY a JSON object with keys canonical_template (string), slots (array of {name, type, example_values, confidence}), confidence (number 0-1), explanation (string). No markdown, no prose."

func buildExtractionPrompt(contents []string) string {
	var sb strings.Builder
	sb.WriteString("Given the following semantically similar prompts, extract a canonical template that captures their common structure while identifying variable parts.\n\nPrompts:\n")
	for i, c := range contents {
		fmt.Fprintf(&sb, "\nPrompt %d:\n%s\n", i+1, c)
	}
	sb.WriteString(`
Task:
1. Identify the common structure across all prompts
2. Extract variable parts and replace them with {{variable_name}} placeholders
3. Infer the type of each variable (string, number, boolean, enum, code_fragment)
4. Provide example values for each variable slot
5. Calculate confidence scores for your extraction

Return a JSON object with canonical_template, slots (array of {name, type, example_values, confidence}), confidence (0-1), and explanation.`)

	return sb.String()
}

// Extract derives a template from the cluster's member prompts. The LLM
// response must validate against the fixed schema; after one stricter retry
// the extractor degrades to the LCS fallback instead of failing the cluster.
func (s *ExtractorService) Extract(ctx context.Context, cluster *models.Cluster, members []models.Prompt) (*ExtractedTemplate, error) {
	if len(members) == 0 {
		return nil, apperrors.NewValidationError("members", "cluster has no member prompts")
	}

	contents := make([]string, 0, len(members))
	for i, m := range members {
		if i >= s.maxMembers {
			break
		}
		contents = append(contents, m.Content)
	}

	model := s.router.Route(strings.Join(contents, " "))
	user := buildExtractionPrompt(contents)

	extracted, err := s.completeAndValidate(ctx, model, extractionSystem, user)
	if err != nil {
		slog.Warn("template extraction failed validation, retrying stricter",
			"cluster_id", cluster.ID,
			"error", err,
		)

		extracted, err = s.completeAndValidate(ctx, model, extractionStricterSystem, user)
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordExtractionFallback(ctx, "schema_violation")
		}

		slog.Warn("template extraction degraded to common-subsequence fallback",
			"cluster_id", cluster.ID,
			"error", err,
		)

		extracted = fallbackTemplate(contents)
	}

	repairSlots(extracted)

	slog.Info("template extracted",
		"cluster_id", cluster.ID,
		"slots", len(extracted.Slots),
		"confidence", extracted.Confidence,
		"degraded", extracted.Degraded,
		"model", model,
	)

	return extracted, nil
}

// rawExtraction mirrors the schema for decoding before normalization.
type rawExtraction struct {
	CanonicalTemplate string    `json:"canonical_template"`
	Slots             []rawSlot `json:"slots"`
	Confidence        float64   `json:"confidence"`
	Explanation       string    `json:"explanation"`
}

type rawSlot struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	ExampleValues []string `json:"example_values"`
	Confidence    *float64 `json:"confidence"`
}

func (s *ExtractorService) completeAndValidate(ctx context.Context, model, system, user string) (*ExtractedTemplate, error) {
	resp, err := s.client.Complete(ctx, llm.Request{
		Model:       model,
		System:      system,
		User:        user,
		Temperature: 0.2,
		MaxTokens:   2048,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction completion: %w", err)
	}

	content := extractJSONObject(resp.Content)

	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, apperrors.NewSchemaViolationError(fmt.Sprintf("invalid JSON: %v", err))
	}

	if err := s.schema.Validate(doc); err != nil {
		return nil, apperrors.NewSchemaViolationError(err.Error())
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, apperrors.NewSchemaViolationError(fmt.Sprintf("decode: %v", err))
	}

	slots := make([]models.TemplateSlot, 0, len(raw.Slots))
	for _, rs := range raw.Slots {
		conf := 0.5
		if rs.Confidence != nil {
			conf = *rs.Confidence
		}
		slots = append(slots, models.TemplateSlot{
			Name:          rs.Name,
			Type:          normalizeSlotType(rs.Type),
			ExampleValues: rs.ExampleValues,
			Confidence:    conf,
		})
	}

	return &ExtractedTemplate{
		Body:        raw.CanonicalTemplate,
		Slots:       slots,
		Confidence:  raw.Confidence,
		Explanation: raw.Explanation,
	}, nil
}

// normalizeSlotType maps free-form LLM type strings onto the slot type enum.
func normalizeSlotType(t string) models.SlotType {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "number", "integer", "float":
		return models.SlotTypeNumber
	case "boolean", "bool":
		return models.SlotTypeBoolean
	case "enum":
		return models.SlotTypeEnum
	case "code", "code_fragment", "snippet":
		return models.SlotTypeCodeFragment
	default:
		return models.SlotTypeString
	}
}

// repairSlots appends slots referenced as {{name}} in the body but missing
// from the slot list, typed string with low confidence.
func repairSlots(t *ExtractedTemplate) {
	known := make(map[string]struct{}, len(t.Slots))
	for _, s := range t.Slots {
		known[s.Name] = struct{}{}
	}

	for _, m := range slotPattern.FindAllStringSubmatch(t.Body, -1) {
		name := m[1]
		if _, ok := known[name]; ok {
			continue
		}
		known[name] = struct{}{}
		t.Slots = append(t.Slots, models.TemplateSlot{
			Name:          name,
			Type:          models.SlotTypeString,
			ExampleValues: []string{},
			Confidence:    0.5,
		})
	}
}
