package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promptlens/core/internal/llm"
	"github.com/promptlens/core/internal/models"
)

// EscalationVerdict is the structured decision returned by the reasoning
// collaborator for an ambiguous assignment.
type EscalationVerdict struct {
	Decision   string     `json:"decision"` // merge, new_cluster, reject
	ClusterID  *uuid.UUID `json:"cluster_id,omitempty"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning"`
}

const (
	VerdictMerge      = "merge"
	VerdictNewCluster = "new_cluster"
	VerdictReject     = "reject"
)

// ReasoningCollaborator resolves ambiguous-band assignments and drift
// suspicions through an LLM completion constrained to JSON.
type ReasoningCollaborator struct {
	client  llm.Client
	model   string
	timeout time.Duration
}

// NewReasoningCollaborator creates a collaborator using the given model.
func NewReasoningCollaborator(client llm.Client, model string, timeout time.Duration) *ReasoningCollaborator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ReasoningCollaborator{client: client, model: model, timeout: timeout}
}

const escalationSystemPrompt = `You are deciding whether a prompt belongs to an existing semantic cluster.
Given the prompt and candidate clusters with similarity scores, respond with a JSON object:
{"decision": "merge"|"new_cluster"|"reject", "cluster_id": "<uuid of chosen cluster, only for merge>", "confidence": <0-1>, "reasoning": "<one or two sentences>"}
Choose "merge" only when the prompt asks for the same thing as the cluster's members with different parameters.
Choose "reject" only when the prompt is unintelligible or not a prompt at all.`

// Resolve asks the collaborator for a verdict on an ambiguous assignment.
// The call runs under the configured timeout; callers treat
// context.DeadlineExceeded as the designed fallback path, not a failure.
func (c *ReasoningCollaborator) Resolve(ctx context.Context, prompt *models.Prompt, candidates []models.ClusterCandidate) (*EscalationVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Prompt:\n%s\n\nCandidate clusters:\n", prompt.Content)
	for i, cand := range candidates {
		fmt.Fprintf(&sb, "%d. cluster_id=%s similarity=%.4f\n", i+1, cand.ClusterID, cand.Score)
	}

	resp, err := c.client.Complete(ctx, llm.Request{
		Model:       c.model,
		System:      escalationSystemPrompt,
		User:        sb.String(),
		Temperature: 0.1,
		MaxTokens:   512,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("escalation completion: %w", err)
	}

	verdict, err := parseVerdict(resp.Content)
	if err != nil {
		return nil, err
	}

	// A merge naming a cluster outside the candidate set cannot be trusted.
	if verdict.Decision == VerdictMerge {
		if verdict.ClusterID == nil {
			return nil, fmt.Errorf("escalation verdict: merge without cluster_id")
		}
		found := false
		for _, cand := range candidates {
			if cand.ClusterID == *verdict.ClusterID {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("escalation verdict: cluster %s not among candidates", verdict.ClusterID)
		}
	}

	slog.Info("escalation resolved",
		"prompt_id", prompt.ID,
		"decision", verdict.Decision,
		"confidence", verdict.Confidence,
	)

	return verdict, nil
}

// DriftVerdict is the collaborator's resolution for a drift-suspected cluster.
type DriftVerdict struct {
	Action    string `json:"action"` // resolve, split, merge
	Reasoning string `json:"reasoning"`
}

const (
	DriftActionResolve = "resolve"
	DriftActionSplit   = "split"
	DriftActionMerge   = "merge"
)

const driftSystemPrompt = `You are reviewing a prompt cluster whose recent members have drifted away from its centroid.
Given the cluster's canonical purpose and its most recent member prompts, respond with a JSON object:
{"action": "resolve"|"split"|"merge", "reasoning": "<one or two sentences>"}
Choose "resolve" when the members still ask for the same thing (false alarm).
Choose "split" when two distinct intents are mixed in the cluster.
Choose "merge" when the cluster duplicates a sibling and should be absorbed.`

// ResolveDrift asks the collaborator what to do with a drift-suspected
// cluster, given its recent member contents.
func (c *ReasoningCollaborator) ResolveDrift(ctx context.Context, cluster *models.Cluster, recent []models.Prompt) (*DriftVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Cluster %q (%d members, dispersion above threshold).\n\nRecent member prompts:\n", cluster.Name, cluster.MemberCount)
	for i, p := range recent {
		fmt.Fprintf(&sb, "\n%d. %s\n", i+1, p.Content)
	}

	resp, err := c.client.Complete(ctx, llm.Request{
		Model:       c.model,
		System:      driftSystemPrompt,
		User:        sb.String(),
		Temperature: 0.1,
		MaxTokens:   512,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("drift completion: %w", err)
	}

	var verdict DriftVerdict
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &verdict); err != nil {
		return nil, fmt.Errorf("drift verdict: invalid JSON: %w", err)
	}

	switch verdict.Action {
	case DriftActionResolve, DriftActionSplit, DriftActionMerge:
	default:
		return nil, fmt.Errorf("drift verdict: unknown action %q", verdict.Action)
	}

	slog.Info("drift resolved by collaborator",
		"cluster_id", cluster.ID,
		"action", verdict.Action,
	)

	return &verdict, nil
}

func parseVerdict(content string) (*EscalationVerdict, error) {
	content = extractJSONObject(content)

	var verdict EscalationVerdict
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return nil, fmt.Errorf("escalation verdict: invalid JSON: %w", err)
	}

	switch verdict.Decision {
	case VerdictMerge, VerdictNewCluster, VerdictReject:
	default:
		return nil, fmt.Errorf("escalation verdict: unknown decision %q", verdict.Decision)
	}

	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}

	return &verdict, nil
}

// extractJSONObject strips markdown fences and surrounding prose, returning
// the outermost {...} span when present.
func extractJSONObject(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}

	return content
}
