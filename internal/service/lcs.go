package service

import (
	"fmt"
	"strings"

	"github.com/promptlens/core/internal/models"
)

// fallbackConfidenceCap bounds the confidence of templates produced without
// the LLM. A degraded template is better than none but must never look as
// trustworthy as a validated extraction.
const fallbackConfidenceCap = 0.5

// fallbackTemplate builds a degraded template from the members' common token
// subsequence. Runs of tokens that vary between prompts collapse into
// generated {{param_N}} slots with the observed values as examples.
func fallbackTemplate(contents []string) *ExtractedTemplate {
	if len(contents) == 0 {
		return &ExtractedTemplate{Body: "", Slots: []models.TemplateSlot{}, Confidence: 0, Degraded: true}
	}

	tokenLists := make([][]string, len(contents))
	for i, c := range contents {
		tokenLists[i] = strings.Fields(c)
	}

	// Fold the pairwise LCS across all members.
	common := tokenLists[0]
	for _, tokens := range tokenLists[1:] {
		common = lcsTokens(common, tokens)
		if len(common) == 0 {
			break
		}
	}

	body, slots := assembleFallback(common, tokenLists)

	confidence := fallbackConfidenceCap
	if len(common) == 0 {
		confidence = 0.1
	}

	return &ExtractedTemplate{
		Body:        body,
		Slots:       slots,
		Confidence:  confidence,
		Explanation: "degraded template derived from the members' longest common token subsequence after extraction failed validation",
		Degraded:    true,
	}
}

// lcsTokens returns the longest common subsequence of two token slices.
func lcsTokens(a, b []string) []string {
	n, m := len(a), len(b)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	out := make([]string, 0, dp[n][m])
	for i, j := n, m; i > 0 && j > 0; {
		switch {
		case a[i-1] == b[j-1]:
			out = append(out, a[i-1])
			i--
			j--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}

	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}

	return out
}

// assembleFallback interleaves the common tokens with {{param_N}} slots at
// positions where members diverge, collecting example values per slot.
func assembleFallback(common []string, tokenLists [][]string) (string, []models.TemplateSlot) {
	if len(common) == 0 {
		// Nothing shared: the whole prompt is one variable slot.
		examples := make([]string, 0, len(tokenLists))
		for _, tokens := range tokenLists {
			examples = appendExample(examples, strings.Join(tokens, " "))
		}
		return "{{param_1}}", []models.TemplateSlot{{
			Name:          "param_1",
			Type:          models.SlotTypeString,
			ExampleValues: examples,
			Confidence:    fallbackConfidenceCap,
		}}
	}

	// Track a cursor per member; between consecutive common tokens, each
	// member contributes the tokens it has in the gap.
	cursors := make([]int, len(tokenLists))
	var parts []string
	var slots []models.TemplateSlot
	slotCount := 0

	emitGap := func(gaps []string) {
		hasValue := false
		for _, g := range gaps {
			if g != "" {
				hasValue = true
				break
			}
		}
		if !hasValue {
			return
		}

		slotCount++
		name := fmt.Sprintf("param_%d", slotCount)
		examples := []string{}
		for _, g := range gaps {
			if g != "" {
				examples = appendExample(examples, g)
			}
		}
		parts = append(parts, "{{"+name+"}}")
		slots = append(slots, models.TemplateSlot{
			Name:          name,
			Type:          models.SlotTypeString,
			ExampleValues: examples,
			Confidence:    fallbackConfidenceCap,
		})
	}

	for _, tok := range common {
		gaps := make([]string, len(tokenLists))
		for i, tokens := range tokenLists {
			start := cursors[i]
			for cursors[i] < len(tokens) && tokens[cursors[i]] != tok {
				cursors[i]++
			}
			gaps[i] = strings.Join(tokens[start:cursors[i]], " ")
			if cursors[i] < len(tokens) {
				cursors[i]++ // consume the common token
			}
		}
		emitGap(gaps)
		parts = append(parts, tok)
	}

	// Trailing tokens after the last common token.
	gaps := make([]string, len(tokenLists))
	for i, tokens := range tokenLists {
		gaps[i] = strings.Join(tokens[cursors[i]:], " ")
	}
	emitGap(gaps)

	return strings.Join(parts, " "), slots
}

func appendExample(examples []string, v string) []string {
	const maxExamples = 5
	for _, e := range examples {
		if e == v {
			return examples
		}
	}
	if len(examples) >= maxExamples {
		return examples
	}
	return append(examples, v)
}
