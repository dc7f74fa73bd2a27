package llm

import (
	"regexp"
	"strings"
)

// codePatterns flag text that contains code. Any single match routes the
// request to the code-capable model.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile("(?s)```.*?```"),
	regexp.MustCompile("`[^`]+`"),
	regexp.MustCompile(`\b(def|class|function|import|from|const|let|var|return|if|else|for|while)\b`),
	regexp.MustCompile(`\{[^}]*\}`),
	regexp.MustCompile(`\([^)]*\)\s*=>`),
	regexp.MustCompile(`#include|#define|#ifdef`),
	regexp.MustCompile(`(?i)\b(SELECT|FROM|WHERE|INSERT|UPDATE|DELETE)\b`),
}

// codeKeywords are matched against whole words and counted against the word
// count. A density above codeKeywordDensity marks the text as code heavy even
// without a pattern hit.
var codeKeywords = map[string]struct{}{
	"def": {}, "class": {}, "function": {}, "import": {}, "from": {},
	"const": {}, "let": {}, "var": {}, "return": {}, "if": {}, "else": {},
	"for": {}, "while": {}, "select": {}, "where": {},
}

const codeKeywordDensity = 0.05

// Router picks a completion model based on whether prompt text is code heavy.
type Router struct {
	generalModel string
	codeModel    string
}

// NewRouter creates a router with the given general and code-capable models.
func NewRouter(generalModel, codeModel string) *Router {
	return &Router{generalModel: generalModel, codeModel: codeModel}
}

// DetectCode reports whether text looks code heavy, either by matching a code
// pattern or by exceeding the code keyword density threshold.
func (r *Router) DetectCode(text string) bool {
	for _, p := range codePatterns {
		if p.MatchString(text) {
			return true
		}
	}

	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return false
	}

	hits := 0
	for _, word := range words {
		if _, ok := codeKeywords[strings.Trim(word, ",.;:!?")]; ok {
			hits++
		}
	}

	return float64(hits)/float64(len(words)) > codeKeywordDensity
}

// Route returns the model to use for the given prompt text.
func (r *Router) Route(text string) string {
	if r.DetectCode(text) {
		return r.codeModel
	}
	return r.generalModel
}
