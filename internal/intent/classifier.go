// Package intent labels a user message as search, casual, inquiry, or other.
// Classification is a total function: when the LLM call fails for any reason
// the classifier answers from keyword heuristics instead of raising, with
// confidence capped so downstream code can tell the two paths apart.
package intent

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/llm"
	"github.com/CodyOutcast/ques-discovery/internal/models"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
)

// FallbackConfidenceCap bounds the confidence of any heuristic answer.
const FallbackConfidenceCap = 0.4

const systemPrompt = `You classify messages sent to a social discovery assistant.
Respond with a JSON object: {"label": one of "search" | "casual" | "inquiry" | "other",
"confidence": number in [0,1], "reasoning": short string}.
"search" = the user wants to find people matching some description.
"casual" = the user proposes a concrete activity to do with someone soon.
"inquiry" = the user asks a question about the service or a person.
"other" = anything else.`

// Result is the classification outcome. Fallback marks the heuristic path;
// when set, FallbackReason records why the LLM answer was unusable.
type Result struct {
	Label          models.Intent
	Confidence     float64
	Reasoning      string
	Fallback       bool
	FallbackReason string
}

type Classifier struct {
	llm    llm.Client
	logger *zap.Logger

	searchKeywords  []string
	casualKeywords  []string
	inquiryKeywords []string
}

func NewClassifier(client llm.Client, logger *zap.Logger) *Classifier {
	return &Classifier{
		llm:    client,
		logger: logger,
		searchKeywords: []string{
			"find", "looking for", "search", "recommend", "match",
			"anyone", "someone", "who is", "people who", "introduce",
		},
		casualKeywords: []string{
			"tonight", "this weekend", "tomorrow", "grab", "hang out",
			"coffee", "dinner", "lunch", "hike", "play", "join me",
		},
		inquiryKeywords: []string{
			"how do", "how does", "what is", "what does", "why",
			"can you", "could you", "help me understand",
		},
	}
}

type llmClassification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classify never returns an error. LLM failure, a malformed response, or an
// unknown label all route to the keyword heuristic.
func (c *Classifier) Classify(ctx context.Context, text string) Result {
	raw, err := c.llm.CompleteJSON(ctx, "intent_classifier", systemPrompt, text)
	if err != nil {
		c.logger.Warn("intent classification degraded to heuristics", zap.Error(err))
		return c.heuristic(text, "llm call failed: "+err.Error())
	}

	var parsed llmClassification
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return c.heuristic(text, "llm response did not match schema")
	}

	label, known := models.ParseIntent(parsed.Label)
	if !known {
		return c.heuristic(text, "llm returned unknown label "+parsed.Label)
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Result{
		Label:      label,
		Confidence: confidence,
		Reasoning:  parsed.Reasoning,
	}
}

func (c *Classifier) heuristic(text, reason string) Result {
	observability.FallbackCounter.WithLabelValues("intent_classifier").Inc()

	lowered := strings.ToLower(text)

	label := models.IntentOther
	switch {
	case containsAny(lowered, c.casualKeywords):
		label = models.IntentCasual
	case containsAny(lowered, c.searchKeywords):
		label = models.IntentSearch
	case containsAny(lowered, c.inquiryKeywords) || strings.HasSuffix(strings.TrimSpace(lowered), "?"):
		label = models.IntentInquiry
	}

	return Result{
		Label:          label,
		Confidence:     FallbackConfidenceCap,
		Reasoning:      "keyword heuristic fallback",
		Fallback:       true,
		FallbackReason: reason,
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
