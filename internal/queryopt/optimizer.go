// Package queryopt rewrites a raw user utterance into a cleaner retrieval
// query plus structured attributes. The degrade policy is identity: when the
// LLM is unavailable the original text passes through untouched, so the
// pipeline never stalls on a malfunctioning dependency.
package queryopt

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/llm"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
)

const systemPrompt = `You rewrite messy user requests into concise search queries for a
people-discovery engine, and extract structured attributes.
Respond with a JSON object:
{"optimized_query": string,
 "activity": string or "",
 "time_phrase": string or "",
 "location_phrase": string or "",
 "preferences": array of short strings}.
Keep optimized_query under 30 words and preserve the user's language.`

// Attributes are the structured fields extracted from the utterance.
type Attributes struct {
	Activity       string
	TimePhrase     string
	LocationPhrase string
	Preferences    []string
}

// Result carries the optimized query. On the fallback path Query equals the
// original text and Attributes is zero.
type Result struct {
	Query          string
	Attributes     Attributes
	Fallback       bool
	FallbackReason string
}

type Optimizer struct {
	llm    llm.Client
	logger *zap.Logger
}

func NewOptimizer(client llm.Client, logger *zap.Logger) *Optimizer {
	return &Optimizer{llm: client, logger: logger}
}

type llmRewrite struct {
	OptimizedQuery string   `json:"optimized_query"`
	Activity       string   `json:"activity"`
	TimePhrase     string   `json:"time_phrase"`
	LocationPhrase string   `json:"location_phrase"`
	Preferences    []string `json:"preferences"`
}

// Optimize never returns an error.
func (o *Optimizer) Optimize(ctx context.Context, text string) Result {
	raw, err := o.llm.CompleteJSON(ctx, "query_optimizer", systemPrompt, text)
	if err != nil {
		o.logger.Warn("query optimization degraded to identity", zap.Error(err))
		return o.identity(text, "llm call failed: "+err.Error())
	}

	var parsed llmRewrite
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return o.identity(text, "llm response did not match schema")
	}

	optimized := strings.TrimSpace(parsed.OptimizedQuery)
	if optimized == "" {
		return o.identity(text, "llm returned empty query")
	}

	prefs := make([]string, 0, len(parsed.Preferences))
	for _, p := range parsed.Preferences {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			prefs = append(prefs, trimmed)
		}
	}

	return Result{
		Query: optimized,
		Attributes: Attributes{
			Activity:       strings.TrimSpace(parsed.Activity),
			TimePhrase:     strings.TrimSpace(parsed.TimePhrase),
			LocationPhrase: strings.TrimSpace(parsed.LocationPhrase),
			Preferences:    prefs,
		},
	}
}

func (o *Optimizer) identity(text, reason string) Result {
	observability.FallbackCounter.WithLabelValues("query_optimizer").Inc()
	return Result{
		Query:          text,
		Attributes:     Attributes{Preferences: []string{}},
		Fallback:       true,
		FallbackReason: reason,
	}
}
