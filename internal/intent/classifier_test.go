package intent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/llm"
	"github.com/CodyOutcast/ques-discovery/internal/models"
)

type fakeLLM struct {
	response json.RawMessage
	err      error
	calls    int
}

func (f *fakeLLM) CompleteJSON(ctx context.Context, component, systemPrompt, userMessage string) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func TestClassify_LLMSuccess(t *testing.T) {
	fake := &fakeLLM{response: json.RawMessage(`{"label":"search","confidence":0.92,"reasoning":"wants matches"}`)}
	c := NewClassifier(fake, zap.NewNop())

	res := c.Classify(context.Background(), "find me hiking partners")

	if res.Label != models.IntentSearch {
		t.Errorf("expected search intent, got %v", res.Label)
	}
	if res.Confidence != 0.92 {
		t.Errorf("expected confidence 0.92, got %v", res.Confidence)
	}
	if res.Fallback {
		t.Error("expected no fallback on successful LLM call")
	}
}

func TestClassify_LLMErrorFallsBack(t *testing.T) {
	fake := &fakeLLM{err: llm.ErrUnavailable}
	c := NewClassifier(fake, zap.NewNop())

	res := c.Classify(context.Background(), "find me hiking partners")

	if !res.Fallback {
		t.Fatal("expected fallback when LLM is unavailable")
	}
	if res.Label != models.IntentSearch {
		t.Errorf("expected heuristic search intent, got %v", res.Label)
	}
	if res.FallbackReason == "" {
		t.Error("expected fallback reason to be set")
	}
}

func TestClassify_FallbackConfidenceCapped(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeLLM
	}{
		{"llm error", &fakeLLM{err: errors.New("boom")}},
		{"malformed json", &fakeLLM{response: json.RawMessage(`not json`)}},
		{"unknown label", &fakeLLM{response: json.RawMessage(`{"label":"romance","confidence":0.99}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(tt.fake, zap.NewNop())
			res := c.Classify(context.Background(), "looking for someone to hike with")
			if !res.Fallback {
				t.Fatal("expected fallback")
			}
			if res.Confidence > FallbackConfidenceCap {
				t.Errorf("fallback confidence %v exceeds cap %v", res.Confidence, FallbackConfidenceCap)
			}
		})
	}
}

func TestClassify_HeuristicLabels(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.Intent
	}{
		{"casual activity", "anyone want to grab coffee tonight", models.IntentCasual},
		{"search phrasing", "looking for a tennis partner", models.IntentSearch},
		{"question mark", "is this app free?", models.IntentInquiry},
		{"inquiry phrasing", "how does matching work", models.IntentInquiry},
		{"unclassifiable", "hello there", models.IntentOther},
	}

	fake := &fakeLLM{err: errors.New("down")}
	c := NewClassifier(fake, zap.NewNop())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(context.Background(), tt.text)
			if res.Label != tt.want {
				t.Errorf("heuristic(%q) = %v, want %v", tt.text, res.Label, tt.want)
			}
		})
	}
}

func TestClassify_ConfidenceClamped(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     float64
	}{
		{"above one", `{"label":"search","confidence":1.7}`, 1},
		{"negative", `{"label":"search","confidence":-0.3}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(&fakeLLM{response: json.RawMessage(tt.response)}, zap.NewNop())
			res := c.Classify(context.Background(), "find people")
			if res.Confidence != tt.want {
				t.Errorf("expected clamped confidence %v, got %v", tt.want, res.Confidence)
			}
		})
	}
}
