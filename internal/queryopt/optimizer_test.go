package queryopt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type fakeLLM struct {
	response json.RawMessage
	err      error
}

func (f *fakeLLM) CompleteJSON(ctx context.Context, component, systemPrompt, userMessage string) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func TestOptimize_Success(t *testing.T) {
	fake := &fakeLLM{response: json.RawMessage(`{
		"optimized_query": "hiking partner weekend",
		"activity": "hiking",
		"time_phrase": "this weekend",
		"location_phrase": "",
		"preferences": ["outdoorsy", " early riser ", ""]
	}`)}
	o := NewOptimizer(fake, zap.NewNop())

	res := o.Optimize(context.Background(), "umm looking for someone to go hiking with this weekend maybe")

	if res.Fallback {
		t.Fatal("expected no fallback on success")
	}
	if res.Query != "hiking partner weekend" {
		t.Errorf("unexpected optimized query %q", res.Query)
	}
	if res.Attributes.Activity != "hiking" {
		t.Errorf("unexpected activity %q", res.Attributes.Activity)
	}
	// Blank preference entries are dropped, the rest trimmed
	if len(res.Attributes.Preferences) != 2 || res.Attributes.Preferences[1] != "early riser" {
		t.Errorf("unexpected preferences %v", res.Attributes.Preferences)
	}
}

func TestOptimize_IdentityOnFailure(t *testing.T) {
	original := "looking for a climbing buddy near downtown"

	tests := []struct {
		name string
		fake *fakeLLM
	}{
		{"llm error", &fakeLLM{err: errors.New("timeout")}},
		{"malformed json", &fakeLLM{response: json.RawMessage(`{{`)}},
		{"empty query", &fakeLLM{response: json.RawMessage(`{"optimized_query":"   "}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptimizer(tt.fake, zap.NewNop())
			res := o.Optimize(context.Background(), original)

			if !res.Fallback {
				t.Fatal("expected fallback")
			}
			if res.Query != original {
				t.Errorf("identity fallback must return original text, got %q", res.Query)
			}
			if res.Attributes.Preferences == nil || len(res.Attributes.Preferences) != 0 {
				t.Errorf("identity fallback must return empty preferences, got %v", res.Attributes.Preferences)
			}
			if res.FallbackReason == "" {
				t.Error("expected fallback reason to be set")
			}
		})
	}
}
