package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/models"
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

func candidates(ids ...string) []models.Candidate {
	out := make([]models.Candidate, len(ids))
	for i, id := range ids {
		out[i] = models.Candidate{UserID: id}
	}
	return out
}

func TestRank_Success(t *testing.T) {
	fake := &fakeLLM{response: json.RawMessage(`{
		"candidates": [
			{"user_id": "u2", "match_score": 0.9, "rationale": "shared interests"},
			{"user_id": "u1", "match_score": 0.4, "rationale": "nearby"}
		],
		"suggested_queries": ["hiking groups", "weekend climbers"]
	}`)}
	r := NewRanker(fake, zap.NewNop())

	res := r.Rank(context.Background(), "hiking", models.ProfileSummary{}, candidates("u1", "u2"), nil)

	if res.Fallback {
		t.Fatal("expected no fallback")
	}
	if len(res.Ranked) != 2 {
		t.Fatalf("expected 2 ranked candidates, got %d", len(res.Ranked))
	}
	if res.Ranked[0].UserID != "u2" || res.Ranked[0].MatchScore != 0.9 {
		t.Errorf("unexpected top entry: %+v", res.Ranked[0])
	}
	if len(res.Suggestions) != 2 {
		t.Errorf("expected 2 suggestions, got %d", len(res.Suggestions))
	}
}

func TestRank_OrdersByScoreNotRetrievalRank(t *testing.T) {
	// u3 retrieved last but scored highest; truncating a page prefix must
	// keep it. Unscored u2 slots in on its rank-derived default.
	fake := &fakeLLM{response: json.RawMessage(`{
		"candidates": [
			{"user_id": "u1", "match_score": 0.3, "rationale": "weak"},
			{"user_id": "u3", "match_score": 0.95, "rationale": "strong"}
		]
	}`)}
	r := NewRanker(fake, zap.NewNop())

	res := r.Rank(context.Background(), "q", models.ProfileSummary{}, candidates("u1", "u2", "u3"), nil)

	if len(res.Ranked) != 3 {
		t.Fatalf("expected 3 ranked candidates, got %d", len(res.Ranked))
	}
	if res.Ranked[0].UserID != "u3" {
		t.Errorf("expected highest-scored candidate first, got %s", res.Ranked[0].UserID)
	}
	for i := 1; i < len(res.Ranked); i++ {
		if res.Ranked[i].MatchScore > res.Ranked[i-1].MatchScore {
			t.Errorf("ranking not sorted by score at %d: %v > %v", i, res.Ranked[i].MatchScore, res.Ranked[i-1].MatchScore)
		}
	}
}

func TestRank_EveryCandidateGetsOneEntry(t *testing.T) {
	// LLM scores only u2 and invents u9; output must cover exactly the
	// retrieved candidates.
	fake := &fakeLLM{response: json.RawMessage(`{
		"candidates": [
			{"user_id": "u2", "match_score": 0.8, "rationale": "good match"},
			{"user_id": "u9", "match_score": 0.99, "rationale": "hallucinated"}
		]
	}`)}
	r := NewRanker(fake, zap.NewNop())

	cands := candidates("u1", "u2", "u3")
	res := r.Rank(context.Background(), "q", models.ProfileSummary{}, cands, nil)

	if len(res.Ranked) != len(cands) {
		t.Fatalf("expected %d entries, got %d", len(cands), len(res.Ranked))
	}
	byID := make(map[string]models.RankedCandidate)
	for _, rc := range res.Ranked {
		byID[rc.UserID] = rc
	}
	for _, c := range cands {
		rc, ok := byID[c.UserID]
		if !ok {
			t.Errorf("candidate %s missing from ranking", c.UserID)
			continue
		}
		if rc.MatchScore < 0 || rc.MatchScore > 1 {
			t.Errorf("score for %s out of range: %v", c.UserID, rc.MatchScore)
		}
	}
	if _, ok := byID["u9"]; ok {
		t.Error("hallucinated candidate u9 must not appear")
	}
}

func TestRank_FallbackDerivesScoresFromRank(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeLLM
	}{
		{"llm error", &fakeLLM{err: errors.New("timeout")}},
		{"malformed json", &fakeLLM{response: json.RawMessage(`[]`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRanker(tt.fake, zap.NewNop())
			cands := candidates("u1", "u2", "u3", "u4")
			res := r.Rank(context.Background(), "q", models.ProfileSummary{}, cands, nil)

			if tt.fake.err != nil && !res.Fallback {
				t.Fatal("expected fallback")
			}
			if len(res.Ranked) != len(cands) {
				t.Fatalf("expected %d entries, got %d", len(cands), len(res.Ranked))
			}
			for i := 1; i < len(res.Ranked); i++ {
				if res.Ranked[i].MatchScore > res.Ranked[i-1].MatchScore {
					t.Errorf("fallback scores must be non-increasing: %v then %v",
						res.Ranked[i-1].MatchScore, res.Ranked[i].MatchScore)
				}
			}
			if res.Ranked[0].MatchScore != 1.0 {
				t.Errorf("top candidate should score 1.0, got %v", res.Ranked[0].MatchScore)
			}
		})
	}
}

func TestRank_ScoresClamped(t *testing.T) {
	fake := &fakeLLM{response: json.RawMessage(`{
		"candidates": [
			{"user_id": "u1", "match_score": 1.8},
			{"user_id": "u2", "match_score": -0.4}
		]
	}`)}
	r := NewRanker(fake, zap.NewNop())

	res := r.Rank(context.Background(), "q", models.ProfileSummary{}, candidates("u1", "u2"), nil)

	if res.Ranked[0].MatchScore != 1 {
		t.Errorf("expected clamp to 1, got %v", res.Ranked[0].MatchScore)
	}
	if res.Ranked[1].MatchScore != 0 {
		t.Errorf("expected clamp to 0, got %v", res.Ranked[1].MatchScore)
	}
}

func TestRank_SuggestionsCapped(t *testing.T) {
	fake := &fakeLLM{response: json.RawMessage(`{
		"candidates": [{"user_id": "u1", "match_score": 0.5}],
		"suggested_queries": ["a", "b", "c", "d", "e"]
	}`)}
	r := NewRanker(fake, zap.NewNop())

	res := r.Rank(context.Background(), "q", models.ProfileSummary{}, candidates("u1"), nil)

	if len(res.Suggestions) != maxSuggestions {
		t.Errorf("expected %d suggestions, got %d", maxSuggestions, len(res.Suggestions))
	}
}

func TestRank_EmptyCandidates(t *testing.T) {
	r := NewRanker(&fakeLLM{err: errors.New("should not be called")}, zap.NewNop())

	res := r.Rank(context.Background(), "q", models.ProfileSummary{}, nil, nil)

	if len(res.Ranked) != 0 {
		t.Errorf("expected empty ranking, got %d", len(res.Ranked))
	}
	if res.Fallback {
		t.Error("empty input is not a fallback")
	}
}

func TestRankScore(t *testing.T) {
	tests := []struct {
		i, n int
		want float64
	}{
		{0, 4, 1.0},
		{3, 4, 0.25},
		{0, 1, 1.0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := rankScore(tt.i, tt.n); got != tt.want {
			t.Errorf("rankScore(%d, %d) = %v, want %v", tt.i, tt.n, got, tt.want)
		}
	}
}
