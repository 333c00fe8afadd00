// Package ranking scores retrieved candidates against the requester's
// profile with one batched LLM call, producing a match score and short
// rationale per candidate plus suggested follow-up queries. Ranking is a
// total function: LLM failure degrades to scores derived from retrieval
// rank, one entry per candidate, never an error.
package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/llm"
	"github.com/CodyOutcast/ques-discovery/internal/models"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
)

const systemPrompt = `You rank candidate profiles for a social discovery query.
Given the requester's profile, their query, and a numbered candidate list,
respond with a JSON object:
{"candidates": [{"user_id": string, "match_score": number in [0,1], "rationale": short string}],
 "suggested_queries": [up to 3 short follow-up query strings]}.
Score every candidate exactly once. Rationales explain the match in one sentence.`

// maxSuggestions bounds the follow-up queries surfaced to the requester.
const maxSuggestions = 3

// Result is the ranking outcome. On the fallback path scores are linearly
// mapped from retrieval rank and Suggestions is empty.
type Result struct {
	Ranked         []models.RankedCandidate
	Suggestions    []string
	Fallback       bool
	FallbackReason string
}

type Ranker struct {
	llm    llm.Client
	logger *zap.Logger
}

func NewRanker(client llm.Client, logger *zap.Logger) *Ranker {
	return &Ranker{llm: client, logger: logger}
}

type llmRanking struct {
	Candidates []struct {
		UserID     string  `json:"user_id"`
		MatchScore float64 `json:"match_score"`
		Rationale  string  `json:"rationale"`
	} `json:"candidates"`
	SuggestedQueries []string `json:"suggested_queries"`
}

// Rank orders candidates for the requester. Candidates arrive in retrieval
// order; profiles maps candidate ID to its summary. Never returns an error.
func (r *Ranker) Rank(ctx context.Context, query string, requester models.ProfileSummary, candidates []models.Candidate, profiles map[string]models.ProfileSummary) Result {
	if len(candidates) == 0 {
		return Result{Ranked: []models.RankedCandidate{}}
	}

	raw, err := r.llm.CompleteJSON(ctx, "candidate_ranker", systemPrompt,
		buildUserMessage(query, requester, candidates, profiles))
	if err != nil {
		r.logger.Warn("ranking degraded to rank-derived scores", zap.Error(err))
		return r.rankFallback(candidates, "llm call failed: "+err.Error())
	}

	var parsed llmRanking
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return r.rankFallback(candidates, "llm response did not match schema")
	}

	scores := make(map[string]models.RankedCandidate, len(parsed.Candidates))
	for _, c := range parsed.Candidates {
		scores[c.UserID] = models.RankedCandidate{
			UserID:     c.UserID,
			MatchScore: clamp01(c.MatchScore),
			Rationale:  strings.TrimSpace(c.Rationale),
		}
	}

	// One entry per retrieved candidate regardless of what the LLM chose to
	// score; unscored candidates get the rank-derived default.
	ranked := make([]models.RankedCandidate, 0, len(candidates))
	for rank, c := range candidates {
		if rc, ok := scores[c.UserID]; ok {
			ranked = append(ranked, rc)
		} else {
			ranked = append(ranked, models.RankedCandidate{
				UserID:     c.UserID,
				MatchScore: rankScore(rank, len(candidates)),
			})
		}
	}

	// Page truncation keeps a prefix of this slice, so order must follow the
	// scores. Stable sort keeps retrieval order among ties.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].MatchScore > ranked[j].MatchScore
	})

	suggestions := parsed.SuggestedQueries
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}

	return Result{Ranked: ranked, Suggestions: suggestions}
}

// rankFallback maps retrieval rank linearly onto [lowest, 1.0] so the first
// retrieved candidate scores highest.
func (r *Ranker) rankFallback(candidates []models.Candidate, reason string) Result {
	observability.FallbackCounter.WithLabelValues("candidate_ranker").Inc()

	ranked := make([]models.RankedCandidate, len(candidates))
	for rank, c := range candidates {
		ranked[rank] = models.RankedCandidate{
			UserID:     c.UserID,
			MatchScore: rankScore(rank, len(candidates)),
		}
	}

	return Result{
		Ranked:         ranked,
		Suggestions:    []string{},
		Fallback:       true,
		FallbackReason: reason,
	}
}

// rankScore maps position i of n onto (0,1]: the top candidate gets 1.0 and
// the last gets 1/n.
func rankScore(i, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n-i) / float64(n)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func buildUserMessage(query string, requester models.ProfileSummary, candidates []models.Candidate, profiles map[string]models.ProfileSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Query: %s\n\nRequester profile:\n%s\n\nCandidates:\n", query, summarize(requester))
	for i, c := range candidates {
		p, ok := profiles[c.UserID]
		if !ok {
			p = models.ProfileSummary{UserID: c.UserID}
		}
		fmt.Fprintf(&b, "%d. user_id=%s\n%s\n", i+1, c.UserID, summarize(p))
	}

	return b.String()
}

func summarize(p models.ProfileSummary) string {
	var parts []string
	if p.DisplayName != "" {
		parts = append(parts, "name: "+p.DisplayName)
	}
	if p.Bio != "" {
		parts = append(parts, "bio: "+p.Bio)
	}
	if len(p.Skills) > 0 {
		parts = append(parts, "skills: "+strings.Join(p.Skills, ", "))
	}
	if len(p.Interests) > 0 {
		parts = append(parts, "interests: "+strings.Join(p.Interests, ", "))
	}
	if p.Location != "" {
		parts = append(parts, "location: "+p.Location)
	}
	if len(parts) == 0 {
		return "(no profile data)"
	}
	return strings.Join(parts, "\n")
}
