package retrieval

import (
	"sort"

	"github.com/CodyOutcast/ques-discovery/internal/models"
)

// rrfK is the Reciprocal Rank Fusion constant (standard value from Cormack
// et al. 2009).
const rrfK = 60

// fuseRRF merges the dense and keyword legs via Reciprocal Rank Fusion:
// score(u) = sum over legs of 1/(k + rank(u)). A user appearing in both legs
// accumulates both contributions, so agreement between legs outranks a high
// position in either one alone. Score ties break toward the more recently
// active candidate.
func fuseRRF(dense, keyword []models.Candidate) []models.Candidate {
	merged := make(map[string]*models.Candidate)

	addLeg := func(leg []models.Candidate) {
		for rank, c := range leg {
			contribution := 1.0 / float64(rrfK+rank+1)
			if existing, ok := merged[c.UserID]; ok {
				existing.Score += contribution
				if c.LastActiveAt.After(existing.LastActiveAt) {
					existing.LastActiveAt = c.LastActiveAt
				}
				existing.Source = "fused"
			} else {
				merged[c.UserID] = &models.Candidate{
					UserID:       c.UserID,
					Score:        contribution,
					LastActiveAt: c.LastActiveAt,
					Source:       c.Source,
				}
			}
		}
	}
	addLeg(dense)
	addLeg(keyword)

	results := make([]models.Candidate, 0, len(merged))
	for _, c := range merged {
		results = append(results, *c)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].LastActiveAt.After(results[j].LastActiveAt)
	})

	return results
}
