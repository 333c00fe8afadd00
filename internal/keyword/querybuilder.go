package keyword

// SearchFilter constrains the keyword leg to visible candidates of one kind,
// minus the requester.
type SearchFilter struct {
	Kind          string
	Visibility    string
	Location      string
	ExcludeUserID string
	Limit         int
}

// BuildQuery assembles the Elasticsearch request body for the keyword leg.
// Best-fields multi_match with fuzziness over the profile text fields, with
// listing text boosted highest so casual requests match on what the user
// actually asked for.
func BuildQuery(query string, f SearchFilter) map[string]any {
	boolQuery := map[string]any{
		"must": []map[string]any{
			{
				"multi_match": map[string]any{
					"query":       query,
					"type":        "best_fields",
					"fields":      []string{"listing_text^3", "bio^2", "skills^2", "interests^2", "display_name"},
					"fuzziness":   "AUTO",
					"tie_breaker": 0.3,
				},
			},
		},
	}

	var filters []map[string]any
	if f.Kind != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"kind": f.Kind},
		})
	}
	if f.Visibility != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"visibility": f.Visibility},
		})
	}
	if f.Location != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"location": f.Location},
		})
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	if f.ExcludeUserID != "" {
		boolQuery["must_not"] = []map[string]any{
			{"term": map[string]any{"user_id": f.ExcludeUserID}},
		}
	}

	size := f.Limit
	if size <= 0 {
		size = 50
	}

	return map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"size":  size,
		"_source": []string{
			"user_id",
			"last_active_at",
		},
	}
}
