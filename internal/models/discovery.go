package models

import "time"

type Intent int

const (
	IntentSearch Intent = iota
	IntentCasual
	IntentInquiry
	IntentOther
)

func (i Intent) String() string {
	switch i {
	case IntentSearch:
		return "search"
	case IntentCasual:
		return "casual"
	case IntentInquiry:
		return "inquiry"
	case IntentOther:
		return "other"
	default:
		return "unknown"
	}
}

// ParseIntent maps a label string (as returned by the LLM) to an Intent.
// Unrecognized labels map to IntentOther.
func ParseIntent(label string) (Intent, bool) {
	switch label {
	case "search":
		return IntentSearch, true
	case "casual":
		return IntentCasual, true
	case "inquiry":
		return IntentInquiry, true
	case "other":
		return IntentOther, true
	default:
		return IntentOther, false
	}
}

// Scope controls which listings a discovery request searches over.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeCasual Scope = "casual"
)

type DiscoverRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	Scope     Scope  `json:"scope,omitempty"`
	Location  string `json:"location,omitempty"`
	PageSize  int    `json:"page_size,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type DiscoverResponse struct {
	Recommendations []Recommendation `json:"recommendations"`
	Suggestions     []string         `json:"suggestions,omitempty"`
	Message         string           `json:"message,omitempty"`
	TookMs          int64            `json:"took_ms"`
	Metadata        ResponseMetadata `json:"metadata"`
}

// Recommendation is one ranked candidate assembled into a response card.
type Recommendation struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name,omitempty"`
	Bio         string   `json:"bio,omitempty"`
	Interests   []string `json:"interests,omitempty"`
	MatchScore  float64  `json:"match_score"`
	Rationale   string   `json:"rationale,omitempty"`
}

type ResponseMetadata struct {
	RequestID     string   `json:"request_id"`
	Intent        string   `json:"intent"`
	FallbacksUsed []string `json:"fallbacks_used,omitempty"`
	Candidates    int      `json:"candidates"`
	Degraded      bool     `json:"degraded,omitempty"`
}

// Candidate is a retrieval hit before ranking.
type Candidate struct {
	UserID       string
	Score        float64
	LastActiveAt time.Time
	Source       string // "dense", "keyword", or "fused"
}

// RankedCandidate is the ranker's per-candidate output. Ephemeral, never
// persisted; regenerated on every request.
type RankedCandidate struct {
	UserID     string
	MatchScore float64
	Rationale  string
}

// ProfileSummary is the slice of a user profile the pipeline needs: the
// searchable text for ranking context plus activity recency for tie-breaks.
type ProfileSummary struct {
	UserID         string    `firestore:"user_id" json:"user_id"`
	DisplayName    string    `firestore:"display_name" json:"display_name"`
	Bio            string    `firestore:"bio" json:"bio"`
	Skills         []string  `firestore:"skills" json:"skills"`
	Interests      []string  `firestore:"interests" json:"interests"`
	Location       string    `firestore:"location" json:"location"`
	Visibility     string    `firestore:"visibility" json:"visibility"`
	MembershipTier string    `firestore:"membership_tier" json:"membership_tier"`
	LastActiveAt   time.Time `firestore:"last_active_at" json:"last_active_at"`
}

// ListingState tracks a casual-request listing through its lifecycle:
// none -> classified -> optimized -> stored -> expired.
type ListingState string

const (
	ListingStateClassified ListingState = "classified_casual"
	ListingStateOptimized  ListingState = "optimized"
	ListingStateStored     ListingState = "stored"
	ListingStateExpired    ListingState = "expired"
)

// CasualRequest is a per-user ephemeral listing. Exactly one active listing
// per user: writes are upserts keyed by UserID.
type CasualRequest struct {
	UserID         string       `firestore:"user_id" json:"user_id"`
	RawText        string       `firestore:"raw_text" json:"raw_text"`
	OptimizedText  string       `firestore:"optimized_text" json:"optimized_text"`
	Activity       string       `firestore:"activity" json:"activity,omitempty"`
	TimePhrase     string       `firestore:"time_phrase" json:"time_phrase,omitempty"`
	LocationPhrase string       `firestore:"location_phrase" json:"location_phrase,omitempty"`
	Preferences    []string     `firestore:"preferences" json:"preferences,omitempty"`
	State          ListingState `firestore:"state" json:"state"`
	CreatedAt      time.Time    `firestore:"created_at" json:"created_at"`
	LastActivityAt time.Time    `firestore:"last_activity_at" json:"last_activity_at"`
}

// ProfileEvent is a profile change consumed from the ingestion topic.
type ProfileEvent struct {
	Type      string         `json:"type"` // CREATE, UPDATE, DELETE
	UserID    string         `json:"user_id"`
	Profile   map[string]any `json:"profile,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Version   int64          `json:"version"`
}

// DiscoveryEvent is the analytics record emitted per pipeline run.
type DiscoveryEvent struct {
	EventType     string    `json:"event_type"`
	RequestID     string    `json:"request_id"`
	QueryHash     string    `json:"query_hash"`
	Intent        string    `json:"intent"`
	Scope         string    `json:"scope"`
	DurationMs    float64   `json:"duration_ms"`
	ResultCount   int       `json:"result_count"`
	FallbacksUsed []string  `json:"fallbacks_used,omitempty"`
	Degraded      bool      `json:"degraded"`
	Timestamp     time.Time `json:"timestamp"`
	TraceID       string    `json:"trace_id"`
}
