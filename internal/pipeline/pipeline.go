// Package pipeline runs one discovery request end to end: quota gate, intent
// classification, query optimization, hybrid retrieval, profile hydration,
// ranking, and seen-set bookkeeping. Every stage past the quota gate
// degrades instead of failing; the only errors Discover returns are
// validation and quota denial.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/config"
	"github.com/CodyOutcast/ques-discovery/internal/intent"
	"github.com/CodyOutcast/ques-discovery/internal/models"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
	"github.com/CodyOutcast/ques-discovery/internal/queryopt"
	"github.com/CodyOutcast/ques-discovery/internal/quota"
	"github.com/CodyOutcast/ques-discovery/internal/ranking"
	"github.com/CodyOutcast/ques-discovery/internal/retrieval"
)

// ErrQuotaDenied is returned when the requester's daily allowance is spent.
var ErrQuotaDenied = errors.New("daily discovery quota exhausted")

const maxQueryLen = 500

// ValidationError reports a rejected request field. Validation runs before
// any external call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

const noResultsMessage = "No new results right now. Try again later or broaden your search."

type QuotaGate interface {
	Allow(ctx context.Context, userID string) (quota.Decision, error)
}

type Classifier interface {
	Classify(ctx context.Context, text string) intent.Result
}

type Optimizer interface {
	Optimize(ctx context.Context, text string) queryopt.Result
}

type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Outcome, error)
}

type ProfileSource interface {
	GetSummaries(ctx context.Context, ids []string) (map[string]models.ProfileSummary, error)
}

type Ranker interface {
	Rank(ctx context.Context, query string, requester models.ProfileSummary, candidates []models.Candidate, profiles map[string]models.ProfileSummary) ranking.Result
}

type SeenMarker interface {
	MarkSeen(ctx context.Context, requesterID string, ids []string) error
}

type Pipeline struct {
	gate       QuotaGate
	classifier Classifier
	optimizer  Optimizer
	retriever  Retriever
	profiles   ProfileSource
	ranker     Ranker
	seen       SeenMarker
	detector   *observability.SlowPipelineDetector
	analytics  observability.AnalyticsWriter
	cfg        config.SearchConfig
	logger     *zap.Logger
}

func NewPipeline(
	gate QuotaGate,
	classifier Classifier,
	optimizer Optimizer,
	retriever Retriever,
	profiles ProfileSource,
	ranker Ranker,
	seen SeenMarker,
	detector *observability.SlowPipelineDetector,
	analytics observability.AnalyticsWriter,
	cfg config.SearchConfig,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		gate:       gate,
		classifier: classifier,
		optimizer:  optimizer,
		retriever:  retriever,
		profiles:   profiles,
		ranker:     ranker,
		seen:       seen,
		detector:   detector,
		analytics:  analytics,
		cfg:        cfg,
		logger:     logger,
	}
}

// Discover runs the full pipeline. A nil error with an empty recommendation
// list is a normal outcome; the Message field tells the user why.
func (p *Pipeline) Discover(ctx context.Context, req *models.DiscoverRequest) (*models.DiscoverResponse, error) {
	start := time.Now()

	if err := p.validate(req); err != nil {
		observability.DiscoveryRequestsTotal.WithLabelValues("unknown", "rejected").Inc()
		return nil, err
	}
	p.normalize(req)

	ctx, span := observability.StartSpan(ctx, "pipeline.discover",
		attribute.String("request_id", req.RequestID),
	)
	defer span.End()

	if err := p.checkQuota(ctx, req.UserID); err != nil {
		return nil, err
	}

	var fallbacks []string

	cls := p.stageClassify(ctx, req.Query)
	if cls.Fallback {
		fallbacks = append(fallbacks, "intent_classifier")
	}

	if cls.Label == models.IntentInquiry || cls.Label == models.IntentOther {
		resp := p.messageOnly(req, cls, fallbacks, start)
		p.finish(ctx, req, cls.Label, resp, fallbacks, start)
		return resp, nil
	}

	scope := req.Scope
	if scope == "" {
		scope = models.ScopeGlobal
		if cls.Label == models.IntentCasual {
			scope = models.ScopeCasual
		}
	}

	opt := p.stageOptimize(ctx, req.Query)
	if opt.Fallback {
		fallbacks = append(fallbacks, "query_optimizer")
	}

	outcome := p.stageRetrieve(ctx, req, opt.Query, scope)
	if outcome == nil || len(outcome.Candidates) == 0 {
		degraded := outcome == nil
		resp := p.emptyResponse(req, cls, fallbacks, degraded, start)
		if degraded {
			fallbacks = append(fallbacks, "retrieval")
			resp.Metadata.FallbacksUsed = fallbacks
		}
		p.finish(ctx, req, cls.Label, resp, fallbacks, start)
		return resp, nil
	}
	if outcome.DenseFailed {
		fallbacks = append(fallbacks, "retrieval_dense")
	}
	if outcome.SparseFailed {
		fallbacks = append(fallbacks, "retrieval_keyword")
	}

	candidates, profilesByID, requester, hydrateFallback := p.stageHydrate(ctx, req.UserID, outcome.Candidates)
	if hydrateFallback {
		fallbacks = append(fallbacks, "profile_hydration")
	}
	if len(candidates) == 0 {
		resp := p.emptyResponse(req, cls, fallbacks, false, start)
		p.finish(ctx, req, cls.Label, resp, fallbacks, start)
		return resp, nil
	}

	ranked := p.stageRank(ctx, opt.Query, requester, candidates, profilesByID)
	if ranked.Fallback {
		fallbacks = append(fallbacks, "ranker")
	}

	page := ranked.Ranked
	if len(page) > req.PageSize {
		page = page[:req.PageSize]
	}

	recs := make([]models.Recommendation, 0, len(page))
	shownIDs := make([]string, 0, len(page))
	for _, rc := range page {
		rec := models.Recommendation{
			UserID:     rc.UserID,
			MatchScore: rc.MatchScore,
			Rationale:  rc.Rationale,
		}
		if profile, ok := profilesByID[rc.UserID]; ok {
			rec.DisplayName = profile.DisplayName
			rec.Bio = profile.Bio
			rec.Interests = profile.Interests
		}
		recs = append(recs, rec)
		shownIDs = append(shownIDs, rc.UserID)
	}

	if p.seen != nil && len(shownIDs) > 0 {
		if err := p.seen.MarkSeen(ctx, req.UserID, shownIDs); err != nil {
			p.logger.Warn("marking results as seen failed", zap.Error(err))
		}
	}

	resp := &models.DiscoverResponse{
		Recommendations: recs,
		Suggestions:     ranked.Suggestions,
		TookMs:          time.Since(start).Milliseconds(),
		Metadata: models.ResponseMetadata{
			RequestID:     req.RequestID,
			Intent:        cls.Label.String(),
			FallbacksUsed: fallbacks,
			Candidates:    len(candidates),
			Degraded:      len(fallbacks) > 0,
		},
	}

	p.finish(ctx, req, cls.Label, resp, fallbacks, start)
	return resp, nil
}

func (p *Pipeline) validate(req *models.DiscoverRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.Query) == "" {
		return &ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if len(req.Query) > maxQueryLen {
		return &ValidationError{Field: "query", Reason: fmt.Sprintf("must be at most %d characters", maxQueryLen)}
	}
	if req.Scope != "" && req.Scope != models.ScopeGlobal && req.Scope != models.ScopeCasual {
		return &ValidationError{Field: "scope", Reason: "must be global or casual"}
	}
	if req.PageSize < 0 {
		return &ValidationError{Field: "page_size", Reason: "must not be negative"}
	}
	return nil
}

func (p *Pipeline) normalize(req *models.DiscoverRequest) {
	req.Query = strings.TrimSpace(req.Query)
	if req.PageSize == 0 {
		req.PageSize = p.cfg.DefaultPageSize
	}
	if req.PageSize > p.cfg.MaxPageSize {
		req.PageSize = p.cfg.MaxPageSize
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
}

func (p *Pipeline) checkQuota(ctx context.Context, userID string) error {
	decision, err := p.gate.Allow(ctx, userID)
	if err != nil {
		// The gate itself fails open; an error here is a programming bug.
		return err
	}
	if !decision.Allowed {
		observability.DiscoveryRequestsTotal.WithLabelValues("unknown", "quota_denied").Inc()
		return fmt.Errorf("%w: tier %s limit %d", ErrQuotaDenied, decision.Tier, decision.Limit)
	}
	return nil
}

func (p *Pipeline) stageClassify(ctx context.Context, query string) intent.Result {
	start := time.Now()
	res := p.classifier.Classify(ctx, query)
	observability.StageDuration.WithLabelValues("classify", stageStatus(res.Fallback)).Observe(time.Since(start).Seconds())
	return res
}

func (p *Pipeline) stageOptimize(ctx context.Context, query string) queryopt.Result {
	start := time.Now()
	res := p.optimizer.Optimize(ctx, query)
	observability.StageDuration.WithLabelValues("optimize", stageStatus(res.Fallback)).Observe(time.Since(start).Seconds())
	return res
}

// stageRetrieve returns nil when both legs failed.
func (p *Pipeline) stageRetrieve(ctx context.Context, req *models.DiscoverRequest, query string, scope models.Scope) *retrieval.Outcome {
	start := time.Now()
	outcome, err := p.retriever.Retrieve(ctx, retrieval.Request{
		Query:       query,
		RequesterID: req.UserID,
		Scope:       scope,
		Location:    req.Location,
		Limit:       p.cfg.RetrievalK,
	})
	if err != nil {
		observability.StageDuration.WithLabelValues("retrieve", "error").Observe(time.Since(start).Seconds())
		p.logger.Error("retrieval failed on both legs",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return nil
	}
	observability.StageDuration.WithLabelValues("retrieve", "success").Observe(time.Since(start).Seconds())
	return outcome
}

// stageHydrate resolves candidate IDs to profiles. Candidates whose profile
// is gone are dropped; a hydration outage keeps the candidates and ranks
// them without profile context.
func (p *Pipeline) stageHydrate(ctx context.Context, requesterID string, candidates []models.Candidate) ([]models.Candidate, map[string]models.ProfileSummary, models.ProfileSummary, bool) {
	start := time.Now()

	ids := make([]string, 0, len(candidates)+1)
	ids = append(ids, requesterID)
	for _, c := range candidates {
		ids = append(ids, c.UserID)
	}

	summaries, err := p.profiles.GetSummaries(ctx, ids)
	if err != nil {
		observability.StageDuration.WithLabelValues("hydrate", "error").Observe(time.Since(start).Seconds())
		p.logger.Warn("profile hydration failed, ranking without profile context", zap.Error(err))
		return candidates, map[string]models.ProfileSummary{}, models.ProfileSummary{UserID: requesterID}, true
	}

	kept := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := summaries[c.UserID]; !ok {
			observability.OrphanVectorsSkipped.Inc()
			continue
		}
		kept = append(kept, c)
	}

	requester, ok := summaries[requesterID]
	if !ok {
		requester = models.ProfileSummary{UserID: requesterID}
	}

	observability.StageDuration.WithLabelValues("hydrate", "success").Observe(time.Since(start).Seconds())
	return kept, summaries, requester, false
}

func (p *Pipeline) stageRank(ctx context.Context, query string, requester models.ProfileSummary, candidates []models.Candidate, profiles map[string]models.ProfileSummary) ranking.Result {
	start := time.Now()
	res := p.ranker.Rank(ctx, query, requester, candidates, profiles)
	observability.StageDuration.WithLabelValues("rank", stageStatus(res.Fallback)).Observe(time.Since(start).Seconds())
	return res
}

func (p *Pipeline) messageOnly(req *models.DiscoverRequest, cls intent.Result, fallbacks []string, start time.Time) *models.DiscoverResponse {
	message := "I can help you find people. Try describing who you would like to meet."
	if cls.Label == models.IntentInquiry {
		message = "That sounds like a question. Describe the kind of person you want to find and I will search for matches."
	}
	return &models.DiscoverResponse{
		Recommendations: []models.Recommendation{},
		Message:         message,
		TookMs:          time.Since(start).Milliseconds(),
		Metadata: models.ResponseMetadata{
			RequestID:     req.RequestID,
			Intent:        cls.Label.String(),
			FallbacksUsed: fallbacks,
			Degraded:      len(fallbacks) > 0,
		},
	}
}

func (p *Pipeline) emptyResponse(req *models.DiscoverRequest, cls intent.Result, fallbacks []string, degraded bool, start time.Time) *models.DiscoverResponse {
	return &models.DiscoverResponse{
		Recommendations: []models.Recommendation{},
		Message:         noResultsMessage,
		TookMs:          time.Since(start).Milliseconds(),
		Metadata: models.ResponseMetadata{
			RequestID:     req.RequestID,
			Intent:        cls.Label.String(),
			FallbacksUsed: fallbacks,
			Degraded:      degraded || len(fallbacks) > 0,
		},
	}
}

func (p *Pipeline) finish(ctx context.Context, req *models.DiscoverRequest, label models.Intent, resp *models.DiscoverResponse, fallbacks []string, start time.Time) {
	duration := time.Since(start)

	status := "success"
	if resp.Metadata.Degraded {
		status = "degraded"
	}
	observability.DiscoveryRequestsTotal.WithLabelValues(label.String(), status).Inc()
	observability.DiscoveryRequestDuration.WithLabelValues(label.String(), status).Observe(duration.Seconds())

	if p.detector != nil {
		p.detector.Intercept(ctx, req.Query, label.String(), duration, len(resp.Recommendations), fallbacks)
	}

	if p.analytics != nil {
		event := &models.DiscoveryEvent{
			EventType:     "discover",
			RequestID:     req.RequestID,
			QueryHash:     observability.HashQuery(req.Query),
			Intent:        label.String(),
			Scope:         string(req.Scope),
			DurationMs:    float64(duration.Milliseconds()),
			ResultCount:   len(resp.Recommendations),
			FallbacksUsed: fallbacks,
			Degraded:      resp.Metadata.Degraded,
			Timestamp:     time.Now().UTC(),
			TraceID:       observability.TraceIDFromContext(ctx),
		}
		go func() {
			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.analytics.WriteDiscoveryEvent(writeCtx, event); err != nil {
				p.logger.Warn("analytics write failed", zap.String("request_id", event.RequestID), zap.Error(err))
			}
		}()
	}
}

func stageStatus(fallback bool) string {
	if fallback {
		return "fallback"
	}
	return "success"
}
