// Package retrieval implements hybrid candidate retrieval: a dense
// nearest-neighbor leg and a sparse keyword leg run concurrently, fused via
// RRF, then filtered against the requester and their recently-seen set.
package retrieval

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/config"
	"github.com/CodyOutcast/ques-discovery/internal/keyword"
	"github.com/CodyOutcast/ques-discovery/internal/models"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
	"github.com/CodyOutcast/ques-discovery/internal/vectorstore"
)

// Request describes one retrieval run.
type Request struct {
	Query       string
	RequesterID string
	Scope       models.Scope
	Location    string
	Limit       int
}

// Outcome reports which legs contributed, so the response metadata can note
// degraded retrieval.
type Outcome struct {
	Candidates   []models.Candidate
	DenseFailed  bool
	SparseFailed bool
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type DenseSearcher interface {
	Query(ctx context.Context, vector []float32, f vectorstore.Filter) ([]vectorstore.Hit, error)
}

type SparseSearcher interface {
	Search(ctx context.Context, query string, f keyword.SearchFilter) ([]models.Candidate, error)
}

type SeenFilter interface {
	FilterUnseen(ctx context.Context, requesterID string, ids []string) ([]string, error)
}

type Retriever struct {
	embedder Embedder
	dense    DenseSearcher
	sparse   SparseSearcher
	seen     SeenFilter
	cfg      config.SearchConfig
	logger   *zap.Logger
}

func NewRetriever(
	embedder Embedder,
	dense DenseSearcher,
	sparse SparseSearcher,
	seen SeenFilter,
	cfg config.SearchConfig,
	logger *zap.Logger,
) *Retriever {
	return &Retriever{
		embedder: embedder,
		dense:    dense,
		sparse:   sparse,
		seen:     seen,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve returns at most req.Limit candidates, best first. The requester
// never appears in the output, nor does any ID surfaced to them within the
// seen window. Either leg failing degrades to the other; both failing is an
// error the caller turns into an empty "no results" response.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Outcome, error) {
	ctx, span := observability.StartSpan(ctx, "retrieval.hybrid",
		attribute.String("scope", string(req.Scope)),
		attribute.Int("limit", req.Limit),
	)
	defer span.End()

	kind := vectorstore.KindProfile
	if req.Scope == models.ScopeCasual {
		kind = vectorstore.KindCasual
	}

	type denseResult struct {
		hits []vectorstore.Hit
		err  error
	}
	type sparseResult struct {
		candidates []models.Candidate
		err        error
	}

	denseCh := make(chan denseResult, 1)
	sparseCh := make(chan sparseResult, 1)

	// Fan-out: the dense leg embeds then queries; the keyword leg needs no
	// embedding and runs immediately.
	go func() {
		vector, err := r.embedder.Embed(ctx, req.Query)
		if err != nil {
			denseCh <- denseResult{err: fmt.Errorf("embedding query: %w", err)}
			return
		}
		hits, err := r.dense.Query(ctx, vector, vectorstore.Filter{
			Kind:           kind,
			Visibility:     "public",
			Location:       req.Location,
			ExcludeUserID:  req.RequesterID,
			ScoreThreshold: r.cfg.ScoreThreshold,
			Limit:          r.cfg.RetrievalK,
		})
		denseCh <- denseResult{hits: hits, err: err}
	}()

	go func() {
		candidates, err := r.sparse.Search(ctx, req.Query, keyword.SearchFilter{
			Kind:          kind,
			Visibility:    "public",
			Location:      req.Location,
			ExcludeUserID: req.RequesterID,
			Limit:         r.cfg.RetrievalK,
		})
		sparseCh <- sparseResult{candidates: candidates, err: err}
	}()

	denseRes := <-denseCh
	sparseRes := <-sparseCh

	outcome := &Outcome{}

	var denseCandidates []models.Candidate
	if denseRes.err != nil {
		outcome.DenseFailed = true
		observability.FallbackCounter.WithLabelValues("retrieval_dense").Inc()
		r.logger.Warn("dense retrieval leg failed, degrading to keyword only",
			zap.Error(denseRes.err))
	} else {
		denseCandidates = make([]models.Candidate, 0, len(denseRes.hits))
		for _, h := range denseRes.hits {
			denseCandidates = append(denseCandidates, models.Candidate{
				UserID:       h.UserID,
				Score:        h.Score,
				LastActiveAt: h.LastActiveAt,
				Source:       "dense",
			})
		}
	}

	var sparseCandidates []models.Candidate
	if sparseRes.err != nil {
		outcome.SparseFailed = true
		observability.FallbackCounter.WithLabelValues("retrieval_keyword").Inc()
		r.logger.Warn("keyword retrieval leg failed, degrading to dense only",
			zap.Error(sparseRes.err))
	} else {
		sparseCandidates = sparseRes.candidates
	}

	if outcome.DenseFailed && outcome.SparseFailed {
		return nil, fmt.Errorf("both retrieval legs failed: dense: %v; keyword: %v",
			denseRes.err, sparseRes.err)
	}

	fused := fuseRRF(denseCandidates, sparseCandidates)
	fused = excludeRequester(fused, req.RequesterID)
	fused = r.dropSeen(ctx, req.RequesterID, fused)

	limit := req.Limit
	if limit <= 0 {
		limit = r.cfg.DefaultPageSize
	}
	if len(fused) > limit {
		fused = fused[:limit]
	}

	outcome.Candidates = fused
	return outcome, nil
}

// excludeRequester drops the requester's own ID. Both legs also filter it at
// the store; this pass holds the invariant when a store-side filter is skipped.
func excludeRequester(candidates []models.Candidate, requesterID string) []models.Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.UserID != requesterID {
			out = append(out, c)
		}
	}
	return out
}

// dropSeen removes IDs surfaced to this requester within the seen window.
// A seen-store failure keeps all candidates (fail-open).
func (r *Retriever) dropSeen(ctx context.Context, requesterID string, candidates []models.Candidate) []models.Candidate {
	if len(candidates) == 0 || r.seen == nil {
		return candidates
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.UserID
	}

	unseen, err := r.seen.FilterUnseen(ctx, requesterID, ids)
	if err != nil {
		r.logger.Warn("seen-set lookup failed, keeping all candidates", zap.Error(err))
		return candidates
	}

	unseenSet := make(map[string]struct{}, len(unseen))
	for _, id := range unseen {
		unseenSet[id] = struct{}{}
	}

	out := candidates[:0]
	for _, c := range candidates {
		if _, ok := unseenSet[c.UserID]; ok {
			out = append(out, c)
		} else {
			observability.SeenFiltered.Inc()
		}
	}
	return out
}
