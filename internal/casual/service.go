// Package casual manages ephemeral activity listings. A listing moves through
// classified_casual -> optimized -> stored on submission and is removed either
// explicitly by its owner or by the background sweep once it goes stale.
package casual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/intent"
	"github.com/CodyOutcast/ques-discovery/internal/keyword"
	"github.com/CodyOutcast/ques-discovery/internal/models"
	"github.com/CodyOutcast/ques-discovery/internal/queryopt"
	"github.com/CodyOutcast/ques-discovery/internal/vectorstore"
)

// ErrNotCasual is returned when the classifier confidently labels the
// submission as something other than a casual activity proposal.
var ErrNotCasual = errors.New("text does not describe a casual activity")

type Classifier interface {
	Classify(ctx context.Context, text string) intent.Result
}

type Optimizer interface {
	Optimize(ctx context.Context, text string) queryopt.Result
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the slice of the vector index the listing lifecycle needs.
type VectorStore interface {
	Upsert(ctx context.Context, p vectorstore.Point) error
	Delete(ctx context.Context, userID, kind string) error
}

// KeywordIndex mirrors listings into the sparse leg so casual searches match
// on listing text, not just embedding proximity.
type KeywordIndex interface {
	Bulk(ctx context.Context, actions []keyword.Action) error
}

// ListingStore persists casual listings. Upserts are keyed by user ID so a
// user can never hold more than one active listing.
type ListingStore interface {
	UpsertCasualRequest(ctx context.Context, req *models.CasualRequest) error
	DeleteCasualRequest(ctx context.Context, userID string) error
}

type Service struct {
	classifier Classifier
	optimizer  Optimizer
	embedder   Embedder
	vectors    VectorStore
	keywords   KeywordIndex
	store      ListingStore
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(classifier Classifier, optimizer Optimizer, embedder Embedder, vectors VectorStore, keywords KeywordIndex, store ListingStore, logger *zap.Logger) *Service {
	return &Service{
		classifier: classifier,
		optimizer:  optimizer,
		embedder:   embedder,
		vectors:    vectors,
		keywords:   keywords,
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

// Submit classifies, optimizes, indexes, and persists a listing. Resubmitting
// replaces the user's previous listing in both the vector index and the store.
// A heuristic (fallback) classification is accepted regardless of label: the
// user chose the casual endpoint, and low-confidence rejection would make the
// feature unusable whenever the LLM is down.
func (s *Service) Submit(ctx context.Context, userID, text string) (*models.CasualRequest, error) {
	cls := s.classifier.Classify(ctx, text)
	if cls.Label != models.IntentCasual && !cls.Fallback {
		return nil, fmt.Errorf("%w: classified as %s", ErrNotCasual, cls.Label)
	}

	now := s.now().UTC()
	req := newListing(userID, text, now)

	opt := s.optimizer.Optimize(ctx, text)
	applyOptimization(req, opt)

	vector, err := s.embedder.Embed(ctx, opt.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding casual listing: %w", err)
	}

	err = s.vectors.Upsert(ctx, vectorstore.Point{
		UserID:       userID,
		Vector:       vector,
		Kind:         vectorstore.KindCasual,
		Visibility:   "public",
		Location:     opt.Attributes.LocationPhrase,
		Summary:      opt.Query,
		LastActiveAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("indexing casual listing: %w", err)
	}

	// The keyword doc is a degradable search signal; the dense leg still
	// finds the listing if this write is lost.
	err = s.keywords.Bulk(ctx, []keyword.Action{{
		Op: "index",
		Doc: keyword.Doc{
			UserID:       userID,
			ListingText:  opt.Query,
			Kind:         vectorstore.KindCasual,
			Visibility:   "public",
			Location:     opt.Attributes.LocationPhrase,
			LastActiveAt: now,
		},
	}})
	if err != nil {
		s.logger.Warn("keyword indexing of casual listing failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	req.State = models.ListingStateStored
	if err := s.store.UpsertCasualRequest(ctx, req); err != nil {
		// The vector is live but the listing record is not. The sweep
		// reconciles the leftover vector on its next pass.
		return nil, fmt.Errorf("storing casual listing: %w", err)
	}

	s.logger.Info("casual listing stored",
		zap.String("user_id", userID),
		zap.Bool("classifier_fallback", cls.Fallback),
		zap.Bool("optimizer_fallback", opt.Fallback),
	)
	return req, nil
}

// Delete removes the user's listing from the index and the store. Deleting a
// listing that does not exist is a no-op.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if err := s.vectors.Delete(ctx, userID, vectorstore.KindCasual); err != nil {
		return fmt.Errorf("removing casual vector: %w", err)
	}
	err := s.keywords.Bulk(ctx, []keyword.Action{{
		Op:  "delete",
		Doc: keyword.Doc{UserID: userID, Kind: vectorstore.KindCasual},
	}})
	if err != nil {
		return fmt.Errorf("removing casual keyword doc: %w", err)
	}
	if err := s.store.DeleteCasualRequest(ctx, userID); err != nil {
		return fmt.Errorf("removing casual listing: %w", err)
	}
	s.logger.Info("casual listing deleted", zap.String("user_id", userID))
	return nil
}

// newListing seeds a listing record in the classified state; optimization
// and storage advance it through the lifecycle.
func newListing(userID, text string, now time.Time) *models.CasualRequest {
	return &models.CasualRequest{
		UserID:         userID,
		RawText:        text,
		State:          models.ListingStateClassified,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func applyOptimization(req *models.CasualRequest, opt queryopt.Result) {
	req.OptimizedText = opt.Query
	req.Activity = opt.Attributes.Activity
	req.TimePhrase = opt.Attributes.TimePhrase
	req.LocationPhrase = opt.Attributes.LocationPhrase
	req.Preferences = opt.Attributes.Preferences
	req.State = models.ListingStateOptimized
}
