package casual

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/config"
	"github.com/CodyOutcast/ques-discovery/internal/keyword"
	"github.com/CodyOutcast/ques-discovery/internal/models"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
	"github.com/CodyOutcast/ques-discovery/internal/vectorstore"
)

// ExpiredLister pages through listings whose last activity predates a cutoff.
type ExpiredLister interface {
	ListExpiredCasualRequests(ctx context.Context, cutoff time.Time, limit int) ([]models.CasualRequest, error)
	DeleteCasualRequest(ctx context.Context, userID string) error
}

// SweepIndex is the vector-index surface the sweep needs: paging through
// stored points of one kind and deleting them.
type SweepIndex interface {
	ScrollKind(ctx context.Context, kind string, limit int) ([]vectorstore.StoredEntry, error)
	Delete(ctx context.Context, userID, kind string) error
}

// ProfileSource reports which users still have a live profile. Vectors for
// users missing from the result are reconciled away.
type ProfileSource interface {
	GetSummaries(ctx context.Context, ids []string) (map[string]models.ProfileSummary, error)
}

// Sweeper periodically removes expired casual listings and reconciles the
// vector index against the listing and profile stores. It owns no goroutines
// until Start is called, and Stop blocks until the sweep loop has exited.
type Sweeper struct {
	store    ExpiredLister
	profiles ProfileSource
	index    SweepIndex
	keywords KeywordIndex
	cfg      config.CasualConfig
	logger   *zap.Logger
	now      func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewSweeper(store ExpiredLister, profiles ProfileSource, index SweepIndex, keywords KeywordIndex, cfg config.CasualConfig, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		profiles: profiles,
		index:    index,
		keywords: keywords,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepInterval/2)
				s.SweepOnce(ctx)
				cancel()
			case <-s.stop:
				return
			}
		}
	}()
	s.logger.Info("casual sweeper started",
		zap.Duration("interval", s.cfg.SweepInterval),
		zap.Duration("expiry_age", s.cfg.ExpiryAge),
	)
}

func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.logger.Info("casual sweeper stopped")
}

// SweepOnce runs one full pass: expired listings, then orphaned casual
// vectors, then profile vectors whose profile no longer exists. Per-item
// failures are logged and skipped so one bad record cannot wedge the sweep;
// the item is retried on the next pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	cutoff := s.now().UTC().Add(-s.cfg.ExpiryAge)

	expired, err := s.store.ListExpiredCasualRequests(ctx, cutoff, s.cfg.SweepBatch)
	if err != nil {
		s.logger.Error("listing expired casual requests failed", zap.Error(err))
	} else {
		for _, req := range expired {
			if err := s.index.Delete(ctx, req.UserID, vectorstore.KindCasual); err != nil {
				s.logger.Warn("expired vector delete failed", zap.String("user_id", req.UserID), zap.Error(err))
				continue
			}
			s.deleteKeywordDoc(ctx, req.UserID, vectorstore.KindCasual)
			if err := s.store.DeleteCasualRequest(ctx, req.UserID); err != nil {
				s.logger.Warn("expired listing delete failed", zap.String("user_id", req.UserID), zap.Error(err))
				continue
			}
			observability.SweepDeletions.WithLabelValues("expired").Inc()
		}
		if len(expired) > 0 {
			s.logger.Info("expired casual listings swept", zap.Int("count", len(expired)))
		}
	}

	s.reconcileCasualOrphans(ctx, cutoff)
	s.reconcileProfileOrphans(ctx)
}

// reconcileCasualOrphans removes casual vectors whose payload activity
// timestamp predates the cutoff. These are points left behind when the
// listing record was deleted out of band or a Submit failed between the
// index write and the store write.
func (s *Sweeper) reconcileCasualOrphans(ctx context.Context, cutoff time.Time) {
	entries, err := s.index.ScrollKind(ctx, vectorstore.KindCasual, s.cfg.SweepBatch)
	if err != nil {
		s.logger.Error("scanning casual vectors failed", zap.Error(err))
		return
	}

	var removed int
	for _, entry := range entries {
		if !entry.LastActiveAt.Before(cutoff) {
			continue
		}
		if err := s.index.Delete(ctx, entry.UserID, vectorstore.KindCasual); err != nil {
			s.logger.Warn("orphan vector delete failed", zap.String("user_id", entry.UserID), zap.Error(err))
			continue
		}
		s.deleteKeywordDoc(ctx, entry.UserID, vectorstore.KindCasual)
		observability.SweepDeletions.WithLabelValues("orphan").Inc()
		removed++
	}
	if removed > 0 {
		s.logger.Info("orphan casual vectors removed", zap.Int("count", removed))
	}
}

// reconcileProfileOrphans removes profile vectors whose profile record is
// gone. These survive a missed or dead-lettered DELETE event; hydration skips
// them on every search until the sweep catches up. Deletion is keyed on
// profile liveness, not age, so an active user's vector is never touched.
func (s *Sweeper) reconcileProfileOrphans(ctx context.Context) {
	entries, err := s.index.ScrollKind(ctx, vectorstore.KindProfile, s.cfg.SweepBatch)
	if err != nil {
		s.logger.Error("scanning profile vectors failed", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.UserID)
	}
	live, err := s.profiles.GetSummaries(ctx, ids)
	if err != nil {
		// Fail closed: with liveness unknown, deleting would purge vectors
		// of users who merely hit a store outage.
		s.logger.Error("profile liveness lookup failed", zap.Error(err))
		return
	}

	var removed int
	for _, entry := range entries {
		if _, ok := live[entry.UserID]; ok {
			continue
		}
		if err := s.index.Delete(ctx, entry.UserID, vectorstore.KindProfile); err != nil {
			s.logger.Warn("deleted-profile vector delete failed", zap.String("user_id", entry.UserID), zap.Error(err))
			continue
		}
		s.deleteKeywordDoc(ctx, entry.UserID, vectorstore.KindProfile)
		observability.SweepDeletions.WithLabelValues("deleted_profile").Inc()
		removed++
	}
	if removed > 0 {
		s.logger.Info("deleted-profile vectors removed", zap.Int("count", removed))
	}
}

// deleteKeywordDoc is best-effort. A doc that outlives its vector only adds
// sparse-leg noise and is overwritten if the user ever reappears.
func (s *Sweeper) deleteKeywordDoc(ctx context.Context, userID, kind string) {
	err := s.keywords.Bulk(ctx, []keyword.Action{{
		Op:  "delete",
		Doc: keyword.Doc{UserID: userID, Kind: kind},
	}})
	if err != nil {
		s.logger.Warn("keyword doc delete failed",
			zap.String("user_id", userID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}
