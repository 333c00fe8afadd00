// Package quota gates discovery requests on membership-tier daily limits.
// The gate is the pipeline's only contact with billing state: downstream
// components never see tiers or counters.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/config"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
)

// TierSource resolves a user's membership tier.
type TierSource interface {
	GetMembershipTier(ctx context.Context, userID string) (string, error)
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Allowed   bool
	Tier      string
	Used      int64
	Limit     int
	RetryTime time.Time
}

type Gate struct {
	client redis.UniversalClient
	tiers  TierSource
	cfg    config.QuotaConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewGate(client redis.UniversalClient, tiers TierSource, cfg config.QuotaConfig, logger *zap.Logger) *Gate {
	return &Gate{
		client: client,
		tiers:  tiers,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Allow checks and consumes one unit of the requester's daily allowance.
// Redis or tier-lookup failures fail open: availability of discovery beats
// strict quota enforcement, and the miss is logged for reconciliation.
func (g *Gate) Allow(ctx context.Context, userID string) (Decision, error) {
	tier, err := g.tiers.GetMembershipTier(ctx, userID)
	if err != nil {
		g.logger.Warn("tier lookup failed, failing open", zap.String("user_id", userID), zap.Error(err))
		return Decision{Allowed: true, Tier: g.cfg.DefaultTier}, nil
	}
	if tier == "" {
		tier = g.cfg.DefaultTier
	}

	limit, ok := g.cfg.DailyLimits[tier]
	if !ok {
		limit = g.cfg.DailyLimits[g.cfg.DefaultTier]
	}
	if limit < 0 {
		return Decision{Allowed: true, Tier: tier, Limit: limit}, nil
	}

	day := g.now().UTC()
	key := quotaKey(userID, day)

	pipe := g.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, time.Until(endOfDay(day)))
	if _, err := pipe.Exec(ctx); err != nil {
		g.logger.Warn("quota counter failed, failing open", zap.String("user_id", userID), zap.Error(err))
		return Decision{Allowed: true, Tier: tier, Limit: limit}, nil
	}

	used := incr.Val()
	if used > int64(limit) {
		observability.QuotaDenials.WithLabelValues(tier).Inc()
		return Decision{
			Allowed:   false,
			Tier:      tier,
			Used:      used,
			Limit:     limit,
			RetryTime: endOfDay(day),
		}, nil
	}

	return Decision{Allowed: true, Tier: tier, Used: used, Limit: limit}, nil
}

func quotaKey(userID string, day time.Time) string {
	return fmt.Sprintf("quota:%s:%s", userID, day.Format("20060102"))
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
