// Package seen tracks which candidate IDs were recently surfaced to each
// requester, so consecutive discovery requests rotate through fresh people
// instead of repeating the same cards.
package seen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/config"
)

type Store struct {
	client redis.UniversalClient
	window time.Duration
	logger *zap.Logger
}

func NewStore(client redis.UniversalClient, window time.Duration, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		window: window,
		logger: logger,
	}
}

// NewRedisClient builds the shared Redis connection used by the seen store
// and the quota gate.
func NewRedisClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	var client redis.UniversalClient

	if len(cfg.Addresses) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// FilterUnseen returns the subset of ids not yet surfaced to the requester
// within the window, preserving input order.
func (s *Store) FilterUnseen(ctx context.Context, requesterID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return ids, nil
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	flags, err := s.client.SMIsMember(ctx, seenKey(requesterID), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("seen-set lookup for %s: %w", requesterID, err)
	}

	unseen := make([]string, 0, len(ids))
	for i, isMember := range flags {
		if !isMember {
			unseen = append(unseen, ids[i])
		}
	}
	return unseen, nil
}

// MarkSeen records ids as surfaced to the requester. The window TTL is
// refreshed on every write, so the set expires one window after the last
// discovery request.
func (s *Store) MarkSeen(ctx context.Context, requesterID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	key := seenKey(requesterID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("marking seen for %s: %w", requesterID, err)
	}
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func seenKey(requesterID string) string {
	return "seen:" + requesterID
}
