// Package profiles is the read/write boundary to the profile document store.
// The pipeline consumes exactly two surfaces: batched summary fetches for
// hydration and ranking context, and per-user casual-request upserts.
package profiles

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/CodyOutcast/ques-discovery/internal/config"
	"github.com/CodyOutcast/ques-discovery/internal/models"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
)

type Client struct {
	client *firestore.Client
	cfg    config.FirestoreConfig
	logger *zap.Logger
}

func NewClient(ctx context.Context, cfg config.FirestoreConfig, logger *zap.Logger) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	logger.Info("profile store connected", zap.String("project", cfg.ProjectID))

	return &Client{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// GetSummaries fetches profile summaries for the given IDs in batches.
// Missing profiles are skipped, not errors: a vector may outlive its profile
// until the sweep reconciles them.
func (c *Client) GetSummaries(ctx context.Context, ids []string) (map[string]models.ProfileSummary, error) {
	ctx, span := observability.StartSpan(ctx, "profiles.get_summaries",
		attribute.Int("count", len(ids)),
	)
	defer span.End()

	result := make(map[string]models.ProfileSummary, len(ids))

	batchSize := c.cfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		batchCtx, batchCancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)

		refs := make([]*firestore.DocumentRef, len(batch))
		for j, id := range batch {
			refs[j] = c.client.Collection(c.cfg.ProfilesCollection).Doc(id)
		}

		docs, err := c.client.GetAll(batchCtx, refs)
		batchCancel()
		if err != nil {
			return nil, fmt.Errorf("profiles get_all batch %d: %w", i/batchSize, err)
		}

		for _, doc := range docs {
			if !doc.Exists() {
				continue
			}
			var summary models.ProfileSummary
			if err := doc.DataTo(&summary); err != nil {
				c.logger.Warn("malformed profile document skipped",
					zap.String("user_id", doc.Ref.ID),
					zap.Error(err),
				)
				continue
			}
			summary.UserID = doc.Ref.ID
			result[doc.Ref.ID] = summary
		}
	}

	return result, nil
}

// GetMembershipTier returns the requester's tier, or "" when the profile is
// missing.
func (c *Client) GetMembershipTier(ctx context.Context, userID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	doc, err := c.client.Collection(c.cfg.ProfilesCollection).Doc(userID).Get(ctx)
	if err != nil {
		// Firestore returns a snapshot with Exists()==false on NotFound.
		if doc != nil && !doc.Exists() {
			return "", nil
		}
		return "", fmt.Errorf("profiles get tier %s: %w", userID, err)
	}

	var summary models.ProfileSummary
	if err := doc.DataTo(&summary); err != nil {
		return "", fmt.Errorf("profiles decode tier %s: %w", userID, err)
	}
	return summary.MembershipTier, nil
}

// UpsertCasualRequest writes the listing keyed by user ID. Set replaces any
// existing document, which is what enforces one active listing per user.
func (c *Client) UpsertCasualRequest(ctx context.Context, req *models.CasualRequest) error {
	ctx, span := observability.StartSpan(ctx, "profiles.upsert_casual",
		attribute.String("user_id", req.UserID),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	_, err := c.client.Collection(c.cfg.CasualCollection).Doc(req.UserID).Set(ctx, req)
	if err != nil {
		return fmt.Errorf("upsert casual request %s: %w", req.UserID, err)
	}
	return nil
}

func (c *Client) DeleteCasualRequest(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	_, err := c.client.Collection(c.cfg.CasualCollection).Doc(userID).Delete(ctx)
	if err != nil {
		return fmt.Errorf("delete casual request %s: %w", userID, err)
	}
	return nil
}

// ListExpiredCasualRequests returns listings whose last activity predates
// the cutoff, up to limit. These are the sweep's deletion candidates.
func (c *Client) ListExpiredCasualRequests(ctx context.Context, cutoff time.Time, limit int) ([]models.CasualRequest, error) {
	ctx, span := observability.StartSpan(ctx, "profiles.list_expired_casual")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	iter := c.client.Collection(c.cfg.CasualCollection).
		Where("last_activity_at", "<", cutoff).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var expired []models.CasualRequest
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing expired casual requests: %w", err)
		}

		var req models.CasualRequest
		if err := doc.DataTo(&req); err != nil {
			c.logger.Warn("malformed casual request skipped",
				zap.String("user_id", doc.Ref.ID),
				zap.Error(err),
			)
			continue
		}
		req.UserID = doc.Ref.ID
		expired = append(expired, req)
	}

	return expired, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	iter := c.client.Collection(c.cfg.ProfilesCollection).Limit(1).Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	// iterator.Done means the collection is empty but reachable.
	if err != nil && err != iterator.Done {
		return fmt.Errorf("profile store health check: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
