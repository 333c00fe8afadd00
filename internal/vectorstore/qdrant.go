// Package vectorstore wraps the Qdrant collection holding one dense vector
// per discoverable user. The payload carries the filterable attributes
// (visibility, kind, last activity) used at query time and by the sweep.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/config"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
	"github.com/CodyOutcast/ques-discovery/internal/resilience"
)

// Listing kinds stored in the payload "kind" field.
const (
	KindProfile = "profile"
	KindCasual  = "casual"
)

// Point is one user's entry in the index.
type Point struct {
	UserID       string
	Vector       []float32
	Kind         string
	Visibility   string
	Location     string
	Summary      string
	LastActiveAt time.Time
}

// Hit is a nearest-neighbor match.
type Hit struct {
	UserID       string
	Score        float64
	LastActiveAt time.Time
}

// Filter constrains a query. Zero values mean "no constraint" except
// Limit, which must be positive.
type Filter struct {
	Kind           string
	Visibility     string
	Location       string
	ExcludeUserID  string
	ScoreThreshold float32
	Limit          int
}

type Client struct {
	client     *qdrant.Client
	collection string
	vectorSize int
	timeout    time.Duration
	cb         *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(cfg config.QdrantConfig, cbCfg config.CircuitBreakerConfig, logger *zap.Logger) (*Client, error) {
	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	logger.Info("qdrant client connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection),
	)

	return &Client{
		client:     qc,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
		timeout:    cfg.RequestTimeout,
		cb:         resilience.NewCircuitBreaker("qdrant", cbCfg, logger),
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection when it does not exist yet.
func (c *Client) EnsureCollection(ctx context.Context) error {
	exists, err := c.client.CollectionExists(ctx, c.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", c.collection, err)
	}
	if exists {
		return nil
	}

	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(c.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", c.collection, err)
	}

	c.logger.Info("qdrant collection created", zap.String("collection", c.collection))
	return nil
}

// Upsert writes one point keyed by user ID. Writing twice for the same user
// replaces the previous point, which is what keeps one listing per user.
func (c *Client) Upsert(ctx context.Context, p Point) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := map[string]any{
		"user_id":        p.UserID,
		"kind":           p.Kind,
		"visibility":     p.Visibility,
		"summary":        p.Summary,
		"last_active_at": p.LastActiveAt.Unix(),
	}
	if p.Location != "" {
		payload["location"] = p.Location
	}

	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      pointID(p.UserID, p.Kind),
				Vectors: qdrant.NewVectors(p.Vector...),
				Payload: qdrant.NewValueMap(payload),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert user=%s kind=%s: %w", p.UserID, p.Kind, err)
	}
	return nil
}

// Delete removes a user's point for one kind.
func (c *Client) Delete(ctx context.Context, userID, kind string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.collection,
		Points:         qdrant.NewPointsSelector(pointID(userID, kind)),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete user=%s kind=%s: %w", userID, kind, err)
	}
	return nil
}

// Query runs a filtered nearest-neighbor search, behind the circuit breaker.
func (c *Client) Query(ctx context.Context, vector []float32, f Filter) ([]Hit, error) {
	ctx, span := observability.StartSpan(ctx, "qdrant.query",
		attribute.Int("limit", f.Limit),
		attribute.String("kind", f.Kind),
	)
	defer span.End()

	start := time.Now()
	cbResult, err := c.cb.Execute(func() (any, error) {
		queryCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.executeQuery(queryCtx, vector, f)
	})

	duration := time.Since(start)
	if err != nil {
		observability.RetrievalLegDuration.WithLabelValues("dense", "error").Observe(duration.Seconds())
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	observability.RetrievalLegDuration.WithLabelValues("dense", "success").Observe(duration.Seconds())

	hits, ok := cbResult.([]Hit)
	if !ok {
		return nil, fmt.Errorf("qdrant query: unexpected result type from circuit breaker")
	}
	return hits, nil
}

func (c *Client) executeQuery(ctx context.Context, vector []float32, f Filter) ([]Hit, error) {
	var must []*qdrant.Condition
	if f.Kind != "" {
		must = append(must, qdrant.NewMatch("kind", f.Kind))
	}
	if f.Visibility != "" {
		must = append(must, qdrant.NewMatch("visibility", f.Visibility))
	}
	if f.Location != "" {
		must = append(must, qdrant.NewMatch("location", f.Location))
	}

	var mustNot []*qdrant.Condition
	if f.ExcludeUserID != "" {
		mustNot = append(mustNot, qdrant.NewMatch("user_id", f.ExcludeUserID))
	}

	req := &qdrant.QueryPoints{
		CollectionName: c.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(f.Limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if f.ScoreThreshold > 0 {
		req.ScoreThreshold = qdrant.PtrOf(f.ScoreThreshold)
	}
	if len(must) > 0 || len(mustNot) > 0 {
		req.Filter = &qdrant.Filter{Must: must, MustNot: mustNot}
	}

	points, err := c.client.Query(ctx, req)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(points))
	for _, pt := range points {
		hit := Hit{Score: float64(pt.GetScore())}
		if v, ok := pt.GetPayload()["user_id"]; ok {
			hit.UserID = v.GetStringValue()
		}
		if v, ok := pt.GetPayload()["last_active_at"]; ok {
			hit.LastActiveAt = time.Unix(v.GetIntegerValue(), 0).UTC()
		}
		if hit.UserID == "" {
			// Payload without a user_id cannot be resolved to a profile.
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// StoredEntry is a point surfaced by ScrollKind for the reconciliation sweep.
type StoredEntry struct {
	UserID       string
	Kind         string
	LastActiveAt time.Time
}

// ScrollKind pages through stored points of one kind. Used by the sweep to
// find vectors whose profile or listing has gone away.
func (c *Client) ScrollKind(ctx context.Context, kind string, limit int) ([]StoredEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	points, err := c.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: c.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("kind", kind)},
		},
		Limit:       qdrant.PtrOf(uint32(limit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll kind=%s: %w", kind, err)
	}

	entries := make([]StoredEntry, 0, len(points))
	for _, pt := range points {
		entry := StoredEntry{Kind: kind}
		if v, ok := pt.GetPayload()["user_id"]; ok {
			entry.UserID = v.GetStringValue()
		}
		if v, ok := pt.GetPayload()["last_active_at"]; ok {
			entry.LastActiveAt = time.Unix(v.GetIntegerValue(), 0).UTC()
		}
		if entry.UserID == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// pointID derives a stable UUID from user ID and kind so a user can hold one
// profile point and one casual point without collisions.
func pointID(userID, kind string) *qdrant.PointId {
	return qdrant.NewIDUUID(deterministicUUID(kind + ":" + userID))
}
