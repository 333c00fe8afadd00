// Package keyword provides the sparse leg of hybrid retrieval: a term-level
// Elasticsearch search over profile and listing text, fused with the dense
// leg by the retriever.
package keyword

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/config"
	"github.com/CodyOutcast/ques-discovery/internal/models"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
	"github.com/CodyOutcast/ques-discovery/internal/resilience"
)

type Client struct {
	es     *elasticsearch.Client
	cb     *gobreaker.CircuitBreaker
	cfg    config.ElasticsearchConfig
	logger *zap.Logger
}

func NewClient(cfg config.ElasticsearchConfig, cbCfg config.CircuitBreakerConfig, logger *zap.Logger) (*Client, error) {
	esCfg := elasticsearch.Config{
		Addresses:  cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	res, err := es.Ping()
	if err != nil {
		return nil, fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch ping returned status: %s", res.Status())
	}

	logger.Info("elasticsearch client connected", zap.Strings("addresses", cfg.Addresses))

	return &Client{
		es:     es,
		cb:     resilience.NewCircuitBreaker("elasticsearch-keyword", cbCfg, logger),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Search runs the keyword leg and returns candidates ordered by BM25 score.
func (c *Client) Search(ctx context.Context, query string, f SearchFilter) ([]models.Candidate, error) {
	ctx, span := observability.StartSpan(ctx, "es.keyword_search",
		attribute.String("index", c.cfg.Index),
	)
	defer span.End()

	start := time.Now()
	cbResult, err := c.cb.Execute(func() (any, error) {
		return c.executeSearch(ctx, BuildQuery(query, f))
	})

	duration := time.Since(start)
	if err != nil {
		observability.RetrievalLegDuration.WithLabelValues("keyword", "error").Observe(duration.Seconds())
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	observability.RetrievalLegDuration.WithLabelValues("keyword", "success").Observe(duration.Seconds())

	candidates, ok := cbResult.([]models.Candidate)
	if !ok {
		return nil, fmt.Errorf("keyword search: unexpected result type from circuit breaker")
	}
	return candidates, nil
}

func (c *Client) executeSearch(ctx context.Context, query map[string]any) ([]models.Candidate, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshaling es query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.cfg.Index),
		c.es.Search.WithBody(bytes.NewReader(body)),
		c.es.Search.WithTimeout(c.cfg.RequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("executing es search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("es search error status=%s body=%s", res.Status(), string(bodyBytes))
	}

	var esResp esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, fmt.Errorf("decoding es response: %w", err)
	}

	candidates := make([]models.Candidate, 0, len(esResp.Hits.Hits))
	for _, h := range esResp.Hits.Hits {
		cand := models.Candidate{
			Score:  h.Score,
			Source: "keyword",
		}
		if h.Source != nil {
			if v, ok := h.Source["user_id"].(string); ok {
				cand.UserID = v
			}
			if v, ok := h.Source["last_active_at"].(string); ok {
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					cand.LastActiveAt = t
				}
			}
		}
		if cand.UserID == "" {
			continue
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// Doc is a document in the keyword index. Profile docs and casual listing
// docs share the index; the document ID is kind:user_id so a user holds at
// most one of each.
type Doc struct {
	UserID       string
	DisplayName  string
	Bio          string
	Skills       []string
	Interests    []string
	ListingText  string
	Kind         string
	Visibility   string
	Location     string
	LastActiveAt time.Time
}

// Action is one bulk operation. Delete actions only need UserID and Kind.
type Action struct {
	Op  string // "index" or "delete"
	Doc Doc
}

func docID(d Doc) string {
	return d.Kind + ":" + d.UserID
}

func (c *Client) Bulk(ctx context.Context, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "es.bulk",
		attribute.Int("batch_size", len(actions)),
	)
	defer span.End()

	var buf bytes.Buffer
	for _, action := range actions {
		meta := map[string]any{
			action.Op: map[string]any{
				"_index": c.cfg.Index,
				"_id":    docID(action.Doc),
			},
		}
		metaLine, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshaling bulk meta: %w", err)
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')

		if action.Op == "delete" {
			continue
		}

		bodyLine, err := json.Marshal(map[string]any{
			"user_id":        action.Doc.UserID,
			"display_name":   action.Doc.DisplayName,
			"bio":            action.Doc.Bio,
			"skills":         action.Doc.Skills,
			"interests":      action.Doc.Interests,
			"listing_text":   action.Doc.ListingText,
			"kind":           action.Doc.Kind,
			"visibility":     action.Doc.Visibility,
			"location":       action.Doc.Location,
			"last_active_at": action.Doc.LastActiveAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("marshaling bulk body: %w", err)
		}
		buf.Write(bodyLine)
		buf.WriteByte('\n')
	}

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("executing bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk request error status=%s body=%s", res.Status(), string(bodyBytes))
	}

	var bulkResp bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}

	if bulkResp.Errors {
		var errMsgs []string
		for _, item := range bulkResp.Items {
			for _, result := range item {
				if result.Error != nil {
					errMsgs = append(errMsgs, fmt.Sprintf("id=%s: %s", result.ID, result.Error.Reason))
				}
			}
		}
		return fmt.Errorf("bulk indexing had errors: %s", strings.Join(errMsgs, "; "))
	}

	return nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	res, err := c.es.Cluster.Health(
		c.es.Cluster.Health.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("es health check: %w", err)
	}
	defer res.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	if health.Status == "red" {
		return fmt.Errorf("es cluster status red")
	}
	return nil
}

func (c *Client) Close() error {
	return nil
}

type esSearchResponse struct {
	Hits struct {
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

type esHit struct {
	ID     string         `json:"_id"`
	Score  float64        `json:"_score"`
	Source map[string]any `json:"_source"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}
