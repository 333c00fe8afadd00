package indexing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/config"
	"github.com/CodyOutcast/ques-discovery/internal/keyword"
	"github.com/CodyOutcast/ques-discovery/internal/models"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
	"github.com/CodyOutcast/ques-discovery/internal/vectorstore"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorIndex interface {
	Upsert(ctx context.Context, p vectorstore.Point) error
	Delete(ctx context.Context, userID, kind string) error
}

type KeywordIndex interface {
	Bulk(ctx context.Context, actions []keyword.Action) error
}

// Processor applies profile events to both indexes. Vector writes go through
// immediately; keyword writes are buffered into bulk batches and flushed on
// size or on a timer.
type Processor struct {
	embedder Embedder
	vectors  VectorIndex
	keywords KeywordIndex
	esCfg    config.ElasticsearchConfig
	logger   *zap.Logger

	mu     sync.Mutex
	buffer []keyword.Action
	ticker *time.Ticker
	done   chan struct{}
}

func NewProcessor(embedder Embedder, vectors VectorIndex, keywords KeywordIndex, esCfg config.ElasticsearchConfig, logger *zap.Logger) *Processor {
	p := &Processor{
		embedder: embedder,
		vectors:  vectors,
		keywords: keywords,
		esCfg:    esCfg,
		logger:   logger,
		buffer:   make([]keyword.Action, 0, esCfg.BulkSize),
		ticker:   time.NewTicker(esCfg.BulkFlushInterval),
		done:     make(chan struct{}),
	}

	go p.flushLoop()

	return p
}

func (p *Processor) HandleEvent(ctx context.Context, event *models.ProfileEvent) error {
	switch event.Type {
	case "CREATE", "UPDATE":
		return p.handleUpsert(ctx, event)
	case "DELETE":
		return p.handleDelete(ctx, event)
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
}

func (p *Processor) handleUpsert(ctx context.Context, event *models.ProfileEvent) error {
	summary, err := decodeProfile(event.Profile)
	if err != nil {
		return fmt.Errorf("decoding profile for %s: %w", event.UserID, err)
	}
	summary.UserID = event.UserID

	text := profileText(summary)
	vector, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding profile %s: %w", event.UserID, err)
	}

	err = p.vectors.Upsert(ctx, vectorstore.Point{
		UserID:       event.UserID,
		Vector:       vector,
		Kind:         vectorstore.KindProfile,
		Visibility:   summary.Visibility,
		Location:     summary.Location,
		Summary:      text,
		LastActiveAt: summary.LastActiveAt,
	})
	if err != nil {
		return fmt.Errorf("upserting profile vector %s: %w", event.UserID, err)
	}

	p.enqueue(ctx, keyword.Action{
		Op: "index",
		Doc: keyword.Doc{
			UserID:       event.UserID,
			DisplayName:  summary.DisplayName,
			Bio:          summary.Bio,
			Skills:       summary.Skills,
			Interests:    summary.Interests,
			Kind:         vectorstore.KindProfile,
			Visibility:   summary.Visibility,
			Location:     summary.Location,
			LastActiveAt: summary.LastActiveAt,
		},
	})
	return nil
}

func (p *Processor) handleDelete(ctx context.Context, event *models.ProfileEvent) error {
	if err := p.vectors.Delete(ctx, event.UserID, vectorstore.KindProfile); err != nil {
		return fmt.Errorf("deleting profile vector %s: %w", event.UserID, err)
	}
	p.enqueue(ctx, keyword.Action{
		Op:  "delete",
		Doc: keyword.Doc{UserID: event.UserID, Kind: vectorstore.KindProfile},
	})
	return nil
}

func (p *Processor) enqueue(ctx context.Context, action keyword.Action) {
	p.mu.Lock()
	p.buffer = append(p.buffer, action)
	shouldFlush := len(p.buffer) >= p.esCfg.BulkSize
	p.mu.Unlock()

	if shouldFlush {
		if err := p.flush(ctx); err != nil {
			p.logger.Error("flush on buffer full failed", zap.Error(err))
		}
	}
}

func (p *Processor) flushLoop() {
	for {
		select {
		case <-p.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := p.flush(ctx); err != nil {
				p.logger.Error("periodic flush failed", zap.Error(err))
			}
			cancel()
		case <-p.done:
			return
		}
	}
}

func (p *Processor) flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := make([]keyword.Action, len(p.buffer))
	copy(batch, p.buffer)
	p.buffer = p.buffer[:0]
	p.mu.Unlock()

	start := time.Now()
	if err := p.keywords.Bulk(ctx, batch); err != nil {
		// Failed items go back into the buffer for the next flush.
		p.mu.Lock()
		p.buffer = append(batch, p.buffer...)
		p.mu.Unlock()

		observability.IndexingEventsTotal.WithLabelValues("bulk", "error").Inc()
		return fmt.Errorf("bulk flush: %w", err)
	}

	observability.IndexingEventsTotal.WithLabelValues("bulk", "success").Add(float64(len(batch)))
	p.logger.Info("bulk flush completed",
		zap.Int("count", len(batch)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Stop drains the buffer and stops the flush loop.
func (p *Processor) Stop(ctx context.Context) error {
	p.ticker.Stop()
	close(p.done)
	return p.flush(ctx)
}

func decodeProfile(raw map[string]any) (models.ProfileSummary, error) {
	var summary models.ProfileSummary
	data, err := json.Marshal(raw)
	if err != nil {
		return summary, err
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func profileText(s models.ProfileSummary) string {
	parts := make([]string, 0, 4)
	if s.DisplayName != "" {
		parts = append(parts, s.DisplayName)
	}
	if s.Bio != "" {
		parts = append(parts, s.Bio)
	}
	if len(s.Skills) > 0 {
		parts = append(parts, "Skills: "+strings.Join(s.Skills, ", "))
	}
	if len(s.Interests) > 0 {
		parts = append(parts, "Interests: "+strings.Join(s.Interests, ", "))
	}
	return strings.Join(parts, ". ")
}
