package indexing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/config"
	"github.com/CodyOutcast/ques-discovery/internal/keyword"
	"github.com/CodyOutcast/ques-discovery/internal/models"
	"github.com/CodyOutcast/ques-discovery/internal/vectorstore"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeVectorIndex struct {
	mu       sync.Mutex
	upserted []vectorstore.Point
	deleted  []string
	err      error
}

func (f *fakeVectorIndex) Upsert(ctx context.Context, p vectorstore.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, p)
	return nil
}

func (f *fakeVectorIndex) Delete(ctx context.Context, userID, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, userID)
	return nil
}

type fakeKeywordIndex struct {
	mu      sync.Mutex
	batches [][]keyword.Action
	err     error
}

func (f *fakeKeywordIndex) Bulk(ctx context.Context, actions []keyword.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, actions)
	return nil
}

func (f *fakeKeywordIndex) totalActions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func testESConfig(bulkSize int) config.ElasticsearchConfig {
	return config.ElasticsearchConfig{
		Index:             "profiles",
		BulkSize:          bulkSize,
		BulkFlushInterval: time.Hour, // tests flush explicitly
	}
}

func newTestProcessor(t *testing.T, bulkSize int) (*Processor, *fakeVectorIndex, *fakeKeywordIndex) {
	t.Helper()
	vectors := &fakeVectorIndex{}
	keywords := &fakeKeywordIndex{}
	p := NewProcessor(&fakeEmbedder{}, vectors, keywords, testESConfig(bulkSize), zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Stop(ctx)
	})
	return p, vectors, keywords
}

func createEvent(userID string) *models.ProfileEvent {
	return &models.ProfileEvent{
		Type:   "CREATE",
		UserID: userID,
		Profile: map[string]any{
			"display_name": "Alice",
			"bio":          "trail runner",
			"skills":       []string{"go"},
			"interests":    []string{"hiking"},
			"visibility":   "public",
			"location":     "berlin",
		},
		Timestamp: time.Now(),
	}
}

func TestHandleEvent_CreateUpsertsBothIndexes(t *testing.T) {
	p, vectors, _ := newTestProcessor(t, 100)

	if err := p.HandleEvent(context.Background(), createEvent("u1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(vectors.upserted) != 1 {
		t.Fatalf("expected 1 vector upsert, got %d", len(vectors.upserted))
	}
	point := vectors.upserted[0]
	if point.UserID != "u1" {
		t.Errorf("expected user u1, got %q", point.UserID)
	}
	if point.Kind != vectorstore.KindProfile {
		t.Errorf("expected profile kind, got %q", point.Kind)
	}
	if point.Visibility != "public" {
		t.Errorf("expected visibility carried into the point, got %q", point.Visibility)
	}

	p.mu.Lock()
	buffered := len(p.buffer)
	p.mu.Unlock()
	if buffered != 1 {
		t.Errorf("expected 1 buffered keyword action, got %d", buffered)
	}
}

func TestHandleEvent_DeleteRemovesBothIndexes(t *testing.T) {
	p, vectors, keywords := newTestProcessor(t, 100)

	event := &models.ProfileEvent{Type: "DELETE", UserID: "u1"}
	if err := p.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(vectors.deleted) != 1 || vectors.deleted[0] != "u1" {
		t.Errorf("expected vector delete for u1, got %v", vectors.deleted)
	}

	if err := p.flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if keywords.totalActions() != 1 {
		t.Errorf("expected 1 flushed delete action, got %d", keywords.totalActions())
	}
	if keywords.batches[0][0].Op != "delete" {
		t.Errorf("expected delete op, got %q", keywords.batches[0][0].Op)
	}
}

func TestHandleEvent_UnknownTypeRejected(t *testing.T) {
	p, _, _ := newTestProcessor(t, 100)

	event := &models.ProfileEvent{Type: "TRUNCATE", UserID: "u1"}
	if err := p.HandleEvent(context.Background(), event); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestHandleEvent_EmbeddingFailureSkipsIndexes(t *testing.T) {
	vectors := &fakeVectorIndex{}
	keywords := &fakeKeywordIndex{}
	p := NewProcessor(&fakeEmbedder{err: errors.New("llm down")}, vectors, keywords, testESConfig(100), zap.NewNop())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Stop(ctx)
	}()

	if err := p.HandleEvent(context.Background(), createEvent("u1")); err == nil {
		t.Error("expected error when embedding fails")
	}
	if len(vectors.upserted) != 0 {
		t.Error("no vector should be written when embedding fails")
	}
}

func TestEnqueue_FlushesOnBulkSize(t *testing.T) {
	p, _, keywords := newTestProcessor(t, 2)

	for _, id := range []string{"u1", "u2"} {
		if err := p.HandleEvent(context.Background(), createEvent(id)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if keywords.totalActions() != 2 {
		t.Errorf("expected buffer flushed at bulk size, got %d actions", keywords.totalActions())
	}
}

func TestStop_DrainsBufferedActions(t *testing.T) {
	vectors := &fakeVectorIndex{}
	keywords := &fakeKeywordIndex{}
	p := NewProcessor(&fakeEmbedder{}, vectors, keywords, testESConfig(100), zap.NewNop())

	// The event is handled (and its offset committable) while the keyword
	// action still sits in the buffer; Stop must not drop it.
	if err := p.HandleEvent(context.Background(), createEvent("u1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keywords.totalActions() != 0 {
		t.Fatalf("expected action still buffered, got %d flushed", keywords.totalActions())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if keywords.totalActions() != 1 {
		t.Errorf("expected buffered action flushed on stop, got %d", keywords.totalActions())
	}
}

func TestFlush_FailureKeepsActionsBuffered(t *testing.T) {
	p, _, keywords := newTestProcessor(t, 100)
	keywords.err = errors.New("es down")

	if err := p.HandleEvent(context.Background(), createEvent("u1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}

	// The failed batch is re-buffered and delivered once ES recovers.
	keywords.mu.Lock()
	keywords.err = nil
	keywords.mu.Unlock()
	if err := p.flush(context.Background()); err != nil {
		t.Fatalf("flush after recovery failed: %v", err)
	}
	if keywords.totalActions() != 1 {
		t.Errorf("expected re-buffered action delivered, got %d", keywords.totalActions())
	}
}

func TestDecodeProfile(t *testing.T) {
	summary, err := decodeProfile(map[string]any{
		"display_name": "Bo",
		"bio":          "climber",
		"skills":       []string{"routesetting"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.DisplayName != "Bo" || summary.Bio != "climber" {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if len(summary.Skills) != 1 || summary.Skills[0] != "routesetting" {
		t.Errorf("unexpected skills: %v", summary.Skills)
	}
}

func TestProfileText(t *testing.T) {
	tests := []struct {
		name    string
		summary models.ProfileSummary
		want    string
	}{
		{
			"full profile",
			models.ProfileSummary{
				DisplayName: "Alice",
				Bio:         "trail runner",
				Skills:      []string{"go", "sre"},
				Interests:   []string{"hiking"},
			},
			"Alice. trail runner. Skills: go, sre. Interests: hiking",
		},
		{
			"name only",
			models.ProfileSummary{DisplayName: "Bo"},
			"Bo",
		},
		{
			"empty profile",
			models.ProfileSummary{},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := profileText(tt.summary); got != tt.want {
				t.Errorf("profileText() = %q, want %q", got, tt.want)
			}
		})
	}
}
