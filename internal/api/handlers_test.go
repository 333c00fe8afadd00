package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/analytics"
	"github.com/CodyOutcast/ques-discovery/internal/casual"
	"github.com/CodyOutcast/ques-discovery/internal/models"
	"github.com/CodyOutcast/ques-discovery/internal/pipeline"
)

type fakeDiscoverer struct {
	resp    *models.DiscoverResponse
	err     error
	lastReq *models.DiscoverRequest
}

func (f *fakeDiscoverer) Discover(ctx context.Context, req *models.DiscoverRequest) (*models.DiscoverResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeCasualService struct {
	listing *models.CasualRequest
	err     error
	deleted []string
}

func (f *fakeCasualService) Submit(ctx context.Context, userID, text string) (*models.CasualRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.listing, nil
}

func (f *fakeCasualService) Delete(ctx context.Context, userID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, userID)
	return nil
}

type fakeIntentStats struct {
	volumes []analytics.IntentVolume
	err     error
}

func (f *fakeIntentStats) QueryIntentVolumes(ctx context.Context, since time.Time) ([]analytics.IntentVolume, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.volumes, nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body is not valid JSON: %v", err)
	}
	return body
}

func TestDiscoverHandler(t *testing.T) {
	okResp := &models.DiscoverResponse{
		Recommendations: []models.Recommendation{{UserID: "u1", DisplayName: "Alice", MatchScore: 0.9}},
		Metadata:        models.ResponseMetadata{RequestID: "r1", Intent: "search"},
	}

	tests := []struct {
		name       string
		body       string
		discoverer *fakeDiscoverer
		wantStatus int
		wantCode   string
	}{
		{
			name:       "success",
			body:       `{"user_id":"me","query":"find hikers"}`,
			discoverer: &fakeDiscoverer{resp: okResp},
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed json",
			body:       `{"user_id":`,
			discoverer: &fakeDiscoverer{resp: okResp},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "validation error",
			body:       `{"user_id":"me","query":""}`,
			discoverer: &fakeDiscoverer{err: &pipeline.ValidationError{Field: "query", Reason: "must not be empty"}},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_query",
		},
		{
			name:       "quota exhausted",
			body:       `{"user_id":"me","query":"find hikers"}`,
			discoverer: &fakeDiscoverer{err: pipeline.ErrQuotaDenied},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "quota_exhausted",
		},
		{
			name:       "wrapped quota error",
			body:       `{"user_id":"me","query":"find hikers"}`,
			discoverer: &fakeDiscoverer{err: fmt.Errorf("%w: tier free limit 10", pipeline.ErrQuotaDenied)},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "quota_exhausted",
		},
		{
			name:       "internal error",
			body:       `{"user_id":"me","query":"find hikers"}`,
			discoverer: &fakeDiscoverer{err: errors.New("boom")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "discovery_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.discoverer, &fakeCasualService{}, nil, zap.NewNop())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/discover", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Discover(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantCode != "" {
				body := decodeBody(t, rec)
				if body["code"] != tt.wantCode {
					t.Errorf("expected code %q, got %v", tt.wantCode, body["code"])
				}
			}
		})
	}
}

func TestDiscoverHandler_PropagatesRequestID(t *testing.T) {
	d := &fakeDiscoverer{resp: &models.DiscoverResponse{}}
	h := NewHandler(d, &fakeCasualService{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/discover", strings.NewReader(`{"user_id":"me","query":"q"}`))
	req = req.WithContext(context.WithValue(req.Context(), requestIDKey, "req-abc"))
	rec := httptest.NewRecorder()
	h.Discover(rec, req)

	if d.lastReq == nil || d.lastReq.RequestID != "req-abc" {
		t.Errorf("expected middleware request ID to reach the pipeline, got %+v", d.lastReq)
	}
}

func TestCasualSubmitHandler(t *testing.T) {
	listing := &models.CasualRequest{UserID: "me", OptimizedText: "coffee downtown"}

	tests := []struct {
		name       string
		body       string
		service    *fakeCasualService
		wantStatus int
		wantCode   string
	}{
		{
			name:       "success",
			body:       `{"user_id":"me","text":"anyone up for coffee downtown"}`,
			service:    &fakeCasualService{listing: listing},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing user id",
			body:       `{"text":"coffee"}`,
			service:    &fakeCasualService{listing: listing},
			wantStatus: http.StatusBadRequest,
			wantCode:   "missing_user_id",
		},
		{
			name:       "missing text",
			body:       `{"user_id":"me"}`,
			service:    &fakeCasualService{listing: listing},
			wantStatus: http.StatusBadRequest,
			wantCode:   "missing_text",
		},
		{
			name:       "not casual",
			body:       `{"user_id":"me","text":"find me a business partner"}`,
			service:    &fakeCasualService{err: casual.ErrNotCasual},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "not_casual",
		},
		{
			name:       "storage failure",
			body:       `{"user_id":"me","text":"coffee"}`,
			service:    &fakeCasualService{err: errors.New("firestore down")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "casual_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeDiscoverer{}, tt.service, nil, zap.NewNop())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/casual", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.CasualSubmit(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantCode != "" {
				body := decodeBody(t, rec)
				if body["code"] != tt.wantCode {
					t.Errorf("expected code %q, got %v", tt.wantCode, body["code"])
				}
			}
		})
	}
}

func TestCasualDeleteHandler(t *testing.T) {
	service := &fakeCasualService{}
	h := NewHandler(&fakeDiscoverer{}, service, nil, zap.NewNop())

	r := chi.NewRouter()
	r.Delete("/casual/{userID}", h.CasualDelete)

	req := httptest.NewRequest(http.MethodDelete, "/casual/me", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(service.deleted) != 1 || service.deleted[0] != "me" {
		t.Errorf("expected delete for 'me', got %v", service.deleted)
	}
}

func TestIntentStatsHandler(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h := NewHandler(&fakeDiscoverer{}, &fakeCasualService{}, nil, zap.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats/intents", nil)
		rec := httptest.NewRecorder()
		h.IntentStats(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	})

	t.Run("success", func(t *testing.T) {
		stats := &fakeIntentStats{volumes: []analytics.IntentVolume{
			{Intent: "search", Requests: 120, AvgMs: 340.5},
			{Intent: "casual", Requests: 30, AvgMs: 290.1},
		}}
		h := NewHandler(&fakeDiscoverer{}, &fakeCasualService{}, stats, zap.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats/intents", nil)
		rec := httptest.NewRecorder()
		h.IntentStats(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := decodeBody(t, rec)
		intents, ok := body["intents"].([]any)
		if !ok || len(intents) != 2 {
			t.Errorf("expected 2 intent rows, got %v", body["intents"])
		}
	})

	t.Run("backend failure", func(t *testing.T) {
		stats := &fakeIntentStats{err: errors.New("clickhouse down")}
		h := NewHandler(&fakeDiscoverer{}, &fakeCasualService{}, stats, zap.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats/intents", nil)
		rec := httptest.NewRecorder()
		h.IntentStats(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
	})
}
