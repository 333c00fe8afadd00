package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/analytics"
	"github.com/CodyOutcast/ques-discovery/internal/casual"
	"github.com/CodyOutcast/ques-discovery/internal/models"
	"github.com/CodyOutcast/ques-discovery/internal/pipeline"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// Discoverer runs the discovery pipeline for one request.
type Discoverer interface {
	Discover(ctx context.Context, req *models.DiscoverRequest) (*models.DiscoverResponse, error)
}

// CasualService manages casual activity listings.
type CasualService interface {
	Submit(ctx context.Context, userID, text string) (*models.CasualRequest, error)
	Delete(ctx context.Context, userID string) error
}

// IntentStats serves the internal traffic rollup. Nil when analytics is not
// configured.
type IntentStats interface {
	QueryIntentVolumes(ctx context.Context, since time.Time) ([]analytics.IntentVolume, error)
}

type Handler struct {
	pipeline Discoverer
	casual   CasualService
	stats    IntentStats
	logger   *zap.Logger
}

func NewHandler(p Discoverer, cs CasualService, stats IntentStats, logger *zap.Logger) *Handler {
	return &Handler{
		pipeline: p,
		casual:   cs,
		stats:    stats,
		logger:   logger,
	}
}

func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := RequestIDFromContext(ctx)

	var req models.DiscoverRequest
	limited := io.LimitReader(r.Body, maxRequestBodySize)
	if err := json.NewDecoder(limited).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be valid JSON")
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	resp, err := h.pipeline.Discover(ctx, &req)
	if err != nil {
		var ve *pipeline.ValidationError
		switch {
		case errors.As(err, &ve):
			h.writeError(w, http.StatusBadRequest, "invalid_"+ve.Field, ve.Error())
		case errors.Is(err, pipeline.ErrQuotaDenied):
			h.writeError(w, http.StatusTooManyRequests, "quota_exhausted", "Daily discovery limit reached. Upgrade your membership or try again tomorrow.")
		default:
			h.logger.Error("discovery failed",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
			h.writeError(w, http.StatusInternalServerError, "discovery_error", "Discovery service temporarily unavailable")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type casualSubmitRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

func (h *Handler) CasualSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req casualSubmitRequest
	limited := io.LimitReader(r.Body, maxRequestBodySize)
	if err := json.NewDecoder(limited).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be valid JSON")
		return
	}
	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "missing_user_id", "Field 'user_id' is required")
		return
	}
	if req.Text == "" {
		h.writeError(w, http.StatusBadRequest, "missing_text", "Field 'text' is required")
		return
	}

	listing, err := h.casual.Submit(ctx, req.UserID, req.Text)
	if err != nil {
		if errors.Is(err, casual.ErrNotCasual) {
			h.writeError(w, http.StatusUnprocessableEntity, "not_casual", "Text does not describe a casual activity. Use the discover endpoint to search for people.")
			return
		}
		h.logger.Error("casual submission failed",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "casual_error", "Could not store the listing, please retry")
		return
	}

	h.writeJSON(w, http.StatusOK, listing)
}

func (h *Handler) CasualDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "missing_user_id", "Path parameter 'userID' is required")
		return
	}

	if err := h.casual.Delete(ctx, userID); err != nil {
		h.logger.Error("casual deletion failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "casual_error", "Could not delete the listing, please retry")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) IntentStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.writeError(w, http.StatusServiceUnavailable, "stats_unavailable", "Analytics backend is not configured")
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	volumes, err := h.stats.QueryIntentVolumes(r.Context(), since)
	if err != nil {
		h.logger.Error("intent stats query failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "stats_error", "Could not load stats")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"since":   since.Format(time.RFC3339),
		"intents": volumes,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("writing json response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
