package observability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/models"
)

// AnalyticsWriter receives pipeline performance events for offline analysis.
type AnalyticsWriter interface {
	WriteDiscoveryEvent(ctx context.Context, event *models.DiscoveryEvent) error
}

// SlowPipelineDetector flags discovery runs that exceed latency thresholds.
// Because the pipeline makes several LLM calls per request, thresholds here
// are an order of magnitude higher than typical search-service budgets.
type SlowPipelineDetector struct {
	warningThreshold  time.Duration
	criticalThreshold time.Duration
	logger            *zap.Logger
	analyticsWriter   AnalyticsWriter
}

func NewSlowPipelineDetector(warning, critical time.Duration, logger *zap.Logger, aw AnalyticsWriter) *SlowPipelineDetector {
	return &SlowPipelineDetector{
		warningThreshold:  warning,
		criticalThreshold: critical,
		logger:            logger,
		analyticsWriter:   aw,
	}
}

// Intercept records a run that exceeded the warning threshold. Fast runs
// return immediately with zero overhead.
func (d *SlowPipelineDetector) Intercept(ctx context.Context, query, intent string, duration time.Duration, resultCount int, fallbacks []string) {
	if duration <= d.warningThreshold {
		return
	}

	traceID := TraceIDFromContext(ctx)
	severity := d.classifySeverity(duration)

	SlowPipelineCounter.WithLabelValues(severity, intent).Inc()

	d.logger.Warn("slow discovery pipeline",
		zap.String("trace_id", traceID),
		zap.String("query_hash", HashQuery(query)),
		zap.String("intent", intent),
		zap.Float64("duration_ms", float64(duration.Milliseconds())),
		zap.Int("result_count", resultCount),
		zap.Strings("fallbacks_used", fallbacks),
		zap.String("severity", severity),
	)

	if d.analyticsWriter == nil {
		return
	}

	event := &models.DiscoveryEvent{
		EventType:     "pipeline_performance",
		QueryHash:     HashQuery(query),
		Intent:        intent,
		DurationMs:    float64(duration.Milliseconds()),
		ResultCount:   resultCount,
		FallbacksUsed: fallbacks,
		Timestamp:     time.Now().UTC(),
		TraceID:       traceID,
	}
	// Written off the request path so the response is never blocked.
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.analyticsWriter.WriteDiscoveryEvent(writeCtx, event); err != nil {
			d.logger.Error("failed to write pipeline analytics",
				zap.String("trace_id", traceID),
				zap.Error(err),
			)
		}
	}()
}

func (d *SlowPipelineDetector) classifySeverity(dur time.Duration) string {
	if dur > d.criticalThreshold {
		return "critical"
	}
	if dur > d.warningThreshold {
		return "warning"
	}
	return "normal"
}

// HashQuery produces a short stable digest so raw query text never lands in
// logs or analytics rows.
func HashQuery(q string) string {
	h := sha256.Sum256([]byte(q))
	return hex.EncodeToString(h[:8])
}
