package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/config"
)

type fakeTierSource struct {
	tier string
	err  error
}

func (f *fakeTierSource) GetMembershipTier(ctx context.Context, userID string) (string, error) {
	return f.tier, f.err
}

func testQuotaConfig() config.QuotaConfig {
	return config.QuotaConfig{
		DefaultTier: "free",
		DailyLimits: map[string]int{
			"free":    10,
			"premium": 100,
			"vip":     -1,
		},
	}
}

func TestAllow_UnlimitedTierSkipsCounter(t *testing.T) {
	// No Redis client wired: an unlimited tier must decide before touching it.
	gate := NewGate(nil, &fakeTierSource{tier: "vip"}, testQuotaConfig(), zap.NewNop())

	decision, err := gate.Allow(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Error("unlimited tier must always be allowed")
	}
	if decision.Tier != "vip" {
		t.Errorf("expected tier vip, got %q", decision.Tier)
	}
	if decision.Limit >= 0 {
		t.Errorf("expected negative limit, got %d", decision.Limit)
	}
}

func TestAllow_TierLookupFailureFailsOpen(t *testing.T) {
	gate := NewGate(nil, &fakeTierSource{err: errors.New("firestore down")}, testQuotaConfig(), zap.NewNop())

	decision, err := gate.Allow(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Error("tier lookup failure must fail open")
	}
	if decision.Tier != "free" {
		t.Errorf("expected default tier, got %q", decision.Tier)
	}
}

func TestQuotaKey(t *testing.T) {
	day := time.Date(2025, 3, 14, 15, 9, 2, 0, time.UTC)
	if got := quotaKey("u1", day); got != "quota:u1:20250314" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestEndOfDay(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			"midday",
			time.Date(2025, 3, 14, 15, 9, 2, 0, time.UTC),
			time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			"just before midnight",
			time.Date(2025, 3, 14, 23, 59, 59, 0, time.UTC),
			time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			"midnight rolls to next day",
			time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := endOfDay(tt.in); !got.Equal(tt.want) {
				t.Errorf("endOfDay(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
