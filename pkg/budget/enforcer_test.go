package budget

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/augur/pkg/models"
	"github.com/pario-ai/augur/pkg/tracker"
)

func setup(t *testing.T) (tracker.Tracker, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "budget_test.db")
	tr, err := tracker.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, context.Background()
}

func record(t *testing.T, tr tracker.Tracker, ct models.CallType, source models.Source, tokens int) {
	t.Helper()
	err := tr.Record(context.Background(), models.UsageRecord{
		RequestID: "r", CallType: ct, Provider: "local", Source: source,
		TokensIn: tokens / 2, TokensOut: tokens - tokens/2,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCheckUnderBudget(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, models.CallNarrative, models.SourceLive, 150)

	e := New([]models.BudgetPolicy{
		{CallType: "*", MaxTokens: 1000, Period: models.BudgetDaily},
	}, tr)

	if err := e.Check(ctx, models.CallNarrative); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckExceeded(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, models.CallNarrative, models.SourceLive, 1100)

	e := New([]models.BudgetPolicy{
		{CallType: "*", MaxTokens: 1000, Period: models.BudgetDaily},
	}, tr)

	err := e.Check(ctx, models.CallAmbient)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded, got %v", err)
	}
}

func TestCheckPerCallType(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, models.CallNarrative, models.SourceLive, 600)

	e := New([]models.BudgetPolicy{
		{CallType: string(models.CallNarrative), MaxTokens: 500, Period: models.BudgetHourly},
	}, tr)

	if err := e.Check(ctx, models.CallNarrative); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected narrative over budget, got %v", err)
	}
	if err := e.Check(ctx, models.CallDecision); err != nil {
		t.Errorf("decision has no policy, got %v", err)
	}
}

func TestFallbackUsageIsFree(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, models.CallAmbient, models.SourceFallback, 5000)
	record(t, tr, models.CallAmbient, models.SourceCache, 5000)

	e := New([]models.BudgetPolicy{
		{CallType: "*", MaxTokens: 1000, Period: models.BudgetMonthly},
	}, tr)
	if err := e.Check(ctx, models.CallAmbient); err != nil {
		t.Errorf("only live tokens count, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, models.CallDecision, models.SourceLive, 150)

	e := New([]models.BudgetPolicy{
		{CallType: "*", MaxTokens: 1000, Period: models.BudgetDaily},
		{CallType: string(models.CallAmbient), MaxTokens: 100, Period: models.BudgetDaily},
	}, tr)

	statuses, err := e.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Used != 150 || statuses[0].Remaining != 850 {
		t.Errorf("unexpected status: %+v", statuses[0])
	}
	if statuses[1].Used != 0 || statuses[1].Remaining != 100 {
		t.Errorf("unexpected ambient status: %+v", statuses[1])
	}
}

func TestPeriodStart(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	if got := periodStart(models.BudgetHourly, now); !got.Equal(time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("hourly: %v", got)
	}
	if got := periodStart(models.BudgetDaily, now); !got.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("daily: %v", got)
	}
	if got := periodStart(models.BudgetMonthly, now); !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly: %v", got)
	}
}
