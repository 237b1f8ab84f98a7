// Package budget gates cost-bearing nodes against per-user spend limits.
package budget

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
)

// Price is the USD cost per 1000 tokens.
type Price struct {
	InputPer1K  float64
	OutputPer1K float64
}

// DefaultPrices is the built-in price table.
var DefaultPrices = map[string]Price{
	"gpt-4o":            {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":       {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4.1":           {InputPer1K: 0.002, OutputPer1K: 0.008},
	"gpt-4.1-mini":      {InputPer1K: 0.0004, OutputPer1K: 0.0016},
	"gpt-4":             {InputPer1K: 0.03, OutputPer1K: 0.06},
	"gpt-3.5-turbo":     {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"claude-3-5-sonnet": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-haiku":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
}

// DefaultPrice applies to models missing from the table.
var DefaultPrice = Price{InputPer1K: 0.002, OutputPer1K: 0.002}

// TierCostUSD is the flat pre-flight estimate per cost tier for nodes whose
// executor cannot price itself.
const TierCostUSD = 0.01

const charsPerToken = 4

// Config configures a Guard.
type Config struct {
	DefaultLimits models.BudgetLimits
	Prices        map[string]Price
	Now           func() time.Time
}

// Guard checks and records spend. The conditional increment happens in the
// repository, so two guards sharing a store never both pass on stale spend.
type Guard struct {
	repo          persistence.BudgetRepository
	defaultLimits models.BudgetLimits
	prices        map[string]Price
	now           func() time.Time
	logger        *slog.Logger
}

// NewGuard creates a Guard over repo.
func NewGuard(repo persistence.BudgetRepository, config Config, logger *slog.Logger) *Guard {
	prices := config.Prices
	if prices == nil {
		prices = DefaultPrices
	}

	now := config.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Guard{
		repo:          repo,
		defaultLimits: config.DefaultLimits,
		prices:        prices,
		now:           now,
		logger:        logger.With("module", "budget_guard"),
	}
}

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(len([]rune(text))) / charsPerToken))
}

// EstimateCost prices a call to model with the default table.
func EstimateCost(model, inputText string, expectedOutputTokens int) models.CostEstimate {
	return estimate(DefaultPrices, model, inputText, expectedOutputTokens)
}

// EstimateCost prices a call to model with the guard's table.
func (g *Guard) EstimateCost(model, inputText string, expectedOutputTokens int) models.CostEstimate {
	return estimate(g.prices, model, inputText, expectedOutputTokens)
}

// CostForTokens prices a call from token counts with the default table.
func CostForTokens(model string, inputTokens, outputTokens int) models.CostEstimate {
	return priceTokens(DefaultPrices, model, inputTokens, outputTokens)
}

// CostForTokens prices a completed call from its reported token usage.
func (g *Guard) CostForTokens(model string, inputTokens, outputTokens int) models.CostEstimate {
	return priceTokens(g.prices, model, inputTokens, outputTokens)
}

func estimate(prices map[string]Price, model, inputText string, expectedOutputTokens int) models.CostEstimate {
	return priceTokens(prices, model, EstimateTokens(inputText), expectedOutputTokens)
}

func priceTokens(prices map[string]Price, model string, inputTokens, outputTokens int) models.CostEstimate {
	price, ok := prices[model]
	if !ok {
		price = DefaultPrice
	}

	inputTokens = max(inputTokens, 0)
	outputTokens = max(outputTokens, 0)

	inputCost := float64(inputTokens) / 1000 * price.InputPer1K
	outputCost := float64(outputTokens) / 1000 * price.OutputPer1K

	return models.CostEstimate{
		Model:         model,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		InputCostUSD:  inputCost,
		OutputCostUSD: outputCost,
		TotalCostUSD:  inputCost + outputCost,
	}
}

// Status returns the current spend of userID.
func (g *Guard) Status(ctx context.Context, userID string) (*models.BudgetStatus, error) {
	return g.repo.BudgetStatus(ctx, userID, g.now(), g.defaultLimits)
}

// SetLimits replaces the limits of userID, keeping the current spend.
func (g *Guard) SetLimits(ctx context.Context, userID string, limits models.BudgetLimits) (*models.BudgetStatus, error) {
	return g.repo.SetBudgetLimits(ctx, userID, limits, g.now())
}

// CheckAvailability fails with *BudgetExceededError when spending
// estimatedCostUSD would exceed the daily or the monthly limit, or when a
// limit is already reached.
func (g *Guard) CheckAvailability(ctx context.Context, userID string, estimatedCostUSD float64) error {
	status, err := g.Status(ctx, userID)
	if err != nil {
		return err
	}

	if exceeded := exceededWindow(status, estimatedCostUSD); exceeded != nil {
		g.logger.WarnContext(ctx, "Budget check refused",
			"user_id", userID,
			"period", exceeded.Period,
			"current_spend_usd", exceeded.CurrentSpend,
			"limit_usd", exceeded.Limit,
			"estimated_cost_usd", estimatedCostUSD)

		return exceeded
	}

	g.warnOnThreshold(ctx, status, estimatedCostUSD)

	return nil
}

// RecordSpending adds the record amount to the user's spend with one atomic
// conditional update. A rejected increment is still written to the ledger,
// with Applied false, and returns *BudgetExceededError.
func (g *Guard) RecordSpending(ctx context.Context, userID string, record models.SpendingRecord) error {
	now := g.now()

	record.UserID = userID
	if record.Timestamp.IsZero() {
		record.Timestamp = now
	}

	status, applied, err := g.repo.IncrementSpendIfWithin(ctx, userID, record.AmountUSD, now, g.defaultLimits)
	if err != nil {
		return &SpendingRecordError{UserID: userID, Err: err}
	}

	record.Applied = applied

	if err := g.repo.AppendSpendingRecord(ctx, &record); err != nil {
		return &SpendingRecordError{UserID: userID, Err: err}
	}

	if !applied {
		exceeded := exceededWindow(status, record.AmountUSD)
		if exceeded == nil {
			exceeded = &BudgetExceededError{UserID: userID, Period: PeriodDaily, EstimatedCost: record.AmountUSD}
		}

		return exceeded
	}

	g.logger.DebugContext(ctx, "Spending recorded",
		"user_id", userID,
		"amount_usd", record.AmountUSD,
		"daily_spend_usd", status.DailySpendUSD,
		"monthly_spend_usd", status.MonthlySpendUSD)

	g.warnOnThreshold(ctx, status, 0)

	return nil
}

// RecordSpendingBestEffort records spend for a node that already completed.
// Failures are logged and reported through degraded.
func (g *Guard) RecordSpendingBestEffort(ctx context.Context, userID string, record models.SpendingRecord) bool {
	if err := g.RecordSpending(ctx, userID, record); err != nil {
		g.logger.WarnContext(ctx, "Spending not recorded, spend may be under-counted",
			"user_id", userID,
			"execution_id", record.ExecutionID,
			"node_id", record.NodeID,
			"amount_usd", record.AmountUSD,
			"error", err)

		return true
	}

	return false
}

func exceededWindow(status *models.BudgetStatus, amount float64) *BudgetExceededError {
	windows := []struct {
		period Period
		spend  float64
		limit  float64
	}{
		{PeriodDaily, status.DailySpendUSD, status.DailyLimitUSD},
		{PeriodMonthly, status.MonthlySpendUSD, status.MonthlyLimitUSD},
	}

	for _, window := range windows {
		if window.limit <= 0 {
			continue
		}

		if window.spend >= window.limit || window.spend+amount > window.limit+1e-9 {
			return &BudgetExceededError{
				UserID:          status.UserID,
				Period:          window.period,
				CurrentSpend:    window.spend,
				Limit:           window.limit,
				EstimatedCost:   amount,
				RemainingBudget: math.Max(0, window.limit-window.spend),
			}
		}
	}

	return nil
}

func (g *Guard) warnOnThreshold(ctx context.Context, status *models.BudgetStatus, pending float64) {
	threshold := status.AlertThresholdPercent
	if threshold <= 0 {
		return
	}

	if status.DailyLimitUSD > 0 && (status.DailySpendUSD+pending)/status.DailyLimitUSD*100 >= threshold {
		g.logger.WarnContext(ctx, "Daily budget alert threshold reached",
			"user_id", status.UserID,
			"daily_spend_usd", status.DailySpendUSD,
			"daily_limit_usd", status.DailyLimitUSD,
			"threshold_percent", threshold)
	}

	if status.MonthlyLimitUSD > 0 && (status.MonthlySpendUSD+pending)/status.MonthlyLimitUSD*100 >= threshold {
		g.logger.WarnContext(ctx, "Monthly budget alert threshold reached",
			"user_id", status.UserID,
			"monthly_spend_usd", status.MonthlySpendUSD,
			"monthly_limit_usd", status.MonthlyLimitUSD,
			"threshold_percent", threshold)
	}
}
