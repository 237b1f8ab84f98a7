package models

import "time"

// spendEpsilon absorbs float rounding when comparing spend against limits.
const spendEpsilon = 1e-9

// BudgetLimits are the configured spend limits of a user.
type BudgetLimits struct {
	DailyLimitUSD         float64 `json:"daily_limit_usd"         validate:"gte=0"`
	MonthlyLimitUSD       float64 `json:"monthly_limit_usd"       validate:"gte=0"`
	AlertThresholdPercent float64 `json:"alert_threshold_percent" validate:"gte=0,lte=100"`
}

// BudgetStatus is derived from persisted spend counters.
type BudgetStatus struct {
	UserID                string    `json:"user_id"`
	DailyLimitUSD         float64   `json:"daily_limit_usd"`
	DailySpendUSD         float64   `json:"daily_spend_usd"`
	MonthlyLimitUSD       float64   `json:"monthly_limit_usd"`
	MonthlySpendUSD       float64   `json:"monthly_spend_usd"`
	AlertThresholdPercent float64   `json:"alert_threshold_percent"`
	DayWindow             string    `json:"day_window"`
	MonthWindow           string    `json:"month_window"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// DayWindow identifies the UTC day of t.
func DayWindow(t time.Time) string { return t.UTC().Format("2006-01-02") }

// MonthWindow identifies the UTC month of t.
func MonthWindow(t time.Time) string { return t.UTC().Format("2006-01") }

// NewBudgetStatus returns a zero-spend status for the windows containing now.
func NewBudgetStatus(userID string, limits BudgetLimits, now time.Time) *BudgetStatus {
	return &BudgetStatus{
		UserID:                userID,
		DailyLimitUSD:         limits.DailyLimitUSD,
		MonthlyLimitUSD:       limits.MonthlyLimitUSD,
		AlertThresholdPercent: limits.AlertThresholdPercent,
		DayWindow:             DayWindow(now),
		MonthWindow:           MonthWindow(now),
		UpdatedAt:             now,
	}
}

// Rollover resets the spend of every window that no longer contains now.
func (s *BudgetStatus) Rollover(now time.Time) {
	if day := DayWindow(now); s.DayWindow != day {
		s.DayWindow = day
		s.DailySpendUSD = 0
	}

	if month := MonthWindow(now); s.MonthWindow != month {
		s.MonthWindow = month
		s.MonthlySpendUSD = 0
	}
}

// Fits reports whether amount can be spent without exceeding a limit. A zero
// limit disables that window.
func (s *BudgetStatus) Fits(amount float64) bool {
	if s.DailyLimitUSD > 0 && s.DailySpendUSD+amount > s.DailyLimitUSD+spendEpsilon {
		return false
	}

	if s.MonthlyLimitUSD > 0 && s.MonthlySpendUSD+amount > s.MonthlyLimitUSD+spendEpsilon {
		return false
	}

	return true
}

// Limits returns the limit part of the status.
func (s *BudgetStatus) Limits() BudgetLimits {
	return BudgetLimits{
		DailyLimitUSD:         s.DailyLimitUSD,
		MonthlyLimitUSD:       s.MonthlyLimitUSD,
		AlertThresholdPercent: s.AlertThresholdPercent,
	}
}

// CostEstimate is a pre-flight approximation of a node's cost.
type CostEstimate struct {
	Model         string  `json:"model"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	InputCostUSD  float64 `json:"input_cost_usd"`
	OutputCostUSD float64 `json:"output_cost_usd"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
}

// SpendingRecord is one row of the spend ledger. Applied is false when the
// conditional increment was rejected.
type SpendingRecord struct {
	UserID       string    `json:"user_id"`
	ExecutionID  string    `json:"execution_id,omitempty"`
	NodeID       string    `json:"node_id,omitempty"`
	Model        string    `json:"model,omitempty"`
	AmountUSD    float64   `json:"amount_usd"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	Applied      bool      `json:"applied"`
	Timestamp    time.Time `json:"timestamp"`
}
