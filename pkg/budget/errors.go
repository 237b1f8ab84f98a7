package budget

import (
	"errors"
	"fmt"
)

// Period names a budget window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// ErrInvalidCron indicates a cron expression that cannot be parsed.
var ErrInvalidCron = errors.New("invalid cron expression")

// BudgetExceededError carries what a caller needs to render a refusal.
type BudgetExceededError struct {
	UserID          string  `json:"user_id"`
	Period          Period  `json:"period"`
	CurrentSpend    float64 `json:"current_spend_usd"`
	Limit           float64 `json:"limit_usd"`
	EstimatedCost   float64 `json:"estimated_cost_usd"`
	RemainingBudget float64 `json:"remaining_budget_usd"`
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded for user %s: spend %.4f + estimate %.4f > limit %.4f (remaining %.4f)",
		e.Period, e.UserID, e.CurrentSpend, e.EstimatedCost, e.Limit, e.RemainingBudget)
}

// SpendingRecordError reports that spend could not be recorded after a node
// completed. It never unwinds the node.
type SpendingRecordError struct {
	UserID string
	Err    error
}

func (e *SpendingRecordError) Error() string {
	return fmt.Sprintf("failed to record spending for user %s: %v", e.UserID, e.Err)
}

func (e *SpendingRecordError) Unwrap() error { return e.Err }

// IsBudgetExceeded reports whether err is or wraps a BudgetExceededError.
func IsBudgetExceeded(err error) bool {
	var exceeded *BudgetExceededError

	return errors.As(err, &exceeded)
}
