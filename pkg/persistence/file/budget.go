package file

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
)

// BudgetRepository keeps one JSON document per user. The process-wide lock
// makes the conditional increment atomic for a single engine instance.
type BudgetRepository struct {
	fp *Persistence
}

func (r *BudgetRepository) statusPath(userID string) string {
	return r.fp.path("budgets", userID+".json")
}

// load returns the stored status rolled over to now, or a fresh one.
func (r *BudgetRepository) load(userID string, now time.Time, defaults models.BudgetLimits) (*models.BudgetStatus, error) {
	var status models.BudgetStatus

	err := readJSON(r.statusPath(userID), &status)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.NewBudgetStatus(userID, defaults, now), nil
		}

		return nil, err
	}

	status.Rollover(now)

	return &status, nil
}

func (r *BudgetRepository) BudgetStatus(
	_ context.Context,
	userID string,
	now time.Time,
	defaults models.BudgetLimits,
) (*models.BudgetStatus, error) {
	if err := validateID("user ID", userID); err != nil {
		return nil, persistence.NewBudgetError("BudgetStatus", userID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	status, err := r.load(userID, now, defaults)
	if err != nil {
		return nil, persistence.NewBudgetError("BudgetStatus", userID, err)
	}

	return status, nil
}

func (r *BudgetRepository) IncrementSpendIfWithin(
	_ context.Context,
	userID string,
	amount float64,
	now time.Time,
	defaults models.BudgetLimits,
) (*models.BudgetStatus, bool, error) {
	if err := validateID("user ID", userID); err != nil {
		return nil, false, persistence.NewBudgetError("IncrementSpendIfWithin", userID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	status, err := r.load(userID, now, defaults)
	if err != nil {
		return nil, false, persistence.NewBudgetError("IncrementSpendIfWithin", userID, err)
	}

	if !status.Fits(amount) {
		return status, false, nil
	}

	status.DailySpendUSD += amount
	status.MonthlySpendUSD += amount
	status.UpdatedAt = now

	if err := writeJSON(r.statusPath(userID), status); err != nil {
		return nil, false, persistence.NewBudgetError("IncrementSpendIfWithin", userID, err)
	}

	return status, true, nil
}

func (r *BudgetRepository) SetBudgetLimits(
	_ context.Context,
	userID string,
	limits models.BudgetLimits,
	now time.Time,
) (*models.BudgetStatus, error) {
	if err := validateID("user ID", userID); err != nil {
		return nil, persistence.NewBudgetError("SetBudgetLimits", userID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	status, err := r.load(userID, now, limits)
	if err != nil {
		return nil, persistence.NewBudgetError("SetBudgetLimits", userID, err)
	}

	status.DailyLimitUSD = limits.DailyLimitUSD
	status.MonthlyLimitUSD = limits.MonthlyLimitUSD
	status.AlertThresholdPercent = limits.AlertThresholdPercent
	status.UpdatedAt = now

	if err := writeJSON(r.statusPath(userID), status); err != nil {
		return nil, persistence.NewBudgetError("SetBudgetLimits", userID, err)
	}

	return status, nil
}

func (r *BudgetRepository) AppendSpendingRecord(_ context.Context, record *models.SpendingRecord) error {
	if err := validateID("user ID", record.UserID); err != nil {
		return persistence.NewBudgetError("AppendSpendingRecord", record.UserID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	if err := appendJSONLine(r.fp.path("spending", record.UserID+".jsonl"), record); err != nil {
		return persistence.NewBudgetError("AppendSpendingRecord", record.UserID, err)
	}

	return nil
}

func (r *BudgetRepository) SpendingRecords(_ context.Context, userID string, since time.Time) ([]*models.SpendingRecord, error) {
	if err := validateID("user ID", userID); err != nil {
		return nil, persistence.NewBudgetError("SpendingRecords", userID, err)
	}

	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	records, err := readJSONLines[models.SpendingRecord](r.fp.path("spending", userID+".jsonl"))
	if err != nil {
		return nil, persistence.NewBudgetError("SpendingRecords", userID, err)
	}

	filtered := records[:0]

	for _, record := range records {
		if !record.Timestamp.Before(since) {
			filtered = append(filtered, record)
		}
	}

	return filtered, nil
}
