package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
)

const budgetColumns = `user_id, daily_limit_usd, daily_spend_usd, monthly_limit_usd, monthly_spend_usd,
	alert_threshold_percent, day_window, month_window, updated_at`

// BudgetRepository keeps spend counters in user_budgets. Increments are a
// single conditional UPDATE, so the check and the write cannot interleave.
type BudgetRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewBudgetRepository creates a new budget repository.
func NewBudgetRepository(db *sql.DB, logger *slog.Logger) *BudgetRepository {
	return &BudgetRepository{db: db, logger: logger}
}

// ensureRow creates the user's row with defaults when missing.
func (r *BudgetRepository) ensureRow(ctx context.Context, userID string, now time.Time, defaults models.BudgetLimits) error {
	query := `
		INSERT INTO user_budgets (
			user_id, daily_limit_usd, monthly_limit_usd, alert_threshold_percent,
			day_window, month_window, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		userID,
		defaults.DailyLimitUSD,
		defaults.MonthlyLimitUSD,
		defaults.AlertThresholdPercent,
		models.DayWindow(now),
		models.MonthWindow(now),
		now,
	)

	return err
}

func (r *BudgetRepository) BudgetStatus(
	ctx context.Context,
	userID string,
	now time.Time,
	defaults models.BudgetLimits,
) (*models.BudgetStatus, error) {
	status, err := scanBudget(r.db.QueryRowContext(ctx,
		"SELECT "+budgetColumns+" FROM user_budgets WHERE user_id = $1", userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NewBudgetStatus(userID, defaults, now), nil
		}

		return nil, persistence.NewBudgetError("BudgetStatus", userID, err)
	}

	status.Rollover(now)

	return status, nil
}

func (r *BudgetRepository) IncrementSpendIfWithin(
	ctx context.Context,
	userID string,
	amount float64,
	now time.Time,
	defaults models.BudgetLimits,
) (*models.BudgetStatus, bool, error) {
	if err := r.ensureRow(ctx, userID, now, defaults); err != nil {
		return nil, false, persistence.NewBudgetError("IncrementSpendIfWithin", userID, err)
	}

	query := `
		UPDATE user_budgets SET
			daily_spend_usd = (CASE WHEN day_window = $3 THEN daily_spend_usd ELSE 0 END) + $2,
			monthly_spend_usd = (CASE WHEN month_window = $4 THEN monthly_spend_usd ELSE 0 END) + $2,
			day_window = $3,
			month_window = $4,
			updated_at = $5
		WHERE user_id = $1
			AND (daily_limit_usd <= 0
				OR (CASE WHEN day_window = $3 THEN daily_spend_usd ELSE 0 END) + $2 <= daily_limit_usd)
			AND (monthly_limit_usd <= 0
				OR (CASE WHEN month_window = $4 THEN monthly_spend_usd ELSE 0 END) + $2 <= monthly_limit_usd)
		RETURNING ` + budgetColumns

	status, err := scanBudget(r.db.QueryRowContext(ctx, query,
		userID, amount, models.DayWindow(now), models.MonthWindow(now), now))
	if err == nil {
		return status, true, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, persistence.NewBudgetError("IncrementSpendIfWithin", userID, err)
	}

	status, err = r.BudgetStatus(ctx, userID, now, defaults)
	if err != nil {
		return nil, false, err
	}

	return status, false, nil
}

func (r *BudgetRepository) SetBudgetLimits(
	ctx context.Context,
	userID string,
	limits models.BudgetLimits,
	now time.Time,
) (*models.BudgetStatus, error) {
	query := `
		INSERT INTO user_budgets (
			user_id, daily_limit_usd, monthly_limit_usd, alert_threshold_percent,
			day_window, month_window, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			daily_limit_usd = EXCLUDED.daily_limit_usd,
			monthly_limit_usd = EXCLUDED.monthly_limit_usd,
			alert_threshold_percent = EXCLUDED.alert_threshold_percent,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + budgetColumns

	status, err := scanBudget(r.db.QueryRowContext(ctx, query,
		userID,
		limits.DailyLimitUSD,
		limits.MonthlyLimitUSD,
		limits.AlertThresholdPercent,
		models.DayWindow(now),
		models.MonthWindow(now),
		now,
	))
	if err != nil {
		return nil, persistence.NewBudgetError("SetBudgetLimits", userID, err)
	}

	status.Rollover(now)

	return status, nil
}

func (r *BudgetRepository) AppendSpendingRecord(ctx context.Context, record *models.SpendingRecord) error {
	query := `
		INSERT INTO spending_records (
			user_id, execution_id, node_id, model, amount_usd, input_tokens, output_tokens, applied, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.UserID,
		nullString(record.ExecutionID),
		nullString(record.NodeID),
		nullString(record.Model),
		record.AmountUSD,
		record.InputTokens,
		record.OutputTokens,
		record.Applied,
		record.Timestamp,
	)
	if err != nil {
		return persistence.NewBudgetError("AppendSpendingRecord", record.UserID, err)
	}

	return nil
}

func (r *BudgetRepository) SpendingRecords(ctx context.Context, userID string, since time.Time) ([]*models.SpendingRecord, error) {
	query := `
		SELECT user_id, execution_id, node_id, model, amount_usd, input_tokens, output_tokens, applied, created_at
		FROM spending_records
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, persistence.NewBudgetError("SpendingRecords", userID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	records := make([]*models.SpendingRecord, 0)

	for rows.Next() {
		var (
			record      models.SpendingRecord
			executionID sql.NullString
			nodeID      sql.NullString
			model       sql.NullString
		)

		err := rows.Scan(
			&record.UserID,
			&executionID,
			&nodeID,
			&model,
			&record.AmountUSD,
			&record.InputTokens,
			&record.OutputTokens,
			&record.Applied,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spending record: %w", err)
		}

		record.ExecutionID = executionID.String
		record.NodeID = nodeID.String
		record.Model = model.String
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spending records: %w", err)
	}

	return records, nil
}

func scanBudget(row scanner) (*models.BudgetStatus, error) {
	var status models.BudgetStatus

	err := row.Scan(
		&status.UserID,
		&status.DailyLimitUSD,
		&status.DailySpendUSD,
		&status.MonthlyLimitUSD,
		&status.MonthlySpendUSD,
		&status.AlertThresholdPercent,
		&status.DayWindow,
		&status.MonthWindow,
		&status.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &status, nil
}
