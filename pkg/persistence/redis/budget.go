// Package redis stores budget counters in Redis so the conditional spend
// increment is atomic across engine processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "conduit"

// incrementScript rolls the windows over, checks both limits and increments
// in one server-side step.
var incrementScript = redis.NewScript(`
local key = KEYS[1]
local amount = tonumber(ARGV[1])
local day = ARGV[2]
local month = ARGV[3]
local now = ARGV[4]

if redis.call('EXISTS', key) == 0 then
	redis.call('HSET', key,
		'daily_limit', ARGV[5], 'monthly_limit', ARGV[6], 'alert_threshold', ARGV[7],
		'daily_spend', '0', 'monthly_spend', '0',
		'day_window', day, 'month_window', month, 'updated_at', now)
end

local daily = tonumber(redis.call('HGET', key, 'daily_spend'))
local monthly = tonumber(redis.call('HGET', key, 'monthly_spend'))
if redis.call('HGET', key, 'day_window') ~= day then daily = 0 end
if redis.call('HGET', key, 'month_window') ~= month then monthly = 0 end

local daily_limit = tonumber(redis.call('HGET', key, 'daily_limit'))
local monthly_limit = tonumber(redis.call('HGET', key, 'monthly_limit'))

local applied = 1
if (daily_limit > 0 and daily + amount > daily_limit + 1e-9) or
   (monthly_limit > 0 and monthly + amount > monthly_limit + 1e-9) then
	applied = 0
else
	daily = daily + amount
	monthly = monthly + amount
	redis.call('HSET', key,
		'daily_spend', tostring(daily), 'monthly_spend', tostring(monthly),
		'day_window', day, 'month_window', month, 'updated_at', now)
end

return applied
`)

// BudgetRepository implements persistence.BudgetRepository on Redis hashes.
type BudgetRepository struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewBudgetRepository wraps an existing client.
func NewBudgetRepository(client redis.UniversalClient, logger *slog.Logger) *BudgetRepository {
	return &BudgetRepository{client: client, logger: logger}
}

// Connect parses a redis:// URL and verifies the connection.
func Connect(ctx context.Context, logger *slog.Logger, url string) (*BudgetRepository, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewBudgetRepository(client, logger), nil
}

// Close releases the client.
func (r *BudgetRepository) Close() error {
	return r.client.Close()
}

func budgetKey(userID string) string {
	return keyPrefix + ":budget:" + userID
}

func spendingKey(userID string) string {
	return keyPrefix + ":spending:" + userID
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func (r *BudgetRepository) BudgetStatus(
	ctx context.Context,
	userID string,
	now time.Time,
	defaults models.BudgetLimits,
) (*models.BudgetStatus, error) {
	fields, err := r.client.HGetAll(ctx, budgetKey(userID)).Result()
	if err != nil {
		return nil, persistence.NewBudgetError("BudgetStatus", userID, err)
	}

	if len(fields) == 0 {
		return models.NewBudgetStatus(userID, defaults, now), nil
	}

	status, err := parseStatus(userID, fields)
	if err != nil {
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
	applied, err := incrementScript.Run(ctx, r.client, []string{budgetKey(userID)},
		formatFloat(amount),
		models.DayWindow(now),
		models.MonthWindow(now),
		now.UTC().Format(time.RFC3339Nano),
		formatFloat(defaults.DailyLimitUSD),
		formatFloat(defaults.MonthlyLimitUSD),
		formatFloat(defaults.AlertThresholdPercent),
	).Int()
	if err != nil {
		return nil, false, persistence.NewBudgetError("IncrementSpendIfWithin", userID, err)
	}

	status, err := r.BudgetStatus(ctx, userID, now, defaults)
	if err != nil {
		return nil, false, err
	}

	return status, applied == 1, nil
}

func (r *BudgetRepository) SetBudgetLimits(
	ctx context.Context,
	userID string,
	limits models.BudgetLimits,
	now time.Time,
) (*models.BudgetStatus, error) {
	key := budgetKey(userID)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "daily_spend", "0")
		pipe.HSetNX(ctx, key, "monthly_spend", "0")
		pipe.HSetNX(ctx, key, "day_window", models.DayWindow(now))
		pipe.HSetNX(ctx, key, "month_window", models.MonthWindow(now))
		pipe.HSet(ctx, key,
			"daily_limit", formatFloat(limits.DailyLimitUSD),
			"monthly_limit", formatFloat(limits.MonthlyLimitUSD),
			"alert_threshold", formatFloat(limits.AlertThresholdPercent),
			"updated_at", now.UTC().Format(time.RFC3339Nano),
		)

		return nil
	})
	if err != nil {
		return nil, persistence.NewBudgetError("SetBudgetLimits", userID, err)
	}

	return r.BudgetStatus(ctx, userID, now, limits)
}

func (r *BudgetRepository) AppendSpendingRecord(ctx context.Context, record *models.SpendingRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal spending record: %w", err)
	}

	if err := r.client.RPush(ctx, spendingKey(record.UserID), data).Err(); err != nil {
		return persistence.NewBudgetError("AppendSpendingRecord", record.UserID, err)
	}

	return nil
}

func (r *BudgetRepository) SpendingRecords(ctx context.Context, userID string, since time.Time) ([]*models.SpendingRecord, error) {
	items, err := r.client.LRange(ctx, spendingKey(userID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*models.SpendingRecord{}, nil
		}

		return nil, persistence.NewBudgetError("SpendingRecords", userID, err)
	}

	records := make([]*models.SpendingRecord, 0, len(items))

	for _, item := range items {
		var record models.SpendingRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal spending record: %w", err)
		}

		if !record.Timestamp.Before(since) {
			records = append(records, &record)
		}
	}

	return records, nil
}

func parseStatus(userID string, fields map[string]string) (*models.BudgetStatus, error) {
	status := &models.BudgetStatus{
		UserID:      userID,
		DayWindow:   fields["day_window"],
		MonthWindow: fields["month_window"],
	}

	numbers := map[string]*float64{
		"daily_limit":     &status.DailyLimitUSD,
		"monthly_limit":   &status.MonthlyLimitUSD,
		"alert_threshold": &status.AlertThresholdPercent,
		"daily_spend":     &status.DailySpendUSD,
		"monthly_spend":   &status.MonthlySpendUSD,
	}

	for field, target := range numbers {
		raw, ok := fields[field]
		if !ok || raw == "" {
			continue
		}

		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", field, raw, err)
		}

		*target = value
	}

	if raw := fields["updated_at"]; raw != "" {
		updatedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err == nil {
			status.UpdatedAt = updatedAt
		}
	}

	return status, nil
}
