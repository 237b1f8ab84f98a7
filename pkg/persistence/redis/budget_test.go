package redis_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/conduit/pkg/models"
	conduitredis "github.com/dukex/conduit/pkg/persistence/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (*conduitredis.BudgetRepository, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	repo, err := conduitredis.Connect(ctx, slog.New(slog.DiscardHandler), "redis://"+endpoint+"/0")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = repo.Close()
		_ = container.Terminate(context.Background())

		cancel()
	})

	return repo, ctx
}

func TestConcurrentSpendIsNotLost(t *testing.T) {
	repo, ctx := setupRedis(t)
	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	limits := models.BudgetLimits{DailyLimitUSD: 10, MonthlyLimitUSD: 50}

	var wg sync.WaitGroup

	for range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, applied, err := repo.IncrementSpendIfWithin(ctx, "user-e", 5, now, limits)
			assert.NoError(t, err)
			assert.True(t, applied)
		}()
	}

	wg.Wait()

	status, err := repo.BudgetStatus(ctx, "user-e", now, limits)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, status.DailySpendUSD, 1e-9)

	_, applied, err := repo.IncrementSpendIfWithin(ctx, "user-e", 0.01, now, limits)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestLimitsAndLedger(t *testing.T) {
	repo, ctx := setupRedis(t)
	now := time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC)

	status, err := repo.SetBudgetLimits(ctx, "user-l", models.BudgetLimits{DailyLimitUSD: 2, MonthlyLimitUSD: 3, AlertThresholdPercent: 75}, now)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, status.DailyLimitUSD, 1e-9)
	assert.InDelta(t, 75.0, status.AlertThresholdPercent, 1e-9)

	_, applied, err := repo.IncrementSpendIfWithin(ctx, "user-l", 2, now, models.BudgetLimits{})
	require.NoError(t, err)
	assert.True(t, applied)

	nextMonth := now.Add(2 * time.Hour)
	status, err = repo.BudgetStatus(ctx, "user-l", nextMonth, models.BudgetLimits{})
	require.NoError(t, err)
	assert.Zero(t, status.DailySpendUSD)
	assert.Zero(t, status.MonthlySpendUSD)

	require.NoError(t, repo.AppendSpendingRecord(ctx, &models.SpendingRecord{UserID: "user-l", AmountUSD: 2, Applied: true, Timestamp: now}))

	records, err := repo.SpendingRecords(ctx, "user-l", now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Applied)
}
