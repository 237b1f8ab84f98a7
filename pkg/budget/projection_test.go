package budget_test

import (
	"testing"
	"time"

	"github.com/dukex/conduit/pkg/budget"
	"github.com/dukex/conduit/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectMonthlyRuns(t *testing.T) {
	june := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want int
	}{
		{"every fifteen minutes", "*/15 * * * *", 30 * 24 * 4},
		{"daily descriptor", "@daily", 30},
		{"weekdays at nine", "0 9 * * 1-5", 22},
		{"first of month", "0 0 1 * *", 1},
		{"hourly range", "0 8-17 * * *", 30 * 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := budget.ProjectMonthlyRuns(tt.expr, june)
			require.NoError(t, err)
			assert.Equal(t, tt.want, runs)
		})
	}
}

func TestProjectMonthlyCost(t *testing.T) {
	projection, err := budget.ProjectMonthlyCost("@daily", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		models.CostEstimate{TotalCostUSD: 0.25})
	require.NoError(t, err)

	assert.Equal(t, 30, projection.Runs)
	assert.InDelta(t, 7.5, projection.MonthlyUSD, 1e-9)
}

func TestProjectMonthlyRunsRejectsInvalidCron(t *testing.T) {
	_, err := budget.ProjectMonthlyRuns("every tuesday", time.Now())
	require.ErrorIs(t, err, budget.ErrInvalidCron)
}
