package budget

import (
	"fmt"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/robfig/cron/v3"
)

// maxProjectedRuns caps iteration for schedules firing every minute or more.
const maxProjectedRuns = 60 * 24 * 31

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Projection is the expected monthly cost of a scheduled pipeline.
type Projection struct {
	Runs       int     `json:"runs"`
	PerRunUSD  float64 `json:"per_run_usd"`
	MonthlyUSD float64 `json:"monthly_usd"`
}

// ProjectMonthlyRuns counts the activations of cronExpr in the month that
// starts at from, using exact cron semantics.
func ProjectMonthlyRuns(cronExpr string, from time.Time) (int, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %w", ErrInvalidCron, cronExpr, err)
	}

	end := from.AddDate(0, 1, 0)
	runs := 0

	for next := schedule.Next(from.Add(-time.Second)); !next.IsZero() && next.Before(end); next = schedule.Next(next) {
		runs++

		if runs >= maxProjectedRuns {
			break
		}
	}

	return runs, nil
}

// ProjectMonthlyCost multiplies the run count by the per-run estimate.
func ProjectMonthlyCost(cronExpr string, from time.Time, perRun models.CostEstimate) (Projection, error) {
	runs, err := ProjectMonthlyRuns(cronExpr, from)
	if err != nil {
		return Projection{}, err
	}

	return Projection{
		Runs:       runs,
		PerRunUSD:  perRun.TotalCostUSD,
		MonthlyUSD: float64(runs) * perRun.TotalCostUSD,
	}, nil
}
