// Package analytics provides small read-side statistics over the daily
// holdings series. It never touches the calculator's exact decimal
// arithmetic: values are converted to float64 at this boundary only.
package analytics

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/ledgerd/internal/domain"
)

// DailySeries is the subset of the projector the analytics helpers read.
type DailySeries interface {
	GetDailyHoldingsSnapshots(accountID string, start, end time.Time) ([]*domain.AccountStateSnapshot, error)
}

// EquitySeries extracts the daily equity proxy (cost basis in the snapshot's
// account currency plus the cash total in base currency) from a dense
// snapshot series. For the TOTAL account both are in the base currency.
func EquitySeries(snapshots []*domain.AccountStateSnapshot) []float64 {
	values := make([]float64, 0, len(snapshots))
	for _, snap := range snapshots {
		equity := snap.CostBasis.Add(snap.CashTotalBaseCurrency)
		f, _ := equity.Float64()
		values = append(values, f)
	}
	return values
}

// DailyReturns converts an equity series into simple day-over-day returns.
// Days where the prior value is zero are skipped (no meaningful return).
func DailyReturns(equity []float64) []float64 {
	var returns []float64
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
	}
	return returns
}

// Volatility is the sample standard deviation of the daily returns. Returns
// zero when fewer than two returns exist.
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

// TrailingVolatility reads the account's dense daily series over the window
// ending at end and reduces it to a single volatility figure.
func TrailingVolatility(series DailySeries, accountID string, end time.Time, windowDays int) (float64, error) {
	start := end.AddDate(0, 0, -windowDays)
	snapshots, err := series.GetDailyHoldingsSnapshots(accountID, start, end)
	if err != nil {
		return 0, err
	}
	return Volatility(DailyReturns(EquitySeries(snapshots))), nil
}
