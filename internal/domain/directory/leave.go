package directory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var half = decimal.RequireFromString("0.5")

// LeaveWindow is an approved unpaid leave request.
type LeaveWindow struct {
	StartDate time.Time
	EndDate   time.Time
	StartHalf bool
	EndHalf   bool
}

// CalculateDays returns inclusive day count between start and end.
func CalculateDays(start, end time.Time) (int, error) {
	start, end = dateOnly(start), dateOnly(end)
	if end.Before(start) {
		return 0, errors.New("end date before start date")
	}
	return int(end.Sub(start).Hours()/24) + 1, nil
}

// UnpaidDaysInPeriod sums the part of each window that overlaps the period.
// A half-day boundary only counts when the window's own edge falls inside the period.
func UnpaidDaysInPeriod(windows []LeaveWindow, periodStart, periodEnd time.Time) decimal.Decimal {
	periodStart, periodEnd = dateOnly(periodStart), dateOnly(periodEnd)
	total := decimal.Zero
	for _, window := range windows {
		start, end := dateOnly(window.StartDate), dateOnly(window.EndDate)
		overlapStart := start
		if periodStart.After(overlapStart) {
			overlapStart = periodStart
		}
		overlapEnd := end
		if periodEnd.Before(overlapEnd) {
			overlapEnd = periodEnd
		}
		count, err := CalculateDays(overlapStart, overlapEnd)
		if err != nil {
			continue
		}
		days := decimal.NewFromInt(int64(count))
		if window.StartHalf && overlapStart.Equal(start) {
			days = days.Sub(half)
		}
		if window.EndHalf && overlapEnd.Equal(end) {
			days = days.Sub(half)
		}
		if days.IsPositive() {
			total = total.Add(days)
		}
	}
	return total
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
