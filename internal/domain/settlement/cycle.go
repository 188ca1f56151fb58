package settlement

import "time"

// Cycle is a settlement period. Sales are included when Start <= purchasedAt
// < End.
type Cycle struct {
	Start     time.Time
	End       time.Time
	Scheduled time.Time
}

// MonthlyCycle returns the calendar month cycle paid out on scheduledDay of
// the following month. A scheduledDay past the end of that month is clamped
// to its last day.
func MonthlyCycle(year int, month time.Month, scheduledDay int, loc *time.Location) Cycle {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0)

	lastDay := end.AddDate(0, 1, -1).Day()
	day := min(max(scheduledDay, 1), lastDay)

	return Cycle{
		Start:     start,
		End:       end,
		Scheduled: time.Date(end.Year(), end.Month(), day, 0, 0, 0, 0, loc),
	}
}

// CycleOf returns the monthly cycle containing t.
func CycleOf(t time.Time, scheduledDay int) Cycle {
	return MonthlyCycle(t.Year(), t.Month(), scheduledDay, t.Location())
}

// Previous returns the monthly cycle before c.
func (c Cycle) Previous(scheduledDay int) Cycle {
	prev := c.Start.AddDate(0, -1, 0)
	return MonthlyCycle(prev.Year(), prev.Month(), scheduledDay, c.Start.Location())
}

// LastDay is the inclusive last date of the cycle.
func (c Cycle) LastDay() time.Time {
	return c.End.AddDate(0, 0, -1)
}
