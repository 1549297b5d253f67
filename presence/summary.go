package presence

import (
	"context"

	"gonum.org/v1/gonum/stat"
)

type Summary struct {
	From             string  `json:"from"`
	To               string  `json:"to"`
	Sessions         int     `json:"sessions"`
	Completed        int     `json:"completed"`
	Verified         int     `json:"verified"`
	TotalDurationMs  int64   `json:"totalDurationMs"`
	MeanDurationMs   float64 `json:"meanDurationMs"`
	StdDevDurationMs float64 `json:"stdDevDurationMs"`
}

// Summary aggregates the last days calendar days, today included.
func (l *Lifecycle) Summary(ctx context.Context, userID string, days int) (Summary, error) {
	if days < 1 {
		days = 1
	}
	today := l.now().In(l.loc)
	var (
		sum       Summary
		durations []float64
	)
	for i := days - 1; i >= 0; i-- {
		date := today.AddDate(0, 0, -i).Format(dayLayout)
		if sum.From == "" {
			sum.From = date
		}
		sum.To = date

		records, err := l.History(ctx, userID, date)
		if err != nil {
			return Summary{}, err
		}
		for _, r := range records {
			sum.Sessions++
			if r.VerifiedAt != nil {
				sum.Verified++
			}
			if r.Status == StatusCompleted && r.DurationMs != nil {
				sum.Completed++
				sum.TotalDurationMs += *r.DurationMs
				durations = append(durations, float64(*r.DurationMs))
			}
		}
	}

	switch len(durations) {
	case 0:
	case 1:
		sum.MeanDurationMs = durations[0]
	default:
		sum.MeanDurationMs, sum.StdDevDurationMs = stat.MeanStdDev(durations, nil)
	}
	return sum, nil
}
