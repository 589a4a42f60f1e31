package dashboard

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/adminbilling/svc/subscription"
)

type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod accepts day, week or month in any case. Empty means day.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodDay, nil
	case PeriodDay, PeriodWeek, PeriodMonth:
		return p, nil
	default:
		return "", ErrInvalidPeriod
	}
}

type RevenuePoint struct {
	Label       string          `json:"label"`
	Start       time.Time       `json:"start"`
	AmountCents int64           `json:"amount_cents"`
	Amount      decimal.Decimal `json:"amount"`
}

type RevenueReport struct {
	Period       Period          `json:"period"`
	TotalCents   int64           `json:"total_revenue_cents"`
	Total        decimal.Decimal `json:"total_revenue"`
	Transactions int             `json:"transactions"`
	Points       []RevenuePoint  `json:"points"`
}

type bucket struct {
	start, end time.Time
	label      string
}

// buckets returns the series layout: 24 hours ending with the current one,
// or N calendar days ending today.
func (s *service) buckets(period Period, now time.Time) []bucket {
	now = now.In(s.loc)
	var out []bucket
	switch period {
	case PeriodDay:
		first := now.Truncate(time.Hour).Add(-23 * time.Hour)
		for i := range 24 {
			start := first.Add(time.Duration(i) * time.Hour)
			out = append(out, bucket{start: start, end: start.Add(time.Hour), label: start.Format("15:00")})
		}
	default:
		days := 7
		if period == PeriodMonth {
			days = 30
		}
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
		first := today.AddDate(0, 0, -(days - 1))
		for i := range days {
			start := first.AddDate(0, 0, i)
			out = append(out, bucket{start: start, end: start.AddDate(0, 0, 1), label: start.Format("Jan 02")})
		}
	}
	return out
}

func cents(c int64) decimal.Decimal { return decimal.New(c, -2) }

func (s *service) Revenue(ctx context.Context, period Period) (RevenueReport, error) {
	switch period {
	case PeriodDay, PeriodWeek, PeriodMonth:
	default:
		return RevenueReport{}, ErrInvalidPeriod
	}
	now := s.now()
	layout := s.buckets(period, now)
	entries, err := s.subs.Payments(ctx, layout[0].start, now.Add(time.Nanosecond))
	if err != nil {
		return RevenueReport{}, err
	}
	paid := lo.Filter(entries, func(e subscription.HistoryEntry, _ int) bool {
		return e.AmountCents > 0
	})
	// the same charge may be reported under more than one event
	paid = lo.UniqBy(paid, func(e subscription.HistoryEntry) string {
		if e.ExternalTransactionRef != "" {
			return e.ExternalTransactionRef
		}
		return e.ID.String()
	})

	report := RevenueReport{Period: period, Points: make([]RevenuePoint, len(layout))}
	for i, b := range layout {
		report.Points[i] = RevenuePoint{Label: b.label, Start: b.start}
	}
	for _, e := range paid {
		at := e.OccurredAt.In(s.loc)
		for i, b := range layout {
			if at.Before(b.start) || !at.Before(b.end) {
				continue
			}
			report.Points[i].AmountCents += e.AmountCents
			report.TotalCents += e.AmountCents
			report.Transactions++
			break
		}
	}
	for i := range report.Points {
		report.Points[i].Amount = cents(report.Points[i].AmountCents)
	}
	report.Total = cents(report.TotalCents)
	return report, nil
}
