// Package analytics turns the raw event stream into dashboard numbers:
// funnel conversion, revenue series with forecasts, and weekly retention
// cohorts.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/cartpulse/cartpulse/internal/events"
	"github.com/cartpulse/cartpulse/internal/forecast"
	"github.com/cartpulse/cartpulse/internal/funnel"
)

// StepSummary is one funnel stage with its conversion figures.
type StepSummary struct {
	Step string `json:"step"`
	// Viewed and Completed count distinct sessions.
	Viewed    int `json:"viewed"`
	Completed int `json:"completed"`
	// ConversionRate is Completed/Viewed; DropOffRate is its complement.
	ConversionRate float64 `json:"conversionRate"`
	DropOffRate    float64 `json:"dropOffRate"`
}

// FunnelSummary rolls the whole funnel up for one merchant and window.
type FunnelSummary struct {
	Steps []StepSummary `json:"steps"`
	// OverallConversion is sessions completing payment over sessions
	// entering the cart.
	OverallConversion float64 `json:"overallConversion"`
}

// SummarizeFunnel orders raw per-step counts by funnel position and
// derives conversion rates. Steps with no views report a zero rate.
func SummarizeFunnel(counts map[string]events.StepCounts) FunnelSummary {
	steps := make([]StepSummary, 0, len(funnel.Steps))
	for _, s := range funnel.Steps {
		c := counts[string(s)]
		summary := StepSummary{
			Step:      string(s),
			Viewed:    c.Viewed,
			Completed: c.Completed,
		}
		if c.Viewed > 0 {
			summary.ConversionRate = round2(float64(c.Completed) / float64(c.Viewed))
			summary.DropOffRate = round2(1 - summary.ConversionRate)
		}
		steps = append(steps, summary)
	}

	overall := 0.0
	first, last := steps[0], steps[len(steps)-1]
	if first.Viewed > 0 {
		overall = round2(float64(last.Completed) / float64(first.Viewed))
	}
	return FunnelSummary{Steps: steps, OverallConversion: overall}
}

// Cohort is one weekly first-seen cohort with per-week return rates.
type Cohort struct {
	// WeekStart is the Monday opening the cohort's first-seen week.
	WeekStart time.Time `json:"weekStart"`
	Sessions  int       `json:"sessions"`
	Completed int       `json:"completed"`
	// Retention[i] is the share of the cohort active again i+1 weeks
	// after first being seen.
	Retention []float64 `json:"retention"`
}

// BuildCohorts groups sessions by the week they were first seen and
// measures how many come back in each subsequent week. Events must belong
// to one merchant; order does not matter.
func BuildCohorts(evts []*events.Event, weeks int) []Cohort {
	if weeks <= 0 || len(evts) == 0 {
		return []Cohort{}
	}

	type session struct {
		first     time.Time
		weeks     map[int]bool // week offsets with activity
		completed bool
	}
	sessions := make(map[string]*session)
	for _, e := range evts {
		s, ok := sessions[e.SessionID]
		if !ok {
			s = &session{first: e.CreatedAt, weeks: make(map[int]bool)}
			sessions[e.SessionID] = s
		}
		if e.CreatedAt.Before(s.first) {
			s.first = e.CreatedAt
		}
		if e.Type == events.TypeCheckoutCompleted {
			s.completed = true
		}
	}
	// Second pass now that each session's first-seen time is settled.
	for _, e := range evts {
		s := sessions[e.SessionID]
		offset := weeksBetween(weekStart(s.first), e.CreatedAt)
		if offset > 0 {
			s.weeks[offset] = true
		}
	}

	byWeek := make(map[time.Time][]*session)
	for _, s := range sessions {
		ws := weekStart(s.first)
		byWeek[ws] = append(byWeek[ws], s)
	}

	starts := make([]time.Time, 0, len(byWeek))
	for ws := range byWeek {
		starts = append(starts, ws)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	if len(starts) > weeks {
		starts = starts[len(starts)-weeks:]
	}

	cohorts := make([]Cohort, 0, len(starts))
	for _, ws := range starts {
		members := byWeek[ws]
		c := Cohort{WeekStart: ws, Sessions: len(members)}
		for _, s := range members {
			if s.completed {
				c.Completed++
			}
		}
		// Retention horizon shrinks for younger cohorts.
		horizon := weeksBetween(ws, starts[len(starts)-1])
		c.Retention = make([]float64, 0, horizon)
		for w := 1; w <= horizon; w++ {
			returned := 0
			for _, s := range members {
				if s.weeks[w] {
					returned++
				}
			}
			c.Retention = append(c.Retention, round2(float64(returned)/float64(len(members))))
		}
		cohorts = append(cohorts, c)
	}
	return cohorts
}

// weekStart truncates t to the Monday 00:00 UTC opening its week.
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	day := (int(t.Weekday()) + 6) % 7 // Monday=0
	return time.Date(t.Year(), t.Month(), t.Day()-day, 0, 0, 0, 0, time.UTC)
}

func weeksBetween(start time.Time, t time.Time) int {
	return int(weekStart(t).Sub(start).Hours() / (24 * 7))
}

const (
	// Flat-average fallback band and confidence, used when the history is
	// too short for the trend model.
	fallbackLowerShare = 0.5
	fallbackUpperShare = 1.5
	fallbackConfidence = 0.2
)

// FlatForecast projects the historical average forward unchanged, for
// merchants with fewer than two observed days. Bounds are a fixed share
// of the average and confidence is flat and low.
func FlatForecast(historical []forecast.DataPoint, from time.Time, days int) forecast.Result {
	avg := 0.0
	for _, p := range historical {
		avg += p.Revenue
	}
	if len(historical) > 0 {
		avg /= float64(len(historical))
	}
	avg = round2(avg)

	points := make([]forecast.Point, 0, days)
	for i := 1; i <= days; i++ {
		points = append(points, forecast.Point{
			Date:       from.AddDate(0, 0, i),
			Forecast:   avg,
			LowerBound: round2(avg * fallbackLowerShare),
			UpperBound: round2(avg * fallbackUpperShare),
			Confidence: fallbackConfidence,
		})
	}
	return forecast.Result{Forecasts: points, Trend: forecast.TrendStable}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
