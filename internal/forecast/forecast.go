// Package forecast projects daily revenue forward with a linear trend.
//
// The model averages day-over-day growth across a (possibly gappy)
// historical series and extrapolates from the last observed point, with
// uncertainty bands that widen as the horizon grows. It is deterministic:
// the same history always yields the same forecast.
package forecast

import (
	"math"
	"time"
)

// Trend summarizes the direction of the historical series.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// DataPoint is one observed day of revenue.
type DataPoint struct {
	Date    time.Time `json:"date"`
	Revenue float64   `json:"revenue"`
}

// Point is one forecast day with its uncertainty band.
type Point struct {
	Date       time.Time `json:"date"`
	Forecast   float64   `json:"forecast"`
	LowerBound float64   `json:"lowerBound"`
	UpperBound float64   `json:"upperBound"`
	Confidence float64   `json:"confidence"`
}

// Result is a generated forecast with its trend summary.
type Result struct {
	Forecasts []Point `json:"forecasts"`
	Trend     Trend   `json:"trend"`
	AvgGrowth float64 `json:"avgGrowth"`
}

const (
	// trendEpsilon is the growth magnitude below which the trend reads
	// as stable.
	trendEpsilon = 0.01
	// bandBase and bandSpread size the uncertainty band in units of the
	// historical standard deviation; the band widens with the horizon.
	bandBase   = 1.0
	bandSpread = 0.1
	// startConfidence and confidenceDecay shape per-day confidence,
	// floored at minConfidence for long horizons.
	startConfidence = 0.95
	confidenceDecay = 0.05
	minConfidence   = 0.3
)

// Model generates revenue forecasts. The zero value is not usable; use
// NewModel.
type Model struct {
	epsilon float64
}

// NewModel returns a forecast model with the default stability epsilon.
func NewModel() *Model {
	return &Model{epsilon: trendEpsilon}
}

// Generate projects the series forward by the given number of days.
// Fewer than two historical points yields an empty forecast with a
// stable trend; callers substitute their own fallback. Historical points
// must be in chronological order.
func (m *Model) Generate(historical []DataPoint, days int) Result {
	if len(historical) < 2 || days <= 0 {
		return Result{Forecasts: []Point{}, Trend: TrendStable}
	}

	growth := avgGrowth(historical)
	sd := stddev(historical)
	last := historical[len(historical)-1]

	forecasts := make([]Point, 0, days)
	for i := 1; i <= days; i++ {
		f := last.Revenue + growth*float64(i)
		if f < 0 {
			f = 0
		}
		band := sd * (bandBase + bandSpread*float64(i))
		forecasts = append(forecasts, Point{
			Date:       last.Date.AddDate(0, 0, i),
			Forecast:   round2(f),
			LowerBound: round2(math.Max(0, f-band)),
			UpperBound: round2(f + band),
			Confidence: round2(math.Max(minConfidence, startConfidence-confidenceDecay*float64(i))),
		})
	}

	return Result{
		Forecasts: forecasts,
		Trend:     m.trend(growth),
		AvgGrowth: round2(growth),
	}
}

func (m *Model) trend(growth float64) Trend {
	switch {
	case growth > m.epsilon:
		return TrendIncreasing
	case growth < -m.epsilon:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// avgGrowth averages per-day slopes between consecutive observations, so
// gaps in the series do not inflate the growth estimate.
func avgGrowth(points []DataPoint) float64 {
	var total float64
	var n int
	for i := 1; i < len(points); i++ {
		gap := points[i].Date.Sub(points[i-1].Date).Hours() / 24
		if gap <= 0 {
			continue
		}
		total += (points[i].Revenue - points[i-1].Revenue) / gap
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func stddev(points []DataPoint) float64 {
	var mean float64
	for _, p := range points {
		mean += p.Revenue
	}
	mean /= float64(len(points))

	var variance float64
	for _, p := range points {
		d := p.Revenue - mean
		variance += d * d
	}
	variance /= float64(len(points))
	return math.Sqrt(variance)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
