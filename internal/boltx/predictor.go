package boltx

import (
	"fmt"
	"math"
	"time"

	"github.com/cartpulse/cartpulse/internal/funnel"
)

// Weights controls how many points each behavioral factor can contribute.
// Defaults are tuned so the theoretical maximum exceeds 100 and clamps.
type Weights struct {
	TimePressure   float64 // elapsed time over typical
	OvertimeBonus  float64 // extra points once time exceeded passes 1x typical
	Errors         float64 // validation/payment errors
	FunnelPosition float64 // how early in the funnel the session sits
	StepStall      float64 // dwell on current step vs typical
	ReturnRelief   float64 // points removed when the shopper backtracked
	PriorShift     float64 // max shift from account conversion rate, each way
	AbandonHistory float64 // max points from prior abandonments
	SlowAccount    float64 // points when over account-typical total time
}

// DefaultWeights returns the production scoring weights.
func DefaultWeights() Weights {
	return Weights{
		TimePressure:   30,
		OvertimeBonus:  15,
		Errors:         25,
		FunnelPosition: 20,
		StepStall:      15,
		ReturnRelief:   5,
		PriorShift:     10,
		AbandonHistory: 10,
		SlowAccount:    5,
	}
}

const (
	// errorSaturation is the error count at which the error factor maxes out.
	errorSaturation = 5
	// overtimeRate converts time exceeded beyond 1x into bonus points.
	overtimeRate = 10.0
	// baseConfidence is the confidence with no optional context present.
	baseConfidence = 0.5
	// signalConfidence is added per optional signal present.
	signalConfidence = 0.1
)

// Predictor scores checkout sessions with a fixed weighted heuristic.
// It is stateless and safe for concurrent use.
type Predictor struct {
	weights Weights
}

// NewPredictor returns a predictor with the default weights.
func NewPredictor() *Predictor {
	return &Predictor{weights: DefaultWeights()}
}

// NewPredictorWithWeights returns a predictor with custom weights, used by
// tests and per-merchant tuning experiments.
func NewPredictorWithWeights(w Weights) *Predictor {
	return &Predictor{weights: w}
}

// Predict scores a session snapshot. The same features always produce the
// same prediction.
func (p *Predictor) Predict(features PredictionFeatures) Prediction {
	factors := make([]Factor, 0, 8)
	score := 0.0

	add := func(f Factor) {
		score += f.Contribution
		factors = append(factors, f)
	}

	add(p.timePressure(features))
	add(p.errorRate(features))
	add(p.funnelPosition(features))
	add(p.stepStall(features))

	if features.HasReturned {
		add(Factor{
			Name:         "returned_to_step",
			Contribution: -p.weights.ReturnRelief,
			Weight:       p.weights.ReturnRelief,
			Detail:       "shopper backtracked, signals engagement",
		})
	}

	for _, f := range p.priors(features) {
		add(f)
	}

	// Context fields inform confidence and the factor list only.
	if features.DeviceType != "" {
		factors = append(factors, Factor{Name: "device_type", Detail: features.DeviceType})
	}
	if features.Location != "" {
		factors = append(factors, Factor{Name: "location", Detail: features.Location})
	}

	score = clamp(score, 0, 100)
	level := riskLevelFor(score)
	intervene, kind := p.intervention(level, features, factors)

	return Prediction{
		RiskScore:             round1(score),
		RiskLevel:             level,
		Confidence:            round2(p.confidence(features)),
		Factors:               factors,
		Recommendations:       p.recommendations(level, kind, features),
		InterventionSuggested: intervene,
		InterventionType:      kind,
		EvaluatedAt:           time.Now().UTC(),
	}
}

// timePressure scores elapsed checkout time relative to typical. The base
// term saturates at 1x typical; sessions beyond 1x accrue bonus points up
// to OvertimeBonus.
func (p *Predictor) timePressure(f PredictionFeatures) Factor {
	base := math.Min(1, math.Max(0, f.TimeExceeded)) * p.weights.TimePressure
	bonus := 0.0
	if f.TimeExceeded > 1 {
		bonus = math.Min(p.weights.OvertimeBonus, (f.TimeExceeded-1)*overtimeRate)
	}
	return Factor{
		Name:         "time_pressure",
		Contribution: base + bonus,
		Weight:       p.weights.TimePressure + p.weights.OvertimeBonus,
		Detail:       fmt.Sprintf("%.1fx typical duration", f.TimeExceeded),
	}
}

// errorRate scores session errors, saturating at errorSaturation.
func (p *Predictor) errorRate(f PredictionFeatures) Factor {
	n := f.ErrorCount
	if n < 0 {
		n = 0
	}
	ratio := math.Min(1, float64(n)/errorSaturation)
	return Factor{
		Name:         "error_rate",
		Contribution: ratio * p.weights.Errors,
		Weight:       p.weights.Errors,
		Detail:       fmt.Sprintf("%d errors this session", n),
	}
}

// funnelPosition scores how much of the checkout remains. Early sessions
// carry more abandonment room than ones a step from completion.
func (p *Predictor) funnelPosition(f PredictionFeatures) Factor {
	progress := clamp(f.StepProgress, 0, 1)
	return Factor{
		Name:         "funnel_position",
		Contribution: (1 - progress) * p.weights.FunnelPosition,
		Weight:       p.weights.FunnelPosition,
		Detail:       fmt.Sprintf("%.0f%% of steps completed", progress*100),
	}
}

// stepStall scores dwell time on the current step against its typical
// duration. Growth is logarithmic so a wildly stalled session does not
// drown out every other factor.
func (p *Predictor) stepStall(f PredictionFeatures) Factor {
	typical := funnel.TypicalDuration(f.CurrentStep).Seconds()
	ratio := 0.0
	if typical > 0 && f.StepDuration > 0 {
		ratio = f.StepDuration / typical
	}
	stall := 0.0
	if ratio > 1 {
		stall = math.Min(1, math.Log2(ratio)/3)
	}
	return Factor{
		Name:         "step_stall",
		Contribution: stall * p.weights.StepStall,
		Weight:       p.weights.StepStall,
		Detail:       fmt.Sprintf("%.0fs on %s step", f.StepDuration, f.CurrentStep),
	}
}

// priors shifts the score using account-level history when present.
func (p *Predictor) priors(f PredictionFeatures) []Factor {
	var out []Factor
	if f.HistoricalConversionRate > 0 {
		// 50% conversion is neutral; stronger accounts pull the score down.
		shift := (0.5 - clamp(f.HistoricalConversionRate, 0, 1)) * 2 * p.weights.PriorShift
		out = append(out, Factor{
			Name:         "conversion_history",
			Contribution: shift,
			Weight:       p.weights.PriorShift,
			Detail:       fmt.Sprintf("%.0f%% historical conversion", f.HistoricalConversionRate*100),
		})
	}
	if f.HistoricalAbandonments > 0 {
		out = append(out, Factor{
			Name:         "abandonment_history",
			Contribution: math.Min(p.weights.AbandonHistory, float64(f.HistoricalAbandonments)*2),
			Weight:       p.weights.AbandonHistory,
			Detail:       fmt.Sprintf("%d prior abandonments", f.HistoricalAbandonments),
		})
	}
	if f.AvgCheckoutTime > 0 && f.TotalDuration > f.AvgCheckoutTime {
		out = append(out, Factor{
			Name:         "slow_for_account",
			Contribution: p.weights.SlowAccount,
			Weight:       p.weights.SlowAccount,
			Detail:       "over this account's typical checkout time",
		})
	}
	return out
}

// confidence grows with each optional signal present, from baseConfidence
// up to 1.0.
func (p *Predictor) confidence(f PredictionFeatures) float64 {
	c := baseConfidence
	for _, present := range []bool{
		f.DeviceType != "",
		f.Location != "",
		f.HistoricalAbandonments > 0,
		f.AvgCheckoutTime > 0,
		f.HistoricalConversionRate > 0,
	} {
		if present {
			c += signalConfidence
		}
	}
	return clamp(c, 0, 1)
}

// intervention picks an action for high and critical sessions, keyed on the
// current step and the dominant scored factor.
func (p *Predictor) intervention(level RiskLevel, f PredictionFeatures, factors []Factor) (bool, InterventionType) {
	if level != RiskHigh && level != RiskCritical {
		return false, ""
	}
	if f.CurrentStep == funnel.StepPayment {
		return true, InterventionTrustBadge
	}
	switch dominantFactor(factors) {
	case "error_rate":
		return true, InterventionSimplifyForm
	case "funnel_position":
		return true, InterventionProgressIndicator
	default:
		return true, InterventionDiscount
	}
}

// recommendations returns dashboard hints keyed to the risk level and any
// selected intervention.
func (p *Predictor) recommendations(level RiskLevel, kind InterventionType, f PredictionFeatures) []string {
	var recs []string
	switch kind {
	case InterventionDiscount:
		recs = append(recs, "offer_time_limited_discount")
	case InterventionTrustBadge:
		recs = append(recs, "show_trust_badges", "display_security_guarantees")
	case InterventionSimplifyForm:
		recs = append(recs, "simplify_checkout_form", "enable_guest_checkout")
	case InterventionProgressIndicator:
		recs = append(recs, "show_progress_indicator")
	}
	if level == RiskMedium {
		recs = append(recs, "monitor_session")
	}
	if level == RiskCritical && f.CurrentStep != funnel.StepPayment {
		recs = append(recs, "trigger_exit_intent_prompt")
	}
	if recs == nil {
		recs = []string{}
	}
	return recs
}

// dominantFactor returns the name of the scored factor with the largest
// positive contribution.
func dominantFactor(factors []Factor) string {
	name, best := "", 0.0
	for _, f := range factors {
		if f.Contribution > best {
			name, best = f.Name, f.Contribution
		}
	}
	return name
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
