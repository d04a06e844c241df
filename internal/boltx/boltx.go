// Package boltx implements abandonment-risk scoring for live checkout sessions.
//
// Every in-progress checkout session can be scored against weighted behavioral
// factors: time pressure, error rate, funnel position, and step stall. Scores
// range from 0 (safe) to 100 (certain abandonment) and map onto four risk
// levels that the dashboard color-codes. High-risk sessions get intervention
// suggestions (discounts, trust badges, simplified forms) keyed on the
// dominant factor.
package boltx

import (
	"context"
	"time"

	"github.com/cartpulse/cartpulse/internal/funnel"
)

// RiskLevel buckets a risk score for dashboard display.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Risk level thresholds. The dashboard color-codes on these exact cuts,
// so they are not tunable per merchant.
const (
	ThresholdMedium   = 30.0
	ThresholdHigh     = 50.0
	ThresholdCritical = 70.0
)

// InterventionType identifies a UI or pricing action suggested to reduce
// abandonment risk.
type InterventionType string

const (
	InterventionDiscount          InterventionType = "discount"
	InterventionTrustBadge        InterventionType = "trust_badge"
	InterventionSimplifyForm      InterventionType = "simplify_form"
	InterventionProgressIndicator InterventionType = "progress_indicator"
)

// PredictionFeatures is a snapshot of one checkout session's behavior.
//
// All numeric fields must be finite and non-negative; callers clamp before
// calling. The predictor does not reject malformed input; output is
// unreliable for negative or infinite values. Absent optional fields are
// zero values and contribute nothing to the score.
type PredictionFeatures struct {
	// TimeExceeded is elapsed checkout duration over the typical duration
	// (1.0 = exactly typical, 2.0 = twice as long).
	TimeExceeded float64 `json:"timeExceeded"`
	// ErrorCount is validation/payment errors seen so far in the session.
	ErrorCount int `json:"errorCount"`
	// CurrentStep is the funnel stage the shopper is on.
	CurrentStep funnel.Step `json:"currentStep"`
	// StepDuration is seconds spent on CurrentStep so far.
	StepDuration float64 `json:"stepDuration"`
	// TotalDuration is seconds since the session started.
	TotalDuration float64 `json:"totalDuration"`
	// HasReturned is true when the session revisited an earlier step.
	HasReturned bool `json:"hasReturned"`
	// StepProgress is the fraction of checkout steps completed, in [0,1].
	StepProgress float64 `json:"stepProgress"`

	// Optional context, surfaced as factors but not scored numerically.
	DeviceType string `json:"deviceType,omitempty"`
	Location   string `json:"location,omitempty"`

	// Optional account-level priors (zero = absent).
	HistoricalAbandonments   int     `json:"historicalAbandonments,omitempty"`
	AvgCheckoutTime          float64 `json:"avgCheckoutTime,omitempty"` // seconds
	HistoricalConversionRate float64 `json:"historicalConversionRate,omitempty"`
}

// Factor is one named signal's contribution to a risk score, surfaced so
// the dashboard can explain why a score is high.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"` // points added (negative = relief)
	Weight       float64 `json:"weight"`       // maximum possible points
	Detail       string  `json:"detail,omitempty"`
}

// Prediction is the result of scoring one session snapshot.
type Prediction struct {
	RiskScore             float64          `json:"riskScore"` // [0,100]
	RiskLevel             RiskLevel        `json:"riskLevel"`
	Confidence            float64          `json:"confidence"` // [0,1]
	Factors               []Factor         `json:"factors"`
	Recommendations       []string         `json:"recommendations"`
	InterventionSuggested bool             `json:"interventionSuggested"`
	InterventionType      InterventionType `json:"interventionType,omitempty"`
	EvaluatedAt           time.Time        `json:"evaluatedAt"`
}

// StoredPrediction is the flattened form persisted for later retrieval and
// outcome comparison. The platform writes one per scoring call.
type StoredPrediction struct {
	ID               string           `json:"id"`
	MerchantID       string           `json:"merchantId"`
	SessionID        string           `json:"sessionId"`
	RiskScore        float64          `json:"riskScore"`
	RiskLevel        RiskLevel        `json:"riskLevel"`
	Confidence       float64          `json:"confidence"`
	InterventionType InterventionType `json:"interventionType,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// Store persists predictions for audit and outcome comparison.
type Store interface {
	Record(ctx context.Context, p *StoredPrediction) error
	ListBySession(ctx context.Context, merchantID, sessionID string, limit int) ([]*StoredPrediction, error)
	ListRecent(ctx context.Context, merchantID string, limit int) ([]*StoredPrediction, error)
}

// TrainingOutcome labels how a historical session actually ended.
type TrainingOutcome string

const (
	OutcomeCompleted TrainingOutcome = "completed"
	OutcomeAbandoned TrainingOutcome = "abandoned"
)

// TrainingSample pairs a historical feature snapshot with its known outcome.
type TrainingSample struct {
	Features PredictionFeatures `json:"features"`
	Outcome  TrainingOutcome    `json:"outcome"`
}

// ModelMetrics reports retrospective classification quality of the base
// heuristic against labeled outcomes. Nothing about the scoring function
// changes when these are computed.
type ModelMetrics struct {
	Accuracy    float64   `json:"accuracy"`
	Precision   float64   `json:"precision"`
	Recall      float64   `json:"recall"`
	F1Score     float64   `json:"f1Score"`
	SampleCount int       `json:"sampleCount"`
	LastTrained time.Time `json:"lastTrained"`
}

// riskLevelFor maps a score onto its risk level bucket.
func riskLevelFor(score float64) RiskLevel {
	switch {
	case score < ThresholdMedium:
		return RiskLow
	case score < ThresholdHigh:
		return RiskMedium
	case score < ThresholdCritical:
		return RiskHigh
	default:
		return RiskCritical
	}
}
