package boltx

import (
	"math"
	"sync"
	"time"
)

const (
	// HistoryLimit bounds per-session prediction history; the oldest entry
	// is evicted once the limit is reached.
	HistoryLimit = 10
	// trendWindow is how many recent predictions feed the trend average.
	trendWindow = 3
	// trendBoostRate converts the gap between a new score and the recent
	// average into bonus points.
	trendBoostRate = 0.2
	// maxTrendBoost caps the trend bonus.
	maxTrendBoost = 10.0
	// trendFloor is the minimum new score for a trend boost to apply.
	trendFloor = 50.0
	// consistencyBand is how close a past score must be to the new one to
	// count toward the consistency confidence bonus.
	consistencyBand = 15.0
	// consistencyBonus is added to confidence per consistent past score.
	consistencyBonus = 0.05
	// classifyThreshold splits predictions into abandon/complete classes
	// when computing model metrics.
	classifyThreshold = 50.0
)

// HistoryStore keeps recent predictions per session so trend and
// consistency adjustments can compare a new score against earlier ones.
// Implementations must bound each session to HistoryLimit entries,
// evicting the oldest, and must be safe for concurrent use.
type HistoryStore interface {
	Append(sessionID string, p Prediction)
	Recent(sessionID string, n int) []Prediction
	Clear(sessionID string)
}

// MemoryHistory is the in-process HistoryStore used in production. History
// is advisory; losing it on restart only drops trend adjustments.
type MemoryHistory struct {
	mu       sync.RWMutex
	sessions map[string][]Prediction
}

var _ HistoryStore = (*MemoryHistory)(nil)

// NewMemoryHistory returns an empty in-memory history store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{sessions: make(map[string][]Prediction)}
}

func (m *MemoryHistory) Append(sessionID string, p Prediction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := append(m.sessions[sessionID], p)
	if len(hist) > HistoryLimit {
		hist = hist[len(hist)-HistoryLimit:]
	}
	m.sessions[sessionID] = hist
}

// Recent returns up to n most recent predictions, oldest first.
func (m *MemoryHistory) Recent(sessionID string, n int) []Prediction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hist := m.sessions[sessionID]
	if len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	out := make([]Prediction, len(hist))
	copy(out, hist)
	return out
}

func (m *MemoryHistory) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// EnhancedPredictor wraps the base heuristic with per-session trend
// tracking and retrospective model metrics. Safe for concurrent use.
type EnhancedPredictor struct {
	base    *Predictor
	history HistoryStore

	mu      sync.RWMutex
	metrics *ModelMetrics
}

// NewEnhancedPredictor builds an enhanced predictor over the default base
// heuristic with in-memory session history.
func NewEnhancedPredictor() *EnhancedPredictor {
	return &EnhancedPredictor{base: NewPredictor(), history: NewMemoryHistory()}
}

// NewEnhancedPredictorWith allows injecting the base predictor and history
// store, for tests and alternative history backends.
func NewEnhancedPredictorWith(base *Predictor, history HistoryStore) *EnhancedPredictor {
	return &EnhancedPredictor{base: base, history: history}
}

// Base returns the underlying stateless predictor.
func (e *EnhancedPredictor) Base() *Predictor { return e.base }

// Predict scores a session snapshot and adjusts the result against the
// session's recent history. A rising score above trendFloor gets boosted;
// scores consistent with recent history gain confidence. The final
// prediction is appended to the session's history.
func (e *EnhancedPredictor) Predict(sessionID string, features PredictionFeatures) Prediction {
	pred := e.base.Predict(features)
	if sessionID == "" {
		return pred
	}

	recent := e.history.Recent(sessionID, trendWindow)
	if len(recent) > 0 {
		avg := 0.0
		for _, r := range recent {
			avg += r.RiskScore
		}
		avg /= float64(len(recent))

		if pred.RiskScore > avg && pred.RiskScore > trendFloor {
			boost := math.Min(maxTrendBoost, trendBoostRate*(pred.RiskScore-avg))
			pred.RiskScore = round1(math.Min(100, pred.RiskScore+boost))
			pred.RiskLevel = riskLevelFor(pred.RiskScore)
			pred.Factors = append(pred.Factors, Factor{
				Name:         "rising_trend",
				Contribution: boost,
				Weight:       maxTrendBoost,
				Detail:       "risk rising across recent snapshots",
			})
		}

		consistent := 0
		for _, r := range recent {
			if math.Abs(r.RiskScore-pred.RiskScore) <= consistencyBand {
				consistent++
			}
		}
		if consistent > 0 {
			pred.Confidence = round2(math.Min(1, pred.Confidence+float64(consistent)*consistencyBonus))
		}
	}

	e.history.Append(sessionID, pred)
	return pred
}

// SessionHistory returns the stored predictions for a session, oldest first.
func (e *EnhancedPredictor) SessionHistory(sessionID string) []Prediction {
	return e.history.Recent(sessionID, HistoryLimit)
}

// ClearSessionHistory drops a session's history, typically on checkout
// completion.
func (e *EnhancedPredictor) ClearSessionHistory(sessionID string) {
	e.history.Clear(sessionID)
}

// Train evaluates the base heuristic against labeled historical sessions
// and records a confusion matrix. Predictions at or above classifyThreshold
// count as predicted abandonments. Training never alters scoring weights.
func (e *EnhancedPredictor) Train(samples []TrainingSample) *ModelMetrics {
	var tp, fp, tn, fn int
	for _, s := range samples {
		predicted := e.base.Predict(s.Features).RiskScore >= classifyThreshold
		actual := s.Outcome == OutcomeAbandoned
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && !actual:
			tn++
		default:
			fn++
		}
	}

	m := &ModelMetrics{
		SampleCount: len(samples),
		LastTrained: time.Now().UTC(),
	}
	if total := tp + fp + tn + fn; total > 0 {
		m.Accuracy = round2(float64(tp+tn) / float64(total))
	}
	if tp+fp > 0 {
		m.Precision = round2(float64(tp) / float64(tp+fp))
	}
	if tp+fn > 0 {
		m.Recall = round2(float64(tp) / float64(tp+fn))
	}
	if m.Precision+m.Recall > 0 {
		m.F1Score = round2(2 * m.Precision * m.Recall / (m.Precision + m.Recall))
	}

	e.mu.Lock()
	e.metrics = m
	e.mu.Unlock()
	return m
}

// Metrics returns a copy of the last training result, or nil if the model
// has never been trained.
func (e *EnhancedPredictor) Metrics() *ModelMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.metrics == nil {
		return nil
	}
	out := *e.metrics
	return &out
}
