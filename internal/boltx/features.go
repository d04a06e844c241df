package boltx

import (
	"context"
	"errors"
	"time"

	"github.com/cartpulse/cartpulse/internal/events"
	"github.com/cartpulse/cartpulse/internal/funnel"
)

// ErrNoEvents is returned when a session has no recorded events.
var ErrNoEvents = errors.New("session has no events")

// FeaturesFromEvents builds a feature snapshot from one session's events,
// evaluated at the given time. Events must be ordered oldest first, as
// the event store returns them.
func FeaturesFromEvents(evts []*events.Event, now time.Time) (PredictionFeatures, error) {
	if len(evts) == 0 {
		return PredictionFeatures{}, ErrNoEvents
	}

	var f PredictionFeatures
	f.CurrentStep = funnel.StepCart
	stepEnteredAt := evts[0].CreatedAt
	maxViewed := -1
	completed := make(map[funnel.Step]bool)

	for _, e := range evts {
		if f.DeviceType == "" && e.DeviceType != "" {
			f.DeviceType = e.DeviceType
		}
		if f.Location == "" && e.Location != "" {
			f.Location = e.Location
		}

		switch e.Type {
		case events.TypeCheckoutError:
			f.ErrorCount++
		case events.TypeStepViewed:
			step := funnel.Step(e.Step)
			idx := funnel.Index(step)
			if idx < 0 {
				continue
			}
			if idx < maxViewed {
				f.HasReturned = true
			}
			if idx > maxViewed {
				maxViewed = idx
			}
			f.CurrentStep = step
			stepEnteredAt = e.CreatedAt
		case events.TypeStepCompleted:
			if funnel.Valid(funnel.Step(e.Step)) {
				completed[funnel.Step(e.Step)] = true
			}
		}
	}

	f.TotalDuration = now.Sub(evts[0].CreatedAt).Seconds()
	f.StepDuration = now.Sub(stepEnteredAt).Seconds()
	if f.TotalDuration < 0 {
		f.TotalDuration = 0
	}
	if f.StepDuration < 0 {
		f.StepDuration = 0
	}
	if typical := funnel.TypicalCheckoutDuration().Seconds(); typical > 0 {
		f.TimeExceeded = f.TotalDuration / typical
	}
	f.StepProgress = float64(len(completed)) / float64(len(funnel.Steps))

	return f, nil
}

// ApplyPriors merges account-level aggregates into a feature snapshot.
func ApplyPriors(f *PredictionFeatures, p *events.Priors) {
	if p == nil {
		return
	}
	f.HistoricalAbandonments = p.Abandonments
	f.AvgCheckoutTime = p.AvgCheckoutSeconds
	if p.Completions+p.Abandonments > 0 {
		f.HistoricalConversionRate = p.ConversionRate
	}
}

// maxTrainingSessions bounds how many ended sessions feed one training run.
const maxTrainingSessions = 500

// BuildTrainingSamples labels a merchant's ended sessions for model
// training. Each sample's features are evaluated at the session's final
// event, with the terminal event excluded so the snapshot reflects what
// the predictor would have seen just before the outcome.
func BuildTrainingSamples(ctx context.Context, store events.Store, merchantID string) ([]TrainingSample, error) {
	ids, err := store.EndedSessionIDs(ctx, merchantID, maxTrainingSessions)
	if err != nil {
		return nil, err
	}

	var samples []TrainingSample
	for _, id := range ids {
		evts, err := store.ListBySession(ctx, merchantID, id)
		if err != nil {
			return nil, err
		}
		if len(evts) < 2 {
			continue
		}

		last := evts[len(evts)-1]
		var outcome TrainingOutcome
		switch last.Type {
		case events.TypeCheckoutCompleted:
			outcome = OutcomeCompleted
		case events.TypeCheckoutAbandoned:
			outcome = OutcomeAbandoned
		default:
			continue
		}

		features, err := FeaturesFromEvents(evts[:len(evts)-1], last.CreatedAt)
		if err != nil {
			continue
		}
		samples = append(samples, TrainingSample{Features: features, Outcome: outcome})
	}
	return samples, nil
}
