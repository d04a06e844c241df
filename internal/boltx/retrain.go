package boltx

import (
	"context"
	"log/slog"
	"time"
)

// SampleSource supplies labeled historical sessions for periodic
// retraining, typically backed by the event store.
type SampleSource interface {
	TrainingSamples(ctx context.Context) ([]TrainingSample, error)
}

// SampleSourceFunc adapts a function to the SampleSource interface.
type SampleSourceFunc func(ctx context.Context) ([]TrainingSample, error)

func (f SampleSourceFunc) TrainingSamples(ctx context.Context) ([]TrainingSample, error) {
	return f(ctx)
}

// Retrainer periodically refreshes model metrics from labeled session
// outcomes. It stops when its context is cancelled or Stop is called.
type Retrainer struct {
	predictor *EnhancedPredictor
	source    SampleSource
	interval  time.Duration
	logger    *slog.Logger
	stop      chan struct{}
}

// NewRetrainer creates a retraining worker.
// interval is typically 24 hours in production, seconds in demo mode.
func NewRetrainer(predictor *EnhancedPredictor, source SampleSource, interval time.Duration, logger *slog.Logger) *Retrainer {
	return &Retrainer{
		predictor: predictor,
		source:    source,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start begins the retrain loop. Call in a goroutine.
func (r *Retrainer) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run once immediately on start
	r.retrain(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.retrain(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (r *Retrainer) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Retrainer) retrain(ctx context.Context) {
	samples, err := r.source.TrainingSamples(ctx)
	if err != nil {
		r.logger.Warn("retrain failed to load samples", "error", err)
		return
	}
	if len(samples) == 0 {
		return
	}

	m := r.predictor.Train(samples)
	r.logger.Info("model retrained",
		"samples", m.SampleCount,
		"accuracy", m.Accuracy,
		"f1", m.F1Score)
}
