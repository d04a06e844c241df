package boltx

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestRetrainer_RunsImmediatelyOnStart(t *testing.T) {
	e := NewEnhancedPredictor()
	var calls atomic.Int32
	source := SampleSourceFunc(func(ctx context.Context) ([]TrainingSample, error) {
		calls.Add(1)
		return []TrainingSample{{Features: calmSession(), Outcome: OutcomeCompleted}}, nil
	})

	r := NewRetrainer(e, source, time.Hour, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	deadline := time.After(time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("retrainer never ran on start")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	if e.Metrics() == nil {
		t.Error("metrics should be populated after the initial run")
	}
}

func TestRetrainer_StopEndsLoop(t *testing.T) {
	e := NewEnhancedPredictor()
	source := SampleSourceFunc(func(ctx context.Context) ([]TrainingSample, error) {
		return nil, nil
	})

	r := NewRetrainer(e, source, 10*time.Millisecond, slog.Default())
	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retrainer did not stop")
	}
}

func TestRetrainer_SourceErrorLeavesMetricsUntouched(t *testing.T) {
	e := NewEnhancedPredictor()
	source := SampleSourceFunc(func(ctx context.Context) ([]TrainingSample, error) {
		return nil, errors.New("store offline")
	})

	r := NewRetrainer(e, source, time.Hour, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go r.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	if e.Metrics() != nil {
		t.Error("failed sample loads must not produce metrics")
	}
}

func TestRetrainer_EmptySamplesSkipped(t *testing.T) {
	e := NewEnhancedPredictor()
	source := SampleSourceFunc(func(ctx context.Context) ([]TrainingSample, error) {
		return []TrainingSample{}, nil
	})

	r := NewRetrainer(e, source, time.Hour, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go r.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	if e.Metrics() != nil {
		t.Error("empty sample sets must not overwrite metrics")
	}
}
