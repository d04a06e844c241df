// Package admin provides admin-only endpoints for platform operations.
package admin

import "time"

// PlatformOverview summarizes the whole installation for operators.
type PlatformOverview struct {
	Merchants     int            `json:"merchants"`
	ByPlan        map[string]int `json:"byPlan"`
	ByStatus      map[string]int `json:"byStatus"`
	ModelMetrics  interface{}    `json:"modelMetrics,omitempty"`
	StreamClients interface{}    `json:"stream,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// RetrainReport summarizes an operator-triggered training run.
type RetrainReport struct {
	Samples   int           `json:"samples"`
	Duration  time.Duration `json:"durationMs"`
	Timestamp time.Time     `json:"timestamp"`
}
