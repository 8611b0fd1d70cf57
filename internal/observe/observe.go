package observe

import (
	"github.com/boardwatch-hq/ptt-board-courier/internal/logger"
)

// Package observe holds the metric and alert collaborator surfaces the
// resilience layer and the clients report into. Delivery of metrics and
// alerts to an external system is out of scope; implementations here either
// discard, count in-process (prometheus), or log.

// Metrics counts named events with optional labels.
type Metrics interface {
	Increment(name string, value float64, labels map[string]string)
}

// Alerter raises operator-facing alerts (e.g. a circuit tripping open).
type Alerter interface {
	Trigger(level, title, message, source string, metadata map[string]any)
}

// Alert levels.
const (
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// NopMetrics discards all increments.
type NopMetrics struct{}

func (NopMetrics) Increment(string, float64, map[string]string) {}

// NopAlerter discards all alerts.
type NopAlerter struct{}

func (NopAlerter) Trigger(string, string, string, string, map[string]any) {}

// LogAlerter writes alerts to the structured logger at error level.
type LogAlerter struct {
	Log logger.Logger
}

func (a *LogAlerter) Trigger(level, title, message, source string, metadata map[string]any) {
	if a == nil || a.Log == nil {
		return
	}
	a.Log.ErrorObj("alert triggered", "alert", map[string]any{
		"level":    level,
		"title":    title,
		"message":  message,
		"source":   source,
		"metadata": metadata,
	})
}
