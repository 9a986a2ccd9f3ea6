// Package logger provides a zerolog-based stats collector that logs metrics.
package logger

import (
	"github.com/rs/zerolog"

	"github.com/always-cache/offline-worker/stats"
)

// Collector implements stats.Collector by logging metrics at trace level.
type Collector struct {
	logger zerolog.Logger
}

var _ stats.Collector = (*Collector)(nil)

// New creates a new logger-based collector.
// If logger is nil, metrics are discarded.
func New(logger *zerolog.Logger) *Collector {
	if logger == nil {
		return &Collector{logger: zerolog.Nop()}
	}
	return &Collector{logger: logger.With().Str("component", "stats").Logger()}
}

func (c *Collector) IncCounter(name string, delta int64) {
	c.logger.Trace().Str("metric", name).Int64("delta", delta).Msg("counter")
}

func (c *Collector) SetGauge(name string, value int64) {
	c.logger.Trace().Str("metric", name).Int64("value", value).Msg("gauge")
}

func (c *Collector) ObserveHistogram(name string, value float64) {
	c.logger.Trace().Str("metric", name).Float64("value", value).Msg("histogram")
}
