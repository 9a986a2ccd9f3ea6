package stats

// Noop is a no-op collector that discards all metrics.
type Noop struct{}

var _ Collector = (*Noop)(nil)

func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) IncCounter(name string, delta int64)         {}
func (n *Noop) SetGauge(name string, value int64)           {}
func (n *Noop) ObserveHistogram(name string, value float64) {}
