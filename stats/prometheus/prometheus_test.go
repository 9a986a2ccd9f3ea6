package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		m := f.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestNewDefaultRegistry(t *testing.T) {
	c := New(nil)
	assert.NotNil(t, c.registry)
}

func TestCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.IncCounter("offline_worker_installs_total", 5)
	c.IncCounter("offline_worker_installs_total", 3)
	assert.Equal(t, float64(8), gathered(t, reg, "offline_worker_installs_total"))
}

func TestGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.SetGauge("offline_worker_clients", 4)
	c.SetGauge("offline_worker_clients", 2)
	assert.Equal(t, float64(2), gathered(t, reg, "offline_worker_clients"))
}

func TestHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.ObserveHistogram("offline_worker_fetch_seconds", 0.1)
	c.ObserveHistogram("offline_worker_fetch_seconds", 2)
	assert.Equal(t, float64(2), gathered(t, reg, "offline_worker_fetch_seconds"))
}

func TestSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg).IncCounter("offline_worker_activations_total", 1)
	New(reg).IncCounter("offline_worker_activations_total", 1)
	assert.Equal(t, float64(2), gathered(t, reg, "offline_worker_activations_total"))
}
