package redjob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatCounterIncrAndGet(t *testing.T) {
	ctx := newTestContext("redjobtest:stats")

	n, err := ctx.Stats.Incr("processed")
	require.Nil(t, err)
	assert.EqualValues(t, 1, n)

	got, err := ctx.Stats.Get("processed")
	require.Nil(t, err)
	assert.EqualValues(t, 1, got)
}

func TestStatCounterGetUnset(t *testing.T) {
	ctx := newTestContext("redjobtest:stats")

	got, err := ctx.Stats.Get("nonexistent")
	require.Nil(t, err)
	assert.EqualValues(t, 0, got, "expected 0 for an unset stat")
}

func TestStatCounterPerWorker(t *testing.T) {
	ctx := newTestContext("redjobtest:stats")

	require.Nil(t, ctx.Stats.IncrProcessed("worker-1"))
	require.Nil(t, ctx.Stats.IncrFailed("worker-1"))

	processed, err := ctx.Stats.Get("processed:worker-1")
	require.Nil(t, err)
	failed, err := ctx.Stats.Get("failed:worker-1")
	require.Nil(t, err)
	assert.EqualValues(t, 1, processed)
	assert.EqualValues(t, 1, failed)
}

type fakeMetricsSink struct {
	gauges map[string]float64
}

func (s *fakeMetricsSink) Gauge(name string, value float64) {
	if s.gauges == nil {
		s.gauges = make(map[string]float64)
	}
	s.gauges[name] = value
}

func TestStatCounterSetSinkReportsGauge(t *testing.T) {
	ctx := newTestContext("redjobtest:stats")
	sink := &fakeMetricsSink{}
	ctx.Stats.SetSink(sink)

	_, err := ctx.Stats.Incr("processed")
	require.Nil(t, err)

	assert.Equal(t, float64(1), sink.gauges["processed"])
}
