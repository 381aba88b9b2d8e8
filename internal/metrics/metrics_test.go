package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(OptimizerRewrites.WithLabelValues("test_rule"))
	OptimizerRewrites.WithLabelValues("test_rule").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(OptimizerRewrites.WithLabelValues("test_rule")))

	before = testutil.ToFloat64(BytesWritten)
	BytesWritten.Add(128)
	assert.Equal(t, before+128, testutil.ToFloat64(BytesWritten))
}

func TestTimerObserves(t *testing.T) {
	timer := NewTimer()
	d := timer.ObserveDuration(SaveDuration.WithLabelValues("test"))
	assert.GreaterOrEqual(t, d.Nanoseconds(), int64(0))
	assert.Equal(t, 1, testutil.CollectAndCount(SaveDuration))
}
