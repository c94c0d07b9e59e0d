package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecordOperation(t *testing.T) {
	p := New()
	p.RecordOperation("infer", 30*time.Millisecond)
	p.RecordOperation("read", 2*time.Millisecond)
	p.RecordOperation("infer", 10*time.Millisecond)

	timings := p.Timings()
	require.Len(t, timings, 2)
	assert.Equal(t, "infer", timings[0].Name, "first use order")
	assert.Equal(t, int64(2), timings[0].Count)
	assert.Equal(t, 10*time.Millisecond, timings[0].Min)
	assert.Equal(t, 30*time.Millisecond, timings[0].Max)
	assert.Equal(t, 20*time.Millisecond, timings[0].Mean())
	assert.Zero(t, Timing{}.Mean())
}

func TestStartOperation(t *testing.T) {
	p := New()
	done := p.StartOperation("write")
	done()

	timings := p.Timings()
	require.Len(t, timings, 1)
	assert.Equal(t, int64(1), timings[0].Count)
	assert.GreaterOrEqual(t, timings[0].Total, time.Duration(0))
}

func TestRecordMetric(t *testing.T) {
	p := New()
	for _, v := range []float64{1, 0, 2} {
		p.RecordMetric("detections", v)
	}

	metrics := p.Metrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, float64(0), metrics[0].Min)
	assert.Equal(t, float64(2), metrics[0].Max)
	assert.Equal(t, float64(1), metrics[0].Mean())
}

func TestReport(t *testing.T) {
	p := New()
	p.RecordOperation("infer", time.Millisecond)
	p.RecordMetric("pool_in_use", 1)

	core, logs := observer.New(zapcore.DebugLevel)
	p.Report(zap.New(core).Sugar())
	assert.Equal(t, 1, logs.FilterMessage("operation timing").Len())
	assert.Equal(t, 1, logs.FilterMessage("metric").Len())
}
