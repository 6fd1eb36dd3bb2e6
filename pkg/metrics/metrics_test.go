package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndStorage(t *testing.T) {
	require.NoError(t, InitMetrics(t.TempDir()))
	defer Close()

	before := Counters()[RadiusAccept]
	Incr(RadiusAccept)
	Add(RadiusAccept, 2)
	assert.Equal(t, before+3, Counters()[RadiusAccept])

	SetGauge("radbill_memuse", 42)
	points, err := Query("radbill_memuse", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.NotEmpty(t, points)
	assert.Equal(t, float64(42), points[len(points)-1].Value)
}

func TestDrainLatency(t *testing.T) {
	DrainLatency()
	assert.Equal(t, 0, DrainLatency().Count)

	for i := 1; i <= 100; i++ {
		ObserveAuthLatency(time.Duration(i) * time.Microsecond)
	}
	sum := DrainLatency()
	assert.Equal(t, 100, sum.Count)
	assert.InDelta(t, 50.5, sum.Mean, 0.01)
	assert.Equal(t, float64(100), sum.Max)
	assert.Equal(t, 0, DrainLatency().Count)
}
