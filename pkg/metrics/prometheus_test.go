package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OmniSpectrum/internal/domain/models"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordForecast(models.LabelBull)
	r.RecordForecast(models.LabelBull)
	r.RecordError("cache_missing")
	r.ObserveStage("features", 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.forecasts.WithLabelValues("bull")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("cache_missing")))

	n, err := testutil.GatherAndCount(reg, "omnispectrum_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
