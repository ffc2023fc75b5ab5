package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestObserveCacheSize(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)
	r.ObserveCacheSize(7)

	m := &dto.Metric{}
	require.NoError(t, r.CacheSize.Write(m))
	require.Equal(t, float64(7), m.GetGauge().GetValue())
}
