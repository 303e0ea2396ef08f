package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRelay_SeparateRegistries(t *testing.T) {
	a := NewRelay(nil)
	b := NewRelay(nil)

	a.Broadcasts.Add(2)
	a.Connections.Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(a.Broadcasts))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Connections))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Broadcasts))
}

func TestNewBridge_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBridge(reg)
	m.EchoesSuppressed.Inc()

	n, err := testutil.GatherAndCount(reg, "codlab_bridge_echoes_suppressed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
