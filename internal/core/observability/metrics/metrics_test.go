package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegisterPerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	other := NewUnregistered()

	m.PacketsSent.Inc()
	m.StagedUpdates.WithLabelValues(OutcomeValid).Add(3)
	other.PacketsSent.Add(5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsSent))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.StagedUpdates.WithLabelValues(OutcomeValid)))
	assert.Equal(t, 5.0, testutil.ToFloat64(other.PacketsSent))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Panics(t, func() { New(reg) })
}
