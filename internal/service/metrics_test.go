package service

import (
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polkawar/internal/metrics"
)

func TestWagerService_RecordsMetrics(t *testing.T) {
	h := newHarness(t)
	reg := prometheus.NewRegistry()
	h.svc.WithMetrics(metrics.New(reg))

	p, err := h.svc.CreatePool(h.ctx, admin, uint256.NewInt(50))
	require.NoError(t, err)
	_, err = h.svc.CreatePool(h.ctx, player1, uint256.NewInt(50))
	require.Error(t, err)
	h.playRound(t, p.ID, true)

	expected := `
# HELP polkawar_pools Number of pools in the registry.
# TYPE polkawar_pools gauge
polkawar_pools 1
# HELP polkawar_settlements_total Settled rounds by kind.
# TYPE polkawar_settlements_total counter
polkawar_settlements_total{kind="draw"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"polkawar_pools", "polkawar_settlements_total"))

	ops, err := testutil.GatherAndCount(reg, "polkawar_operations_total")
	require.NoError(t, err)
	// create_pool{ok,unauthorized}, join, record_outcome and settle_draw.
	assert.Equal(t, 5, ops)
}
