package observ

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/KNICEX/trading-automaton/internal/service/notification"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCountEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Notify(context.Background(), notification.NewEvent(notification.PositionsOpened)))
	require.NoError(t, m.Notify(context.Background(), notification.NewEvent(notification.PositionsOpened)))
	m.IncOrder("demo", "buy", "ok")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.events.WithLabelValues("positions_opened")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.orders.WithLabelValues("demo", "buy", "ok")))
}

func TestMetricsLoopGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RegisterLoops(reg, func() int { return 3 })

	n, err := testutil.GatherAndCount(reg, "automaton_loops_active")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestErrorReporter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	m := NewMetrics(prometheus.NewRegistry())
	r := NewErrorReporter(logger, m)

	r.Report("broker", errors.New("boom"), "symbol", "BTC/USDT")
	r.Report("broker", nil)

	assert.Contains(t, buf.String(), `"component":"broker"`)
	assert.Contains(t, buf.String(), `"symbol":"BTC/USDT"`)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues("broker")))
}
