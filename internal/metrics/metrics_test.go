package metrics_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/signalnine/riskarena/internal/events"
	"github.com/signalnine/riskarena/internal/metrics"
)

func TestCollectorCountsTerminalStates(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.Observe(events.Event{From: "Received", To: "RequestValidated", ElapsedMS: 3})
	c.Observe(events.Event{From: "RequestValidated", To: "Dispatched", ElapsedMS: 5})
	score := 0.75
	c.Observe(events.Event{From: "Scored", To: "Completed", Terminal: true, Score: &score})
	c.Observe(events.Event{From: "Received", To: "Rejected", Terminal: true})

	count, err := testutil.GatherAndCount(reg, "riskarena_evaluations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "riskarena_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	count, err = testutil.GatherAndCount(reg, "riskarena_overall_score")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollectorIgnoresInitialEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.Observe(events.Event{To: "Received"})

	count, err := testutil.GatherAndCount(reg, "riskarena_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestInitTracing(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := metrics.InitTracing(&buf)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "dispatch")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "dispatch")
}
