package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCallGauge(t *testing.T) {
	before := testutil.ToFloat64(promCallsActive)

	CallStarted()
	assert.Equal(t, before+1, testutil.ToFloat64(promCallsActive))

	CallEnded()
	assert.Equal(t, before, testutil.ToFloat64(promCallsActive))
}

func TestOperation(t *testing.T) {
	Operation("relay", "")
	Operation("relay", "not_joined")

	assert.Equal(t, float64(1), testutil.ToFloat64(ServiceOperationCounter.WithLabelValues("relay", "success", "")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ServiceOperationCounter.WithLabelValues("relay", "error", "not_joined")))
}

func TestChatPolled(t *testing.T) {
	ChatPolled(true)
	ChatPolled(false)
	ChatPolled(false)

	assert.Equal(t, float64(2), testutil.ToFloat64(promChatPolls.WithLabelValues("error")))
}
