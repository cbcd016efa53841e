package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

func TestTransition_UnknownToHealthyOnFirstSuccess(t *testing.T) {
	st := newTargetState()
	cfg := Config{UnhealthyThreshold: 3, HealthyThreshold: 2}

	st.transition(true, time.Now(), cfg)

	require.Equal(t, models.HealthHealthy, st.health.State)
	assert.Equal(t, 1, st.health.ConsecutiveSuccesses)
}

func TestTransition_HealthyToUnhealthyAfterThreshold(t *testing.T) {
	st := newTargetState()
	cfg := Config{UnhealthyThreshold: 3, HealthyThreshold: 2}
	st.transition(true, time.Now(), cfg)

	st.transition(false, time.Now(), cfg)
	st.transition(false, time.Now(), cfg)
	require.Equal(t, models.HealthHealthy, st.health.State, "2 failures, threshold is 3")

	st.transition(false, time.Now(), cfg)
	require.Equal(t, models.HealthUnhealthy, st.health.State)
	assert.Equal(t, 3, st.health.ConsecutiveFailures)
}

func TestTransition_UnhealthyToHealthyAfterThreshold(t *testing.T) {
	st := newTargetState()
	cfg := Config{UnhealthyThreshold: 1, HealthyThreshold: 2}
	st.transition(false, time.Now(), cfg)
	require.Equal(t, models.HealthUnhealthy, st.health.State, "precondition")

	st.transition(true, time.Now(), cfg)
	require.Equal(t, models.HealthUnhealthy, st.health.State, "1 success, threshold is 2")

	st.transition(true, time.Now(), cfg)
	require.Equal(t, models.HealthHealthy, st.health.State)
}

func TestTransition_SuccessResetsFailureCount(t *testing.T) {
	st := newTargetState()
	cfg := Config{UnhealthyThreshold: 3, HealthyThreshold: 2}
	st.transition(true, time.Now(), cfg)
	st.transition(false, time.Now(), cfg)
	st.transition(false, time.Now(), cfg)

	st.transition(true, time.Now(), cfg)
	assert.Equal(t, 0, st.health.ConsecutiveFailures)
}

func TestDisable(t *testing.T) {
	st := newTargetState()
	cfg := Config{UnhealthyThreshold: 1, HealthyThreshold: 1}
	st.transition(true, time.Now(), cfg)

	st.disable()
	require.Equal(t, models.HealthDisabled, st.health.State)
}

func TestPrimaryTransport(t *testing.T) {
	cases := []struct {
		name       string
		transports []models.Transport
		want       models.Transport
	}{
		{"prefers streamable-http", []models.Transport{models.TransportStdio, models.TransportStreamableHTTP}, models.TransportStreamableHTTP},
		{"falls back to first", []models.Transport{models.TransportSSE}, models.TransportSSE},
		{"defaults when empty", nil, models.TransportStreamableHTTP},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, primaryTransport(tc.transports))
		})
	}
}
