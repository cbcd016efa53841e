package health

import (
	"sync"
	"time"

	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// targetState is the supervisor's live view of one probe target. It carries
// its own lock because removeTarget can disable a target from the
// change-event consumer goroutine while a probe already in flight (past its
// jitter delay, waiting on or holding the semaphore) is still about to call
// transition on the same target.
type targetState struct {
	mu     sync.Mutex
	health models.Health
}

func newTargetState() *targetState {
	return &targetState{health: models.Health{State: models.HealthUnknown}}
}

// transition applies one probe outcome to the state machine described in
// §4.G: Unknown → Healthy after one success; Healthy → Unhealthy after
// unhealthyThreshold consecutive failures; Unhealthy → Healthy after
// healthyThreshold consecutive successes. Disabled is applied separately by
// the caller when a target is removed or its entity is disabled, never by
// this function.
func (s *targetState) transition(ok bool, at time.Time, cfg Config) models.Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.health.LastProbeAt = at
	if ok {
		s.health.ConsecutiveSuccesses++
		s.health.ConsecutiveFailures = 0
		s.health.LastOKAt = at
		switch s.health.State {
		case models.HealthUnknown:
			s.health.State = models.HealthHealthy
		case models.HealthUnhealthy:
			if s.health.ConsecutiveSuccesses >= cfg.HealthyThreshold {
				s.health.State = models.HealthHealthy
			}
		}
		return s.health
	}

	s.health.ConsecutiveFailures++
	s.health.ConsecutiveSuccesses = 0
	switch s.health.State {
	case models.HealthUnknown, models.HealthHealthy:
		if s.health.ConsecutiveFailures >= cfg.UnhealthyThreshold {
			s.health.State = models.HealthUnhealthy
		}
	}
	return s.health
}

func (s *targetState) disable() models.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.State = models.HealthDisabled
	return s.health
}

func (s *targetState) snapshot() models.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}
