package risk

import (
	"log"
	"time"

	"trade-engine/internal/events"
)

// Severity grades a post-hoc risk violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Actions are the engine hooks the escalation ladder can pull.
type Actions struct {
	EmergencyStop func(reason string)
	CloseAll      func(reason string)
	Pause         func(d time.Duration)
}

// Supervisor maps violation severity to engine action:
// critical stops everything, high flattens exposure, medium pauses signal
// processing for a cool-down window, low is log-only.
type Supervisor struct {
	bus      *events.Bus
	actions  Actions
	cooldown time.Duration
}

func NewSupervisor(bus *events.Bus, actions Actions, cooldown time.Duration) *Supervisor {
	return &Supervisor{bus: bus, actions: actions, cooldown: cooldown}
}

// Escalate applies the ladder for a detected violation.
func (s *Supervisor) Escalate(level Severity, reason string) {
	if s.bus != nil {
		s.bus.Publish(events.EventRiskAlert, map[string]any{
			"severity": string(level),
			"reason":   reason,
		})
	}

	switch level {
	case SeverityCritical:
		log.Printf("risk: CRITICAL violation, emergency stop: %s", reason)
		if s.actions.EmergencyStop != nil {
			s.actions.EmergencyStop(reason)
		}
	case SeverityHigh:
		log.Printf("risk: high violation, closing all positions: %s", reason)
		if s.actions.CloseAll != nil {
			s.actions.CloseAll(reason)
		}
	case SeverityMedium:
		log.Printf("risk: medium violation, pausing dispatch for %s: %s", s.cooldown, reason)
		if s.actions.Pause != nil {
			s.actions.Pause(s.cooldown)
		}
	default:
		log.Printf("risk: violation: %s", reason)
	}
}
