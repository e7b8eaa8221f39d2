// Package session runs one enforcement session: the lifecycle state machine,
// the interrupt latch, the window watcher and the controller that orders
// patching, launching, watching and teardown.
package session

import (
	"time"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// Event drives the lifecycle.
type Event int

const (
	// EventStarted marks the end of setup: patches committed, primary up.
	EventStarted Event = iota
	// EventInterrupt is one operator interrupt (SIGINT).
	EventInterrupt
	// EventTerminate asks for immediate shutdown (SIGTERM, context cancel).
	EventTerminate
	// EventPrimaryExited means the primary process is gone.
	EventPrimaryExited
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventInterrupt:
		return "interrupt"
	case EventTerminate:
		return "terminate"
	case EventPrimaryExited:
		return "primary-exited"
	default:
		return "unknown"
	}
}

// Action is what the controller must do after a transition.
type Action int

const (
	ActionNone Action = iota
	ActionSoftStop
	ActionShutdown
)

// Lifecycle is the session state machine. It is pure: callers feed it events
// with their timestamps and carry out the returned action.
type Lifecycle struct {
	phase         domain.Phase
	grace         time.Duration
	lastInterrupt time.Time
	reason        string
}

// NewLifecycle creates a lifecycle in the starting phase. grace is the window
// in which a second interrupt escalates a soft stop to shutdown.
func NewLifecycle(grace time.Duration) *Lifecycle {
	return &Lifecycle{phase: domain.PhaseStarting, grace: grace}
}

// Phase returns the current phase.
func (l *Lifecycle) Phase() domain.Phase {
	return l.phase
}

// Reason explains why shutdown began. Empty until then.
func (l *Lifecycle) Reason() string {
	return l.reason
}

// LastInterrupt returns when the current soft stop began.
func (l *Lifecycle) LastInterrupt() time.Time {
	return l.lastInterrupt
}

// Handle applies ev at time at.
func (l *Lifecycle) Handle(ev Event, at time.Time) Action {
	switch l.phase {
	case domain.PhaseStarting:
		switch ev {
		case EventStarted:
			l.phase = domain.PhaseRunning
			return ActionNone
		case EventInterrupt:
			return l.shutdown("interrupted during start")
		case EventTerminate:
			return l.shutdown("terminate signal")
		case EventPrimaryExited:
			return l.shutdown("primary exited")
		}

	case domain.PhaseRunning:
		switch ev {
		case EventInterrupt:
			l.phase = domain.PhaseSoftStopped
			l.lastInterrupt = at
			return ActionSoftStop
		case EventTerminate:
			return l.shutdown("terminate signal")
		case EventPrimaryExited:
			return l.shutdown("primary exited")
		}

	case domain.PhaseSoftStopped:
		switch ev {
		case EventInterrupt:
			if at.Sub(l.lastInterrupt) <= l.grace {
				return l.shutdown("second interrupt")
			}
			// Grace window elapsed: this is a fresh first interrupt
			l.lastInterrupt = at
			return ActionSoftStop
		case EventTerminate:
			return l.shutdown("terminate signal")
		case EventPrimaryExited:
			return l.shutdown("primary exited")
		}
	}

	// shutting-down and terminated ignore everything
	return ActionNone
}

// Terminate marks teardown complete.
func (l *Lifecycle) Terminate() {
	l.phase = domain.PhaseTerminated
}

func (l *Lifecycle) shutdown(reason string) Action {
	l.phase = domain.PhaseShuttingDown
	l.reason = reason
	return ActionShutdown
}
