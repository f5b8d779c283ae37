// Package trigger implements the scheduling-decision protocol used by the
// scheduler to decide if and when a job runs next.
//
// A Trigger is a small state machine. The scheduler asks it what to do under a
// Condition (Latch, Fire or Misfire) at a given time basis and applies the
// returned Action. Triggers never read the wall clock; the time basis passed to
// Schedule is the only notion of "now" they have.
package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Condition describes why the scheduler is consulting a trigger.
type Condition int

const (
	// Latch asks the trigger to establish its next fire time. It is used right
	// after a job is created or updated, and after an execution completes.
	Latch Condition = iota
	// Fire reports that the latched fire time has arrived within tolerance.
	Fire
	// Misfire reports that the latched fire time was missed beyond tolerance.
	Misfire
)

func (c Condition) String() string {
	switch c {
	case Latch:
		return "Latch"
	case Fire:
		return "Fire"
	case Misfire:
		return "Misfire"
	default:
		return fmt.Sprintf("Condition(%d)", int(c))
	}
}

// Action is the decision returned by a trigger.
type Action int

const (
	// Skip keeps the trigger active without running the job now.
	Skip Action = iota
	// Stop makes the trigger inactive.
	Stop
	// ExecuteJob runs the job now.
	ExecuteJob
	// DeleteJob removes the job entirely.
	DeleteJob
)

var actionNames = map[Action]string{
	Skip:       "Skip",
	Stop:       "Stop",
	ExecuteJob: "ExecuteJob",
	DeleteJob:  "DeleteJob",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

// MarshalText encodes the action by name.
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, errors.Newf("cannot encode unknown action %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText decodes an action name, case-insensitively.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAction parses an action name such as "ExecuteJob".
func ParseAction(s string) (Action, error) {
	for action, name := range actionNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return action, nil
		}
	}
	return Skip, errors.Wrapf(ErrInvalidTrigger, "unknown action %q", s)
}

// LastExecution is the outcome of a job's previous execution, as seen by a
// trigger. A nil *LastExecution means the job never ran.
type LastExecution struct {
	Succeeded  bool
	EndTimeUtc *time.Time
}

// Trigger decides if and when a job should run.
//
// Implementations are not safe for concurrent use; the scheduler evaluates a
// job's trigger from one goroutine at a time.
type Trigger interface {
	// Schedule evaluates the trigger under cond at timeBasisUtc and returns the
	// action to apply. It updates the trigger's own notion of the next fire time.
	Schedule(cond Condition, timeBasisUtc time.Time, last *LastExecution) (Action, error)

	// NextFireTimeUtc is the time at which the trigger next wants to fire, or
	// nil when it has none.
	NextFireTimeUtc() *time.Time

	// NextMisfireThreshold is how late a fire may be before it counts as a
	// misfire, or nil when a fire can never be late.
	NextMisfireThreshold() *time.Duration

	// IsActive reports whether the trigger may still fire.
	IsActive() bool

	// Clone returns an independent deep copy.
	Clone() Trigger

	// Kind is the codec tag of the concrete trigger type.
	Kind() string
}

var (
	// ErrUnknownCondition is returned by Schedule for a condition it does not handle.
	ErrUnknownCondition = errors.New("unknown trigger condition")

	// ErrInvalidTrigger is returned for invalid trigger configuration.
	ErrInvalidTrigger = errors.New("invalid trigger")
)

// UTC normalizes t to UTC. The instant is preserved; only the location
// changes, so a value is never shifted in time.
func UTC(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := UTC(*t)
	return &v
}

func durationPtr(d *time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func intPtr(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}
