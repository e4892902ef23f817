package engine

import (
	"errors"
	"fmt"
	"time"
)

// State is a collection run's position in its lifecycle
type State int

const (
	Starting State = iota
	Scanning
	Extracting
	ChallengeWait
	Draining
	Done
	Aborted
)

var stateNames = map[State]string{
	Starting:      "starting",
	Scanning:      "scanning",
	Extracting:    "extracting",
	ChallengeWait: "challenge_wait",
	Draining:      "draining",
	Done:          "done",
	Aborted:       "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == Done || s == Aborted
}

// Event is what moves the engine from one state to the next
type Event int

const (
	EventStarted Event = iota
	EventBatchStored
	EventLimitReached
	EventMoreContent
	EventEndOfContent
	EventChallenge
	EventTransient
	EventRetriesExhausted
	EventResumed
	EventDrained
	EventCancelled
	EventFatal
)

var eventNames = map[Event]string{
	EventStarted:          "started",
	EventBatchStored:      "batch_stored",
	EventLimitReached:     "limit_reached",
	EventMoreContent:      "more_content",
	EventEndOfContent:     "end_of_content",
	EventChallenge:        "challenge",
	EventTransient:        "transient",
	EventRetriesExhausted: "retries_exhausted",
	EventResumed:          "resumed",
	EventDrained:          "drained",
	EventCancelled:        "cancelled",
	EventFatal:            "fatal",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ErrInvalidTransition is returned for an event the current state does not accept
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State]map[Event]State{
	Starting: {
		EventStarted: Scanning,
	},
	Scanning: {
		EventBatchStored:  Extracting,
		EventLimitReached: Draining,
	},
	Extracting: {
		EventMoreContent:      Scanning,
		EventEndOfContent:     Draining,
		EventChallenge:        ChallengeWait,
		EventTransient:        Extracting,
		EventRetriesExhausted: Aborted,
	},
	ChallengeWait: {
		EventResumed: Scanning,
	},
	Draining: {
		EventDrained: Done,
	},
}

// Transition returns the state that follows from after ev. It has no side
// effects. Cancellation and fatal errors abort any non-terminal state.
func Transition(from State, ev Event) (State, error) {
	if from.Terminal() {
		return from, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if ev == EventCancelled || ev == EventFatal {
		return Aborted, nil
	}
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, from, ev)
}

// Step describes one transition taken by a running engine
type Step struct {
	Subject string
	From    State
	To      State
	Event   Event
	Items   int
	Cursor  string
	Err     error
	At      time.Time
}
