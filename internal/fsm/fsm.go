// Package fsm defines the recording controller lifecycle states and transitions.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
)

const (
	EventOpen      Event = "open"
	EventSpeech    Event = "speech"
	EventStop      Event = "stop"
	EventDone      Event = "done"
	EventForceStop Event = "force_stop"
	EventClose     Event = "close"
)

// Transition returns the next state for event, or an error when the pair is not allowed.
func Transition(current State, event Event) (State, error) {
	if event == EventClose {
		switch current {
		case StateIdle, StateListening, StateRecording, StateProcessing:
			return StateIdle, nil
		}
	}

	switch current {
	case StateIdle:
		switch event {
		case EventOpen:
			return StateListening, nil
		case EventForceStop:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening:
		switch event {
		case EventSpeech:
			return StateRecording, nil
		case EventForceStop:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventStop:
			return StateProcessing, nil
		case EventForceStop:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateProcessing:
		switch event {
		case EventDone, EventForceStop:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Active reports whether the state holds an open capture stream.
func (s State) Active() bool {
	return s == StateListening || s == StateRecording || s == StateProcessing
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
