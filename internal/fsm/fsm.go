package fsm

import "fmt"

// State is the phase of one voice interaction.
type State string

type Event string

const (
	StateIdle        State = "idle"
	StateListening   State = "listening"
	StateDispatching State = "dispatching"
	StateSpeaking    State = "speaking"
	StateErrored     State = "errored"
)

const (
	EventCaptureStarted Event = "capture_started"
	EventTranscript     Event = "transcript"
	EventCaptureEnded   Event = "capture_ended"
	EventCaptureFailed  Event = "capture_failed"
	EventAnswered       Event = "answered"
	EventResolved       Event = "resolved"
	EventDispatchFailed Event = "dispatch_failed"
	EventPlaybackDone   Event = "playback_done"
	EventSilenced       Event = "silenced"
)

// Transition returns the phase reached by applying event to current.
// Events that do not apply to current leave it unchanged and return an error.
func Transition(current State, event Event) (State, error) {
	if !known(current) {
		return current, fmt.Errorf("unknown state %q", current)
	}

	switch event {
	case EventCaptureStarted:
		return StateListening, nil
	case EventCaptureFailed:
		return StateErrored, nil
	case EventCaptureEnded:
		if current == StateListening {
			return StateIdle, nil
		}
		return current, nil
	case EventSilenced:
		if current == StateSpeaking {
			return StateIdle, nil
		}
		return current, nil
	}

	switch current {
	case StateListening:
		switch event {
		case EventTranscript:
			return StateDispatching, nil
		}
	case StateDispatching:
		switch event {
		case EventAnswered:
			return StateSpeaking, nil
		case EventResolved:
			return StateIdle, nil
		case EventDispatchFailed:
			return StateErrored, nil
		}
	case StateSpeaking:
		switch event {
		case EventPlaybackDone:
			return StateIdle, nil
		}
	}
	return current, invalidTransition(current, event)
}

func known(state State) bool {
	switch state {
	case StateIdle, StateListening, StateDispatching, StateSpeaking, StateErrored:
		return true
	default:
		return false
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
