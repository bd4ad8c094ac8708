package session

import (
	"context"
	"errors"
)

var (
	// ErrCaptureUnavailable reports a host without speech capture support.
	ErrCaptureUnavailable = errors.New("speech capture is not available")
	// ErrBackendUnconfigured reports a session built without a dispatcher.
	ErrBackendUnconfigured = errors.New("question backend is not configured")
)

// CaptureEventKind identifies one capture lifecycle notification.
type CaptureEventKind string

const (
	CaptureStarted CaptureEventKind = "started"
	CaptureEnded   CaptureEventKind = "ended"
	CaptureFailed  CaptureEventKind = "error"
	CaptureResult  CaptureEventKind = "result"
)

// CaptureEvent is published by a CaptureEngine. Code is set for failures and
// Transcript for results.
type CaptureEvent struct {
	Kind       CaptureEventKind
	Code       string
	Transcript string
}

// CaptureEngine records one utterance per activation and reports it through
// Events. Activate returns an error when a cycle is already running.
type CaptureEngine interface {
	Activate() error
	Deactivate() error
	Events() <-chan CaptureEvent
}

// Utterance is one piece of text to speak.
type Utterance struct {
	Text  string
	Lang  string
	Rate  float64
	Pitch float64
}

// PlaybackEngine speaks one utterance at a time. Speak cancels whatever is
// playing; the returned channel closes when the utterance ends or is cut off.
type PlaybackEngine interface {
	Speak(Utterance) (<-chan struct{}, error)
	Stop()
}

// Dispatcher resolves a transcript to an outcome. Failures are reported
// inside the outcome.
type Dispatcher interface {
	Dispatch(context.Context, string) Outcome
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(context.Context, string) Outcome

func (f DispatchFunc) Dispatch(ctx context.Context, transcript string) Outcome {
	return f(ctx, transcript)
}

// unconfiguredDispatcher keeps the session flow intact when no backend is wired.
type unconfiguredDispatcher struct{}

func (unconfiguredDispatcher) Dispatch(context.Context, string) Outcome {
	return Outcome{Error: ErrBackendUnconfigured.Error()}
}
