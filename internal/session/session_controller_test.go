package session

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itshop/voiceqa/internal/fsm"
	"github.com/itshop/voiceqa/internal/ipc"
)

const (
	thaiQuestion = "มี SSD 1TB ไหม ราคาเท่าไหร่"
	thaiAnswer   = "มี SSD 1TB ราคา 2,590 บาท"
)

func TestHappyPathSpeaksAnswer(t *testing.T) {
	capture := newFakeCapture()
	playback := &fakePlayback{}
	var dispatched atomic.Value
	ctrl := startController(t, Options{
		Capture:  capture,
		Playback: playback,
		Dispatcher: DispatchFunc(func(_ context.Context, text string) Outcome {
			dispatched.Store(text)
			return Outcome{
				Transcript: text,
				Answer:     thaiAnswer,
				Matches:    []CatalogItem{{"name": "SSD 1TB", "price": float64(2590)}},
			}
		}),
		NewID: func() string { return "interaction-1" },
	})
	ctx := context.Background()

	require.NoError(t, ctrl.Begin(ctx))
	require.Equal(t, "interaction-1", ctrl.Snapshot().InteractionID)

	capture.emit(CaptureEvent{Kind: CaptureStarted})
	snap := waitFor(t, ctrl, func(s Snapshot) bool { return s.Listening })
	require.Equal(t, "กำลังฟัง... พูดคำถามได้เลย", snap.Status)
	require.Equal(t, fsm.StateListening, snap.Phase)

	capture.emit(
		CaptureEvent{Kind: CaptureResult, Transcript: thaiQuestion},
		CaptureEvent{Kind: CaptureEnded},
	)

	snap = waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateSpeaking && !s.Listening })
	require.Equal(t, "เสร็จสิ้น", snap.Status)
	require.Equal(t, thaiAnswer, snap.Result.Answer)
	require.Len(t, snap.Result.Matches, 1)
	require.Equal(t, thaiQuestion, dispatched.Load())

	spoken := playback.utterances()
	require.Len(t, spoken, 1)
	require.Equal(t, Utterance{Text: thaiAnswer, Lang: "th-TH", Rate: 1, Pitch: 1}, spoken[0])

	playback.complete()
	snap = waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateIdle })
	require.Equal(t, "เสร็จสิ้น", snap.Status)
	require.Equal(t, thaiAnswer, snap.Result.Answer)
}

func TestTranscriptStatusShownWhileDispatching(t *testing.T) {
	capture := newFakeCapture()
	gate := make(chan struct{})
	ctrl := startController(t, Options{
		Capture: capture,
		Dispatcher: DispatchFunc(func(context.Context, string) Outcome {
			<-gate
			return Outcome{}
		}),
	})

	require.NoError(t, ctrl.Begin(context.Background()))
	capture.emit(
		CaptureEvent{Kind: CaptureStarted},
		CaptureEvent{Kind: CaptureResult, Transcript: thaiQuestion},
		CaptureEvent{Kind: CaptureEnded},
	)

	snap := waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateDispatching && !s.Listening })
	require.Equal(t, "ได้ข้อความแล้ว กำลังส่งไปถามระบบ...", snap.Status)
	require.Equal(t, Outcome{Transcript: thaiQuestion}, snap.Result)

	close(gate)
	snap = waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateIdle })
	require.Equal(t, "เสร็จสิ้น", snap.Status)
}

func TestCaptureErrorNoSpeech(t *testing.T) {
	capture := newFakeCapture()
	playback := &fakePlayback{}
	var calls atomic.Int32
	ctrl := startController(t, Options{
		Capture:  capture,
		Playback: playback,
		Dispatcher: DispatchFunc(func(context.Context, string) Outcome {
			calls.Add(1)
			return Outcome{}
		}),
		Voice: Voice{Lang: "en-US", Rate: 1, Pitch: 1},
	})

	require.NoError(t, ctrl.Begin(context.Background()))
	capture.emit(
		CaptureEvent{Kind: CaptureStarted},
		CaptureEvent{Kind: CaptureFailed, Code: "no-speech"},
		CaptureEvent{Kind: CaptureEnded},
	)

	snap := waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateErrored && !s.Listening })
	require.Equal(t, "error: no-speech", snap.Status)
	require.Equal(t, Outcome{Error: "no-speech"}, snap.Result)

	// The trailing end notification must not replace the error status.
	require.Never(t, func() bool { return ctrl.Snapshot().Status != "error: no-speech" }, 100*time.Millisecond, 10*time.Millisecond)
	require.Zero(t, calls.Load())
	require.Empty(t, playback.utterances())
}

func TestCaptureErrorWithoutCode(t *testing.T) {
	capture := newFakeCapture()
	ctrl := startController(t, Options{Capture: capture})

	require.NoError(t, ctrl.Begin(context.Background()))
	capture.emit(CaptureEvent{Kind: CaptureStarted}, CaptureEvent{Kind: CaptureFailed})

	snap := waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateErrored })
	require.Equal(t, "เกิดข้อผิดพลาด: unknown", snap.Status)
	require.Equal(t, "speech error", snap.Result.Error)
}

func TestBackendHTTP500(t *testing.T) {
	capture := newFakeCapture()
	playback := &fakePlayback{}
	ctrl := startController(t, Options{
		Capture:  capture,
		Playback: playback,
		Dispatcher: DispatchFunc(func(context.Context, string) Outcome {
			return Outcome{Error: "backend returned HTTP 500"}
		}),
		Voice: Voice{Lang: "en", Rate: 1, Pitch: 1},
	})

	require.NoError(t, ctrl.Begin(context.Background()))
	capture.emit(
		CaptureEvent{Kind: CaptureStarted},
		CaptureEvent{Kind: CaptureResult, Transcript: "hello"},
		CaptureEvent{Kind: CaptureEnded},
	)

	snap := waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateErrored && !s.Listening })
	require.Equal(t, "error occurred", snap.Status)
	require.Equal(t, "backend returned HTTP 500", snap.Result.Error)
	require.Empty(t, snap.Result.Transcript)
	require.Empty(t, playback.utterances())
}

func TestErrorOutcomeNeverSpeaks(t *testing.T) {
	capture := newFakeCapture()
	playback := &fakePlayback{}
	ctrl := startController(t, Options{
		Capture:  capture,
		Playback: playback,
		Dispatcher: DispatchFunc(func(context.Context, string) Outcome {
			return Outcome{Error: "x", Answer: "y"}
		}),
	})

	require.NoError(t, ctrl.Begin(context.Background()))
	capture.emit(CaptureEvent{Kind: CaptureStarted}, CaptureEvent{Kind: CaptureResult, Transcript: "q"})

	snap := waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateErrored })
	require.Equal(t, "เกิดข้อผิดพลาด", snap.Status)
	require.Equal(t, Outcome{Error: "x", Answer: "y"}, snap.Result)
	require.Empty(t, playback.utterances())
}

func TestEmptyTranscriptIsDispatched(t *testing.T) {
	capture := newFakeCapture()
	received := make(chan string, 1)
	ctrl := startController(t, Options{
		Capture: capture,
		Dispatcher: DispatchFunc(func(_ context.Context, text string) Outcome {
			received <- text
			return Outcome{Transcript: text}
		}),
	})

	require.NoError(t, ctrl.Begin(context.Background()))
	capture.emit(CaptureEvent{Kind: CaptureStarted}, CaptureEvent{Kind: CaptureResult, Transcript: ""})

	select {
	case text := <-received:
		require.Empty(t, text)
	case <-time.After(2 * time.Second):
		t.Fatal("empty transcript was not dispatched")
	}
	waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateIdle && s.Status == "เสร็จสิ้น" })
}

func TestResolvedWithoutAnswerDoesNotSpeak(t *testing.T) {
	capture := newFakeCapture()
	playback := &fakePlayback{}
	ctrl := startController(t, Options{
		Capture:  capture,
		Playback: playback,
		Dispatcher: DispatchFunc(func(_ context.Context, text string) Outcome {
			return Outcome{Transcript: text, Matches: []CatalogItem{{"name": "RAM 16GB"}}}
		}),
	})

	require.NoError(t, ctrl.Begin(context.Background()))
	capture.emit(CaptureEvent{Kind: CaptureStarted}, CaptureEvent{Kind: CaptureResult, Transcript: "แรม"})

	snap := waitFor(t, ctrl, func(s Snapshot) bool { return s.Status == "เสร็จสิ้น" })
	require.Equal(t, fsm.StateIdle, snap.Phase)
	require.Empty(t, playback.utterances())
}

func TestReactivationDuringDispatchDoesNotDispatchAgain(t *testing.T) {
	capture := newFakeCapture()
	gate := make(chan struct{})
	var calls atomic.Int32
	ctrl := startController(t, Options{
		Capture: capture,
		Dispatcher: DispatchFunc(func(context.Context, string) Outcome {
			calls.Add(1)
			<-gate
			return Outcome{Answer: "ok"}
		}),
	})
	ctx := context.Background()

	require.NoError(t, ctrl.Begin(ctx))
	capture.emit(CaptureEvent{Kind: CaptureStarted}, CaptureEvent{Kind: CaptureResult, Transcript: "q"})
	waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateDispatching })

	// The engine is still active, so this activation is refused and ignored.
	require.NoError(t, ctrl.Begin(ctx))
	activations, _ := capture.counts()
	require.Equal(t, 1, activations)

	close(gate)
	snap := waitFor(t, ctrl, func(s Snapshot) bool { return s.Result.Answer == "ok" })
	require.Equal(t, "เสร็จสิ้น", snap.Status)
	require.Equal(t, int32(1), calls.Load())
}

func TestNewActivationSupersedesInFlightDispatch(t *testing.T) {
	capture := newFakeCapture()
	cancelled := make(chan struct{})
	ctrl := startController(t, Options{
		Capture: capture,
		Dispatcher: DispatchFunc(func(ctx context.Context, _ string) Outcome {
			<-ctx.Done()
			close(cancelled)
			return Outcome{Error: ctx.Err().Error()}
		}),
	})
	ctx := context.Background()

	require.NoError(t, ctrl.Begin(ctx))
	capture.emit(
		CaptureEvent{Kind: CaptureStarted},
		CaptureEvent{Kind: CaptureResult, Transcript: "first"},
		CaptureEvent{Kind: CaptureEnded},
	)
	waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateDispatching && !s.Listening })

	require.NoError(t, ctrl.Begin(ctx))
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight dispatch was not cancelled")
	}

	capture.emit(CaptureEvent{Kind: CaptureStarted})
	waitFor(t, ctrl, func(s Snapshot) bool { return s.Listening })
	require.Never(t, func() bool { return !ctrl.Snapshot().Result.IsZero() }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestBeginStopsPlaybackAndClearsResult(t *testing.T) {
	capture := newFakeCapture()
	playback := &fakePlayback{}
	ctrl := startController(t, Options{
		Capture:  capture,
		Playback: playback,
		Dispatcher: DispatchFunc(func(context.Context, string) Outcome {
			return Outcome{Answer: "A"}
		}),
	})
	ctx := context.Background()

	require.NoError(t, ctrl.Begin(ctx))
	capture.emit(
		CaptureEvent{Kind: CaptureStarted},
		CaptureEvent{Kind: CaptureResult, Transcript: "q"},
		CaptureEvent{Kind: CaptureEnded},
	)
	waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateSpeaking })
	stopsBefore := playback.stopCount()

	require.NoError(t, ctrl.Begin(ctx))
	snap := ctrl.Snapshot()
	require.Equal(t, stopsBefore+1, playback.stopCount())
	require.True(t, snap.Result.IsZero())
	require.Equal(t, fsm.StateIdle, snap.Phase)
}

func TestSilenceStopsSpeaking(t *testing.T) {
	capture := newFakeCapture()
	playback := &fakePlayback{}
	ctrl := startController(t, Options{
		Capture:  capture,
		Playback: playback,
		Dispatcher: DispatchFunc(func(context.Context, string) Outcome {
			return Outcome{Answer: "A"}
		}),
	})
	ctx := context.Background()

	require.NoError(t, ctrl.Begin(ctx))
	capture.emit(CaptureEvent{Kind: CaptureStarted}, CaptureEvent{Kind: CaptureResult, Transcript: "q"}, CaptureEvent{Kind: CaptureEnded})
	waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateSpeaking })

	require.NoError(t, ctrl.Silence(ctx))
	snap := ctrl.Snapshot()
	require.Equal(t, fsm.StateIdle, snap.Phase)
	require.Equal(t, "A", snap.Result.Answer)
}

func TestStopAndSilenceWhenIdleAreNoOps(t *testing.T) {
	capture := newFakeCapture()
	playback := &fakePlayback{}
	ctrl := startController(t, Options{Capture: capture, Playback: playback})
	ctx := context.Background()

	before := ctrl.Snapshot()
	require.NoError(t, ctrl.End(ctx))
	require.NoError(t, ctrl.End(ctx))
	require.NoError(t, ctrl.Silence(ctx))
	require.NoError(t, ctrl.Silence(ctx))

	require.Equal(t, before, ctrl.Snapshot())
	require.Empty(t, playback.utterances())
}

func TestToggleFlipsOnListening(t *testing.T) {
	capture := newFakeCapture()
	ctrl := startController(t, Options{Capture: capture})
	ctx := context.Background()

	require.NoError(t, ctrl.Toggle(ctx))
	activations, deactivations := capture.counts()
	require.Equal(t, 1, activations)
	require.Zero(t, deactivations)

	capture.emit(CaptureEvent{Kind: CaptureStarted})
	waitFor(t, ctrl, func(s Snapshot) bool { return s.Listening })

	require.NoError(t, ctrl.Toggle(ctx))
	_, deactivations = capture.counts()
	require.Equal(t, 1, deactivations)

	capture.emit(CaptureEvent{Kind: CaptureEnded})
	snap := waitFor(t, ctrl, func(s Snapshot) bool { return !s.Listening })
	require.Equal(t, "หยุดฟังแล้ว", snap.Status)
	require.Equal(t, fsm.StateIdle, snap.Phase)
}

func TestToggleEndsCycleBeforeItReportsStarted(t *testing.T) {
	capture := newFakeCapture()
	ctrl := startController(t, Options{Capture: capture})
	ctx := context.Background()

	require.NoError(t, ctrl.Toggle(ctx))
	require.NoError(t, ctrl.Toggle(ctx))

	activations, deactivations := capture.counts()
	require.Equal(t, 1, activations)
	require.Equal(t, 1, deactivations)
	require.False(t, ctrl.Snapshot().Listening)
}

func TestToggleAfterStartedEventBeginsAgainOnceEnded(t *testing.T) {
	capture := newFakeCapture()
	ctrl := startController(t, Options{Capture: capture})
	ctx := context.Background()

	require.NoError(t, ctrl.Toggle(ctx))
	capture.emit(CaptureEvent{Kind: CaptureStarted})
	waitFor(t, ctrl, func(s Snapshot) bool { return s.Listening })
	capture.emit(CaptureEvent{Kind: CaptureEnded})
	waitFor(t, ctrl, func(s Snapshot) bool { return !s.Listening })

	require.NoError(t, ctrl.Toggle(ctx))
	activations, deactivations := capture.counts()
	require.Equal(t, 2, activations)
	require.Zero(t, deactivations)
}

func TestCaptureUnavailableIsInert(t *testing.T) {
	playback := &fakePlayback{}
	ctrl := startController(t, Options{Playback: playback, Voice: Voice{Lang: "en-US"}})
	ctx := context.Background()

	require.NoError(t, ctrl.Begin(ctx))
	require.NoError(t, ctrl.Toggle(ctx))
	require.NoError(t, ctrl.End(ctx))

	snap := ctrl.Snapshot()
	require.False(t, snap.CaptureAvailable)
	require.False(t, snap.Listening)
	require.Equal(t, "speech recognition is not available on this host", snap.Status)
	require.Equal(t, fsm.StateIdle, snap.Phase)
}

func TestPlaybackUnavailableStillResolves(t *testing.T) {
	capture := newFakeCapture()
	ctrl := startController(t, Options{
		Capture: capture,
		Dispatcher: DispatchFunc(func(context.Context, string) Outcome {
			return Outcome{Answer: "A"}
		}),
	})
	ctx := context.Background()

	require.NoError(t, ctrl.Begin(ctx))
	capture.emit(CaptureEvent{Kind: CaptureStarted}, CaptureEvent{Kind: CaptureResult, Transcript: "q"})

	snap := waitFor(t, ctrl, func(s Snapshot) bool { return s.Result.Answer == "A" })
	require.Equal(t, fsm.StateIdle, snap.Phase)
	require.NoError(t, ctrl.Silence(ctx))
}

func TestStalePlaybackCompletionIgnored(t *testing.T) {
	capture := newFakeCapture()
	playback := &fakePlayback{}
	answers := make(chan string, 2)
	answers <- "A"
	answers <- "B"
	ctrl := startController(t, Options{
		Capture:  capture,
		Playback: playback,
		Dispatcher: DispatchFunc(func(context.Context, string) Outcome {
			return Outcome{Answer: <-answers}
		}),
	})
	ctx := context.Background()

	for _, q := range []string{"first", "second"} {
		require.NoError(t, ctrl.Begin(ctx))
		capture.emit(
			CaptureEvent{Kind: CaptureStarted},
			CaptureEvent{Kind: CaptureResult, Transcript: q},
			CaptureEvent{Kind: CaptureEnded},
		)
		waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateSpeaking })
	}

	spoken := playback.utterances()
	require.Len(t, spoken, 2)
	require.Equal(t, "B", spoken[1].Text)
	require.Never(t, func() bool { return ctrl.Snapshot().Phase != fsm.StateSpeaking }, 100*time.Millisecond, 10*time.Millisecond)

	playback.complete()
	waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateIdle })
}

func TestSubscribeReceivesLatest(t *testing.T) {
	capture := newFakeCapture()
	ctrl := startController(t, Options{Capture: capture})

	updates, stop := ctrl.Subscribe()
	defer stop()
	first := <-updates
	require.False(t, first.Listening)

	require.NoError(t, ctrl.Begin(context.Background()))
	capture.emit(CaptureEvent{Kind: CaptureStarted})

	require.Eventually(t, func() bool {
		select {
		case snap := <-updates:
			return snap.Listening
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandleCommands(t *testing.T) {
	capture := newFakeCapture()
	ctrl := startController(t, Options{Capture: capture, Voice: Voice{Lang: "en"}})
	ctx := context.Background()

	status := ctrl.Handle(ctx, ipc.Request{Command: "status"})
	require.True(t, status.OK)
	require.Equal(t, string(fsm.StateIdle), status.State)
	require.Equal(t, "ready to speak", status.Message)
	require.Empty(t, status.Result)

	ask := ctrl.Handle(ctx, ipc.Request{Command: "ask"})
	require.True(t, ask.OK)
	require.NotEmpty(t, ask.InteractionID)
	activations, _ := capture.counts()
	require.Equal(t, 1, activations)

	capture.emit(CaptureEvent{Kind: CaptureStarted}, CaptureEvent{Kind: CaptureFailed, Code: "network"})
	waitFor(t, ctrl, func(s Snapshot) bool { return s.Phase == fsm.StateErrored })

	status = ctrl.Handle(ctx, ipc.Request{Command: "status"})
	var result Outcome
	require.NoError(t, json.Unmarshal(status.Result, &result))
	require.Equal(t, "network", result.Error)

	for _, cmd := range []string{"stop", "silence", "toggle"} {
		require.True(t, ctrl.Handle(ctx, ipc.Request{Command: cmd}).OK, cmd)
	}

	unknown := ctrl.Handle(ctx, ipc.Request{Command: "definitely-unknown"})
	require.False(t, unknown.OK)
	require.Contains(t, unknown.Error, "unknown command")
}

func TestHandleReportsMissingCapture(t *testing.T) {
	ctrl := startController(t, Options{Voice: Voice{Lang: "en"}})
	ctx := context.Background()

	for _, cmd := range []string{"ask", "toggle"} {
		resp := ctrl.Handle(ctx, ipc.Request{Command: cmd})
		require.False(t, resp.OK, cmd)
		require.Equal(t, ErrCaptureUnavailable.Error(), resp.Error, cmd)
		require.Equal(t, "speech recognition is not available on this host", resp.Message, cmd)
	}

	require.True(t, ctrl.Handle(ctx, ipc.Request{Command: "stop"}).OK)
	require.True(t, ctrl.Handle(ctx, ipc.Request{Command: "silence"}).OK)
}
