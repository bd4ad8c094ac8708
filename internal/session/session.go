// Package session owns the voice question/answer interaction: capture
// lifecycle events, backend dispatch, spoken answers, and the status shown to
// the user.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/itshop/voiceqa/internal/fsm"
	"github.com/itshop/voiceqa/internal/ipc"
	"github.com/itshop/voiceqa/internal/observe"
)

// ErrAlreadyRunning is returned by Run when another owner loop is active.
var ErrAlreadyRunning = errors.New("session owner loop already running")

type commandKind int

const (
	commandBegin commandKind = iota + 1
	commandEnd
	commandSilence
	commandToggle
)

func (k commandKind) String() string {
	switch k {
	case commandBegin:
		return "begin"
	case commandEnd:
		return "end"
	case commandSilence:
		return "silence"
	case commandToggle:
		return "toggle"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

type command struct {
	kind  commandKind
	reply chan struct{}
}

type dispatchResult struct {
	turn    uint64
	outcome Outcome
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Phase             fsm.State `json:"phase"`
	Listening         bool      `json:"listening"`
	Status            string    `json:"status"`
	Result            Outcome   `json:"result"`
	InteractionID     string    `json:"interaction_id,omitempty"`
	CaptureAvailable  bool      `json:"capture_available"`
	PlaybackAvailable bool      `json:"playback_available"`
}

// Voice holds the speaking parameters applied to every answer.
type Voice struct {
	Lang  string
	Rate  float64
	Pitch float64
}

// DefaultVoice matches the shop's Thai deployment.
func DefaultVoice() Voice {
	return Voice{Lang: "th-TH", Rate: 1, Pitch: 1}
}

// Options wires a Controller. Capture and Playback may be nil on hosts that
// lack the capability.
type Options struct {
	Logger     *slog.Logger
	Capture    CaptureEngine
	Playback   PlaybackEngine
	Dispatcher Dispatcher
	Voice      Voice
	Metrics    *observe.Metrics
	NewID      func() string
}

// Controller is the single owner of session state. All mutations happen in
// Run; other goroutines talk to it through commands and read snapshots.
type Controller struct {
	logger     *slog.Logger
	capture    CaptureEngine
	playback   PlaybackEngine
	dispatcher Dispatcher
	voice      Voice
	text       messages
	metrics    *observe.Metrics
	newID      func() string

	running atomic.Bool

	commands     chan command
	outcomes     chan dispatchResult
	playbackDone chan uint64

	mu          sync.RWMutex
	snap        Snapshot
	subscribers map[int]chan Snapshot
	nextSub     int

	// Owned by the Run goroutine.
	state          Snapshot
	dirty          bool
	turn           uint64
	speakSeq       uint64
	cancelDispatch context.CancelFunc

	// starting covers the gap between Activate and the cycle's first event.
	starting bool
}

// NewController constructs a controller with safe fallbacks for missing wiring.
func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = unconfiguredDispatcher{}
	}
	voice := opts.Voice
	if voice.Lang == "" {
		voice.Lang = DefaultVoice().Lang
	}
	if voice.Rate == 0 {
		voice.Rate = 1
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	c := &Controller{
		logger:       logger,
		capture:      opts.Capture,
		playback:     opts.Playback,
		dispatcher:   dispatcher,
		voice:        voice,
		text:         resolveMessages(voice.Lang),
		metrics:      metrics,
		newID:        newID,
		commands:     make(chan command),
		outcomes:     make(chan dispatchResult),
		playbackDone: make(chan uint64),
		subscribers:  make(map[int]chan Snapshot),
	}

	c.state = Snapshot{
		Phase:             fsm.StateIdle,
		Status:            c.text.ready,
		CaptureAvailable:  c.capture != nil,
		PlaybackAvailable: c.playback != nil,
	}
	if c.capture == nil {
		c.state.Status = c.text.unsupported
	}
	c.snap = c.state
	return c
}

// Snapshot returns the most recently published session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Subscribe returns a channel that always holds the latest snapshot. The
// current snapshot is delivered immediately. Call the returned func to stop.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	ch <- c.snap
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// Begin stops any spoken answer, clears the last result, and activates
// capture. Activation refused by a busy engine is ignored.
func (c *Controller) Begin(ctx context.Context) error {
	return c.send(ctx, commandBegin)
}

// End asks the capture engine to stop listening.
func (c *Controller) End(ctx context.Context) error {
	return c.send(ctx, commandEnd)
}

// Silence stops any spoken answer.
func (c *Controller) Silence(ctx context.Context) error {
	return c.send(ctx, commandSilence)
}

// Toggle ends a listening cycle or begins a new interaction.
func (c *Controller) Toggle(ctx context.Context) error {
	return c.send(ctx, commandToggle)
}

func (c *Controller) send(ctx context.Context, kind commandKind) error {
	cmd := command{kind: kind, reply: make(chan struct{})}
	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes commands and engine notifications until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)
	defer c.shutdown()

	var events <-chan CaptureEvent
	if c.capture != nil {
		events = c.capture.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.commands:
			c.handleCommand(cmd.kind)
			c.publish()
			close(cmd.reply)
			continue
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleCaptureEvent(ctx, ev)
		case res := <-c.outcomes:
			c.handleOutcome(ctx, res)
		case seq := <-c.playbackDone:
			c.handlePlaybackDone(seq)
		}
		c.publish()
	}
}

func (c *Controller) handleCommand(kind commandKind) {
	c.logger.Debug("session command", "command", kind.String(), "phase", string(c.state.Phase))

	switch kind {
	case commandBegin:
		c.begin()
	case commandEnd:
		c.end()
	case commandSilence:
		c.stopPlayback()
	case commandToggle:
		if c.state.Listening || c.starting {
			c.end()
		} else {
			c.begin()
		}
	}
}

func (c *Controller) begin() {
	c.stopPlayback()
	c.setResult(Outcome{})

	if c.capture == nil {
		return
	}
	if err := c.capture.Activate(); err != nil {
		c.logger.Debug("capture activation ignored", "error", err.Error())
		return
	}

	c.starting = true
	c.turn++
	c.cancelInFlight()
	c.state.InteractionID = c.newID()
	c.dirty = true
	c.logger.Info("interaction started", "interaction_id", c.state.InteractionID)
}

func (c *Controller) end() {
	if c.capture == nil {
		return
	}
	if err := c.capture.Deactivate(); err != nil {
		c.logger.Warn("capture deactivation failed", "error", err.Error())
	}
}

func (c *Controller) handleCaptureEvent(ctx context.Context, ev CaptureEvent) {
	if ev.Kind != CaptureResult {
		c.starting = false
	}
	switch ev.Kind {
	case CaptureStarted:
		c.setListening(ctx, true)
		c.setStatus(c.text.listening)
		c.apply(fsm.EventCaptureStarted)

	case CaptureEnded:
		c.setListening(ctx, false)
		if c.state.Phase == fsm.StateListening {
			c.setStatus(c.text.stopped)
		}
		c.apply(fsm.EventCaptureEnded)

	case CaptureFailed:
		code := ev.Code
		statusCode, resultCode := code, code
		if code == "" {
			statusCode, resultCode = "unknown", "speech error"
		}
		c.setListening(ctx, false)
		c.setStatus(c.text.captureError(statusCode))
		c.setResult(Outcome{Error: resultCode})
		c.apply(fsm.EventCaptureFailed)
		c.metrics.RecordInteraction(ctx, "capture_error")
		c.logger.Warn("capture failed", "interaction_id", c.state.InteractionID, "code", resultCode)

	case CaptureResult:
		c.setStatus(c.text.sending)
		c.setResult(Outcome{Transcript: ev.Transcript})
		c.apply(fsm.EventTranscript)
		c.startDispatch(ctx, ev.Transcript)

	default:
		c.logger.Debug("unknown capture event ignored", "kind", string(ev.Kind))
	}
}

// startDispatch sends transcript to the backend on its own goroutine. Any
// earlier dispatch is cancelled and its outcome discarded.
func (c *Controller) startDispatch(ctx context.Context, transcript string) {
	c.turn++
	c.cancelInFlight()

	dispatchCtx, cancel := context.WithCancel(ctx)
	c.cancelDispatch = cancel
	turn := c.turn

	c.logger.Info("dispatching transcript",
		"interaction_id", c.state.InteractionID,
		"transcript_chars", len([]rune(transcript)),
	)

	go func() {
		outcome := c.dispatcher.Dispatch(dispatchCtx, transcript)
		select {
		case c.outcomes <- dispatchResult{turn: turn, outcome: outcome}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) handleOutcome(ctx context.Context, res dispatchResult) {
	if res.turn != c.turn {
		c.logger.Debug("superseded outcome dropped", "turn", res.turn, "current_turn", c.turn)
		return
	}
	if c.cancelDispatch != nil {
		c.cancelDispatch()
		c.cancelDispatch = nil
	}

	outcome := res.outcome
	c.setResult(outcome)

	if outcome.Failed() {
		c.setStatus(c.text.failed)
		c.apply(fsm.EventDispatchFailed)
		c.metrics.RecordInteraction(ctx, "failed")
		c.logger.Warn("interaction failed",
			"interaction_id", c.state.InteractionID,
			"error", outcome.Error,
		)
		return
	}

	c.setStatus(c.text.done)
	result := "resolved"
	if outcome.Answer != "" && c.speak(ctx, outcome.Answer) {
		c.apply(fsm.EventAnswered)
		result = "answered"
	} else {
		c.apply(fsm.EventResolved)
	}
	c.metrics.RecordInteraction(ctx, result)
	c.logger.Info("interaction finished",
		"interaction_id", c.state.InteractionID,
		"result", result,
		"matches", len(outcome.Matches),
	)
}

// speak starts playback of text and reports whether it is playing.
func (c *Controller) speak(ctx context.Context, text string) bool {
	if c.playback == nil {
		return false
	}

	c.speakSeq++
	seq := c.speakSeq
	done, err := c.playback.Speak(Utterance{
		Text:  text,
		Lang:  c.voice.Lang,
		Rate:  c.voice.Rate,
		Pitch: c.voice.Pitch,
	})
	if err != nil {
		c.logger.Warn("playback failed", "error", err.Error())
		return false
	}

	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		select {
		case c.playbackDone <- seq:
		case <-ctx.Done():
		}
	}()
	return true
}

func (c *Controller) handlePlaybackDone(seq uint64) {
	if seq != c.speakSeq {
		return
	}
	c.apply(fsm.EventPlaybackDone)
}

func (c *Controller) stopPlayback() {
	if c.playback == nil {
		return
	}
	c.speakSeq++
	c.playback.Stop()
	c.apply(fsm.EventSilenced)
}

func (c *Controller) cancelInFlight() {
	if c.cancelDispatch != nil {
		c.cancelDispatch()
		c.cancelDispatch = nil
	}
}

// shutdown releases engines when the owner loop exits.
func (c *Controller) shutdown() {
	c.cancelInFlight()
	if c.capture != nil && (c.state.Listening || c.starting) {
		_ = c.capture.Deactivate()
	}
	if c.playback != nil {
		c.playback.Stop()
	}
}

func (c *Controller) apply(event fsm.Event) {
	next, err := fsm.Transition(c.state.Phase, event)
	if err != nil {
		c.logger.Debug("phase transition ignored", "error", err.Error())
		return
	}
	if next != c.state.Phase {
		c.state.Phase = next
		c.dirty = true
	}
}

func (c *Controller) setStatus(status string) {
	if c.state.Status != status {
		c.state.Status = status
		c.dirty = true
	}
}

func (c *Controller) setResult(outcome Outcome) {
	if c.state.Result.IsZero() && outcome.IsZero() {
		return
	}
	c.state.Result = outcome
	c.dirty = true
}

// setListening is the only writer of the ActiveCaptures gauge.
func (c *Controller) setListening(ctx context.Context, listening bool) {
	if c.state.Listening == listening {
		return
	}
	c.state.Listening = listening
	c.dirty = true
	if listening {
		c.metrics.ActiveCaptures.Add(ctx, 1)
	} else {
		c.metrics.ActiveCaptures.Add(ctx, -1)
	}
}

// publish copies the working state for readers and wakes subscribers.
func (c *Controller) publish() {
	if !c.dirty {
		return
	}
	c.dirty = false

	c.mu.Lock()
	c.snap = c.state
	snap := c.snap
	subs := make([]chan Snapshot, 0, len(c.subscribers))
	for _, ch := range c.subscribers {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Handle serves control requests from the CLI.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	var err error
	switch req.Command {
	case "status":
	case "ask":
		if c.capture == nil {
			err = ErrCaptureUnavailable
			break
		}
		err = c.Begin(ctx)
	case "stop":
		err = c.End(ctx)
	case "silence":
		err = c.Silence(ctx)
	case "toggle":
		if c.capture == nil {
			err = ErrCaptureUnavailable
			break
		}
		err = c.Toggle(ctx)
	default:
		snap := c.Snapshot()
		return ipc.Response{OK: false, State: string(snap.Phase), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}

	snap := c.Snapshot()
	resp := SnapshotResponse(snap)
	if err != nil {
		resp.OK = false
		resp.Error = err.Error()
	}
	return resp
}

// SnapshotResponse renders a snapshot as a control response.
func SnapshotResponse(snap Snapshot) ipc.Response {
	resp := ipc.Response{
		OK:            true,
		State:         string(snap.Phase),
		Listening:     snap.Listening,
		Message:       snap.Status,
		InteractionID: snap.InteractionID,
	}
	if !snap.Result.IsZero() {
		if raw, err := json.Marshal(snap.Result); err == nil {
			resp.Result = raw
		}
	}
	return resp
}
