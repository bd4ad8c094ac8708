// Package capture records one spoken question per activation, endpoints it
// on trailing silence and hands the audio to a speech recognizer.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itshop/voiceqa/internal/audio"
	"github.com/itshop/voiceqa/internal/session"
	"github.com/itshop/voiceqa/internal/transcript"
)

// Failure codes reported in session.CaptureEvent.Code.
const (
	CodeNoSpeech     = "no-speech"
	CodeAudioCapture = "audio-capture"
	CodeNetwork      = "network"
	CodeAborted      = "aborted"
)

// ErrAlreadyActive is returned by Activate while a cycle is still running.
var ErrAlreadyActive = errors.New("capture already active")

// Source is an open PCM stream. *audio.Capture satisfies it.
type Source interface {
	Device() audio.Device
	Chunks() <-chan []byte
	Stop() error
}

// OpenFunc opens the input device for one cycle.
type OpenFunc func(context.Context) (Source, error)

// Recognizer turns 16kHz mono s16 PCM into text.
type Recognizer interface {
	Recognize(context.Context, []byte) (string, error)
}

// Endpointing bounds one utterance.
type Endpointing struct {
	// Silence is the trailing quiet that ends an utterance once speech was heard.
	Silence time.Duration
	// MaxUtterance caps the recording length.
	MaxUtterance time.Duration
	// NoSpeech gives up when nothing crosses Threshold for this long.
	NoSpeech time.Duration
	// Threshold is the RMS level in sample units that counts as speech.
	Threshold float64
}

// DefaultEndpointing returns the timings used when config leaves them unset.
func DefaultEndpointing() Endpointing {
	return Endpointing{
		Silence:      1200 * time.Millisecond,
		MaxUtterance: 15 * time.Second,
		NoSpeech:     8 * time.Second,
		Threshold:    500,
	}
}

// Options configures an Engine.
type Options struct {
	Open        OpenFunc
	Recognizer  Recognizer
	Endpointing Endpointing
	Transcript  transcript.Options
	DumpAudio   bool
	Logger      *slog.Logger
}

// Engine implements session.CaptureEngine.
type Engine struct {
	opts   Options
	logger *slog.Logger
	events chan session.CaptureEvent
	quit   chan struct{}

	mu      sync.Mutex
	current *cycle
	closed  bool
}

var _ session.CaptureEngine = (*Engine)(nil)

type cycle struct {
	cancel      context.CancelFunc
	deactivated atomic.Bool
	finished    atomic.Bool
	done        chan struct{}
}

// New builds an Engine. Open and Recognizer are required.
func New(opts Options) (*Engine, error) {
	if opts.Open == nil {
		return nil, errors.New("capture: audio source opener is required")
	}
	if opts.Recognizer == nil {
		return nil, errors.New("capture: recognizer is required")
	}
	defaults := DefaultEndpointing()
	if opts.Endpointing.Silence <= 0 {
		opts.Endpointing.Silence = defaults.Silence
	}
	if opts.Endpointing.MaxUtterance <= 0 {
		opts.Endpointing.MaxUtterance = defaults.MaxUtterance
	}
	if opts.Endpointing.NoSpeech <= 0 {
		opts.Endpointing.NoSpeech = defaults.NoSpeech
	}
	if opts.Endpointing.Threshold <= 0 {
		opts.Endpointing.Threshold = defaults.Threshold
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Engine{
		opts:   opts,
		logger: logger,
		events: make(chan session.CaptureEvent, 16),
		quit:   make(chan struct{}),
	}, nil
}

// Events returns the lifecycle notifications of every cycle.
func (e *Engine) Events() <-chan session.CaptureEvent {
	return e.events
}

// Activate starts a new recording cycle.
func (e *Engine) Activate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return session.ErrCaptureUnavailable
	}
	var prev <-chan struct{}
	if e.current != nil {
		if !e.current.finished.Load() {
			return ErrAlreadyActive
		}
		prev = e.current.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &cycle{cancel: cancel, done: make(chan struct{})}
	e.current = c
	go e.run(ctx, c, prev)
	return nil
}

// Deactivate stops the running cycle. Pending recognition is discarded and
// only Ended is reported.
func (e *Engine) Deactivate() error {
	e.mu.Lock()
	c := e.current
	e.mu.Unlock()

	if c == nil {
		return nil
	}
	c.deactivated.Store(true)
	c.cancel()
	return nil
}

// Close aborts the running cycle and waits for it to finish.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	c := e.current
	close(e.quit)
	e.mu.Unlock()

	if c != nil {
		c.cancel()
		<-c.done
	}
	return nil
}

// run drives one cycle and reports it. A cycle that recognized speech emits
// Result even when the normalized transcript is empty; a failed cycle emits
// Failed; a deactivated cycle emits neither. Ended always comes last.
func (e *Engine) run(ctx context.Context, c *cycle, prev <-chan struct{}) {
	defer close(c.done)
	defer c.cancel()
	if prev != nil {
		<-prev
	}

	text, code := e.cycle(ctx, c)
	switch {
	case c.deactivated.Load():
	case code != "":
		e.logger.Warn("capture failed", "code", code)
		e.emit(session.CaptureEvent{Kind: session.CaptureFailed, Code: code})
	default:
		e.emit(session.CaptureEvent{Kind: session.CaptureResult, Transcript: text})
	}
	// A new cycle may start from here; it waits on done before emitting.
	c.finished.Store(true)
	e.emit(session.CaptureEvent{Kind: session.CaptureEnded})
}

// cycle records and recognizes one utterance. It returns the normalized
// transcript or a failure code.
func (e *Engine) cycle(ctx context.Context, c *cycle) (string, string) {
	src, err := e.opts.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", CodeAborted
		}
		e.logger.Error("open audio source", "error", err)
		return "", CodeAudioCapture
	}

	e.emit(session.CaptureEvent{Kind: session.CaptureStarted})
	pcm, heard, err := e.record(ctx, src)

	device := src.Device().String()
	e.logger.Debug("capture finished", "device", device, "bytes", len(pcm), "heard", heard)
	e.writeDebugAudio(pcm)

	switch {
	case ctx.Err() != nil:
		return "", CodeAborted
	case err != nil:
		e.logger.Error("audio stream ended unexpectedly", "device", device, "error", err)
		return "", CodeAudioCapture
	case !heard:
		return "", CodeNoSpeech
	}

	raw, err := e.opts.Recognizer.Recognize(ctx, pcm)
	if ctx.Err() != nil || c.deactivated.Load() {
		return "", CodeAborted
	}
	if err != nil {
		e.logger.Error("recognize speech", "error", err)
		return "", CodeNetwork
	}
	return transcript.Normalize(raw, e.opts.Transcript), ""
}

var errSourceClosed = errors.New("audio source closed")

// record reads src until the utterance is complete, the limit is hit or ctx
// is cancelled. heard reports whether any chunk crossed the speech threshold.
func (e *Engine) record(ctx context.Context, src Source) ([]byte, bool, error) {
	defer func() { _ = src.Stop() }()

	ep := e.opts.Endpointing
	silenceMS := int(ep.Silence / time.Millisecond)
	maxMS := int(ep.MaxUtterance / time.Millisecond)
	noSpeechMS := int(ep.NoSpeech / time.Millisecond)

	var (
		pcm     []byte
		heard   bool
		totalMS int
		quietMS int
	)
	for {
		select {
		case <-ctx.Done():
			return pcm, heard, ctx.Err()
		case chunk, ok := <-src.Chunks():
			if !ok {
				if heard {
					return pcm, heard, nil
				}
				return pcm, heard, errSourceClosed
			}
			pcm = append(pcm, chunk...)
			d := audio.ChunkDuration(chunk, audio.SampleRate, 1)
			totalMS += d

			if audio.RMS(chunk) >= ep.Threshold {
				heard = true
				quietMS = 0
			} else if heard {
				quietMS += d
			}

			switch {
			case heard && quietMS >= silenceMS:
				return pcm, heard, nil
			case !heard && totalMS >= noSpeechMS:
				return pcm, heard, nil
			case totalMS >= maxMS:
				return pcm, heard, nil
			}
		}
	}
}

func (e *Engine) emit(ev session.CaptureEvent) {
	select {
	case e.events <- ev:
	case <-e.quit:
	}
}
