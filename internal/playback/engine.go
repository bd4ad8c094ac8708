// Package playback speaks answers: it synthesizes text and plays the audio
// through a sink, one utterance at a time.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/itshop/voiceqa/internal/audio"
	"github.com/itshop/voiceqa/internal/session"
	"github.com/itshop/voiceqa/internal/tts"
)

// Synthesizer turns a request into audio.
type Synthesizer interface {
	Synthesize(context.Context, tts.Request) (audio.WAV, error)
}

// Sink plays decoded audio and returns once it has finished or ctx is done.
type Sink interface {
	Play(context.Context, audio.WAV) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(context.Context, audio.WAV) error

func (f SinkFunc) Play(ctx context.Context, wav audio.WAV) error {
	return f(ctx, wav)
}

// Options configures an Engine.
type Options struct {
	Synthesizer Synthesizer
	Sink        Sink
	Logger      *slog.Logger
}

// Engine implements session.PlaybackEngine.
type Engine struct {
	synth  Synthesizer
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	last   <-chan struct{}
	wg     sync.WaitGroup
}

var _ session.PlaybackEngine = (*Engine)(nil)

// New builds an Engine. A nil Sink plays through Pulse.
func New(opts Options) (*Engine, error) {
	if opts.Synthesizer == nil {
		return nil, errors.New("playback: synthesizer is required")
	}
	sink := opts.Sink
	if sink == nil {
		sink = PulseSink()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{synth: opts.Synthesizer, sink: sink, logger: logger}, nil
}

// Speak cancels the current utterance and starts u. u reaches the sink only
// after the cancelled utterance has released it. The returned channel closes
// when u has played, failed or been cut off.
func (e *Engine) Speak(u session.Utterance) (<-chan struct{}, error) {
	if strings.TrimSpace(u.Text) == "" {
		return nil, errors.New("nothing to speak")
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = cancel
	done := make(chan struct{})
	prev := e.last
	e.last = done
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer close(done)
		defer cancel()
		e.play(ctx, u, prev)
	}()
	return done, nil
}

func (e *Engine) play(ctx context.Context, u session.Utterance, prev <-chan struct{}) {
	wav, err := e.synth.Synthesize(ctx, tts.Request{Text: u.Text, Lang: u.Lang, Rate: u.Rate, Pitch: u.Pitch})
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("synthesize answer", "error", err)
		}
		return
	}
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}
	if err := e.sink.Play(ctx, wav); err != nil && ctx.Err() == nil {
		e.logger.Error("play answer", "error", err)
	}
}

// Stop cuts off the current utterance. It is safe to call at any time.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// Close stops playback and waits for the playing goroutine to exit.
func (e *Engine) Close() error {
	e.Stop()
	e.wg.Wait()
	return nil
}
