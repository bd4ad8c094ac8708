// Package cue plays short tones that mark when the session starts listening,
// stops listening, or fails.
package cue

import (
	"context"
	"log/slog"

	"github.com/itshop/voiceqa/internal/audio"
	"github.com/itshop/voiceqa/internal/fsm"
	"github.com/itshop/voiceqa/internal/session"
)

type Kind int

const (
	Start Kind = iota + 1
	Stop
	Failed
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// PlayFunc plays one clip and blocks until it has finished.
type PlayFunc func(context.Context, audio.Clip) error

// Source publishes session snapshots; the first value is the current one.
type Source interface {
	Subscribe() (<-chan session.Snapshot, func())
}

type Options struct {
	// Play defaults to the Pulse sink.
	Play   PlayFunc
	Logger *slog.Logger
}

// Run plays a cue for every listening transition published by src until ctx
// is done. Cues play one at a time; a cue that arrives while three are
// already waiting is dropped.
func Run(ctx context.Context, src Source, opts Options) error {
	play := opts.Play
	if play == nil {
		play = audio.Play
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	updates, stop := src.Subscribe()
	defer stop()

	queue := make(chan Kind, 3)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for kind := range queue {
			if err := play(ctx, Clip(kind)); err != nil && ctx.Err() == nil {
				logger.Debug("audio cue failed", "cue", kind.String(), "error", err.Error())
			}
		}
	}()
	defer func() {
		close(queue)
		<-done
	}()

	var prev session.Snapshot
	first := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-updates:
			if first {
				prev, first = snap, false
				continue
			}
			for _, kind := range transitions(prev, snap) {
				select {
				case queue <- kind:
				default:
					logger.Debug("audio cue dropped", "cue", kind.String())
				}
			}
			prev = snap
		}
	}
}

// transitions lists the cues implied by moving from prev to next.
func transitions(prev, next session.Snapshot) []Kind {
	var kinds []Kind
	failed := next.Phase == fsm.StateErrored && prev.Phase != fsm.StateErrored

	switch {
	case !prev.Listening && next.Listening:
		kinds = append(kinds, Start)
	case prev.Listening && !next.Listening && !failed:
		kinds = append(kinds, Stop)
	}
	if failed {
		kinds = append(kinds, Failed)
	}
	return kinds
}
