package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/jfreymuth/pulse"
)

// Clip is decoded s16 audio ready for playback.
type Clip struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// ClipFromWAV decodes a 16-bit WAV container into a Clip.
func ClipFromWAV(w WAV) (Clip, error) {
	samples, err := w.Samples()
	if err != nil {
		return Clip{}, err
	}
	return Clip{Samples: samples, SampleRate: w.SampleRate, Channels: w.Channels}, nil
}

// Play sends clip to the default Pulse sink and blocks until it has played
// or ctx is cancelled. Cancellation ends the stream at the next buffer.
func Play(ctx context.Context, clip Clip) error {
	if len(clip.Samples) == 0 {
		return nil
	}
	if clip.SampleRate <= 0 {
		return errors.New("clip sample rate must be positive")
	}

	var layout pulse.PlaybackOption
	switch clip.Channels {
	case 0, 1:
		layout = pulse.PlaybackMono
	case 2:
		layout = pulse.PlaybackStereo
	default:
		return fmt.Errorf("unsupported channel count %d", clip.Channels)
	}

	client, err := newClient("audio-speakers")
	if err != nil {
		return err
	}
	defer client.Close()

	stream, err := client.NewPlayback(
		pulse.Int16Reader(clipReader(ctx, clip.Samples)),
		layout,
		pulse.PlaybackSampleRate(clip.SampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName("voiceqa answer"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play answer stream: %w", err)
	}
	return ctx.Err()
}

// clipReader feeds samples to Pulse and reports end of data on cancellation.
func clipReader(ctx context.Context, samples []int16) func([]int16) (int, error) {
	cursor := 0
	return func(buf []int16) (int, error) {
		if ctx.Err() != nil || cursor >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	}
}
