package playback

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/itshop/voiceqa/internal/audio"
)

// PulseSink plays through the default Pulse output.
func PulseSink() Sink {
	return SinkFunc(func(ctx context.Context, wav audio.WAV) error {
		clip, err := audio.ClipFromWAV(wav)
		if err != nil {
			return err
		}
		return audio.Play(ctx, clip)
	})
}

// CommandSink pipes each answer as a WAV file into an external player such
// as `pw-play -` or `aplay -q`. The process is killed when playback is cut off.
func CommandSink(argv []string) (Sink, error) {
	if len(argv) == 0 {
		return nil, errors.New("player command argv cannot be empty")
	}
	return SinkFunc(func(ctx context.Context, wav audio.WAV) error {
		data := audio.EncodeWAV(wav.Data, wav.SampleRate, wav.Channels)
		return runCommandWithInput(ctx, argv, data)
	}), nil
}

// runCommandWithInput executes argv and writes input to its stdin.
func runCommandWithInput(ctx context.Context, argv []string, input []byte) error {
	if len(argv) == 0 {
		return errors.New("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if len(input) > 0 {
		if _, err := stdin.Write(input); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}
