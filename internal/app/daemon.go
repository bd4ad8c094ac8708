package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/itshop/voiceqa/internal/asr"
	"github.com/itshop/voiceqa/internal/audio"
	"github.com/itshop/voiceqa/internal/capture"
	"github.com/itshop/voiceqa/internal/config"
	"github.com/itshop/voiceqa/internal/dispatch"
	"github.com/itshop/voiceqa/internal/observe"
	"github.com/itshop/voiceqa/internal/playback"
	"github.com/itshop/voiceqa/internal/session"
	"github.com/itshop/voiceqa/internal/tts"
)

// daemon owns the engines behind one session controller.
type daemon struct {
	controller *session.Controller
	capture    *capture.Engine
	playback   *playback.Engine
}

func newDaemon(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *observe.Metrics) (*daemon, error) {
	d := &daemon{}

	// Nil interfaces mark a capability as absent for the controller.
	var listener session.CaptureEngine
	if _, err := audio.ListDevices(ctx); err != nil {
		logger.Warn("speech capture unavailable", "error", err.Error())
	} else {
		engine, err := newCapture(cfg, logger, metrics)
		if err != nil {
			return nil, err
		}
		d.capture = engine
		listener = engine
	}

	var speaker session.PlaybackEngine
	if cfg.Playback.Enable {
		engine, err := newPlayback(cfg, logger, metrics)
		if err != nil {
			_ = d.Close()
			return nil, err
		}
		d.playback = engine
		speaker = engine
	}

	dispatcher, err := dispatch.New(dispatch.Options{
		Endpoint: cfg.Backend.URL,
		Timeout:  millis(cfg.Backend.TimeoutMS),
		Breaker: dispatch.Breaker{
			Enable:      cfg.Backend.Breaker.Enable,
			MaxFailures: uint32(cfg.Backend.Breaker.MaxFailures),
			OpenTimeout: millis(cfg.Backend.Breaker.OpenTimeoutMS),
		},
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	d.controller = session.NewController(session.Options{
		Logger:     logger,
		Capture:    listener,
		Playback:   speaker,
		Dispatcher: dispatcher,
		Voice: session.Voice{
			Lang:  cfg.Language,
			Rate:  cfg.Playback.Rate,
			Pitch: cfg.Playback.Pitch,
		},
		Metrics: metrics,
	})
	return d, nil
}

func newCapture(cfg config.Config, logger *slog.Logger, metrics *observe.Metrics) (*capture.Engine, error) {
	recognizer, err := asr.New(asr.Options{
		URL:      cfg.Recognizer.URL,
		Language: cfg.Language,
		Model:    cfg.Recognizer.Model,
		Timeout:  millis(cfg.Recognizer.TimeoutMS),
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	return capture.New(capture.Options{
		Open:       capture.DeviceOpener(cfg.Audio.Input, cfg.Audio.Fallback, logger),
		Recognizer: recognizer,
		Endpointing: capture.Endpointing{
			Silence:      millis(cfg.Capture.SilenceMS),
			MaxUtterance: millis(cfg.Capture.MaxUtteranceMS),
			NoSpeech:     millis(cfg.Capture.NoSpeechMS),
			Threshold:    cfg.Capture.RMSThreshold,
		},
		DumpAudio: cfg.Debug.EnableAudioDump,
		Logger:    logger,
	})
}

func newPlayback(cfg config.Config, logger *slog.Logger, metrics *observe.Metrics) (*playback.Engine, error) {
	synth, err := tts.New(tts.Options{
		URL:     cfg.Synthesizer.URL,
		Speaker: cfg.Synthesizer.Speaker,
		Timeout: millis(cfg.Synthesizer.TimeoutMS),
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}

	var sink playback.Sink
	if argv := cfg.Playback.Player.Argv; len(argv) > 0 {
		sink, err = playback.CommandSink(argv)
		if err != nil {
			return nil, fmt.Errorf("playback.player_cmd: %w", err)
		}
	}

	return playback.New(playback.Options{Synthesizer: synth, Sink: sink, Logger: logger})
}

// Close releases both engines. It is safe after a partial build.
func (d *daemon) Close() error {
	var errs []error
	if d.capture != nil {
		errs = append(errs, d.capture.Close())
	}
	if d.playback != nil {
		errs = append(errs, d.playback.Close())
	}
	return errors.Join(errs...)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
