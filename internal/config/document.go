package config

import (
	"fmt"
	"strings"
)

// document is the on-disk shape shared by the JSONC and YAML parsers. Every
// field is optional; unset fields keep their base value.
type document struct {
	Language    *string         `json:"language" yaml:"language"`
	Backend     *docBackend     `json:"backend" yaml:"backend"`
	Recognizer  *docRecognizer  `json:"recognizer" yaml:"recognizer"`
	Audio       *docAudio       `json:"audio" yaml:"audio"`
	Capture     *docCapture     `json:"capture" yaml:"capture"`
	Synthesizer *docSynthesizer `json:"synthesizer" yaml:"synthesizer"`
	Playback    *docPlayback    `json:"playback" yaml:"playback"`
	Metrics     *docMetrics     `json:"metrics" yaml:"metrics"`
	Log         *docLog         `json:"log" yaml:"log"`
	Debug       *docDebug       `json:"debug" yaml:"debug"`
}

type docBackend struct {
	URL       *string     `json:"url" yaml:"url"`
	TimeoutMS *int        `json:"timeout_ms" yaml:"timeout_ms"`
	Breaker   *docBreaker `json:"breaker" yaml:"breaker"`
}

type docBreaker struct {
	Enable        *bool `json:"enable" yaml:"enable"`
	MaxFailures   *int  `json:"max_failures" yaml:"max_failures"`
	OpenTimeoutMS *int  `json:"open_timeout_ms" yaml:"open_timeout_ms"`
}

type docRecognizer struct {
	URL       *string `json:"url" yaml:"url"`
	Model     *string `json:"model" yaml:"model"`
	TimeoutMS *int    `json:"timeout_ms" yaml:"timeout_ms"`
}

type docAudio struct {
	Input    *string `json:"input" yaml:"input"`
	Fallback *string `json:"fallback" yaml:"fallback"`
}

type docCapture struct {
	SilenceMS      *int     `json:"silence_ms" yaml:"silence_ms"`
	MaxUtteranceMS *int     `json:"max_utterance_ms" yaml:"max_utterance_ms"`
	NoSpeechMS     *int     `json:"no_speech_ms" yaml:"no_speech_ms"`
	RMSThreshold   *float64 `json:"rms_threshold" yaml:"rms_threshold"`
}

type docSynthesizer struct {
	URL       *string `json:"url" yaml:"url"`
	Speaker   *string `json:"speaker" yaml:"speaker"`
	TimeoutMS *int    `json:"timeout_ms" yaml:"timeout_ms"`
}

type docPlayback struct {
	Enable    *bool    `json:"enable" yaml:"enable"`
	Rate      *float64 `json:"rate" yaml:"rate"`
	Pitch     *float64 `json:"pitch" yaml:"pitch"`
	PlayerCmd *string  `json:"player_cmd" yaml:"player_cmd"`
	Cues      *bool    `json:"cues" yaml:"cues"`
}

type docMetrics struct {
	Listen *string `json:"listen" yaml:"listen"`
}

type docLog struct {
	Level *string `json:"level" yaml:"level"`
}

type docDebug struct {
	AudioDump *bool `json:"audio_dump" yaml:"audio_dump"`
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setValue[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (payload document) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	setString(&cfg.Language, payload.Language)

	if b := payload.Backend; b != nil {
		setString(&cfg.Backend.URL, b.URL)
		setValue(&cfg.Backend.TimeoutMS, b.TimeoutMS)
		if b.Breaker != nil {
			setValue(&cfg.Backend.Breaker.Enable, b.Breaker.Enable)
			setValue(&cfg.Backend.Breaker.MaxFailures, b.Breaker.MaxFailures)
			setValue(&cfg.Backend.Breaker.OpenTimeoutMS, b.Breaker.OpenTimeoutMS)
		}
	}

	if r := payload.Recognizer; r != nil {
		setString(&cfg.Recognizer.URL, r.URL)
		setString(&cfg.Recognizer.Model, r.Model)
		setValue(&cfg.Recognizer.TimeoutMS, r.TimeoutMS)
	}

	if a := payload.Audio; a != nil {
		setValue(&cfg.Audio.Input, a.Input)
		setValue(&cfg.Audio.Fallback, a.Fallback)
	}

	if c := payload.Capture; c != nil {
		setValue(&cfg.Capture.SilenceMS, c.SilenceMS)
		setValue(&cfg.Capture.MaxUtteranceMS, c.MaxUtteranceMS)
		setValue(&cfg.Capture.NoSpeechMS, c.NoSpeechMS)
		setValue(&cfg.Capture.RMSThreshold, c.RMSThreshold)
	}

	if s := payload.Synthesizer; s != nil {
		setString(&cfg.Synthesizer.URL, s.URL)
		setString(&cfg.Synthesizer.Speaker, s.Speaker)
		setValue(&cfg.Synthesizer.TimeoutMS, s.TimeoutMS)
	}

	if p := payload.Playback; p != nil {
		setValue(&cfg.Playback.Enable, p.Enable)
		setValue(&cfg.Playback.Rate, p.Rate)
		setValue(&cfg.Playback.Pitch, p.Pitch)
		setValue(&cfg.Playback.Cues, p.Cues)
		if p.PlayerCmd != nil {
			raw := *p.PlayerCmd
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid playback.player_cmd: %w", err)
			}
			cfg.Playback.Player = CommandConfig{Raw: raw, Argv: argv}
		}
	}

	if m := payload.Metrics; m != nil {
		setString(&cfg.Metrics.Listen, m.Listen)
	}

	if l := payload.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
		cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	}

	if d := payload.Debug; d != nil {
		setValue(&cfg.Debug.EnableAudioDump, d.AudioDump)
	}

	if !cfg.Playback.Enable && len(cfg.Playback.Player.Argv) > 0 {
		warnings = append(warnings, Warning{Message: "playback.player_cmd is set but playback.enable=false; answers will not be spoken"})
	}

	return warnings, nil
}
