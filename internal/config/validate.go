package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/text/language"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Language) == "" {
		return nil, fmt.Errorf("language must not be empty")
	}
	tag, err := language.Parse(cfg.Language)
	if err != nil {
		return nil, fmt.Errorf("language %q is not a valid BCP-47 tag: %w", cfg.Language, err)
	}
	if base, confidence := tag.Base(); confidence != language.Exact || (base.String() != "th" && base.String() != "en") {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("language %q has no localized status messages; using Thai", cfg.Language)})
	}

	if err := validateURL("backend.url", cfg.Backend.URL); err != nil {
		return nil, err
	}
	if cfg.Backend.TimeoutMS < 0 {
		return nil, fmt.Errorf("backend.timeout_ms must be >= 0")
	}
	if cfg.Backend.Breaker.Enable {
		if cfg.Backend.Breaker.MaxFailures <= 0 {
			return nil, fmt.Errorf("backend.breaker.max_failures must be > 0")
		}
		if cfg.Backend.Breaker.OpenTimeoutMS <= 0 {
			return nil, fmt.Errorf("backend.breaker.open_timeout_ms must be > 0")
		}
	}

	if err := validateURL("recognizer.url", cfg.Recognizer.URL); err != nil {
		return nil, err
	}
	if cfg.Recognizer.TimeoutMS <= 0 {
		return nil, fmt.Errorf("recognizer.timeout_ms must be > 0")
	}

	if cfg.Capture.SilenceMS <= 0 {
		return nil, fmt.Errorf("capture.silence_ms must be > 0")
	}
	if cfg.Capture.MaxUtteranceMS <= 0 {
		return nil, fmt.Errorf("capture.max_utterance_ms must be > 0")
	}
	if cfg.Capture.NoSpeechMS <= 0 {
		return nil, fmt.Errorf("capture.no_speech_ms must be > 0")
	}
	if cfg.Capture.RMSThreshold <= 0 {
		return nil, fmt.Errorf("capture.rms_threshold must be > 0")
	}
	if cfg.Capture.SilenceMS >= cfg.Capture.MaxUtteranceMS {
		warnings = append(warnings, Warning{Message: "capture.silence_ms >= capture.max_utterance_ms; every question runs to the length limit"})
	}

	if cfg.Playback.Enable {
		if err := validateURL("synthesizer.url", cfg.Synthesizer.URL); err != nil {
			return nil, err
		}
		if cfg.Synthesizer.TimeoutMS <= 0 {
			return nil, fmt.Errorf("synthesizer.timeout_ms must be > 0")
		}
	}
	if cfg.Playback.Rate <= 0 || cfg.Playback.Rate > 10 {
		return nil, fmt.Errorf("playback.rate must be in (0, 10]")
	}
	if cfg.Playback.Pitch < 0 || cfg.Playback.Pitch > 2 {
		return nil, fmt.Errorf("playback.pitch must be in [0, 2]")
	}
	if cfg.Playback.Player.Raw != "" && len(cfg.Playback.Player.Argv) == 0 {
		warnings = append(warnings, Warning{Message: "playback.player_cmd is commented out; using Pulse playback"})
	}

	if listen := strings.TrimSpace(cfg.Metrics.Listen); listen != "" {
		if _, _, err := net.SplitHostPort(listen); err != nil {
			return nil, fmt.Errorf("metrics.listen must be host:port: %w", err)
		}
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}

func validateURL(field string, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}
