// Package config resolves, parses, validates, and defaults voiceqa configuration.
package config

// Config is the fully materialized runtime configuration used by voiceqa.
type Config struct {
	Language    string
	Backend     BackendConfig
	Recognizer  RecognizerConfig
	Audio       AudioConfig
	Capture     CaptureConfig
	Synthesizer SynthesizerConfig
	Playback    PlaybackConfig
	Metrics     MetricsConfig
	Log         LogConfig
	Debug       DebugConfig
}

// BackendConfig points at the shop question endpoint.
type BackendConfig struct {
	URL string
	// TimeoutMS bounds one dispatch; 0 waits for the backend indefinitely.
	TimeoutMS int
	Breaker   BreakerConfig
}

// BreakerConfig controls the circuit breaker around backend calls.
type BreakerConfig struct {
	Enable        bool
	MaxFailures   int
	OpenTimeoutMS int
}

// RecognizerConfig points at the whisper-compatible speech recognizer.
type RecognizerConfig struct {
	URL       string
	Model     string
	TimeoutMS int
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// CaptureConfig bounds one recorded question.
type CaptureConfig struct {
	SilenceMS      int
	MaxUtteranceMS int
	NoSpeechMS     int
	RMSThreshold   float64
}

// SynthesizerConfig points at the Coqui-compatible speech synthesizer.
type SynthesizerConfig struct {
	URL       string
	Speaker   string
	TimeoutMS int
}

// PlaybackConfig controls spoken answers.
type PlaybackConfig struct {
	Enable bool
	Rate   float64
	Pitch  float64
	// Cues plays short tones when listening starts, stops or fails.
	Cues bool
	// Player pipes WAV answers into an external command instead of Pulse.
	Player CommandConfig
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// MetricsConfig controls the HTTP listener for /metrics and /ws.
type MetricsConfig struct {
	Listen string
}

// LogConfig controls the runtime log level.
type LogConfig struct {
	Level string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
