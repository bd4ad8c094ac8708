package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Language: "th-TH",
		Backend: BackendConfig{
			URL: "http://127.0.0.1:3000/api/voice",
			Breaker: BreakerConfig{
				Enable:        true,
				MaxFailures:   5,
				OpenTimeoutMS: 30000,
			},
		},
		Recognizer: RecognizerConfig{
			URL:       "http://127.0.0.1:8080",
			TimeoutMS: 30000,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Capture: CaptureConfig{
			SilenceMS:      1200,
			MaxUtteranceMS: 15000,
			NoSpeechMS:     8000,
			RMSThreshold:   500,
		},
		Synthesizer: SynthesizerConfig{
			URL:       "http://127.0.0.1:5002",
			TimeoutMS: 30000,
		},
		Playback: PlaybackConfig{
			Enable: true,
			Rate:   1,
			Pitch:  1,
		},
		Metrics: MetricsConfig{Listen: "127.0.0.1:9464"},
		Log:     LogConfig{Level: "info"},
		Debug:   DebugConfig{},
	}
}
