// Package doctor runs readiness diagnostics for config, audio and the
// recognizer, synthesizer and backend services.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/itshop/voiceqa/internal/asr"
	"github.com/itshop/voiceqa/internal/audio"
	"github.com/itshop/voiceqa/internal/config"
	"github.com/itshop/voiceqa/internal/ipc"
	"github.com/itshop/voiceqa/internal/tts"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	message := fmt.Sprintf("loaded %q (%s)", cfg.Path, cfg.Format)
	if !cfg.Exists {
		message = fmt.Sprintf("%q not found; using defaults", cfg.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: message})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "control socket directory is set", "XDG_RUNTIME_DIR is empty; the daemon cannot bind its socket"))
	checks = append(checks, checkDaemon(ctx))

	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkRecognizer(ctx, cfg.Config))
	checks = append(checks, checkHTTP(ctx, "backend", cfg.Config.Backend.URL))

	if cfg.Config.Playback.Enable {
		checks = append(checks, checkSynthesizer(ctx, cfg.Config))
		if argv := cfg.Config.Playback.Player.Argv; len(argv) > 0 {
			checks = append(checks, checkCommand(argv, "playback.player_cmd"))
		}
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkDaemon reports whether a daemon owns the control socket. Either
// answer passes; an unanswerable socket fails.
func checkDaemon(ctx context.Context) Check {
	path, err := ipc.RuntimeSocketPath()
	if err != nil {
		return Check{Name: "daemon", Pass: true, Message: "not running (no runtime dir)"}
	}
	alive, err := ipc.Probe(ctx, path, probeTimeout)
	switch {
	case err != nil:
		return Check{Name: "daemon", Pass: false, Message: err.Error()}
	case alive:
		return Check{Name: "daemon", Pass: true, Message: fmt.Sprintf("running on %s", path)}
	default:
		return Check{Name: "daemon", Pass: true, Message: "not running"}
	}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

func checkRecognizer(ctx context.Context, cfg config.Config) Check {
	client, err := asr.New(asr.Options{
		URL:        cfg.Recognizer.URL,
		Language:   cfg.Language,
		HTTPClient: &http.Client{Timeout: probeTimeout},
	})
	if err != nil {
		return Check{Name: "recognizer", Pass: false, Message: err.Error()}
	}
	if err := client.Ping(ctx); err != nil {
		return Check{Name: "recognizer", Pass: false, Message: err.Error()}
	}
	return Check{Name: "recognizer", Pass: true, Message: fmt.Sprintf("reachable at %s", cfg.Recognizer.URL)}
}

func checkSynthesizer(ctx context.Context, cfg config.Config) Check {
	client, err := tts.New(tts.Options{
		URL:        cfg.Synthesizer.URL,
		HTTPClient: &http.Client{Timeout: probeTimeout},
	})
	if err != nil {
		return Check{Name: "synthesizer", Pass: false, Message: err.Error()}
	}
	if err := client.Ping(ctx); err != nil {
		return Check{Name: "synthesizer", Pass: false, Message: err.Error()}
	}
	return Check{Name: "synthesizer", Pass: true, Message: fmt.Sprintf("reachable at %s", cfg.Synthesizer.URL)}
}

// checkHTTP probes url with GET. Any answer below 500 counts as reachable:
// the backend only accepts POST and is expected to refuse a GET.
func checkHTTP(ctx context.Context, name string, url string) Check {
	url = strings.TrimSpace(url)
	if url == "" {
		return Check{Name: name, Pass: false, Message: "url is empty"}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 256))

	if resp.StatusCode >= http.StatusInternalServerError {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
}
