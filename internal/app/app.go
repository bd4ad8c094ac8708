// Package app runs voiceqa commands: the serve daemon and the thin clients
// that forward to it.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itshop/voiceqa/internal/audio"
	"github.com/itshop/voiceqa/internal/cli"
	"github.com/itshop/voiceqa/internal/config"
	"github.com/itshop/voiceqa/internal/cue"
	"github.com/itshop/voiceqa/internal/doctor"
	"github.com/itshop/voiceqa/internal/feed"
	"github.com/itshop/voiceqa/internal/fsm"
	"github.com/itshop/voiceqa/internal/ipc"
	"github.com/itshop/voiceqa/internal/logging"
	"github.com/itshop/voiceqa/internal/observe"
	"github.com/itshop/voiceqa/internal/version"
)

const (
	forwardTimeout  = 2 * time.Second
	pollInterval    = 150 * time.Millisecond
	shutdownTimeout = 3 * time.Second
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("voiceqa"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("voiceqa"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logRuntime, err := logging.New(cfgLoaded.Config.Log.Level)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"config_format", string(cfgLoaded.Format),
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandServe:
		return r.commandServe(ctx, cfgLoaded.Config, logger)
	case cli.CommandAsk:
		return r.commandAsk(ctx, parsed)
	case cli.CommandStop, cli.CommandSilence, cli.CommandToggle:
		return r.forwardOrFail(ctx, string(parsed.Command), parsed.JSON)
	case cli.CommandStatus:
		return r.commandStatus(ctx, parsed.JSON)
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// commandServe owns the control socket and runs the session until ctx ends.
func (r Runner) commandServe(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintf(r.Stderr, "error: %v on %s\n", err, socketPath)
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = ipc.Release(socketPath)
	}()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version.Version})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: init metrics: %v\n", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownMetrics(flushCtx)
	}()
	metrics := observe.DefaultMetrics()

	d, err := newDaemon(ctx, cfg, logger, metrics)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = d.Close() }()

	var httpListener net.Listener
	if addr := strings.TrimSpace(cfg.Metrics.Listen); addr != "" {
		httpListener, err = net.Listen("tcp", addr)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: listen %s: %v\n", addr, err)
			return 1
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.controller.Run(gctx)
	})
	g.Go(func() error {
		return ipc.Serve(gctx, listener, d.controller)
	})
	if cfg.Playback.Cues {
		g.Go(func() error {
			return cue.Run(gctx, d.controller, cue.Options{Logger: logger})
		})
	}
	if httpListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observe.Handler())
		mux.Handle("/ws", feed.NewHandler(gctx, d.controller, feed.Options{
			Commands: d.controller,
			Logger:   logger,
			Metrics:  metrics,
		}))
		server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := server.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(stopCtx)
		})
	}

	logger.Info("daemon ready",
		"socket", socketPath,
		"http", cfg.Metrics.Listen,
		"language", cfg.Language,
		"playback", cfg.Playback.Enable,
	)

	if err := g.Wait(); err != nil {
		logger.Error("daemon failed", "error", err.Error())
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	logger.Info("daemon stopped")
	return 0
}

// commandAsk starts listening and, unless told not to, waits for the answer.
func (r Runner) commandAsk(ctx context.Context, parsed cli.Parsed) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, err := forward(ctx, socketPath, "ask")
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if parsed.NoWait {
		return r.print(resp, parsed.JSON)
	}

	w := waiter{interaction: resp.InteractionID}
	deadline := time.NewTimer(parsed.Wait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for !w.settled(resp) {
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.Stderr, "error: interrupted while waiting for an answer")
			return 1
		case <-deadline.C:
			_ = r.print(resp, parsed.JSON)
			fmt.Fprintf(r.Stderr, "error: no answer within %s\n", parsed.Wait)
			return 1
		case <-ticker.C:
		}

		resp, err = forward(ctx, socketPath, "status")
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
	}
	if code := r.print(resp, parsed.JSON); code != 0 {
		return code
	}
	if decodeOutcome(resp).Failed() || fsm.State(resp.State) == fsm.StateErrored {
		return 1
	}
	return 0
}

// waiter tracks one ask interaction across status polls. Until capture starts
// the daemon still reports the previous phase, so the wait only ends once the
// interaction was seen active or produced a result.
type waiter struct {
	interaction string
	active      bool
}

func (w *waiter) settled(resp ipc.Response) bool {
	if w.interaction != "" && resp.InteractionID != "" && resp.InteractionID != w.interaction {
		return true
	}
	if resp.Listening || len(resp.Result) > 0 {
		w.active = true
	}
	switch fsm.State(resp.State) {
	case fsm.StateListening, fsm.StateDispatching:
		w.active = true
		return false
	}
	return w.active && !resp.Listening
}

func (r Runner) commandStatus(ctx context.Context, asJSON bool) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return r.print(ipc.Response{OK: true, State: string(fsm.StateIdle)}, asJSON)
	}

	resp, err := forward(ctx, socketPath, "status")
	if err != nil {
		if errors.Is(err, ipc.ErrNoOwner) {
			return r.print(ipc.Response{OK: true, State: string(fsm.StateIdle)}, asJSON)
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.State == "" {
		resp.State = string(fsm.StateIdle)
	}
	return r.print(resp, asJSON)
}

func (r Runner) forwardOrFail(ctx context.Context, command string, asJSON bool) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, err := forward(ctx, socketPath, command)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if asJSON {
		return r.print(resp, true)
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}

	return 0
}

// print renders resp as text, or as indented JSON when asJSON is set.
func (r Runner) print(resp ipc.Response, asJSON bool) int {
	if asJSON {
		raw, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: encode response: %v\n", err)
			return 1
		}
		fmt.Fprintln(r.Stdout, string(raw))
	} else {
		fmt.Fprint(r.Stdout, renderStatus(resp, decodeOutcome(resp)))
	}
	return 0
}

// forward sends one command to the daemon. A reply with ok=false becomes an
// error carrying the daemon's message.
func forward(ctx context.Context, socketPath string, command string) (ipc.Response, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err != nil {
		if errors.Is(err, ipc.ErrNoOwner) {
			return ipc.Response{}, fmt.Errorf("no running voiceqa daemon (start one with `voiceqa serve`): %w", err)
		}
		return ipc.Response{}, fmt.Errorf("forward command %q: %w", command, err)
	}
	if !resp.OK {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
