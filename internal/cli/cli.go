// Package cli parses voiceqa command lines.
package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Command string

const (
	CommandServe   Command = "serve"
	CommandAsk     Command = "ask"
	CommandStop    Command = "stop"
	CommandSilence Command = "silence"
	CommandToggle  Command = "toggle"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandServe:   {},
	CommandAsk:     {},
	CommandStop:    {},
	CommandSilence: {},
	CommandToggle:  {},
	CommandStatus:  {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

// DefaultWait bounds how long `ask` waits for an interaction to settle.
const DefaultWait = 60 * time.Second

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
	// JSON prints the raw session snapshot instead of rendered text.
	JSON bool
	// NoWait makes `ask` return as soon as listening starts.
	NoWait bool
	Wait   time.Duration
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true, Wait: DefaultWait}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		case "--json":
			parsed.JSON = true
		case "--no-wait":
			parsed.NoWait = true
		case "--wait":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--wait requires a duration")
			}
			wait, err := time.ParseDuration(args[i])
			if err != nil || wait <= 0 {
				return Parsed{}, fmt.Errorf("--wait must be a positive duration, got %q", args[i])
			}
			parsed.Wait = wait
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [flags] <command>

Commands:
  serve     Run the voice Q&A daemon in the foreground
  ask       Start listening for a question and print the answer
  stop      Stop listening without sending a question
  silence   Stop speaking the current answer
  toggle    Start listening, or stop when already listening
  status    Print the current status and last result
  devices   List available input devices
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH     Config file path (default: $XDG_CONFIG_HOME/%[1]s/config.jsonc)
  --json            Print the session snapshot as JSON (ask, status)
  --wait DURATION   How long ask waits for an answer (default: %[2]s)
  --no-wait         Return from ask once listening has started
  -h, --help        Show help
  --version         Show version
`, binaryName, DefaultWait)
}
