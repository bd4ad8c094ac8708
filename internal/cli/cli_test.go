package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
	require.Equal(t, DefaultWait, parsed.Wait)
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/voiceqa.jsonc", "doctor"})
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/voiceqa.jsonc", parsed.ConfigPath)
	require.False(t, parsed.ShowHelp)
}

func TestParseAskFlags(t *testing.T) {
	parsed, err := Parse([]string{"--json", "--wait", "90s", "ask"})
	require.NoError(t, err)
	require.Equal(t, CommandAsk, parsed.Command)
	require.True(t, parsed.JSON)
	require.False(t, parsed.NoWait)
	require.Equal(t, 90*time.Second, parsed.Wait)

	parsed, err = Parse([]string{"--no-wait", "ask"})
	require.NoError(t, err)
	require.True(t, parsed.NoWait)
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  string
		wantCmd  Command
		wantHelp bool
	}{
		{name: "help short flag", args: []string{"-h"}, wantCmd: CommandHelp, wantHelp: true},
		{name: "help long flag", args: []string{"--help"}, wantCmd: CommandHelp, wantHelp: true},
		{name: "version flag", args: []string{"--version"}, wantCmd: CommandVersion},
		{name: "serve", args: []string{"serve"}, wantCmd: CommandServe},
		{name: "silence", args: []string{"silence"}, wantCmd: CommandSilence},
		{name: "toggle", args: []string{"toggle"}, wantCmd: CommandToggle},
		{name: "help command", args: []string{"help"}, wantCmd: CommandHelp, wantHelp: true},
		{name: "config after command", args: []string{"status", "--config", "/tmp/cfg"}, wantErr: "unexpected arguments after command"},
		{name: "missing config path", args: []string{"--config"}, wantErr: "requires a path"},
		{name: "missing wait", args: []string{"--wait"}, wantErr: "requires a duration"},
		{name: "bad wait", args: []string{"--wait", "soon", "ask"}, wantErr: "positive duration"},
		{name: "negative wait", args: []string{"--wait", "-1s", "ask"}, wantErr: "positive duration"},
		{name: "unknown flag", args: []string{"--verbose"}, wantErr: "unknown flag"},
		{name: "unknown command", args: []string{"paste"}, wantErr: "unknown command"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
		})
	}
}

func TestHelpTextListsCommands(t *testing.T) {
	help := HelpText("voiceqa")
	for _, cmd := range []Command{CommandServe, CommandAsk, CommandStop, CommandSilence, CommandToggle, CommandStatus, CommandDevices, CommandDoctor} {
		require.Contains(t, help, "  "+string(cmd)+" ")
	}
	require.Contains(t, help, "$XDG_CONFIG_HOME/voiceqa/config.jsonc")
	require.Contains(t, help, "1m0s")
}
