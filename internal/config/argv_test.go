package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArgv(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr string
	}{
		{name: "empty", input: "", want: nil},
		{name: "simple", input: "pw-play -", want: []string{"pw-play", "-"}},
		{name: "quoted spaces", input: `aplay -q --device "USB Speaker" -`, want: []string{"aplay", "-q", "--device", "USB Speaker", "-"}},
		{name: "single quote", input: `paplay --client-name 'voice qa'`, want: []string{"paplay", "--client-name", "voice qa"}},
		{name: "escaped space", input: `player my\ sink`, want: []string{"player", "my sink"}},
		{name: "leading comment", input: `# pw-play -`, want: nil},
		{name: "empty quoted word", input: `player "" -`, want: []string{"player", "", "-"}},
		{name: "backslash literal in single quotes", input: `play 'C:\sounds'`, want: []string{"play", `C:\sounds`}},
		{name: "escaped quote in double quotes", input: `say "a \"b\""`, want: []string{"say", `a "b"`}},
		{name: "unterminated quote", input: `aplay "oops`, wantErr: "unterminated quote"},
		{name: "unterminated escape", input: `aplay hello\`, wantErr: "unterminated escape"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseArgv(tc.input)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
