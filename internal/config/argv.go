package config

import (
	"fmt"
	"strings"
	"unicode"
)

// parseArgv splits a player command line into argv. Quotes group words and
// a backslash escapes the next rune, except inside single quotes where it is
// literal. A quoted empty word is kept. A leading # disables the command.
func parseArgv(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" || strings.HasPrefix(input, "#") {
		return nil, nil
	}

	var s argvSplitter
	for _, r := range input {
		s.feed(r)
	}
	switch {
	case s.escape:
		return nil, fmt.Errorf("unterminated escape sequence in command: %q", input)
	case s.quote != 0:
		return nil, fmt.Errorf("unterminated quote in command: %q", input)
	}
	s.flush()
	return s.argv, nil
}

type argvSplitter struct {
	argv   []string
	word   strings.Builder
	inWord bool
	quote  rune
	escape bool
}

func (s *argvSplitter) feed(r rune) {
	switch {
	case s.escape:
		s.escape = false
		s.word.WriteRune(r)
	case s.quote == r:
		s.quote = 0
	case r == '\\' && s.quote != '\'':
		s.escape = true
		s.inWord = true
	case s.quote != 0:
		s.word.WriteRune(r)
	case r == '\'' || r == '"':
		s.quote = r
		s.inWord = true
	case unicode.IsSpace(r):
		s.flush()
	default:
		s.word.WriteRune(r)
		s.inWord = true
	}
}

func (s *argvSplitter) flush() {
	if !s.inWord {
		return
	}
	s.argv = append(s.argv, s.word.String())
	s.word.Reset()
	s.inWord = false
}
