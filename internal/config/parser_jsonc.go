package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload document
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, withPosition(content, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, withPosition(content, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	more, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, append(warnings, more...), nil
}

// normalizeJSONC blanks comments and trailing commas with spaces. The result
// has the same length as content so decoder offsets match the source file.
func normalizeJSONC(content string) (string, error) {
	buf := []byte(content)
	if err := blankComments(buf); err != nil {
		return "", err
	}
	blankTrailingCommas(buf)
	return string(buf), nil
}

func blankComments(buf []byte) error {
	for i := 0; i < len(buf); i++ {
		switch {
		case buf[i] == '"':
			i = skipString(buf, i)
		case bytes.HasPrefix(buf[i:], []byte("//")):
			for ; i < len(buf) && buf[i] != '\n' && buf[i] != '\r'; i++ {
				buf[i] = ' '
			}
		case bytes.HasPrefix(buf[i:], []byte("/*")):
			end := bytes.Index(buf[i+2:], []byte("*/"))
			if end < 0 {
				return errors.New("unterminated block comment in JSONC")
			}
			stop := i + 2 + end + 2
			blank(buf[i:stop])
			i = stop - 1
		}
	}
	return nil
}

func blankTrailingCommas(buf []byte) {
	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case '"':
			i = skipString(buf, i)
		case ',':
			j := i + 1
			for j < len(buf) && isJSONWhitespace(buf[j]) {
				j++
			}
			if j < len(buf) && (buf[j] == '}' || buf[j] == ']') {
				buf[i] = ' '
			}
		}
	}
}

// skipString returns the index of the quote closing the string opened at
// open, or len(buf) when the string never closes.
func skipString(buf []byte, open int) int {
	for i := open + 1; i < len(buf); i++ {
		switch buf[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return len(buf)
}

// blank overwrites b with spaces, keeping line structure.
func blank(b []byte) {
	for i, ch := range b {
		if !isJSONWhitespace(ch) {
			b[i] = ' '
		}
	}
}

func isJSONWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t'
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra json.RawMessage
	switch err := decoder.Decode(&extra); {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return err
	default:
		return errors.New("multiple JSON values are not allowed")
	}
}

// withPosition prefixes decode errors that carry an offset with the line and
// column in content.
func withPosition(content string, err error) error {
	var offset int64
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return err
	}
	line, col := offsetToLineCol(content, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}

func offsetToLineCol(content string, offset int64) (int, int) {
	end := max(min(int(offset), len(content))-1, 0)
	prefix := content[:end]
	line := strings.Count(prefix, "\n") + 1
	col := end - strings.LastIndexByte(prefix, '\n')
	return line, col
}
