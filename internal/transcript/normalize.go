// Package transcript normalizes recognizer output before it is dispatched.
package transcript

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Options controls transcript normalization.
type Options struct {
	// KeepAnnotations leaves recognizer markers such as [BLANK_AUDIO] or
	// (music) in place.
	KeepAnnotations bool
}

// annotationPattern matches whole bracketed recognizer markers.
var annotationPattern = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)

// Normalize collapses whitespace, composes Unicode and drops recognizer
// annotations from text.
func Normalize(text string, opts Options) string {
	text = norm.NFC.String(text)
	if !opts.KeepAnnotations {
		text = annotationPattern.ReplaceAllString(text, " ")
	}
	return strings.Join(strings.Fields(text), " ")
}
