// Package transcript normalizes recognized speech before it reaches the
// conversation and the form extractor.
package transcript

import "strings"

// Options controls which normalization passes run.
type Options struct {
	CapitalizeSentences bool
	CollapseDigits      bool
}

// DefaultOptions enables every pass.
func DefaultOptions() Options {
	return Options{CapitalizeSentences: true, CollapseDigits: true}
}

// Normalize collapses whitespace and applies the configured passes.
func Normalize(text string, opts Options) string {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return ""
	}
	if opts.CollapseDigits {
		normalized = collapseSpokenDigits(normalized)
	}
	if opts.CapitalizeSentences {
		normalized = capitalizeSentences(normalized)
	}
	return normalized
}
