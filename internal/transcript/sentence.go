package transcript

import (
	"regexp"
	"strings"
	"unicode"
)

// abbreviations never end a sentence when followed by a period.
var abbreviations = map[string]struct{}{
	"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "prof": {},
	"smt": {}, "sri": {}, "shri": {}, "kum": {}, "adv": {},
	"st": {}, "rd": {}, "no": {}, "po": {}, "dist": {}, "tq": {},
	"e.g": {}, "i.e": {}, "etc": {}, "vs": {},
}

// lowercaseStarts stay lowercase even at the start of a sentence.
var lowercaseStarts = map[string]struct{}{
	"e.g": {}, "i.e": {}, "etc": {}, "vs": {},
}

var pronounI = regexp.MustCompile(`\bi\b(?:'(?:m|d|ll|ve|re|s)\b)?`)

func capitalizeSentences(text string) string {
	runes := []rune(text)
	var out strings.Builder
	out.Grow(len(text))

	atStart := true
	for i, r := range runes {
		if atStart && unicode.IsLetter(r) {
			if _, keep := lowercaseStarts[tokenAt(runes, i)]; !keep {
				r = unicode.ToUpper(r)
			}
			atStart = false
		} else if atStart && unicode.IsDigit(r) {
			atStart = false
		}
		out.WriteRune(r)

		switch r {
		case '!', '?':
			atStart = true
		case '.':
			atStart = endsSentence(runes, i)
		}
	}
	return capitalizePronounI(out.String())
}

// endsSentence reports whether the period at idx closes a sentence.
func endsSentence(runes []rune, idx int) bool {
	if idx+1 < len(runes) && !unicode.IsSpace(runes[idx+1]) {
		return false
	}
	if idx > 0 && unicode.IsDigit(runes[idx-1]) && idx+1 < len(runes) && unicode.IsDigit(runes[idx+1]) {
		return false
	}

	start := idx
	for start > 0 && (unicode.IsLetter(runes[start-1]) || runes[start-1] == '.') {
		start--
	}
	word := strings.ToLower(strings.Trim(string(runes[start:idx]), "."))
	if word == "" {
		return true
	}
	if _, ok := abbreviations[word]; ok {
		return false
	}
	// Single-letter initials such as "K. R. Meera".
	return len([]rune(word)) != 1
}

func tokenAt(runes []rune, idx int) string {
	end := idx
	for end < len(runes) && (unicode.IsLetter(runes[end]) || runes[end] == '.') {
		end++
	}
	return strings.ToLower(strings.Trim(string(runes[idx:end]), "."))
}

func capitalizePronounI(text string) string {
	matches := pronounI.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var out strings.Builder
	out.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		out.WriteString(text[last:start])
		// "i.e" and initials keep their case.
		if end < len(text) && text[end] == '.' {
			out.WriteString(text[start:end])
		} else {
			out.WriteString("I" + text[start+1:end])
		}
		last = end
	}
	out.WriteString(text[last:])
	return out.String()
}
