package transcript

import "strings"

var digitWords = map[string]string{
	"zero": "0", "oh": "0", "o": "0",
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5",
	"six": "6", "seven": "7", "eight": "8", "nine": "9",
}

var repeatWords = map[string]int{"double": 2, "triple": 3}

// minDigitRun is the shortest spoken run rewritten as digits. Shorter runs
// are ordinary words ("one certificate").
const minDigitRun = 3

// collapseSpokenDigits rewrites dictated numbers such as
// "nine eight four seven double zero" as "984700".
func collapseSpokenDigits(text string) string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words))

	for i := 0; i < len(words); {
		digits, consumed := readDigitRun(words[i:])
		if len(digits) >= minDigitRun {
			out = append(out, digits+trailingPunct(words[i+consumed-1]))
			i += consumed
			continue
		}
		out = append(out, words[i])
		i++
	}
	return strings.Join(out, " ")
}

func readDigitRun(words []string) (string, int) {
	var b strings.Builder
	consumed := 0
	for consumed < len(words) {
		w := strings.ToLower(strings.TrimRight(words[consumed], ".,"))
		if n, ok := repeatWords[w]; ok && consumed+1 < len(words) {
			next := strings.ToLower(strings.TrimRight(words[consumed+1], ".,"))
			if d, ok := digitWords[next]; ok {
				b.WriteString(strings.Repeat(d, n))
				consumed += 2
				if stopsRun(words[consumed-1]) {
					break
				}
				continue
			}
		}
		d, ok := digitWords[w]
		if !ok {
			if isDigits(w) && b.Len() > 0 {
				d = w
			} else {
				break
			}
		}
		if (w == "o" || w == "oh") && b.Len() == 0 {
			break
		}
		b.WriteString(d)
		consumed++
		if stopsRun(words[consumed-1]) {
			break
		}
	}
	return b.String(), consumed
}

func stopsRun(word string) bool {
	return strings.HasSuffix(word, ".") || strings.HasSuffix(word, ",")
}

func trailingPunct(word string) string {
	if stopsRun(word) {
		return word[len(word)-1:]
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
