package formfill

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Certificates are the certificate types the portal issues.
var Certificates = []string{
	"Caste Certificate",
	"Income Certificate",
	"Domicile Certificate",
	"Birth Certificate",
	"Death Certificate",
	"Marriage Certificate",
}

var certificateAliases = map[string]string{
	"community": "Caste Certificate",
	"nativity":  "Domicile Certificate",
	"residence": "Domicile Certificate",
	"wedding":   "Marriage Certificate",
}

const (
	phoneticThreshold = 0.80
	fuzzyThreshold    = 0.88
)

var ordinal = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)

var dobLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2 2006",
	"Jan 2 2006",
}

// Normalize returns the canonical form of value for f or an ErrInvalidValue.
func Normalize(f Field, value string) (string, error) {
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return "", invalid(f, "empty value")
	}
	switch f {
	case FullName:
		return normalizeName(value)
	case DateOfBirth:
		return normalizeDOB(value)
	case Gender:
		return normalizeGender(value)
	case Email:
		return normalizeEmail(value)
	case Phone:
		return normalizePhone(value)
	case Address:
		if len([]rune(value)) < 5 {
			return "", invalid(f, "address too short")
		}
		return value, nil
	case Pincode:
		return normalizeDigits(f, value, 6, "0")
	case AadhaarNumber:
		return normalizeDigits(f, value, 12, "01")
	case CertificateType:
		return MatchCertificate(value)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
}

func invalid(f Field, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidValue, f, reason)
}

func normalizeName(value string) (string, error) {
	words := strings.Fields(value)
	for i, w := range words {
		for _, r := range w {
			if unicode.IsDigit(r) {
				return "", invalid(FullName, "name contains digits")
			}
		}
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " "), nil
}

func normalizeDOB(value string) (string, error) {
	cleaned := ordinal.ReplaceAllString(strings.ReplaceAll(value, ",", ""), "$1")
	for _, layout := range dobLayouts {
		t, err := time.Parse(layout, cleaned)
		if err != nil {
			continue
		}
		if t.Year() < 1900 || t.After(now()) {
			return "", invalid(DateOfBirth, "date out of range")
		}
		return t.Format("2006-01-02"), nil
	}
	return "", invalid(DateOfBirth, fmt.Sprintf("unrecognised date %q", value))
}

func normalizeGender(value string) (string, error) {
	switch strings.ToLower(value) {
	case "m", "male", "man", "boy":
		return "male", nil
	case "f", "female", "woman", "girl":
		return "female", nil
	case "other", "transgender", "non-binary", "nonbinary":
		return "other", nil
	default:
		return "", invalid(Gender, fmt.Sprintf("unrecognised gender %q", value))
	}
}

func normalizeEmail(value string) (string, error) {
	value = strings.ToLower(strings.ReplaceAll(value, " at ", "@"))
	value = strings.ReplaceAll(value, " dot ", ".")
	value = strings.ReplaceAll(value, " ", "")
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return "", invalid(Email, fmt.Sprintf("malformed address %q", value))
	}
	at := strings.LastIndexByte(value, '@')
	if !strings.Contains(value[at+1:], ".") {
		return "", invalid(Email, "domain has no dot")
	}
	return value, nil
}

func normalizePhone(value string) (string, error) {
	digits := onlyDigits(value)
	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "91"):
		digits = digits[2:]
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return "", invalid(Phone, "phone numbers have 10 digits")
	}
	if !strings.ContainsRune("6789", rune(digits[0])) {
		return "", invalid(Phone, "mobile numbers start with 6-9")
	}
	return digits, nil
}

func normalizeDigits(f Field, value string, want int, badLead string) (string, error) {
	for _, r := range value {
		if !unicode.IsDigit(r) && r != ' ' && r != '-' {
			return "", invalid(f, "only digits allowed")
		}
	}
	digits := onlyDigits(value)
	if len(digits) != want {
		return "", invalid(f, fmt.Sprintf("expected %d digits, got %d", want, len(digits)))
	}
	if strings.ContainsRune(badLead, rune(digits[0])) {
		return "", invalid(f, fmt.Sprintf("cannot start with %c", digits[0]))
	}
	return digits, nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MatchCertificate resolves a spoken certificate name to one of
// Certificates. Exact keywords and aliases win, then phonetic matches, then
// plain Jaro-Winkler similarity.
func MatchCertificate(value string) (string, error) {
	tokens := strings.Fields(strings.ToLower(value))
	kept := tokens[:0]
	for _, t := range tokens {
		t = strings.Trim(t, ".,!?")
		if t == "" || t == "certificate" || t == "certificates" || t == "a" || t == "an" || t == "the" {
			continue
		}
		kept = append(kept, t)
	}
	if len(kept) == 0 {
		return "", invalid(CertificateType, "no certificate named")
	}

	for _, t := range kept {
		if c, ok := certificateAliases[t]; ok {
			return c, nil
		}
		for _, c := range Certificates {
			if t == keyword(c) {
				return c, nil
			}
		}
	}

	best, bestScore, bestPhonetic := "", 0.0, false
	for _, c := range Certificates {
		kw := keyword(c)
		kp, ks := matchr.DoubleMetaphone(kw)
		for _, t := range kept {
			score := matchr.JaroWinkler(t, kw, false)
			tp, ts := matchr.DoubleMetaphone(t)
			phonetic := tp != "" && (tp == kp || tp == ks || (ts != "" && (ts == kp || ts == ks)))
			switch {
			case phonetic && score >= phoneticThreshold:
				if !bestPhonetic || score > bestScore {
					best, bestScore, bestPhonetic = c, score, true
				}
			case !bestPhonetic && score >= fuzzyThreshold && score > bestScore:
				best, bestScore = c, score
			}
		}
	}
	if best == "" {
		return "", invalid(CertificateType, fmt.Sprintf("unknown certificate %q", value))
	}
	return best, nil
}

func keyword(certificate string) string {
	return strings.ToLower(strings.Fields(certificate)[0])
}
