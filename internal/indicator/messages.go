package indicator

import "strings"

// Messages are the user-facing strings for each controller state.
type Messages struct {
	Listening          string
	Recording          string
	Processing         string
	Error              string
	MicrophoneDenied   string
	MicrophoneMissing  string
	TranscriptionError string
}

// MessagesFor returns the strings for locale ("en" or "ml"). Unknown locales
// fall back to English.
func MessagesFor(locale string) Messages {
	switch strings.ToLower(strings.TrimSpace(locale)) {
	case "ml":
		return Messages{
			Listening:          "ശ്രദ്ധിക്കുന്നു… തയ്യാറാകുമ്പോൾ സംസാരിക്കുക.",
			Recording:          "നിങ്ങളുടെ സന്ദേശം റെക്കോർഡ് ചെയ്യുന്നു…",
			Processing:         "നിങ്ങളുടെ സന്ദേശം പ്രോസസ്സ് ചെയ്യുന്നു…",
			Error:              "ശബ്ദം തിരിച്ചറിയുന്നതിൽ പിശക്",
			MicrophoneDenied:   "മൈക്രോഫോൺ അനുമതി നിഷേധിച്ചു",
			MicrophoneMissing:  "മൈക്രോഫോൺ ലഭ്യമല്ല",
			TranscriptionError: "സന്ദേശം മനസ്സിലാക്കാനായില്ല. വീണ്ടും ശ്രമിക്കുക.",
		}
	default:
		return Messages{
			Listening:          "Listening… speak whenever you're ready.",
			Recording:          "Recording your message…",
			Processing:         "Processing your message…",
			Error:              "Speech recognition error",
			MicrophoneDenied:   "Microphone permission denied",
			MicrophoneMissing:  "Microphone unavailable",
			TranscriptionError: "Could not understand that. Please try again.",
		}
	}
}
