package config

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.OpenAI.APIKeyEnv) == "" {
		return nil, fmt.Errorf("openai.api_key_env must not be empty")
	}
	if strings.TrimSpace(cfg.OpenAI.TranscribeModel) == "" {
		return nil, fmt.Errorf("openai.transcribe_model must not be empty")
	}
	if strings.TrimSpace(cfg.OpenAI.ChatModel) == "" {
		return nil, fmt.Errorf("openai.chat_model must not be empty")
	}
	if strings.TrimSpace(cfg.OpenAI.TTSModel) == "" || strings.TrimSpace(cfg.OpenAI.TTSVoice) == "" {
		return nil, fmt.Errorf("openai.tts_model and openai.tts_voice must not be empty")
	}
	if cfg.OpenAI.TimeoutSeconds <= 0 {
		return nil, fmt.Errorf("openai.timeout_seconds must be > 0")
	}
	if cfg.Audio.FrameSamples < 256 || cfg.Audio.FrameSamples > 16384 {
		return nil, fmt.Errorf("audio.frame_samples must be between 256 and 16384")
	}

	if cfg.VAD.SpeechThreshold < 0.5 || cfg.VAD.SpeechThreshold > 30 {
		return nil, fmt.Errorf("vad.speech_threshold must be between 0.5 and 30")
	}
	if cfg.VAD.MaxRecordingSeconds < 5 || cfg.VAD.MaxRecordingSeconds > 30 {
		return nil, fmt.Errorf("vad.max_recording_seconds must be between 5 and 30")
	}
	if cfg.VAD.StopSensitivity < 1 || cfg.VAD.StopSensitivity > 10 {
		return nil, fmt.Errorf("vad.stop_sensitivity must be between 1 and 10")
	}
	if cfg.VAD.PeakVolumeThreshold <= 0 || cfg.VAD.PeakVolumeThreshold > 100 {
		return nil, fmt.Errorf("vad.peak_volume_threshold must be in (0, 100]")
	}
	if cfg.VAD.LowVolumeStopThreshold <= 0 || cfg.VAD.LowVolumeStopThreshold > 100 {
		return nil, fmt.Errorf("vad.low_volume_stop_threshold must be in (0, 100]")
	}
	if cfg.VAD.MaxSilenceMS <= 0 {
		return nil, fmt.Errorf("vad.max_silence_ms must be > 0")
	}
	if cfg.VAD.MinRecordingMS < 0 || cfg.VAD.MinRecordingMS >= cfg.VAD.MaxRecordingSeconds*1000 {
		return nil, fmt.Errorf("vad.min_recording_ms must be >= 0 and below max_recording_seconds")
	}
	if cfg.VAD.LowFramesPerSensitivity <= 0 {
		return nil, fmt.Errorf("vad.low_frames_per_sensitivity must be > 0")
	}
	if cfg.VAD.HistoryLength <= 0 {
		return nil, fmt.Errorf("vad.history_length must be > 0")
	}
	if cfg.VAD.MinClipBytes < 0 {
		return nil, fmt.Errorf("vad.min_clip_bytes must be >= 0")
	}
	if cfg.VAD.StopAttempts <= 0 {
		return nil, fmt.Errorf("vad.stop_attempts must be > 0")
	}
	if cfg.VAD.StopConfirmDelayMS <= 0 {
		return nil, fmt.Errorf("vad.stop_confirm_delay_ms must be > 0")
	}

	if cfg.Assistant.QueueSize <= 0 {
		return nil, fmt.Errorf("assistant.queue_size must be > 0")
	}
	if err := validateAddr("server.http_addr", cfg.Server.HTTPAddr); err != nil {
		return nil, err
	}
	if err := validateAddr("server.grpc_addr", cfg.Server.GRPCAddr); err != nil {
		return nil, err
	}
	if cfg.Events.NATSURL != "" && strings.TrimSpace(cfg.Events.SubjectPrefix) == "" {
		return nil, fmt.Errorf("events.subject_prefix must not be empty when events.nats_url is set")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend != "desktop" && backend != "none" {
		return nil, fmt.Errorf("indicator.backend must be one of: desktop, none")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	locale := strings.ToLower(strings.TrimSpace(cfg.Indicator.Locale))
	if locale != "en" && locale != "ml" {
		return nil, fmt.Errorf("indicator.locale must be one of: en, ml")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	if cfg.Vocab.MaxPhrases <= 0 {
		return nil, fmt.Errorf("vocab.max_phrases must be > 0")
	}

	if cfg.APIKey() == "" {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("environment variable %s is not set; transcription and replies will fail", cfg.OpenAI.APIKeyEnv)})
	}
	if cfg.Debug.EnableAudioDump && strings.TrimSpace(cfg.Debug.DumpDir) == "" {
		warnings = append(warnings, Warning{Message: "debug.enable_audio_dump set without debug.dump_dir; using state dir"})
	}

	_, vocabWarnings, err := BuildSpeechPhrases(cfg)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, vocabWarnings...)

	return warnings, nil
}

func validateAddr(key, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s must be host:port: %w", key, err)
	}
	return nil
}

// BuildSpeechPhrases merges enabled vocab sets into a deterministic phrase list,
// highest boost first.
func BuildSpeechPhrases(cfg Config) ([]SpeechPhrase, []Warning, error) {
	enabledSets := cfg.Vocab.GlobalSets
	if len(enabledSets) == 0 {
		return nil, nil, nil
	}

	type candidate struct {
		boost float64
		from  string
	}

	warnings := make([]Warning, 0)
	selected := make(map[string]candidate)

	for _, name := range enabledSets {
		set, ok := cfg.Vocab.Sets[name]
		if !ok {
			return nil, nil, fmt.Errorf("vocab.global references unknown set %q", name)
		}
		for _, phrase := range set.Phrases {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			if existing, exists := selected[phrase]; exists {
				if set.Boost > existing.boost {
					warnings = append(warnings, Warning{Message: fmt.Sprintf("phrase %q present in %q and %q; using higher boost %.2f", phrase, existing.from, name, set.Boost)})
					selected[phrase] = candidate{boost: set.Boost, from: name}
				}
				continue
			}
			selected[phrase] = candidate{boost: set.Boost, from: name}
		}
	}

	if len(selected) > cfg.Vocab.MaxPhrases {
		return nil, nil, fmt.Errorf("vocabulary phrase count %d exceeds vocab.max_phrases=%d", len(selected), cfg.Vocab.MaxPhrases)
	}

	phrases := make([]SpeechPhrase, 0, len(selected))
	for phrase, c := range selected {
		phrases = append(phrases, SpeechPhrase{Phrase: phrase, Boost: float32(c.boost)})
	}

	sort.Slice(phrases, func(i, j int) bool {
		if phrases[i].Boost != phrases[j].Boost {
			return phrases[i].Boost > phrases[j].Boost
		}
		return phrases[i].Phrase < phrases[j].Phrase
	})

	return phrases, warnings, nil
}

// PromptPhrases returns the enabled vocabulary as plain strings, or nil when
// the vocabulary is invalid.
func (c Config) PromptPhrases() []string {
	phrases, _, err := BuildSpeechPhrases(c)
	if err != nil || len(phrases) == 0 {
		return nil
	}
	out := make([]string, len(phrases))
	for i, p := range phrases {
		out[i] = p.Phrase
	}
	return out
}
