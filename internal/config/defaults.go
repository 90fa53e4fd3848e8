package config

// DefaultSystemPrompt seeds every conversation.
const DefaultSystemPrompt = "You are a helpful assistant. Provide concise and natural-sounding responses suitable for voice conversation."

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		OpenAI: OpenAIConfig{
			APIKeyEnv:       "OPENAI_API_KEY",
			TranscribeModel: "whisper-1",
			Language:        "en",
			ChatModel:       "gpt-4o-mini",
			SystemPrompt:    DefaultSystemPrompt,
			TTSModel:        "tts-1",
			TTSVoice:        "alloy",
			TimeoutSeconds:  30,
		},
		Audio: AudioConfig{
			Input:        "default",
			Fallback:     "default",
			FrameSamples: 4096,
		},
		VAD: VADConfig{
			SpeechThreshold:     2,
			MaxRecordingSeconds: 10,
			StopSensitivity:     3,

			PeakVolumeThreshold:     95,
			LowVolumeStopThreshold:  50,
			MaxSilenceMS:            800,
			MinRecordingMS:          1000,
			LowFramesPerSensitivity: 5,
			HistoryLength:           50,
			MinClipBytes:            100,
			StopAttempts:            3,
			StopConfirmDelayMS:      100,
		},
		Assistant: AssistantConfig{
			Enable:    true,
			Speak:     true,
			FormFill:  true,
			QueueSize: 8,
		},
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:8080",
			GRPCAddr: "127.0.0.1:50061",
		},
		Events: EventsConfig{SubjectPrefix: "voiceassist"},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "desktop",
			DesktopAppName: "voiceassist",
			Locale:         "en",
			SoundEnable:    true,
			ErrorTimeoutMS: 1600,
		},
		Vocab: VocabConfig{
			Sets:       map[string]VocabSet{},
			MaxPhrases: 64,
		},
		Log: LogConfig{Level: "info"},
	}
}
