// Package config resolves, parses, validates, and defaults voiceassist configuration.
package config

// Config is the fully materialized runtime configuration.
type Config struct {
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Assistant AssistantConfig `yaml:"assistant"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Events    EventsConfig    `yaml:"events"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Vocab     VocabConfig     `yaml:"vocab"`
	Log       LogConfig       `yaml:"log"`
	Debug     DebugConfig     `yaml:"debug"`
}

// OpenAIConfig selects models and credentials for the hosted AI APIs.
type OpenAIConfig struct {
	APIKeyEnv       string `yaml:"api_key_env"`
	BaseURL         string `yaml:"base_url"`
	TranscribeModel string `yaml:"transcribe_model"`
	Language        string `yaml:"language"`
	ChatModel       string `yaml:"chat_model"`
	SystemPrompt    string `yaml:"system_prompt"`
	TTSModel        string `yaml:"tts_model"`
	TTSVoice        string `yaml:"tts_voice"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input        string `yaml:"input"`
	Fallback     string `yaml:"fallback"`
	FrameSamples int    `yaml:"frame_samples"`
}

// VADConfig holds the operator tunables for speech detection.
type VADConfig struct {
	SpeechThreshold     float64 `yaml:"speech_threshold"`
	MaxRecordingSeconds int     `yaml:"max_recording_seconds"`
	StopSensitivity     int     `yaml:"stop_sensitivity"`

	// Fixed detection constants. Only the three fields above change at runtime.
	PeakVolumeThreshold     float64 `yaml:"peak_volume_threshold"`
	LowVolumeStopThreshold  float64 `yaml:"low_volume_stop_threshold"`
	MaxSilenceMS            int     `yaml:"max_silence_ms"`
	MinRecordingMS          int     `yaml:"min_recording_ms"`
	LowFramesPerSensitivity int     `yaml:"low_frames_per_sensitivity"`
	HistoryLength           int     `yaml:"history_length"`
	MinClipBytes            int     `yaml:"min_clip_bytes"`
	StopAttempts            int     `yaml:"stop_attempts"`
	StopConfirmDelayMS      int     `yaml:"stop_confirm_delay_ms"`
}

// AssistantConfig controls what happens to finished transcripts.
type AssistantConfig struct {
	Enable    bool `yaml:"enable"`
	Speak     bool `yaml:"speak"`
	FormFill  bool `yaml:"form_fill"`
	QueueSize int  `yaml:"queue_size"`
}

// ServerConfig controls the HTTP/websocket and gRPC listeners.
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	GRPCAddr       string   `yaml:"grpc_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig locates the SQLite database. Empty Path uses the state dir.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// EventsConfig enables NATS fan-out when NATSURL is set.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// IndicatorConfig controls desktop notifications and audio cues.
type IndicatorConfig struct {
	Enable         bool   `yaml:"enable"`
	Backend        string `yaml:"backend"`
	DesktopAppName string `yaml:"desktop_app_name"`
	Locale         string `yaml:"locale"`
	SoundEnable    bool   `yaml:"sound_enable"`
	ErrorTimeoutMS int    `yaml:"error_timeout_ms"`
}

// VocabConfig controls enabled prompt phrase sets and dedupe limits.
type VocabConfig struct {
	GlobalSets []string            `yaml:"global"`
	Sets       map[string]VocabSet `yaml:"sets"`
	MaxPhrases int                 `yaml:"max_phrases"`
}

// VocabSet is one named phrase group. Higher boost sorts earlier in the
// transcription prompt.
type VocabSet struct {
	Boost   float64  `yaml:"boost"`
	Phrases []string `yaml:"phrases"`
}

// LogConfig controls log verbosity.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool   `yaml:"enable_audio_dump"`
	DumpDir         string `yaml:"dump_dir"`
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// SpeechPhrase is one normalized vocabulary phrase.
type SpeechPhrase struct {
	Phrase string
	Boost  float32
}
