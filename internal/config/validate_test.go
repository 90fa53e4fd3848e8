package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSpeechPhrasesSortedAndHighestBoostWins(t *testing.T) {
	cfg := Default()
	cfg.Vocab.GlobalSets = []string{"core", "kerala"}
	cfg.Vocab.Sets["core"] = VocabSet{Boost: 10, Phrases: []string{"beta", "alpha"}}
	cfg.Vocab.Sets["kerala"] = VocabSet{Boost: 20, Phrases: []string{"alpha", "gamma"}}

	phrases, warnings, err := BuildSpeechPhrases(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Equal(t, []SpeechPhrase{
		{Phrase: "alpha", Boost: 20},
		{Phrase: "gamma", Boost: 20},
		{Phrase: "beta", Boost: 10},
	}, phrases)
}

func TestBuildSpeechPhrasesLimits(t *testing.T) {
	cfg := Default()
	cfg.Vocab.GlobalSets = []string{"missing"}
	_, _, err := BuildSpeechPhrases(cfg)
	require.ErrorContains(t, err, "unknown set")

	cfg.Vocab.GlobalSets = []string{"big"}
	cfg.Vocab.MaxPhrases = 1
	cfg.Vocab.Sets["big"] = VocabSet{Phrases: []string{"a", "b"}}
	_, _, err = BuildSpeechPhrases(cfg)
	require.ErrorContains(t, err, "vocab.max_phrases")
	require.Nil(t, cfg.PromptPhrases())
}

func TestValidateRejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty api key env", mutate: func(c *Config) { c.OpenAI.APIKeyEnv = "" }, wantErr: "api_key_env"},
		{name: "empty transcribe model", mutate: func(c *Config) { c.OpenAI.TranscribeModel = " " }, wantErr: "transcribe_model"},
		{name: "zero timeout", mutate: func(c *Config) { c.OpenAI.TimeoutSeconds = 0 }, wantErr: "timeout_seconds"},
		{name: "tiny frames", mutate: func(c *Config) { c.Audio.FrameSamples = 64 }, wantErr: "frame_samples"},
		{name: "threshold too low", mutate: func(c *Config) { c.VAD.SpeechThreshold = 0.1 }, wantErr: "vad.speech_threshold"},
		{name: "max recording too long", mutate: func(c *Config) { c.VAD.MaxRecordingSeconds = 60 }, wantErr: "vad.max_recording_seconds"},
		{name: "sensitivity zero", mutate: func(c *Config) { c.VAD.StopSensitivity = 0 }, wantErr: "vad.stop_sensitivity"},
		{name: "peak above range", mutate: func(c *Config) { c.VAD.PeakVolumeThreshold = 101 }, wantErr: "vad.peak_volume_threshold"},
		{name: "low volume zero", mutate: func(c *Config) { c.VAD.LowVolumeStopThreshold = 0 }, wantErr: "vad.low_volume_stop_threshold"},
		{name: "no silence window", mutate: func(c *Config) { c.VAD.MaxSilenceMS = 0 }, wantErr: "vad.max_silence_ms"},
		{name: "min recording past max", mutate: func(c *Config) { c.VAD.MinRecordingMS = 10000 }, wantErr: "vad.min_recording_ms"},
		{name: "no low frames", mutate: func(c *Config) { c.VAD.LowFramesPerSensitivity = 0 }, wantErr: "vad.low_frames_per_sensitivity"},
		{name: "no history", mutate: func(c *Config) { c.VAD.HistoryLength = 0 }, wantErr: "vad.history_length"},
		{name: "no stop attempts", mutate: func(c *Config) { c.VAD.StopAttempts = 0 }, wantErr: "vad.stop_attempts"},
		{name: "no stop confirm delay", mutate: func(c *Config) { c.VAD.StopConfirmDelayMS = 0 }, wantErr: "vad.stop_confirm_delay_ms"},
		{name: "queue size", mutate: func(c *Config) { c.Assistant.QueueSize = 0 }, wantErr: "queue_size"},
		{name: "bad http addr", mutate: func(c *Config) { c.Server.HTTPAddr = "localhost" }, wantErr: "server.http_addr"},
		{name: "nats without prefix", mutate: func(c *Config) {
			c.Events.NATSURL = "nats://localhost:4222"
			c.Events.SubjectPrefix = ""
		}, wantErr: "subject_prefix"},
		{name: "unknown backend", mutate: func(c *Config) { c.Indicator.Backend = "hypr" }, wantErr: "indicator.backend"},
		{name: "unknown locale", mutate: func(c *Config) { c.Indicator.Locale = "ta" }, wantErr: "indicator.locale"},
		{name: "negative error timeout", mutate: func(c *Config) { c.Indicator.ErrorTimeoutMS = -1 }, wantErr: "error_timeout"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "log.level"},
		{name: "invalid max phrases", mutate: func(c *Config) { c.Vocab.MaxPhrases = 0 }, wantErr: "vocab.max_phrases"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)

			_, err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateAllowsEmptyListenAddresses(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg := Default()
	cfg.Server.HTTPAddr = ""
	cfg.Server.GRPCAddr = ""
	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Empty(t, warnings)
}
