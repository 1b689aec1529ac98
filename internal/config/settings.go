// Package config loads server settings from the environment. Every
// knob has a default; a value that cannot make a working server is a
// load error and the process exits with code 2.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type QueueConfig struct {
	MaxSeconds float64
}

type ChunkConfig struct {
	MinSeconds float64
	MaxSeconds float64
}

type ProviderConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

type AnalyzerConfig struct {
	Provider            string
	EntitiesIntervalS   float64
	CardsIntervalS      float64
	TimeoutS            float64
	EntitiesMinNewChars int
	OpenAI              ProviderConfig
	Ollama              ProviderConfig
}

type VADConfig struct {
	Threshold    float64
	MinSpeechMS  int
	MinSilenceMS int
	ServiceURL   string
}

type STTConfig struct {
	ServiceURL string
	Language   string
}

type Settings struct {
	Addr     string
	Debug    bool
	Queue    QueueConfig
	Chunk    ChunkConfig
	Analyzer AnalyzerConfig
	VAD      VADConfig
	STT      STTConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("DEBUG", false)

	v.SetDefault("QUEUE_MAX_SECONDS", 8.0)
	v.SetDefault("CHUNK_MIN_SECONDS", 2.0)
	v.SetDefault("CHUNK_MAX_SECONDS", 5.0)

	v.SetDefault("ENTITIES_INTERVAL_S", 15.0)
	v.SetDefault("CARDS_INTERVAL_S", 30.0)
	v.SetDefault("ANALYZER_TIMEOUT_S", 10.0)
	v.SetDefault("ENTITIES_MIN_NEW_CHARS", 500)

	v.SetDefault("LLM_PROVIDER", "none")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_MODEL", "")
	v.SetDefault("OPENAI_BASE_URL", "")
	v.SetDefault("OPENAI_TEMPERATURE", 0.2)
	v.SetDefault("OPENAI_MAX_TOKENS", 1024)
	v.SetDefault("OLLAMA_BASE_URL", "http://localhost:11434")
	v.SetDefault("OLLAMA_MODEL", "")
	v.SetDefault("OLLAMA_TEMPERATURE", 0.2)
	v.SetDefault("OLLAMA_MAX_TOKENS", 1024)

	v.SetDefault("VAD_THRESHOLD", 0.5)
	v.SetDefault("VAD_MIN_SPEECH_MS", 250)
	v.SetDefault("VAD_MIN_SILENCE_MS", 100)
	v.SetDefault("VAD_URL", "")

	v.SetDefault("WHISPER_URL", "http://localhost:9000")
	v.SetDefault("WHISPER_LANGUAGE", "")
}

// Load reads settings from the environment and validates them.
func Load() (*Settings, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	s := &Settings{
		Addr:  v.GetString("LISTEN_ADDR"),
		Debug: v.GetBool("DEBUG"),
		Queue: QueueConfig{
			MaxSeconds: v.GetFloat64("QUEUE_MAX_SECONDS"),
		},
		Chunk: ChunkConfig{
			MinSeconds: v.GetFloat64("CHUNK_MIN_SECONDS"),
			MaxSeconds: v.GetFloat64("CHUNK_MAX_SECONDS"),
		},
		Analyzer: AnalyzerConfig{
			Provider:            v.GetString("LLM_PROVIDER"),
			EntitiesIntervalS:   v.GetFloat64("ENTITIES_INTERVAL_S"),
			CardsIntervalS:      v.GetFloat64("CARDS_INTERVAL_S"),
			TimeoutS:            v.GetFloat64("ANALYZER_TIMEOUT_S"),
			EntitiesMinNewChars: v.GetInt("ENTITIES_MIN_NEW_CHARS"),
			OpenAI: ProviderConfig{
				APIKey:      v.GetString("OPENAI_API_KEY"),
				Model:       v.GetString("OPENAI_MODEL"),
				BaseURL:     v.GetString("OPENAI_BASE_URL"),
				Temperature: v.GetFloat64("OPENAI_TEMPERATURE"),
				MaxTokens:   v.GetInt("OPENAI_MAX_TOKENS"),
			},
			Ollama: ProviderConfig{
				Model:       v.GetString("OLLAMA_MODEL"),
				BaseURL:     v.GetString("OLLAMA_BASE_URL"),
				Temperature: v.GetFloat64("OLLAMA_TEMPERATURE"),
				MaxTokens:   v.GetInt("OLLAMA_MAX_TOKENS"),
			},
		},
		VAD: VADConfig{
			Threshold:    v.GetFloat64("VAD_THRESHOLD"),
			MinSpeechMS:  v.GetInt("VAD_MIN_SPEECH_MS"),
			MinSilenceMS: v.GetInt("VAD_MIN_SILENCE_MS"),
			ServiceURL:   v.GetString("VAD_URL"),
		},
		STT: STTConfig{
			ServiceURL: v.GetString("WHISPER_URL"),
			Language:   v.GetString("WHISPER_LANGUAGE"),
		},
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.Queue.MaxSeconds <= 0 {
		return fmt.Errorf("QUEUE_MAX_SECONDS must be positive, got %v", s.Queue.MaxSeconds)
	}
	if s.Chunk.MinSeconds <= 0 || s.Chunk.MaxSeconds < s.Chunk.MinSeconds {
		return fmt.Errorf("chunk bounds invalid: min=%v max=%v", s.Chunk.MinSeconds, s.Chunk.MaxSeconds)
	}
	switch s.Analyzer.Provider {
	case "none", "openai", "ollama":
	default:
		return fmt.Errorf("LLM_PROVIDER must be none, openai or ollama, got %q", s.Analyzer.Provider)
	}
	if s.Analyzer.Provider == "openai" && s.Analyzer.OpenAI.APIKey == "" {
		return fmt.Errorf("LLM_PROVIDER=openai requires OPENAI_API_KEY")
	}
	if s.Analyzer.TimeoutS <= 0 {
		return fmt.Errorf("ANALYZER_TIMEOUT_S must be positive, got %v", s.Analyzer.TimeoutS)
	}
	if s.VAD.Threshold < 0 || s.VAD.Threshold > 1 {
		return fmt.Errorf("VAD_THRESHOLD must be in [0,1], got %v", s.VAD.Threshold)
	}
	return nil
}
