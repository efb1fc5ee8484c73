package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable configuration value threaded into the pipeline at
// construction. Loaded once at startup, passed down.
type Config struct {
	Provider    ProviderConfig    `yaml:"provider"`
	Retry       RetryConfig       `yaml:"retry"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Summary     SummaryConfig     `yaml:"summary"`
	Diarization DiarizationConfig `yaml:"diarization"`
	Performance PerformanceConfig `yaml:"performance"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ProviderConfig struct {
	Transcription string       `yaml:"transcription"`
	Generation    string       `yaml:"generation"`
	OpenAI        OpenAIConfig `yaml:"openai"`
	Gemini        GeminiConfig `yaml:"gemini"`
}

type OpenAIConfig struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	TranscribeModel string `yaml:"transcribe_model"`
	ChatModel       string `yaml:"chat_model"`
}

type GeminiConfig struct {
	APIKeys []string `yaml:"api_keys"`
	Model   string   `yaml:"model"`
}

type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxJitter   Duration `yaml:"max_jitter"`
}

// Duration wraps time.Duration so yaml values like "2s" decode directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type ChunkingConfig struct {
	Audio AudioChunkConfig `yaml:"audio"`
	Text  TextChunkConfig  `yaml:"text"`
}

type AudioChunkConfig struct {
	MaxSeconds     float64 `yaml:"max_seconds"`
	OverlapSeconds float64 `yaml:"overlap_seconds"`
}

type TextChunkConfig struct {
	MaxTokens     int `yaml:"max_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
}

type SummaryConfig struct {
	Detail              string `yaml:"detail"`
	ContextBudgetTokens int    `yaml:"context_budget_tokens"`
	MaxOutputTokens     int    `yaml:"max_output_tokens"`
}

type DiarizationConfig struct {
	SimilarityThreshold float64  `yaml:"similarity_threshold"`
	SpeakerNames        []string `yaml:"speaker_names"`
}

type PerformanceConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a yaml config file, expands ${ENV_VAR} references in secret
// fields, validates and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns a usable configuration without a config file, with secrets
// taken from the environment.
func Default() *Config {
	cfg := &Config{}
	cfg.expandEnv()
	_ = cfg.Validate()
	return cfg
}

func (c *Config) expandEnv() {
	c.Provider.OpenAI.APIKey = os.Expand(c.Provider.OpenAI.APIKey, os.Getenv)
	if c.Provider.OpenAI.APIKey == "" {
		c.Provider.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	for i, k := range c.Provider.Gemini.APIKeys {
		c.Provider.Gemini.APIKeys[i] = os.Expand(k, os.Getenv)
	}
	if len(c.Provider.Gemini.APIKeys) == 0 {
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			c.Provider.Gemini.APIKeys = []string{k}
		}
	}
}

func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = Duration(2 * time.Second)
	}
	if c.Retry.MaxJitter < 0 {
		return fmt.Errorf("retry.max_jitter must not be negative")
	}
	if c.Retry.MaxJitter == 0 {
		c.Retry.MaxJitter = Duration(time.Second)
	}

	if c.Chunking.Audio.MaxSeconds <= 0 {
		c.Chunking.Audio.MaxSeconds = 600
	}
	if c.Chunking.Audio.OverlapSeconds < 0 {
		return fmt.Errorf("chunking.audio.overlap_seconds must not be negative")
	}
	if c.Chunking.Audio.OverlapSeconds == 0 {
		c.Chunking.Audio.OverlapSeconds = 5
	}
	if c.Chunking.Audio.OverlapSeconds >= c.Chunking.Audio.MaxSeconds {
		return fmt.Errorf("chunking.audio.overlap_seconds must be smaller than max_seconds")
	}

	if c.Chunking.Text.MaxTokens <= 0 {
		c.Chunking.Text.MaxTokens = 8000
	}
	if c.Chunking.Text.OverlapTokens < 0 {
		return fmt.Errorf("chunking.text.overlap_tokens must not be negative")
	}
	if c.Chunking.Text.OverlapTokens == 0 {
		c.Chunking.Text.OverlapTokens = 200
	}
	if c.Chunking.Text.OverlapTokens >= c.Chunking.Text.MaxTokens {
		return fmt.Errorf("chunking.text.overlap_tokens must be smaller than max_tokens")
	}

	switch c.Summary.Detail {
	case "":
		c.Summary.Detail = "standard"
	case "brief", "standard", "detailed":
	default:
		return fmt.Errorf("summary.detail must be one of brief, standard, detailed")
	}
	if c.Summary.ContextBudgetTokens <= 0 {
		c.Summary.ContextBudgetTokens = c.Chunking.Text.MaxTokens
	}
	if c.Summary.MaxOutputTokens <= 0 {
		c.Summary.MaxOutputTokens = 4096
	}

	if c.Diarization.SimilarityThreshold < 0 || c.Diarization.SimilarityThreshold > 1 {
		return fmt.Errorf("diarization.similarity_threshold must be in [0, 1]")
	}
	if c.Diarization.SimilarityThreshold == 0 {
		c.Diarization.SimilarityThreshold = 0.8
	}

	if c.Performance.MaxConcurrent <= 0 {
		c.Performance.MaxConcurrent = 2
	}

	if c.Provider.Transcription == "" {
		c.Provider.Transcription = "openai"
	}
	if c.Provider.Generation == "" {
		c.Provider.Generation = "openai"
	}
	if c.Provider.OpenAI.BaseURL == "" {
		c.Provider.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.Provider.OpenAI.TranscribeModel == "" {
		c.Provider.OpenAI.TranscribeModel = "gpt-4o-transcribe"
	}
	if c.Provider.OpenAI.ChatModel == "" {
		c.Provider.OpenAI.ChatModel = "gpt-4"
	}
	if c.Provider.Gemini.Model == "" {
		c.Provider.Gemini.Model = "gemini-2.5-flash"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	return nil
}
