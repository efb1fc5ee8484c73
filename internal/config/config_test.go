package config

import (
	"os"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "empty config gets defaults",
			config:  Config{},
			wantErr: false,
		},
		{
			name: "overlap larger than audio chunk",
			config: Config{
				Chunking: ChunkingConfig{
					Audio: AudioChunkConfig{MaxSeconds: 10, OverlapSeconds: 10},
				},
			},
			wantErr: true,
		},
		{
			name: "overlap larger than text window",
			config: Config{
				Chunking: ChunkingConfig{
					Text: TextChunkConfig{MaxTokens: 100, OverlapTokens: 100},
				},
			},
			wantErr: true,
		},
		{
			name: "invalid detail level",
			config: Config{
				Summary: SummaryConfig{Detail: "verbose"},
			},
			wantErr: true,
		},
		{
			name: "similarity threshold out of range",
			config: Config{
				Diarization: DiarizationConfig{SimilarityThreshold: 1.5},
			},
			wantErr: true,
		},
		{
			name: "negative max attempts",
			config: Config{
				Retry: RetryConfig{MaxAttempts: -1},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay.Std() != 2*time.Second {
		t.Errorf("BaseDelay = %v, want 2s", cfg.Retry.BaseDelay.Std())
	}
	if cfg.Chunking.Audio.MaxSeconds != 600 {
		t.Errorf("Audio.MaxSeconds = %v, want 600", cfg.Chunking.Audio.MaxSeconds)
	}
	if cfg.Chunking.Text.OverlapTokens != 200 {
		t.Errorf("Text.OverlapTokens = %d, want 200", cfg.Chunking.Text.OverlapTokens)
	}
	if cfg.Summary.Detail != "standard" {
		t.Errorf("Summary.Detail = %q, want standard", cfg.Summary.Detail)
	}
	if cfg.Summary.ContextBudgetTokens != cfg.Chunking.Text.MaxTokens {
		t.Errorf("ContextBudgetTokens = %d, want %d", cfg.Summary.ContextBudgetTokens, cfg.Chunking.Text.MaxTokens)
	}
	if cfg.Diarization.SimilarityThreshold != 0.8 {
		t.Errorf("SimilarityThreshold = %v, want 0.8", cfg.Diarization.SimilarityThreshold)
	}
	if cfg.Performance.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want 2", cfg.Performance.MaxConcurrent)
	}
}

func TestLoad(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())

	content := `
provider:
  transcription: openai
  generation: gemini
  openai:
    api_key: ${SESSIONSCRIBE_TEST_KEY}
retry:
  max_attempts: 3
  base_delay: 100ms
chunking:
  audio:
    max_seconds: 300
    overlap_seconds: 2
summary:
  detail: detailed
`
	if _, err := tmpfile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpfile.Close()

	t.Setenv("SESSIONSCRIBE_TEST_KEY", "sk-test")

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay.Std() != 100*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 100ms", cfg.Retry.BaseDelay.Std())
	}
	if cfg.Chunking.Audio.MaxSeconds != 300 {
		t.Errorf("Audio.MaxSeconds = %v, want 300", cfg.Chunking.Audio.MaxSeconds)
	}
	if cfg.Summary.Detail != "detailed" {
		t.Errorf("Detail = %q, want detailed", cfg.Summary.Detail)
	}
	if cfg.Provider.OpenAI.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want expanded env value", cfg.Provider.OpenAI.APIKey)
	}
	if cfg.Provider.Generation != "gemini" {
		t.Errorf("Generation = %q, want gemini", cfg.Provider.Generation)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
}
