package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/kmalloy/sessionscribe/internal/config"
	"github.com/kmalloy/sessionscribe/internal/retry"
)

// GeminiGenerator implements Generator on the Gemini API, rotating through
// the configured API keys when one hits its quota.
type GeminiGenerator struct {
	mu         sync.Mutex
	apiKeys    []string
	currentKey int
	model      string
}

// NewGemini creates a generator from configuration.
func NewGemini(cfg config.GeminiConfig) (*GeminiGenerator, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("no gemini api keys configured")
	}
	return &GeminiGenerator{
		apiKeys: cfg.APIKeys,
		model:   cfg.Model,
	}, nil
}

// Generate produces text for the prompt. Quota errors rotate to the next key
// before surfacing as retryable, so the retry layer's backoff lands on a
// fresh key.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	g.mu.Lock()
	key := g.apiKeys[g.currentKey]
	g.mu.Unlock()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}

	result, err := client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		if isQuotaError(err) {
			g.rotateKey()
			return "", retry.Retryable(fmt.Errorf("quota exhausted, rotated key: %w", err))
		}
		return "", fmt.Errorf("generate content: %w", err)
	}

	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", retry.Retryable(fmt.Errorf("empty response"))
	}

	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

func (g *GeminiGenerator) rotateKey() {
	g.mu.Lock()
	g.currentKey = (g.currentKey + 1) % len(g.apiKeys)
	g.mu.Unlock()
}

func isQuotaError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED")
}
