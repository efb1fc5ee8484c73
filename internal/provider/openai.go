package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kmalloy/sessionscribe/internal/config"
	"github.com/kmalloy/sessionscribe/internal/retry"
)

// OpenAIClient implements Transcriber and Generator against an
// OpenAI-compatible HTTP API. Errors are classified for the retry layer: 429
// and 5xx responses and transport failures are retryable, other client
// errors propagate immediately.
type OpenAIClient struct {
	apiKey          string
	baseURL         string
	transcribeModel string
	chatModel       string
	httpClient      *http.Client
}

// NewOpenAI creates a client from configuration.
func NewOpenAI(cfg config.OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		apiKey:          cfg.APIKey,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		transcribeModel: cfg.TranscribeModel,
		chatModel:       cfg.ChatModel,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

type transcriptionResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads the audio file and returns timed segments. Requests the
// verbose response so segment timestamps survive into diarization.
func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath string) ([]Segment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	_ = w.WriteField("model", c.transcribeModel)
	_ = w.WriteField("response_format", "verbose_json")
	_ = w.WriteField("timestamp_granularities[]", "segment")
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var resp transcriptionResponse
	if err := c.doJSON(req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Segments) == 0 && resp.Text != "" {
		return []Segment{{Text: resp.Text, Start: -1, End: -1}}, nil
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{Text: text, Start: s.Start, End: s.End})
	}
	return segments, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate issues one chat completion for the prompt.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var resp chatResponse
	if err := c.doJSON(req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", retry.Retryable(fmt.Errorf("empty completion response"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) doJSON(req *http.Request, target interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return req.Context().Err()
		}
		return retry.Retryable(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.Retryable(fmt.Errorf("rate limited (429): %s", truncateBody(body)))
	case resp.StatusCode >= 500:
		return retry.Retryable(fmt.Errorf("server error (%d): %s", resp.StatusCode, truncateBody(body)))
	case resp.StatusCode >= 400:
		return fmt.Errorf("request rejected (%d): %s", resp.StatusCode, truncateBody(body))
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
