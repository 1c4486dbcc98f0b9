package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/wificontrol/wificontrol-pro/internal/domain"
	"google.golang.org/genai"
)

const maxRetries = 3

// Model generates a JSON text completion for a prompt
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiClient calls Gemini generateContent through the genai SDK
type GeminiClient struct {
	client    *genai.Client
	clientErr error
	model     string
	backoff   func(attempt int) time.Duration
}

// GeminiConfig configures a GeminiClient
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string        // optional, for tests and proxies
	Timeout time.Duration // per HTTP attempt
}

// NewGeminiClient creates a Gemini client. A missing API key is reported by Generate.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &GeminiClient{model: cfg.Model, backoff: jitterBackoff}
	if cfg.APIKey == "" {
		c.clientErr = errors.New("GEMINI_API_KEY is not set")
		return c
	}
	c.client, c.clientErr = genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    cfg.BaseURL,
			APIVersion: "v1beta",
		},
	})
	return c
}

// jitterBackoff waits attempt² seconds plus up to half of that again
func jitterBackoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * time.Second
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}

// Generate sends prompt and returns the concatenated text of the first candidate.
// Transport errors, 5xx and rate limiting are retried with backoff. Exhausted quota
// is not. Every failure is an *domain.InterpretationError.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.clientErr != nil {
		return "", &domain.InterpretationError{Kind: domain.InterpretationAuth, Err: c.clientErr}
	}

	var lastErr *domain.InterpretationError
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt)
			log.Printf("[Interpreter] Retrying Gemini call (attempt %d) in %v: %v", attempt+1, wait, lastErr)
			select {
			case <-ctx.Done():
				return "", &domain.InterpretationError{Kind: domain.InterpretationNetwork, Err: ctx.Err()}
			case <-time.After(wait):
			}
		}

		text, ierr := c.do(ctx, prompt)
		if ierr == nil {
			return text, nil
		}
		lastErr = ierr
		if !ierr.Retryable() || ctx.Err() != nil {
			return "", ierr
		}
	}
	return "", lastErr
}

func (c *GeminiClient) do(ctx context.Context, prompt string) (string, *domain.InterpretationError) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", classifyStatus(apiErr.Code, apiErr.Status, apiErr.Message)
		}
		return "", &domain.InterpretationError{Kind: domain.InterpretationNetwork, Err: fmt.Errorf("gemini request failed: %w", err)}
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", &domain.InterpretationError{Kind: domain.InterpretationMalformed, Err: fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &domain.InterpretationError{Kind: domain.InterpretationMalformed, Err: errors.New("gemini returned no candidates")}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// classifyStatus maps a Gemini API error to an interpretation error kind.
// A 429 naming the quota is exhausted quota; any other 429 is rate limiting and
// classified with transient failures. Gemini reports invalid API keys as
// 400 INVALID_ARGUMENT, so other 4xx are permanent too.
func classifyStatus(code int, status, message string) *domain.InterpretationError {
	err := fmt.Errorf("gemini API returned %d: %s", code, truncate(strings.TrimSpace(status+": "+message), 300))

	switch {
	case code == http.StatusTooManyRequests && strings.Contains(strings.ToLower(message), "quota"):
		return &domain.InterpretationError{Kind: domain.InterpretationQuota, Err: err}
	case code == http.StatusTooManyRequests:
		return &domain.InterpretationError{Kind: domain.InterpretationNetwork, Err: err}
	case code >= 500:
		return &domain.InterpretationError{Kind: domain.InterpretationNetwork, Err: err}
	default:
		return &domain.InterpretationError{Kind: domain.InterpretationAuth, Err: err}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
