package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vampirenirmal/novelist/internal/config"
	nverrors "github.com/vampirenirmal/novelist/pkg/novelist/errors"
)

// OpenAI talks to the OpenAI chat completions API or any compatible
// endpoint reachable at a custom base URL.
type OpenAI struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

const (
	defaultOpenAIURL    = "https://api.openai.com/v1"
	defaultOpenAIKeyEnv = "OPENAI_API_KEY"
)

// Prices in USD per 1K tokens, keyed by model family.
var openAIPricing = map[string]struct{ input, output float64 }{
	"gpt-4":         {0.03, 0.06},
	"gpt-4-turbo":   {0.01, 0.03},
	"gpt-3.5-turbo": {0.0005, 0.0015},
}

func NewOpenAI(entry config.ProviderEntry, opts ...Option) (*OpenAI, error) {
	apiKey, err := resolveAPIKey(entry, defaultOpenAIKeyEnv, "openai")
	if err != nil {
		return nil, err
	}

	s := newClientSettings("openai_provider", entry.Timeout, opts...)

	baseURL := entry.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}

	c := &OpenAI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      entry.Model,
		apiKey:     apiKey,
		httpClient: s.httpClient,
		limiter:    s.limiter,
		logger:     s.logger,
	}

	c.logger.Debug("openai provider initialized",
		"base_url", c.baseURL,
		"model", c.model)

	return c, nil
}

// resolveAPIKey prefers the literal config value, then the named (or
// default) environment variable. A "${VAR}" placeholder that survived
// config loading is never a usable key, so it falls through to the env
// lookup. The key itself is never logged.
func resolveAPIKey(entry config.ProviderEntry, defaultEnv, providerName string) (string, error) {
	if entry.APIKey != "" && !strings.HasPrefix(entry.APIKey, "${") {
		return entry.APIKey, nil
	}

	envVar := entry.APIKeyEnv
	if envVar == "" {
		envVar = defaultEnv
	}

	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}

	return "", &nverrors.AuthError{Provider: providerName, EnvVar: envVar}
}

func (c *OpenAI) Type() string  { return "openai" }
func (c *OpenAI) Model() string { return c.model }

func (c *OpenAI) buildPayload(messages []Message, params Params, stream bool) map[string]any {
	payload := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": params.Temperature,
		"max_tokens":  params.MaxTokens,
		"top_p":       params.TopP,
		"stream":      stream,
	}
	if params.JSONMode {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}
	return payload
}

func (c *OpenAI) Generate(ctx context.Context, messages []Message, params Params) (string, error) {
	requestID := uuid.NewString()[:8]
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := json.Marshal(c.buildPayload(messages, params, false))
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("sending openai chat request",
		"request_id", requestID,
		"model", c.model,
		"message_count", len(messages))

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("openai request failed",
			"request_id", requestID,
			"error", err)
		return "", &nverrors.TransportError{Provider: "openai", Op: "generate", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &nverrors.TransportError{Provider: "openai", Op: "generate", Err: err}
	}

	if err := checkStatus("openai", "generate", resp, respBody); err != nil {
		c.logger.Error("openai API error",
			"request_id", requestID,
			"status_code", resp.StatusCode)
		return "", err
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", &nverrors.ProtocolError{Provider: "openai", Frame: string(respBody)}
	}
	if len(response.Choices) == 0 {
		return "", &nverrors.ProtocolError{Provider: "openai", Frame: "response has no choices"}
	}

	c.logger.Info("openai request completed",
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_length", len(response.Choices[0].Message.Content))

	return response.Choices[0].Message.Content, nil
}

// checkStatus maps HTTP failures onto typed errors: auth failures and
// rate limits get their own types so callers can decide on retry.
func checkStatus(providerName, op string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &nverrors.AuthError{Provider: providerName}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if d, err := time.ParseDuration(v + "s"); err == nil {
				retryAfter = d
			}
		}
		return &nverrors.RateLimitError{Provider: providerName, RetryAfter: retryAfter}
	default:
		return &nverrors.TransportError{
			Provider: providerName,
			Op:       op,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}
}

func (c *OpenAI) GenerateStream(ctx context.Context, messages []Message, params Params, fn StreamFunc) error {
	requestID := uuid.NewString()[:8]

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := json.Marshal(c.buildPayload(messages, params, true))
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &nverrors.TransportError{Provider: "openai", Op: "generate_stream", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drained, _ := io.ReadAll(resp.Body)
		return checkStatus("openai", "generate_stream", resp, drained)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var frame struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			c.logger.Debug("skipping malformed stream frame",
				"request_id", requestID,
				"error", err)
			continue
		}

		if len(frame.Choices) > 0 && frame.Choices[0].Delta.Content != "" {
			if err := fn(frame.Choices[0].Delta.Content); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return &nverrors.TransportError{Provider: "openai", Op: "generate_stream", Err: err}
	}

	return nil
}

func (c *OpenAI) Capabilities() Capabilities {
	ctxLen := 16385
	switch {
	case strings.HasPrefix(c.model, "gpt-4-turbo"):
		ctxLen = 128000
	case strings.HasPrefix(c.model, "gpt-4"):
		ctxLen = 8192
	}

	return Capabilities{
		CtxLen:               ctxLen,
		SupportsTools:        true,
		SupportsJSONMode:     true,
		SupportsThinkingMode: false,
		SupportsStreaming:    true,
	}
}

func (c *OpenAI) Healthcheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// PriceEstimate charges by model family, longest prefix first, with
// gpt-3.5-turbo as the family fallback. Rounded to four decimals.
func (c *OpenAI) PriceEstimate(inputTokens, outputTokens int) (float64, bool) {
	pricing, ok := openAIPricing[c.model]
	if !ok {
		switch {
		case strings.HasPrefix(c.model, "gpt-4-turbo"):
			pricing = openAIPricing["gpt-4-turbo"]
		case strings.HasPrefix(c.model, "gpt-4"):
			pricing = openAIPricing["gpt-4"]
		default:
			pricing = openAIPricing["gpt-3.5-turbo"]
		}
	}

	cost := float64(inputTokens)/1000.0*pricing.input + float64(outputTokens)/1000.0*pricing.output
	return math.Round(cost*10000) / 10000, true
}
