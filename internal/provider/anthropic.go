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
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vampirenirmal/novelist/internal/config"
	nverrors "github.com/vampirenirmal/novelist/pkg/novelist/errors"
)

// Anthropic talks to the Anthropic messages API. System prompts go in
// a top-level field and extended thinking is requested via a thinking
// block with an explicit token budget.
type Anthropic struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

const (
	defaultAnthropicURL    = "https://api.anthropic.com"
	defaultAnthropicKeyEnv = "ANTHROPIC_API_KEY"
	defaultThinkingBudget  = 4096
)

// Prices in USD per 1K tokens, keyed by exact model id.
var anthropicPricing = map[string]struct{ input, output float64 }{
	"claude-3-opus-20240229":   {0.015, 0.075},
	"claude-3-sonnet-20240229": {0.003, 0.015},
	"claude-3-haiku-20240307":  {0.00025, 0.00125},
}

func NewAnthropic(entry config.ProviderEntry, opts ...Option) (*Anthropic, error) {
	apiKey, err := resolveAPIKey(entry, defaultAnthropicKeyEnv, "anthropic")
	if err != nil {
		return nil, err
	}

	s := newClientSettings("anthropic_provider", entry.Timeout, opts...)

	baseURL := entry.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}

	a := &Anthropic{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      entry.Model,
		apiKey:     apiKey,
		httpClient: s.httpClient,
		limiter:    s.limiter,
		logger:     s.logger,
	}

	a.logger.Debug("anthropic provider initialized",
		"base_url", a.baseURL,
		"model", a.model)

	return a, nil
}

func (a *Anthropic) Type() string  { return "anthropic" }
func (a *Anthropic) Model() string { return a.model }

func (a *Anthropic) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

func (a *Anthropic) buildPayload(messages []Message, params Params, stream bool) map[string]any {
	chat := make([]Message, 0, len(messages))
	var system string
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = msg.Content
			continue
		}
		chat = append(chat, msg)
	}

	payload := map[string]any{
		"model":       a.model,
		"messages":    chat,
		"max_tokens":  params.MaxTokens,
		"temperature": params.Temperature,
		"top_p":       params.TopP,
		"stream":      stream,
	}
	if system != "" {
		payload["system"] = system
	}
	if params.Thinking {
		budget := params.ThinkingBudget
		if budget <= 0 {
			budget = defaultThinkingBudget
		}
		payload["thinking"] = map[string]any{
			"type":          "enabled",
			"budget_tokens": budget,
		}
	}

	return payload
}

func (a *Anthropic) Generate(ctx context.Context, messages []Message, params Params) (string, error) {
	requestID := uuid.NewString()[:8]
	start := time.Now()

	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := json.Marshal(a.buildPayload(messages, params, false))
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	a.logger.Debug("sending anthropic messages request",
		"request_id", requestID,
		"model", a.model,
		"message_count", len(messages),
		"thinking", params.Thinking)

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Error("anthropic request failed",
			"request_id", requestID,
			"error", err)
		return "", &nverrors.TransportError{Provider: "anthropic", Op: "generate", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &nverrors.TransportError{Provider: "anthropic", Op: "generate", Err: err}
	}

	if err := checkStatus("anthropic", "generate", resp, respBody); err != nil {
		a.logger.Error("anthropic API error",
			"request_id", requestID,
			"status_code", resp.StatusCode)
		return "", err
	}

	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", &nverrors.ProtocolError{Provider: "anthropic", Frame: string(respBody)}
	}

	// Thinking blocks precede the text block; only text counts as output
	var sb strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	a.logger.Info("anthropic request completed",
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_length", sb.Len())

	return sb.String(), nil
}

func (a *Anthropic) GenerateStream(ctx context.Context, messages []Message, params Params, fn StreamFunc) error {
	requestID := uuid.NewString()[:8]

	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := json.Marshal(a.buildPayload(messages, params, true))
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &nverrors.TransportError{Provider: "anthropic", Op: "generate_stream", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drained, _ := io.ReadAll(resp.Body)
		return checkStatus("anthropic", "generate_stream", resp, drained)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var frame struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			a.logger.Debug("skipping malformed stream frame",
				"request_id", requestID,
				"error", err)
			continue
		}

		if frame.Type == "message_stop" {
			return nil
		}
		if frame.Type == "content_block_delta" && frame.Delta.Type == "text_delta" && frame.Delta.Text != "" {
			if err := fn(frame.Delta.Text); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return &nverrors.TransportError{Provider: "anthropic", Op: "generate_stream", Err: err}
	}

	return nil
}

func (a *Anthropic) Capabilities() Capabilities {
	return Capabilities{
		CtxLen:               200000,
		SupportsTools:        true,
		SupportsJSONMode:     false,
		SupportsThinkingMode: true,
		SupportsStreaming:    true,
	}
}

// Healthcheck also accepts 404: older API gateways predate the models
// listing endpoint but still authenticate the key.
func (a *Anthropic) Healthcheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", a.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	a.setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound
}

// PriceEstimate charges by exact model id, falling back to sonnet
// pricing for unknown models. Rounded to four decimals.
func (a *Anthropic) PriceEstimate(inputTokens, outputTokens int) (float64, bool) {
	pricing, ok := anthropicPricing[a.model]
	if !ok {
		pricing = anthropicPricing["claude-3-sonnet-20240229"]
	}

	cost := float64(inputTokens)/1000.0*pricing.input + float64(outputTokens)/1000.0*pricing.output
	return math.Round(cost*10000) / 10000, true
}
