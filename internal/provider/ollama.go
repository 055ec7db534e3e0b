package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vampirenirmal/novelist/internal/config"
	nverrors "github.com/vampirenirmal/novelist/pkg/novelist/errors"
)

// Ollama talks to a local Ollama inference server over its chat API.
// System messages are pulled out of the list and sent as a top-level
// field; streaming arrives as JSON lines with a terminal done flag.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

const defaultOllamaURL = "http://localhost:11434"

func NewOllama(entry config.ProviderEntry, opts ...Option) (*Ollama, error) {
	s := newClientSettings("ollama_provider", entry.Timeout, opts...)

	baseURL := entry.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}

	o := &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      entry.Model,
		httpClient: s.httpClient,
		limiter:    s.limiter,
		logger:     s.logger,
	}

	o.logger.Debug("ollama provider initialized",
		"base_url", o.baseURL,
		"model", o.model)

	return o, nil
}

func (o *Ollama) Type() string  { return "ollama" }
func (o *Ollama) Model() string { return o.model }

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
	TopP        float64 `json:"top_p"`
}

func (o *Ollama) buildPayload(messages []Message, params Params, stream bool) map[string]any {
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
		"model":    o.model,
		"messages": chat,
		"stream":   stream,
		"options": ollamaOptions{
			Temperature: params.Temperature,
			NumPredict:  params.MaxTokens,
			TopP:        params.TopP,
		},
	}
	if system != "" {
		payload["system"] = system
	}

	return payload
}

func (o *Ollama) Generate(ctx context.Context, messages []Message, params Params) (string, error) {
	requestID := uuid.NewString()[:8]
	start := time.Now()

	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := json.Marshal(o.buildPayload(messages, params, false))
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	o.logger.Debug("sending ollama chat request",
		"request_id", requestID,
		"model", o.model,
		"message_count", len(messages),
		"body_size_bytes", len(body))

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Error("ollama request failed",
			"request_id", requestID,
			"error", err)
		return "", &nverrors.TransportError{Provider: "ollama", Op: "generate", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &nverrors.TransportError{Provider: "ollama", Op: "generate", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		o.logger.Error("ollama API error",
			"request_id", requestID,
			"status_code", resp.StatusCode,
			"response_body", string(respBody))
		return "", &nverrors.TransportError{
			Provider: "ollama",
			Op:       "generate",
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, respBody),
		}
	}

	var response struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", &nverrors.ProtocolError{Provider: "ollama", Frame: string(respBody)}
	}

	o.logger.Info("ollama request completed",
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_length", len(response.Message.Content))

	return response.Message.Content, nil
}

func (o *Ollama) GenerateStream(ctx context.Context, messages []Message, params Params, fn StreamFunc) error {
	requestID := uuid.NewString()[:8]

	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := json.Marshal(o.buildPayload(messages, params, true))
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return &nverrors.TransportError{Provider: "ollama", Op: "generate_stream", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drained, _ := io.ReadAll(resp.Body)
		return &nverrors.TransportError{
			Provider: "ollama",
			Op:       "generate_stream",
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, drained),
		}
	}

	// One JSON object per line; a malformed line is skipped, not fatal
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var frame struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Done bool `json:"done"`
		}
		if err := json.Unmarshal(line, &frame); err != nil {
			o.logger.Debug("skipping malformed stream frame",
				"request_id", requestID,
				"error", err)
			continue
		}

		if frame.Message.Content != "" {
			if err := fn(frame.Message.Content); err != nil {
				return err
			}
		}
		if frame.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return &nverrors.TransportError{Provider: "ollama", Op: "generate_stream", Err: err}
	}

	return nil
}

func (o *Ollama) Capabilities() Capabilities {
	// Depends on the loaded model; these are safe assumptions for the
	// small local models this engine targets.
	return Capabilities{
		CtxLen:               32768,
		SupportsTools:        false,
		SupportsJSONMode:     false,
		SupportsThinkingMode: true,
		SupportsStreaming:    true,
	}
}

// Healthcheck queries the models listing and succeeds iff the
// configured model name appears, allowing tag-less prefix matches.
func (o *Ollama) Healthcheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var listing struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return false
	}

	for _, m := range listing.Models {
		if m.Name == o.model || strings.HasPrefix(m.Name, o.model) {
			return true
		}
	}

	return false
}

// PriceEstimate reports unpriced: local inference has no marginal cost.
func (o *Ollama) PriceEstimate(inputTokens, outputTokens int) (float64, bool) {
	return 0, false
}
