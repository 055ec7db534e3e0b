package provider

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Role names for message entries.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are generation parameters recognized by every backend.
// Backends ignore the fields they cannot honor.
type Params struct {
	Temperature    float64
	MaxTokens      int
	TopP           float64
	JSONMode       bool
	Thinking       bool
	ThinkingBudget int
}

// DefaultParams returns the engine-wide generation defaults.
func DefaultParams() Params {
	return Params{
		Temperature: 0.7,
		MaxTokens:   2000,
		TopP:        0.9,
	}
}

// Capabilities describes what a backend can do. Agents use it for
// capability-based routing.
type Capabilities struct {
	CtxLen               int  `json:"ctx_len"`
	SupportsTools        bool `json:"supports_tools"`
	SupportsJSONMode     bool `json:"supports_json_mode"`
	SupportsThinkingMode bool `json:"supports_thinking_mode"`
	SupportsStreaming    bool `json:"supports_streaming"`
}

// StreamFunc receives one text fragment per call. Returning an error
// aborts the stream and closes the underlying transport.
type StreamFunc func(chunk string) error

// Provider is the contract every LLM backend satisfies.
type Provider interface {
	// Generate runs one synchronous completion and returns the
	// assistant text.
	Generate(ctx context.Context, messages []Message, params Params) (string, error)

	// GenerateStream produces text fragments until end-of-stream,
	// error, or consumer abort via fn or ctx.
	GenerateStream(ctx context.Context, messages []Message, params Params, fn StreamFunc) error

	// Capabilities reports the backend's feature set.
	Capabilities() Capabilities

	// Healthcheck reports reachability within a short timeout. It
	// never returns an error; unreachable is false.
	Healthcheck(ctx context.Context) bool

	// PriceEstimate returns the monetary cost for a token count.
	// The second return is false for unpriced (local) backends.
	PriceEstimate(inputTokens, outputTokens int) (float64, bool)

	// Type returns the backend type tag (ollama, openai, anthropic).
	Type() string

	// Model returns the configured model name.
	Model() string
}

const (
	defaultTimeout        = 120 * time.Second
	healthcheckTimeout    = 5 * time.Second
	defaultRequestsPerMin = 60
	defaultRateLimitBurst = 10
	anthropicAPIVersion   = "2023-06-01"
)

// clientSettings are shared knobs for the three HTTP backends,
// configured through functional options.
type clientSettings struct {
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
	httpClient *http.Client
}

// Option configures a provider client.
type Option func(*clientSettings)

// WithTimeout sets the per-call HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(s *clientSettings) {
		s.timeout = timeout
	}
}

// WithRateLimit bounds outgoing request rate.
func WithRateLimit(requestsPerMinute, burst int) Option {
	return func(s *clientSettings) {
		s.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *clientSettings) {
		s.logger = logger
	}
}

// WithHTTPClient overrides the HTTP client, used by tests.
func WithHTTPClient(client *http.Client) Option {
	return func(s *clientSettings) {
		s.httpClient = client
	}
}

func newClientSettings(component string, timeoutSeconds int, opts ...Option) clientSettings {
	timeout := defaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	s := clientSettings{
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(float64(defaultRequestsPerMin)/60.0), defaultRateLimitBurst),
		logger:  slog.Default().With("component", component),
	}

	for _, opt := range opts {
		opt(&s)
	}

	if s.httpClient == nil {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
		s.httpClient = &http.Client{
			Timeout:   s.timeout,
			Transport: transport,
		}
	}

	return s
}
