package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/vampirenirmal/novelist/internal/provider"
)

// MockCall records one request the mock received.
type MockCall struct {
	Messages []provider.Message
	Params   provider.Params
}

// MockProvider is a scripted provider for tests. Responses match by
// prompt substring first, then drain the queue in order.
type MockProvider struct {
	TypeName  string
	ModelName string

	// ByContains maps a substring of the concatenated prompt to a
	// canned response.
	ByContains map[string]string

	// Queue is drained one response per call when no substring
	// matches.
	Queue []string

	// Err fails every call when set.
	Err error

	// Unhealthy makes Healthcheck report false.
	Unhealthy bool

	mu    sync.Mutex
	calls []MockCall
}

var _ provider.Provider = (*MockProvider)(nil)

func (m *MockProvider) respond(messages []provider.Message) string {
	var joined strings.Builder
	for _, msg := range messages {
		joined.WriteString(msg.Content)
		joined.WriteString("\n")
	}

	for key, response := range m.ByContains {
		if strings.Contains(joined.String(), key) {
			return response
		}
	}

	if len(m.Queue) > 0 {
		response := m.Queue[0]
		m.Queue = m.Queue[1:]
		return response
	}
	return ""
}

func (m *MockProvider) Generate(ctx context.Context, messages []provider.Message, params provider.Params) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Messages: messages, Params: params})
	if m.Err != nil {
		m.mu.Unlock()
		return "", m.Err
	}
	response := m.respond(messages)
	m.mu.Unlock()
	return response, nil
}

func (m *MockProvider) GenerateStream(ctx context.Context, messages []provider.Message, params provider.Params, fn provider.StreamFunc) error {
	text, err := m.Generate(ctx, messages, params)
	if err != nil {
		return err
	}
	for _, r := range text {
		if err := fn(string(r)); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		CtxLen:            32768,
		SupportsJSONMode:  true,
		SupportsStreaming: true,
	}
}

func (m *MockProvider) Healthcheck(ctx context.Context) bool {
	return !m.Unhealthy
}

func (m *MockProvider) PriceEstimate(inputTokens, outputTokens int) (float64, bool) {
	return 0, false
}

func (m *MockProvider) Type() string {
	if m.TypeName == "" {
		return "mock"
	}
	return m.TypeName
}

func (m *MockProvider) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// Calls returns every recorded request.
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}
