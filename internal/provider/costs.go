package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// CostEntry records one completed LLM call.
type CostEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Agent        string    `json:"agent"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	DurationMs   int64     `json:"duration_ms"`
}

// CostTracker accumulates per-call cost entries in memory for the
// duration of a run.
type CostTracker struct {
	mu      sync.Mutex
	entries []CostEntry
}

func NewCostTracker() *CostTracker {
	return &CostTracker{}
}

// Log records a call. cost is nil for unpriced (local) backends; a
// nil cost contributes zero to the totals but still counts tokens.
func (t *CostTracker) Log(agent, providerName, model string, inputTokens, outputTokens int, cost *float64, durationMs int64) {
	entry := CostEntry{
		Timestamp:    time.Now(),
		Agent:        agent,
		Provider:     providerName,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		DurationMs:   durationMs,
	}
	if cost != nil {
		entry.CostUSD = *cost
	}

	t.mu.Lock()
	t.entries = append(t.entries, entry)
	t.mu.Unlock()
}

// GroupSummary aggregates calls sharing one agent or provider.
type GroupSummary struct {
	Requests int     `json:"requests"`
	Tokens   int     `json:"tokens"`
	CostUSD  float64 `json:"cost_usd"`
}

// CostSummary is the run-level cost rollup.
type CostSummary struct {
	TotalRequests int                     `json:"total_requests"`
	TotalTokens   int                     `json:"total_tokens"`
	TotalCostUSD  float64                 `json:"total_cost_usd"`
	ByAgent       map[string]GroupSummary `json:"by_agent"`
	ByProvider    map[string]GroupSummary `json:"by_provider"`
}

func (t *CostTracker) Summary() CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := CostSummary{
		ByAgent:    make(map[string]GroupSummary),
		ByProvider: make(map[string]GroupSummary),
	}

	for _, e := range t.entries {
		s.TotalRequests++
		s.TotalTokens += e.TotalTokens
		s.TotalCostUSD += e.CostUSD

		byAgent := s.ByAgent[e.Agent]
		byAgent.Requests++
		byAgent.Tokens += e.TotalTokens
		byAgent.CostUSD += e.CostUSD
		s.ByAgent[e.Agent] = byAgent

		byProvider := s.ByProvider[e.Provider]
		byProvider.Requests++
		byProvider.Tokens += e.TotalTokens
		byProvider.CostUSD += e.CostUSD
		s.ByProvider[e.Provider] = byProvider
	}

	return s
}

// Entries returns a copy of all logged entries.
func (t *CostTracker) Entries() []CostEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]CostEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// FormatSummary renders the rollup as a human-readable report.
func (t *CostTracker) FormatSummary() string {
	s := t.Summary()

	var sb strings.Builder
	sb.WriteString("=== Cost Summary ===\n")
	fmt.Fprintf(&sb, "Total requests: %d\n", s.TotalRequests)
	fmt.Fprintf(&sb, "Total tokens:   %d\n", s.TotalTokens)
	fmt.Fprintf(&sb, "Total cost:     $%.4f\n", s.TotalCostUSD)

	if len(s.ByAgent) > 0 {
		sb.WriteString("\nBy agent:\n")
		for _, agent := range sortedKeys(s.ByAgent) {
			g := s.ByAgent[agent]
			fmt.Fprintf(&sb, "  %-10s %3d requests  %8d tokens  $%.4f\n", agent, g.Requests, g.Tokens, g.CostUSD)
		}
	}

	if len(s.ByProvider) > 0 {
		sb.WriteString("\nBy provider:\n")
		for _, name := range sortedKeys(s.ByProvider) {
			g := s.ByProvider[name]
			fmt.Fprintf(&sb, "  %-14s %3d requests  %8d tokens  $%.4f\n", name, g.Requests, g.Tokens, g.CostUSD)
		}
	}

	return sb.String()
}

func sortedKeys(m map[string]GroupSummary) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
