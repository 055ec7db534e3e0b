package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/novelist/internal/storage"
)

const (
	runsDir = "runs"

	// Long prompts and outputs are truncated in the log; the head
	// carries the instruction, the tail the conclusion.
	logTextLimit = 10000
	logHeadBytes = 5000
	logTailBytes = 1000

	flushEvery = 10
)

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RunEntry is one logged agent operation.
type RunEntry struct {
	Timestamp    string         `json:"timestamp"`
	RunID        string         `json:"run_id"`
	Agent        string         `json:"agent"`
	Operation    string         `json:"operation"`
	Metrics      map[string]any `json:"metrics,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	PromptLength int            `json:"prompt_length,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`
	OutputLength int            `json:"output_length,omitempty"`
	Output       string         `json:"output,omitempty"`
	Status       string         `json:"status"`
	Error        string         `json:"error,omitempty"`
}

// RunLogger writes one JSONL file per run under runs/. Entries are
// buffered and flushed in batches; call Close when the run ends.
type RunLogger struct {
	store  storage.Store
	runID  string
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	buffer []RunEntry
}

// NewRunID builds a sortable run identifier: a timestamp plus a short
// random suffix for same-second runs.
func NewRunID() string {
	return time.Now().Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

func NewRunLogger(store storage.Store, runID string) *RunLogger {
	if runID == "" {
		runID = NewRunID()
	}
	return &RunLogger{
		store:  store,
		runID:  runID,
		path:   fmt.Sprintf("%s/%s.jsonl", runsDir, runID),
		logger: slog.Default().With("component", "run_logger", "run_id", runID),
	}
}

// RunID returns this logger's run identifier.
func (l *RunLogger) RunID() string {
	return l.runID
}

// truncateLogText keeps the head and tail of oversized text.
func truncateLogText(text string) string {
	if len(text) <= logTextLimit {
		return text
	}
	return text[:logHeadBytes] + "... [truncated] ..." + text[len(text)-logTailBytes:]
}

// Log buffers one entry, filling in timestamp, run id, lengths, and
// text truncation. The buffer flushes automatically every few entries.
func (l *RunLogger) Log(ctx context.Context, entry RunEntry) error {
	entry.Timestamp = time.Now().Format(time.RFC3339)
	entry.RunID = l.runID
	if entry.Status == "" {
		entry.Status = StatusSuccess
	}
	if entry.Prompt != "" {
		entry.PromptLength = len(entry.Prompt)
		entry.Prompt = truncateLogText(entry.Prompt)
	}
	if entry.Output != "" {
		entry.OutputLength = len(entry.Output)
		entry.Output = truncateLogText(entry.Output)
	}

	l.mu.Lock()
	l.buffer = append(l.buffer, entry)
	shouldFlush := len(l.buffer) >= flushEvery
	l.mu.Unlock()

	if shouldFlush {
		return l.Flush(ctx)
	}
	return nil
}

// Flush appends buffered entries to the run file.
func (l *RunLogger) Flush(ctx context.Context) error {
	l.mu.Lock()
	pending := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	var out []byte
	for _, entry := range pending {
		line, err := json.Marshal(entry)
		if err != nil {
			l.logger.Error("dropping unmarshalable run entry", "error", err)
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}

	if err := l.store.Append(ctx, l.path, out); err != nil {
		return fmt.Errorf("flushing run log: %w", err)
	}
	return nil
}

// Close flushes any remaining entries.
func (l *RunLogger) Close(ctx context.Context) error {
	return l.Flush(ctx)
}

// AgentStats aggregates one agent's activity within a run.
type AgentStats struct {
	Calls  int `json:"calls"`
	Tokens int `json:"tokens"`
	Errors int `json:"errors"`
}

// RunStats is the aggregate view of one run file.
type RunStats struct {
	RunID        string                `json:"run_id"`
	Entries      int                   `json:"entries"`
	TotalTokens  int                   `json:"total_tokens"`
	TotalCostUSD float64               `json:"total_cost_usd"`
	TotalTimeMs  int64                 `json:"total_time_ms"`
	ByAgent      map[string]AgentStats `json:"by_agent"`
}

// ReadRunStats parses a run file and aggregates tokens, cost, and
// duration overall and per agent.
func ReadRunStats(ctx context.Context, store storage.Store, runID string) (*RunStats, error) {
	path := fmt.Sprintf("%s/%s.jsonl", runsDir, runID)
	data, err := store.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}

	stats := &RunStats{
		RunID:   runID,
		ByAgent: make(map[string]AgentStats),
	}

	for _, line := range splitLines(data) {
		var entry RunEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}

		stats.Entries++
		agent := stats.ByAgent[entry.Agent]
		agent.Calls++

		if tokens, ok := metricInt(entry.Metrics, "tokens"); ok {
			stats.TotalTokens += tokens
			agent.Tokens += tokens
		}
		if cost, ok := metricFloat(entry.Metrics, "cost_usd"); ok {
			stats.TotalCostUSD += cost
		}
		if ms, ok := metricInt(entry.Metrics, "duration_ms"); ok {
			stats.TotalTimeMs += int64(ms)
		}
		if entry.Status == StatusError {
			agent.Errors++
		}

		stats.ByAgent[entry.Agent] = agent
	}

	return stats, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func metricInt(metrics map[string]any, key string) (int, bool) {
	v, ok := metrics[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func metricFloat(metrics map[string]any, key string) (float64, bool) {
	v, ok := metrics[key]
	if !ok {
		return 0, false
	}
	if n, ok := v.(float64); ok {
		return n, true
	}
	return 0, false
}
