package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vampirenirmal/novelist/internal/storage"
)

// ListRuns returns the run ids present under runs/, newest first.
// Session turn logs are excluded.
func ListRuns(ctx context.Context, store storage.Store) ([]string, error) {
	paths, err := store.List(ctx, runsDir+"/*.jsonl")
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	var ids []string
	for _, p := range paths {
		id := strings.TrimSuffix(filepath.Base(p), ".jsonl")
		if strings.HasPrefix(id, "session_") {
			continue
		}
		ids = append(ids, id)
	}

	// Run ids start with a timestamp, so lexical order is time order
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// RunComparison holds the deltas between two runs, newer minus older.
type RunComparison struct {
	RunA        *RunStats `json:"run_a"`
	RunB        *RunStats `json:"run_b"`
	TokensDelta int       `json:"tokens_delta"`
	CostDelta   float64   `json:"cost_delta"`
	TimeDeltaMs int64     `json:"time_delta_ms"`
}

// CompareRuns aggregates both runs and reports B relative to A.
func CompareRuns(ctx context.Context, store storage.Store, runA, runB string) (*RunComparison, error) {
	a, err := ReadRunStats(ctx, store, runA)
	if err != nil {
		return nil, err
	}
	b, err := ReadRunStats(ctx, store, runB)
	if err != nil {
		return nil, err
	}

	return &RunComparison{
		RunA:        a,
		RunB:        b,
		TokensDelta: b.TotalTokens - a.TotalTokens,
		CostDelta:   b.TotalCostUSD - a.TotalCostUSD,
		TimeDeltaMs: b.TotalTimeMs - a.TotalTimeMs,
	}, nil
}

// FormatStats renders run statistics as a short report.
func FormatStats(s *RunStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s\n", s.RunID)
	fmt.Fprintf(&sb, "  entries: %d\n", s.Entries)
	fmt.Fprintf(&sb, "  tokens:  %d\n", s.TotalTokens)
	fmt.Fprintf(&sb, "  cost:    $%.4f\n", s.TotalCostUSD)
	fmt.Fprintf(&sb, "  time:    %dms\n", s.TotalTimeMs)

	agents := make([]string, 0, len(s.ByAgent))
	for name := range s.ByAgent {
		agents = append(agents, name)
	}
	sort.Strings(agents)
	for _, name := range agents {
		a := s.ByAgent[name]
		fmt.Fprintf(&sb, "  %-10s %d calls, %d tokens, %d errors\n", name, a.Calls, a.Tokens, a.Errors)
	}
	return sb.String()
}
