package agent

import (
	"context"
	"time"

	"github.com/vampirenirmal/novelist/internal/provider"
)

// generate runs one provider call with per-call accounting. Token
// counts are estimates; exact usage is not reported by every backend.
func generate(ctx context.Context, p provider.Provider, role string, messages []provider.Message, params provider.Params) (string, *Result, error) {
	start := time.Now()
	text, err := p.Generate(ctx, messages, params)

	res := &Result{
		Agent:        role,
		DurationMs:   time.Since(start).Milliseconds(),
		InputTokens:  provider.EstimateMessages(messages),
		OutputTokens: provider.EstimateTokens(text),
	}
	res.CostUSD, res.Priced = p.PriceEstimate(res.InputTokens, res.OutputTokens)

	return text, res, err
}
