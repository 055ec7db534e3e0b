// Package assemble composes prompt context blocks under per-block
// byte budgets, so prompts stay bounded no matter how much project
// state accumulates.
package assemble

import (
	"strings"

	"github.com/vampirenirmal/novelist/internal/config"
)

// Blocks carries the rendered context sections before budgeting.
type Blocks struct {
	Retrieved  string
	Bible      string
	Characters string
	Facts      string
	Recap      string
}

// Assembler applies the configured byte budgets to context blocks.
type Assembler struct {
	budgets config.BudgetConfig
}

func New(budgets config.BudgetConfig) *Assembler {
	return &Assembler{budgets: budgets}
}

// Truncate cuts text to a byte budget, keeping the prefix and marking
// the cut with "...". A non-positive budget disables the limit.
func Truncate(text string, budget int) string {
	if budget <= 0 || len(text) <= budget {
		return text
	}
	return text[:budget] + "..."
}

// Compose budgets each block and joins the non-empty ones. Block
// order is fixed: retrieved context first, then bible, characters,
// facts, recap.
func (a *Assembler) Compose(b Blocks) string {
	sections := []string{
		Truncate(strings.TrimSpace(b.Retrieved), a.budgets.ICL),
		Truncate(strings.TrimSpace(b.Bible), a.budgets.Bible),
		Truncate(strings.TrimSpace(b.Characters), a.budgets.Characters),
		Truncate(strings.TrimSpace(b.Facts), a.budgets.Facts),
		Truncate(strings.TrimSpace(b.Recap), a.budgets.Recap),
	}

	var out []string
	for _, s := range sections {
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}
