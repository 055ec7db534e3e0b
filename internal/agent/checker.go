package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/vampirenirmal/novelist/internal/bible"
	"github.com/vampirenirmal/novelist/internal/memory"
	"github.com/vampirenirmal/novelist/internal/provider"
)

// Checker verifies a scene against established facts and character
// voice rules. Two tiers run as pure pattern checks; the third asks
// the model for problems the patterns cannot see. Model failures only
// cost the third tier, never the whole check.
type Checker struct {
	provider provider.Provider
	logger   *slog.Logger
}

// NewChecker builds a checker. A nil provider disables the model
// tier, leaving only the deterministic checks.
func NewChecker(p provider.Provider) *Checker {
	return &Checker{
		provider: p,
		logger:   slog.Default().With("component", "checker"),
	}
}

// CheckRequest is the checker's input.
type CheckRequest struct {
	Text       string
	Facts      []memory.Fact
	Characters []*bible.Character
	World      string
}

// Check runs all tiers and returns the merged issue list. Empty text
// yields no issues.
func (c *Checker) Check(ctx context.Context, req CheckRequest) ([]Issue, *Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, &Result{Agent: RoleChecker}, nil
	}

	var issues []Issue
	issues = append(issues, checkFactContradictions(req.Text, req.Facts)...)
	issues = append(issues, checkCharacterVoice(req.Text, req.Characters)...)

	res := &Result{Agent: RoleChecker}
	if c.provider != nil {
		llmIssues, llmRes, err := c.llmCheck(ctx, req)
		if llmRes != nil {
			res = llmRes
		}
		if err != nil {
			// The deterministic tiers already ran; surface the error
			// so the pipeline can decide, but keep their findings
			return issues, res, err
		}
		issues = append(issues, llmIssues...)
	}

	c.logger.Info("scene checked",
		"issues", len(issues),
		"needs_revision", NeedsRevision(issues))
	return issues, res, nil
}

// Negation markers that, appearing near a fact's opening, suggest the
// text contradicts it.
const negationPattern = `(違う|間違|ない|しなかった|ではな)`

const factProbeRunes = 20

func checkFactContradictions(text string, facts []memory.Fact) []Issue {
	var issues []Issue
	for _, fact := range facts {
		probe := []rune(fact.Content)
		if len(probe) > factProbeRunes {
			probe = probe[:factProbeRunes]
		}
		if len(probe) == 0 {
			continue
		}

		re, err := regexp.Compile(`(?s)` + regexp.QuoteMeta(string(probe)) + `.{0,20}` + negationPattern)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			issues = append(issues, Issue{
				Category:    CategoryFact,
				Severity:    SeverityError,
				Description: fmt.Sprintf("確定済みの事実と矛盾する可能性: %s", fact.Content),
				Location:    fact.ID,
			})
		}
	}
	return issues
}

var dialogueRe = regexp.MustCompile(`[「"]([^」"]+)[」"]`)

func checkCharacterVoice(text string, characters []*bible.Character) []Issue {
	var issues []Issue
	for _, m := range dialogueRe.FindAllStringSubmatch(text, -1) {
		line := m[1]
		for _, ch := range characters {
			for _, forbidden := range ch.Language.ForbiddenWords {
				if forbidden == "" || !strings.Contains(line, forbidden) {
					continue
				}
				issues = append(issues, Issue{
					Category:    CategoryCharacter,
					Severity:    SeverityError,
					Description: fmt.Sprintf("%sの禁止語「%s」が台詞に含まれている", ch.Name.Full, forbidden),
					Location:    truncateLocation(line),
					Suggestion:  fmt.Sprintf("%sの口調設定（%s）に合わせて言い換える", ch.Name.Full, ch.Language.Tone),
				})
			}
		}
	}
	return issues
}

const locationRunes = 30

func truncateLocation(line string) string {
	runes := []rune(line)
	if len(runes) > locationRunes {
		return string(runes[:locationRunes]) + "…"
	}
	return line
}

const checkerSystemPrompt = `あなたは小説の整合性をチェックする校閲者です。
本文を設定資料と照合し、問題をJSON配列で報告してください。

各問題は以下の形式です。
{"category": "fact|character|world|pov|style", "severity": "error|warning|info", "description": "問題の説明", "location": "該当箇所", "suggestion": "修正案"}

問題がなければ [] を出力してください。JSON配列のみを出力してください。`

func (c *Checker) llmCheck(ctx context.Context, req CheckRequest) ([]Issue, *Result, error) {
	var prompt strings.Builder
	prompt.WriteString("## 本文\n" + req.Text + "\n\n")
	if len(req.Facts) > 0 {
		prompt.WriteString("## 確定済みの事実\n")
		for _, f := range req.Facts {
			fmt.Fprintf(&prompt, "- %s\n", f.Content)
		}
		prompt.WriteString("\n")
	}
	if len(req.Characters) > 0 {
		prompt.WriteString("## 登場人物\n")
		for _, ch := range req.Characters {
			prompt.WriteString(ch.FormatForPrompt() + "\n")
		}
	}
	if req.World != "" {
		prompt.WriteString("## 世界観\n" + req.World + "\n")
	}

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: checkerSystemPrompt},
		{Role: provider.RoleUser, Content: prompt.String()},
	}
	params := provider.Params{
		Temperature: 0.2,
		MaxTokens:   1500,
		TopP:        0.9,
		JSONMode:    true,
	}

	text, res, err := generate(ctx, c.provider, RoleChecker, messages, params)
	if err != nil {
		return nil, res, err
	}

	raw := ExtractJSONArray(text)
	if raw == "" {
		c.logger.Debug("model check produced no JSON array, skipping tier")
		return nil, res, nil
	}

	var issues []Issue
	if err := json.Unmarshal([]byte(raw), &issues); err != nil {
		c.logger.Debug("model check array did not parse, skipping tier",
			"error", err)
		return nil, res, nil
	}

	// Drop malformed entries rather than failing the check
	var valid []Issue
	for _, issue := range issues {
		if issue.Description == "" {
			continue
		}
		if issue.Severity == "" {
			issue.Severity = SeverityInfo
		}
		if issue.Category == "" {
			issue.Category = CategoryStyle
		}
		valid = append(valid, issue)
	}
	return valid, res, nil
}
