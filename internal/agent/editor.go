package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/novelist/internal/provider"
)

// Editor revises prose against the checker's findings. Model failures
// degrade to returning the original text: a scene is never lost to a
// failed edit.
type Editor struct {
	provider provider.Provider
	logger   *slog.Logger
}

func NewEditor(p provider.Provider) *Editor {
	return &Editor{
		provider: p,
		logger:   slog.Default().With("component", "editor"),
	}
}

// Output formats for Edit.
const (
	OutputFull         = "full"
	OutputDiff         = "diff"
	OutputInstructions = "instructions"
)

const editorSystemPrompt = `あなたは小説の推敲を担当する編集者です。
指摘された問題を解消しつつ、文体と内容を最大限保った修正版を出力してください。
修正版の本文のみを出力し、解説は書かないでください。`

// Edit revises text to address the issues. On any model failure the
// original text comes back unchanged.
func (e *Editor) Edit(ctx context.Context, text string, issues []Issue, styleRules, outputFormat string) (string, *Result, error) {
	if len(issues) == 0 {
		return text, &Result{Agent: RoleEditor}, nil
	}
	if outputFormat == "" {
		outputFormat = OutputFull
	}

	var prompt strings.Builder
	prompt.WriteString("## 本文\n" + text + "\n\n")
	prompt.WriteString("## 指摘事項\n")
	for _, issue := range issues {
		fmt.Fprintf(&prompt, "- [%s/%s] %s", issue.Category, issue.Severity, issue.Description)
		if issue.Suggestion != "" {
			fmt.Fprintf(&prompt, "（修正案: %s）", issue.Suggestion)
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString("\n")
	if styleRules != "" {
		prompt.WriteString("## 文体規約\n" + styleRules + "\n\n")
	}

	switch outputFormat {
	case OutputDiff:
		prompt.WriteString("変更箇所のみを「変更前→変更後」の形式で出力してください。")
	case OutputInstructions:
		prompt.WriteString("修正の指示だけを箇条書きで出力してください。")
	default:
		prompt.WriteString("修正版の本文全体を出力してください。")
	}

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: editorSystemPrompt},
		{Role: provider.RoleUser, Content: prompt.String()},
	}
	params := provider.Params{
		Temperature: 0.4,
		MaxTokens:   len(text) + 500,
		TopP:        0.9,
	}

	revised, res, err := generate(ctx, e.provider, RoleEditor, messages, params)
	if err != nil {
		e.logger.Warn("edit failed, keeping original text", "error", err)
		return text, res, nil
	}

	cleaned := CleanProse(revised)
	if outputFormat == OutputFull && cleaned == "" {
		e.logger.Warn("edit produced empty text, keeping original")
		return text, res, nil
	}

	e.logger.Info("scene edited",
		"issues_addressed", len(issues),
		"duration_ms", res.DurationMs)
	return cleaned, res, nil
}

// Wordy phrases collapsed by the rule-based pass.
var redundancyReplacements = [][2]string{
	{"非常に大きい", "巨大な"},
	{"非常に小さい", "微小な"},
	{"とても美しい", "美しい"},
	{"することができる", "できる"},
	{"することができた", "できた"},
	{"という風に", "ように"},
	{"のではないだろうか", "のだろうか"},
}

// QuickFix applies deterministic style fixes without a model call:
// redundancy replacements, immediate sentence repetition collapse,
// and paragraph breaks after long dialogue runs.
func QuickFix(text string) string {
	for _, pair := range redundancyReplacements {
		text = strings.ReplaceAll(text, pair[0], pair[1])
	}
	text = collapseRepetition(text)
	text = breakDialogueRuns(text)
	return text
}

// sentence terminators recognized by the repetition pass
func isTerminator(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

// collapseRepetition removes a sentence immediately repeated after
// itself, which small models produce under repetition pressure.
func collapseRepetition(text string) string {
	runes := []rune(text)
	var sentences []string
	start := 0
	for i, r := range runes {
		if isTerminator(r) {
			sentences = append(sentences, string(runes[start:i+1]))
			start = i + 1
		}
	}
	tail := string(runes[start:])

	var out []string
	for _, s := range sentences {
		if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == strings.TrimSpace(s) {
			continue
		}
		out = append(out, s)
	}
	return strings.Join(out, "") + tail
}

const maxDialogueRun = 3

// breakDialogueRuns inserts a paragraph break after three consecutive
// dialogue lines to restore narrative tempo.
func breakDialogueRuns(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	run := 0
	for _, line := range lines {
		out = append(out, line)
		if strings.HasPrefix(strings.TrimSpace(line), "「") {
			run++
			if run == maxDialogueRun {
				out = append(out, "")
				run = 0
			}
		} else {
			run = 0
		}
	}
	return strings.Join(out, "\n")
}
