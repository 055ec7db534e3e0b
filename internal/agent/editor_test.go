package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestEditorEditNoIssues(t *testing.T) {
	mock := &MockProvider{Queue: []string{"never used"}}
	e := NewEditor(mock)

	text := "潮騒が窓を叩いていた。"
	got, _, err := e.Edit(context.Background(), text, nil, "", OutputFull)
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if got != text {
		t.Errorf("Edit() = %q, want passthrough", got)
	}
	if len(mock.Calls()) != 0 {
		t.Error("no-issue edit reached the model")
	}
}

func TestEditorEdit(t *testing.T) {
	mock := &MockProvider{Queue: []string{"潮騒が窓を叩いていた。りんは顔を上げた。"}}
	e := NewEditor(mock)

	issues := []Issue{{
		Category:    CategoryStyle,
		Severity:    SeverityWarning,
		Description: "語尾が単調",
		Suggestion:  "文末に変化をつける",
	}}
	got, _, err := e.Edit(context.Background(), "原文。", issues, "敬体は使わない", OutputFull)
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if !strings.Contains(got, "りんは顔を上げた") {
		t.Errorf("Edit() = %q", got)
	}

	prompt := mock.Calls()[0].Messages[1].Content
	for _, want := range []string{"語尾が単調", "修正案: 文末に変化をつける", "## 文体規約"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("edit prompt missing %q", want)
		}
	}
}

func TestEditorEditFailureReturnsOriginal(t *testing.T) {
	mock := &MockProvider{Err: errors.New("timeout")}
	e := NewEditor(mock)

	text := "原文のまま。"
	issues := []Issue{{Severity: SeverityError, Description: "矛盾"}}
	got, _, err := e.Edit(context.Background(), text, issues, "", OutputFull)
	if err != nil {
		t.Fatalf("Edit() error = %v, want nil on degraded edit", err)
	}
	if got != text {
		t.Errorf("Edit() = %q, want original text back", got)
	}
}

func TestEditorEditEmptyOutputReturnsOriginal(t *testing.T) {
	mock := &MockProvider{Queue: []string{"```\n```"}}
	e := NewEditor(mock)

	text := "原文のまま。"
	issues := []Issue{{Severity: SeverityError, Description: "矛盾"}}
	got, _, err := e.Edit(context.Background(), text, issues, "", OutputFull)
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if got != text {
		t.Errorf("Edit() = %q, want original text back", got)
	}
}

func TestQuickFixRedundancy(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"very large", "非常に大きい船だった。", "巨大な船だった。"},
		{"can do", "泳ぐことをすることができる。", "泳ぐことをできる。"},
		{"could do", "読むことをすることができた。", "読むことをできた。"},
		{"like this", "という風に言った。", "ように言った。"},
		{"rhetorical", "そうなのではないだろうか。", "そうなのだろうか。"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuickFix(tt.in); got != tt.want {
				t.Errorf("QuickFix() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQuickFixCollapsesRepetition(t *testing.T) {
	in := "海は静かだった。海は静かだった。風が吹いた。"
	want := "海は静かだった。風が吹いた。"
	if got := QuickFix(in); got != want {
		t.Errorf("QuickFix() = %q, want %q", got, want)
	}

	// Non-adjacent repetition stays.
	in = "海は静かだった。風が吹いた。海は静かだった。"
	if got := QuickFix(in); got != in {
		t.Errorf("QuickFix() = %q, want unchanged", got)
	}
}

func TestQuickFixBreaksDialogueRuns(t *testing.T) {
	in := strings.Join([]string{
		"「行くの」",
		"「行くよ」",
		"「そう」",
		"「じゃあね」",
	}, "\n")
	got := QuickFix(in)
	lines := strings.Split(got, "\n")
	if len(lines) != 5 {
		t.Fatalf("lines = %d, want blank line inserted after third dialogue line", len(lines))
	}
	if lines[3] != "" {
		t.Errorf("lines[3] = %q, want blank", lines[3])
	}

	short := "「行くの」\n「行くよ」"
	if got := QuickFix(short); got != short {
		t.Errorf("QuickFix() = %q, want unchanged for short run", got)
	}
}
