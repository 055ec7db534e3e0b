package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/vampirenirmal/novelist/internal/bible"
	"github.com/vampirenirmal/novelist/internal/memory"
)

func testCharacter() *bible.Character {
	return &bible.Character{
		ID:   "rin",
		Name: bible.CharacterName{Full: "汐見りん", Short: "りん"},
		Language: bible.CharacterLanguage{
			FirstPerson:    "あたし",
			Tone:           "ぶっきらぼう",
			SpeechPattern:  "短く切る",
			ForbiddenWords: []string{"ですわ", "ございます"},
		},
		Personality: bible.CharacterPersonality{Values: []string{"正直"}},
	}
}

func TestCheckerEmptyText(t *testing.T) {
	c := NewChecker(&MockProvider{Queue: []string{"[]"}})

	issues, _, err := c.Check(context.Background(), CheckRequest{Text: "   \n"})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("Check() issues = %d for empty text", len(issues))
	}
	if calls := c.provider.(*MockProvider).Calls(); len(calls) != 0 {
		t.Error("empty text reached the model tier")
	}
}

func TestCheckerFactContradiction(t *testing.T) {
	facts := []memory.Fact{
		{ID: "f001", Content: "灯台は汽霊の燃料庫である"},
		{ID: "f002", Content: "りんは左利きである"},
	}

	tests := []struct {
		name      string
		text      string
		wantIssue bool
	}{
		{
			name:      "negation near fact",
			text:      "彼は首を振った。灯台は汽霊の燃料庫である、というのは違うと断言した。",
			wantIssue: true,
		},
		{
			name:      "fact restated without negation",
			text:      "灯台は汽霊の燃料庫である。誰もがそれを知っていた。",
			wantIssue: false,
		},
		{
			name:      "fact absent",
			text:      "港は静かだった。",
			wantIssue: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(nil)
			issues, _, err := c.Check(context.Background(), CheckRequest{Text: tt.text, Facts: facts})
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			got := false
			for _, issue := range issues {
				if issue.Category == CategoryFact {
					got = true
					if issue.Severity != SeverityError {
						t.Errorf("fact issue severity = %q", issue.Severity)
					}
					if issue.Location != "f001" {
						t.Errorf("fact issue location = %q, want fact id", issue.Location)
					}
				}
			}
			if got != tt.wantIssue {
				t.Errorf("fact issue found = %v, want %v", got, tt.wantIssue)
			}
		})
	}
}

func TestCheckerCharacterVoice(t *testing.T) {
	characters := []*bible.Character{testCharacter()}

	tests := []struct {
		name      string
		text      string
		wantIssue bool
	}{
		{
			name:      "forbidden word in dialogue",
			text:      "「こちらが燃料庫でございます」とりんが言った。",
			wantIssue: true,
		},
		{
			name:      "forbidden word in narration only",
			text:      "かしこまった「挨拶」のあと、ございますという言い回しを彼女は嫌った。",
			wantIssue: false,
		},
		{
			name:      "clean dialogue",
			text:      "「行くよ」とりんが言った。",
			wantIssue: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(nil)
			issues, _, err := c.Check(context.Background(), CheckRequest{Text: tt.text, Characters: characters})
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			got := false
			for _, issue := range issues {
				if issue.Category == CategoryCharacter {
					got = true
					if issue.Suggestion == "" {
						t.Error("voice issue has no suggestion")
					}
				}
			}
			if got != tt.wantIssue {
				t.Errorf("voice issue found = %v, want %v (issues: %+v)", got, tt.wantIssue, issues)
			}
		})
	}
}

func TestCheckerModelTierMerges(t *testing.T) {
	mock := &MockProvider{Queue: []string{
		`[{"category": "pov", "severity": "warning", "description": "視点が揺れている", "location": "中盤"}]`,
	}}
	c := NewChecker(mock)

	issues, _, err := c.Check(context.Background(), CheckRequest{Text: "港は静かだった。"})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(issues) != 1 || issues[0].Category != CategoryPOV {
		t.Fatalf("issues = %+v, want single pov issue", issues)
	}
}

func TestCheckerModelTierDefaults(t *testing.T) {
	mock := &MockProvider{Queue: []string{
		`[{"description": "語尾が単調"}, {"description": ""}]`,
	}}
	c := NewChecker(mock)

	issues, _, err := c.Check(context.Background(), CheckRequest{Text: "港は静かだった。"})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %d, want 1 (empty description dropped)", len(issues))
	}
	if issues[0].Severity != SeverityInfo || issues[0].Category != CategoryStyle {
		t.Errorf("defaults = %q/%q, want info/style", issues[0].Severity, issues[0].Category)
	}
}

func TestCheckerModelTierGarbageSkipped(t *testing.T) {
	mock := &MockProvider{Queue: []string{"問題は見つかりませんでした。"}}
	c := NewChecker(mock)

	issues, _, err := c.Check(context.Background(), CheckRequest{Text: "港は静かだった。"})
	if err != nil {
		t.Fatalf("Check() error = %v for unparsable model output", err)
	}
	if len(issues) != 0 {
		t.Errorf("issues = %+v, want none", issues)
	}
}

func TestCheckerModelFailureKeepsDeterministicIssues(t *testing.T) {
	mock := &MockProvider{Err: errors.New("connection refused")}
	c := NewChecker(mock)

	text := "「こちらが燃料庫でございます」とりんが言った。"
	issues, _, err := c.Check(context.Background(), CheckRequest{
		Text:       text,
		Characters: []*bible.Character{testCharacter()},
	})
	if err == nil {
		t.Fatal("Check() error = nil, want model tier failure surfaced")
	}
	if len(issues) != 1 || issues[0].Category != CategoryCharacter {
		t.Fatalf("issues = %+v, want deterministic voice issue kept", issues)
	}
}

func TestCheckerNilProviderSkipsModelTier(t *testing.T) {
	c := NewChecker(nil)

	issues, _, err := c.Check(context.Background(), CheckRequest{Text: "港は静かだった。"})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("issues = %+v, want none", issues)
	}
}
