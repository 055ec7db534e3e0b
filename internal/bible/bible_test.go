package bible

import (
	"strings"
	"testing"
)

const sampleBible = `# Project Bible

## 文体規約

- 視点: 三人称一元
- 一人称: 俺
- 文末: 常体
- 比喩: 控えめに使う
- 禁止: とても、すごく、心が痛む

## 世界観

- 概要: 蒸気機関と錬金術が併存する港湾都市
- 魔法体系: 等価交換を原則とする錬金術のみ
- 技術水準: 19世紀後半相当

| 用語 | 意味 |
|------|------|
| 黒鉄座 | 錬金術師の同業組合 |
| 汽霊 | 蒸気機関に宿る精霊 |

## その他

無視される内容。
`

func TestParse(t *testing.T) {
	b := Parse(sampleBible)

	if b.Style.Viewpoint != "三人称一元" {
		t.Errorf("Viewpoint = %q", b.Style.Viewpoint)
	}
	if b.Style.FirstPerson != "俺" {
		t.Errorf("FirstPerson = %q", b.Style.FirstPerson)
	}
	if b.Style.SentenceEnding != "常体" {
		t.Errorf("SentenceEnding = %q", b.Style.SentenceEnding)
	}
	if len(b.Style.Forbidden) != 3 || b.Style.Forbidden[0] != "とても" {
		t.Errorf("Forbidden = %v", b.Style.Forbidden)
	}

	if b.World.Overview != "蒸気機関と錬金術が併存する港湾都市" {
		t.Errorf("Overview = %q", b.World.Overview)
	}
	if b.World.MagicSystem != "等価交換を原則とする錬金術のみ" {
		t.Errorf("MagicSystem = %q", b.World.MagicSystem)
	}
	if got := b.World.Glossary["黒鉄座"]; got != "錬金術師の同業組合" {
		t.Errorf("Glossary[黒鉄座] = %q", got)
	}
	if _, ok := b.World.Glossary["用語"]; ok {
		t.Error("table header leaked into glossary")
	}

	if b.Raw != sampleBible {
		t.Error("Raw must retain the full source document")
	}
}

func TestParseEnglishHeaders(t *testing.T) {
	content := `## Style Bible

- viewpoint: third person limited
- first_person: I

## World Bible

- overview: a drowned city
`
	b := Parse(content)
	if b.Style.Viewpoint != "third person limited" {
		t.Errorf("Viewpoint = %q", b.Style.Viewpoint)
	}
	if b.World.Overview != "a drowned city" {
		t.Errorf("Overview = %q", b.World.Overview)
	}
}

func TestParseLenient(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty document", ""},
		{"no recognized sections", "# Title\n\nfree text only\n"},
		{"style section with no fields", "## 文体規約\n\n自由記述のみ。\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Parse(tt.content)
			if b == nil {
				t.Fatal("Parse() returned nil")
			}
			if b.Raw != tt.content {
				t.Error("Raw not retained")
			}
			if b.Style.Viewpoint != "" || len(b.Style.Forbidden) != 0 {
				t.Errorf("unexpected style extraction: %+v", b.Style)
			}
		})
	}
}

func TestFormatSections(t *testing.T) {
	b := Parse(sampleBible)

	style := b.FormatStyleSection()
	if !strings.HasPrefix(style, "## 文体規約\n") {
		t.Errorf("style section header missing:\n%s", style)
	}
	if !strings.Contains(style, "- 視点: 三人称一元") {
		t.Errorf("style section missing viewpoint:\n%s", style)
	}
	if !strings.Contains(style, "- 禁止表現: とても、すごく、心が痛む") {
		t.Errorf("style section missing forbidden list:\n%s", style)
	}

	world := b.FormatWorldSection()
	if !strings.Contains(world, "- 用語集:") || !strings.Contains(world, "汽霊") {
		t.Errorf("world section missing glossary:\n%s", world)
	}

	empty := Parse("")
	if empty.FormatStyleSection() != "" || empty.FormatWorldSection() != "" {
		t.Error("empty bible must format to empty sections")
	}
}
