package bible

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// StyleGuide holds the prose conventions extracted from the style
// section. Fields missing from the document stay empty.
type StyleGuide struct {
	Viewpoint      string   `json:"viewpoint,omitempty"`
	FirstPerson    string   `json:"first_person,omitempty"`
	SentenceEnding string   `json:"sentence_ending,omitempty"`
	Metaphors      string   `json:"metaphors,omitempty"`
	Forbidden      []string `json:"forbidden,omitempty"`
}

// WorldGuide holds the setting rules extracted from the world section.
type WorldGuide struct {
	Overview    string            `json:"overview,omitempty"`
	MagicSystem string            `json:"magic_system,omitempty"`
	Technology  string            `json:"technology,omitempty"`
	Glossary    map[string]string `json:"glossary,omitempty"`
}

// Bible is the parsed project bible. Raw always carries the full
// source text so prompt assembly can fall back to it when structured
// extraction finds nothing.
type Bible struct {
	Style StyleGuide
	World WorldGuide
	Raw   string
}

// Section headers are matched bilingually; documents mix English and
// Japanese headings in practice.
var (
	styleSectionRe = regexp.MustCompile(`(?is)##\s*(?:style bible|文体規約)[^\n]*\n(.*?)(?:\n##[^#]|\z)`)
	worldSectionRe = regexp.MustCompile(`(?is)##\s*(?:world bible|世界観)[^\n]*\n(.*?)(?:\n##[^#]|\z)`)
	tableRowRe     = regexp.MustCompile(`(?m)^\s*\|([^|]+)\|([^|]+)\|`)
	bulletRe       = regexp.MustCompile(`(?m)^\s*[-*]\s+(.+)$`)
)

// Parse extracts structured style and world rules from a bible
// document. Parsing is lenient: anything it cannot find is simply
// absent, never an error.
func Parse(content string) *Bible {
	b := &Bible{Raw: content}

	if m := styleSectionRe.FindStringSubmatch(content); m != nil {
		section := m[1]
		b.Style = StyleGuide{
			Viewpoint:      extractValue(section, "viewpoint", "視点"),
			FirstPerson:    extractValue(section, "first_person", "一人称"),
			SentenceEnding: extractValue(section, "sentence_ending", "文末"),
			Metaphors:      extractValue(section, "metaphors", "比喩"),
			Forbidden:      extractList(section, "forbidden", "禁止"),
		}
	}

	if m := worldSectionRe.FindStringSubmatch(content); m != nil {
		section := m[1]
		b.World = WorldGuide{
			Overview:    extractValue(section, "overview", "概要"),
			MagicSystem: extractValue(section, "magic_system", "魔法体系", "魔法"),
			Technology:  extractValue(section, "technology", "技術水準", "技術"),
			Glossary:    extractTable(section),
		}
	}

	return b
}

// extractValue finds "key: value" style lines, tolerating bullet
// prefixes, bold markers, and fullwidth colons.
func extractValue(section string, keys ...string) string {
	for _, key := range keys {
		re := regexp.MustCompile(`(?im)^\s*[-*\s]*\**` + regexp.QuoteMeta(key) + `\**[：:\*\s]+([^\n]+)`)
		if m := re.FindStringSubmatch(section); m != nil {
			return strings.Trim(strings.TrimSpace(m[1]), "*")
		}
	}
	return ""
}

// extractList reads a value line for a key and splits it on list
// separators; a trailing bullet list under the key also counts.
func extractList(section string, keys ...string) []string {
	value := extractValue(section, keys...)
	if value != "" {
		parts := regexp.MustCompile(`[、,]\s*`).Split(value, -1)
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	// Key on its own line followed by bullets
	for _, key := range keys {
		re := regexp.MustCompile(`(?is)` + regexp.QuoteMeta(key) + `[：:\s]*\n((?:\s*[-*]\s+[^\n]+\n?)+)`)
		if m := re.FindStringSubmatch(section); m != nil {
			var out []string
			for _, item := range bulletRe.FindAllStringSubmatch(m[1], -1) {
				out = append(out, strings.TrimSpace(item[1]))
			}
			return out
		}
	}

	return nil
}

// extractTable collects key/value rows from pipe-delimited markdown
// tables, skipping header and separator rows.
func extractTable(section string) map[string]string {
	rows := tableRowRe.FindAllStringSubmatch(section, -1)
	if len(rows) == 0 {
		return nil
	}

	out := make(map[string]string)
	for _, row := range rows {
		key := strings.TrimSpace(row[1])
		value := strings.TrimSpace(row[2])
		if key == "" || strings.HasPrefix(key, "-") || strings.EqualFold(key, "term") || key == "用語" {
			continue
		}
		out[key] = value
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// FormatStyleSection renders the style rules as a prompt block. Empty
// fields are omitted; a fully empty guide renders nothing.
func (b *Bible) FormatStyleSection() string {
	var sb strings.Builder

	writeField := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", label, value)
		}
	}

	writeField("視点", b.Style.Viewpoint)
	writeField("一人称", b.Style.FirstPerson)
	writeField("文末", b.Style.SentenceEnding)
	writeField("比喩", b.Style.Metaphors)
	if len(b.Style.Forbidden) > 0 {
		fmt.Fprintf(&sb, "- 禁止表現: %s\n", strings.Join(b.Style.Forbidden, "、"))
	}

	if sb.Len() == 0 {
		return ""
	}
	return "## 文体規約\n" + sb.String()
}

// FormatWorldSection renders the world rules as a prompt block.
func (b *Bible) FormatWorldSection() string {
	var sb strings.Builder

	if b.World.Overview != "" {
		fmt.Fprintf(&sb, "- 概要: %s\n", b.World.Overview)
	}
	if b.World.MagicSystem != "" {
		fmt.Fprintf(&sb, "- 魔法体系: %s\n", b.World.MagicSystem)
	}
	if b.World.Technology != "" {
		fmt.Fprintf(&sb, "- 技術水準: %s\n", b.World.Technology)
	}
	if len(b.World.Glossary) > 0 {
		sb.WriteString("- 用語集:\n")
		for _, term := range sortedGlossaryKeys(b.World.Glossary) {
			fmt.Fprintf(&sb, "  - %s: %s\n", term, b.World.Glossary[term])
		}
	}

	if sb.Len() == 0 {
		return ""
	}
	return "## 世界観\n" + sb.String()
}

func sortedGlossaryKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
