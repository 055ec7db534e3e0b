package agent

import (
	"regexp"
	"strings"
)

var (
	fencedJSONRe  = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	fencedBlockRe = regexp.MustCompile("(?s)```\\s*(.*?)```")
)

// ExtractJSONObject pulls the most plausible JSON object out of model
// output: a ```json fence first, then any fence, then the outermost
// brace pair. Returns "" when nothing object-shaped is present.
func ExtractJSONObject(text string) string {
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if candidate := strings.TrimSpace(m[1]); strings.HasPrefix(candidate, "{") {
			return candidate
		}
	}
	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		if candidate := strings.TrimSpace(m[1]); strings.HasPrefix(candidate, "{") {
			return candidate
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return ""
}

// ExtractJSONArray pulls the first bracketed array out of model
// output, spanning lines.
func ExtractJSONArray(text string) string {
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if candidate := strings.TrimSpace(m[1]); strings.HasPrefix(candidate, "[") {
			return candidate
		}
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return ""
}
