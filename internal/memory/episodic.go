package memory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/vampirenirmal/novelist/internal/storage"
)

const (
	episodicPath         = "memory/episodic.md"
	defaultMaxScenes     = 5
	episodicHeader       = "# Episodic Memory\n"
	characterStatusTitle = "## Character Status"
)

// SceneSummary is one recorded scene entry.
type SceneSummary struct {
	Scene     int
	Chapter   int
	Timestamp string
	POV       string
	KeyEvents []string
	Summary   string
}

// EpisodicManager keeps a rolling window of recent scene summaries in
// a human-editable markdown file. Newest scenes sit at the top; the
// window is trimmed after every insert.
type EpisodicManager struct {
	store     storage.Store
	maxScenes int
	logger    *slog.Logger
}

func NewEpisodicManager(store storage.Store) *EpisodicManager {
	return &EpisodicManager{
		store:     store,
		maxScenes: defaultMaxScenes,
		logger:    slog.Default().With("component", "episodic_manager"),
	}
}

// SetMaxScenes overrides the rolling window size.
func (m *EpisodicManager) SetMaxScenes(n int) {
	if n > 0 {
		m.maxScenes = n
	}
}

func (m *EpisodicManager) load(ctx context.Context) string {
	data, err := m.store.Load(ctx, episodicPath)
	if err != nil {
		return episodicHeader
	}
	return string(data)
}

var sceneBlockRe = regexp.MustCompile(`(?m)^### Scene \d+`)

// AddSceneSummary prepends a scene block and trims the window to the
// most recent entries. Preamble above the first scene block (title,
// character status table) survives trimming.
func (m *EpisodicManager) AddSceneSummary(ctx context.Context, s SceneSummary) error {
	content := m.load(ctx)

	var block strings.Builder
	ts := s.Timestamp
	if ts == "" {
		ts = time.Now().Format("2006-01-02 15:04")
	}
	fmt.Fprintf(&block, "### Scene %d (Chapter %d)\n", s.Scene, s.Chapter)
	fmt.Fprintf(&block, "**Time**: %s\n", ts)
	if s.POV != "" {
		fmt.Fprintf(&block, "**POV**: %s\n", s.POV)
	}
	if len(s.KeyEvents) > 0 {
		fmt.Fprintf(&block, "**Events**: %s\n", strings.Join(s.KeyEvents, "、"))
	}
	block.WriteString("\n")
	block.WriteString(strings.TrimSpace(s.Summary))
	block.WriteString("\n\n---\n")

	preamble, scenes := splitScenes(content)
	scenes = append([]string{block.String()}, scenes...)
	if len(scenes) > m.maxScenes {
		m.logger.Debug("trimming episodic window",
			"dropped", len(scenes)-m.maxScenes,
			"kept", m.maxScenes)
		scenes = scenes[:m.maxScenes]
	}

	var out strings.Builder
	out.WriteString(strings.TrimRight(preamble, "\n"))
	out.WriteString("\n\n")
	out.WriteString(strings.Join(scenes, "\n"))

	return m.store.Save(ctx, episodicPath, []byte(out.String()))
}

// splitScenes separates the preamble from the ordered scene blocks,
// newest first.
func splitScenes(content string) (preamble string, scenes []string) {
	locs := sceneBlockRe.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return content, nil
	}

	preamble = content[:locs[0][0]]
	for i, loc := range locs {
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		scenes = append(scenes, strings.TrimRight(content[loc[0]:end], "\n")+"\n")
	}
	return preamble, scenes
}

// SceneCount reports how many scene blocks the file currently holds.
func (m *EpisodicManager) SceneCount(ctx context.Context) int {
	_, scenes := splitScenes(m.load(ctx))
	return len(scenes)
}

// RecentSummary returns the scene blocks as plain text, newest first,
// truncated at maxChars bytes with a "..." marker.
func (m *EpisodicManager) RecentSummary(ctx context.Context, maxChars int) string {
	content := m.load(ctx)

	var lines []string
	collecting := false
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "### Scene") {
			collecting = true
		}
		if collecting {
			if strings.TrimSpace(line) == "---" {
				collecting = false
				continue
			}
			lines = append(lines, line)
		}
	}

	out := strings.TrimSpace(strings.Join(lines, "\n"))
	if maxChars > 0 && len(out) > maxChars {
		out = out[:maxChars] + "..."
	}
	return out
}

// UpdateCharacterStatus maintains a markdown status table in the
// preamble, one row per character, newest update winning.
func (m *EpisodicManager) UpdateCharacterStatus(ctx context.Context, character, location, status string) error {
	content := m.load(ctx)
	preamble, scenes := splitScenes(content)

	rows := parseStatusTable(preamble)
	rows[character] = [2]string{location, status}

	// Strip any existing table from the preamble, then rebuild it
	preamble = removeStatusTable(preamble)

	var table strings.Builder
	table.WriteString(characterStatusTitle + "\n")
	table.WriteString("| Character | Location | Status | Updated |\n")
	table.WriteString("|-----------|----------|--------|---------|\n")
	now := time.Now().Format("2006-01-02 15:04")
	for _, name := range sortedStatusKeys(rows) {
		row := rows[name]
		fmt.Fprintf(&table, "| %s | %s | %s | %s |\n", name, row[0], row[1], now)
	}

	var out strings.Builder
	out.WriteString(strings.TrimRight(preamble, "\n"))
	out.WriteString("\n\n")
	out.WriteString(table.String())
	if len(scenes) > 0 {
		out.WriteString("\n")
		out.WriteString(strings.Join(scenes, "\n"))
	}

	return m.store.Save(ctx, episodicPath, []byte(out.String()))
}

var statusRowRe = regexp.MustCompile(`(?m)^\|([^|]+)\|([^|]+)\|([^|]+)\|([^|]+)\|`)

func parseStatusTable(preamble string) map[string][2]string {
	rows := make(map[string][2]string)
	for _, row := range statusRowRe.FindAllStringSubmatch(preamble, -1) {
		name := strings.TrimSpace(row[1])
		if name == "" || name == "Character" || strings.HasPrefix(name, "-") {
			continue
		}
		rows[name] = [2]string{strings.TrimSpace(row[2]), strings.TrimSpace(row[3])}
	}
	return rows
}

func removeStatusTable(preamble string) string {
	idx := strings.Index(preamble, characterStatusTitle)
	if idx < 0 {
		return preamble
	}

	rest := preamble[idx:]
	end := len(rest)
	// Table ends at the first non-table, non-title line
	lines := strings.Split(rest, "\n")
	consumed := 0
	for i, line := range lines {
		if i == 0 || strings.HasPrefix(line, "|") || strings.TrimSpace(line) == "" {
			consumed += len(line) + 1
			continue
		}
		end = consumed
		break
	}
	if end > len(rest) {
		end = len(rest)
	}

	return preamble[:idx] + rest[end:]
}

func sortedStatusKeys(rows map[string][2]string) []string {
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var sentenceSplitRe = regexp.MustCompile(`[。！？.!?]`)

// Summarize produces a cheap extractive summary: the first, middle,
// and last substantial sentences of the text. No LLM call involved.
func Summarize(text string) string {
	parts := sentenceSplitRe.Split(text, -1)

	var sentences []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len([]rune(p)) > 10 {
			sentences = append(sentences, p)
		}
	}

	switch len(sentences) {
	case 0:
		return ""
	case 1:
		return sentences[0] + "。"
	case 2:
		return sentences[0] + "。" + sentences[1] + "。"
	}

	picked := []string{
		sentences[0],
		sentences[len(sentences)/2],
		sentences[len(sentences)-1],
	}
	return strings.Join(picked, "。") + "。"
}
