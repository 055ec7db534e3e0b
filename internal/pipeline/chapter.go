package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vampirenirmal/novelist/internal/storage"
)

const chaptersDir = "chapters"

// ChapterManager owns the chapter files under chapters/. Scene text is
// only ever appended after a successful commit, so a chapter file never
// contains prose the memory layer does not know about.
type ChapterManager struct {
	store storage.Store
}

func NewChapterManager(store storage.Store) *ChapterManager {
	return &ChapterManager{store: store}
}

func chapterPath(chapter int) string {
	return fmt.Sprintf("%s/chapter_%03d.md", chaptersDir, chapter)
}

// Append adds a scene's prose to the chapter file. The file holds the
// accepted scene texts and nothing else: a chapter's first scene is
// written verbatim, later scenes follow after one blank line.
func (m *ChapterManager) Append(ctx context.Context, chapter, scene int, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("refusing to append empty scene to chapter %d", chapter)
	}

	if !m.store.Exists(ctx, chapterPath(chapter)) {
		return m.store.Save(ctx, chapterPath(chapter), []byte(text+"\n"))
	}
	return m.store.Append(ctx, chapterPath(chapter), []byte("\n"+text+"\n"))
}

// Load returns a chapter's full text.
func (m *ChapterManager) Load(ctx context.Context, chapter int) (string, error) {
	data, err := m.store.Load(ctx, chapterPath(chapter))
	if err != nil {
		return "", fmt.Errorf("loading chapter %d: %w", chapter, err)
	}
	return string(data), nil
}

// Exists reports whether a chapter file has been started.
func (m *ChapterManager) Exists(ctx context.Context, chapter int) bool {
	return m.store.Exists(ctx, chapterPath(chapter))
}

// List returns the chapter numbers present on disk, ascending.
func (m *ChapterManager) List(ctx context.Context) ([]int, error) {
	paths, err := m.store.List(ctx, chaptersDir+"/chapter_*.md")
	if err != nil {
		return nil, err
	}

	var chapters []int
	for _, path := range paths {
		var n int
		if _, err := fmt.Sscanf(path, chaptersDir+"/chapter_%03d.md", &n); err == nil {
			chapters = append(chapters, n)
		}
	}
	sort.Ints(chapters)
	return chapters, nil
}
