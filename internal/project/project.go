// Package project scaffolds and validates novel project directories.
// A project directory is the single source of truth: config, bible,
// character cards, memory files, and generated chapters all live in it.
package project

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vampirenirmal/novelist/internal/bible"
	"github.com/vampirenirmal/novelist/internal/config"
	"github.com/vampirenirmal/novelist/internal/storage"
	nverrors "github.com/vampirenirmal/novelist/pkg/novelist/errors"
)

var requiredDirs = []string{
	"characters",
	"chapters",
	"memory",
	"runs",
	".sessions",
	".index",
}

var requiredFiles = []string{
	"config.yaml",
	"bible.md",
	"memory/episodic.md",
	"memory/facts.json",
	"memory/foreshadow.json",
}

const bibleTemplate = `# 作品バイブル

## 文体規約

- 視点: 三人称一元視点
- 文末: 常体（だ・である調は避け、柔らかい言い切りを基本とする）
- 比喩: 海と光に関する比喩を優先する
- 禁止: 擬音語の多用、説明台詞

## 世界観

### 概要
ここに舞台と時代の説明を書く。

### 用語集
| 用語 | 説明 |
|------|------|
| 汽霊 | 蒸気に宿る精霊。動力源として使役される |
`

const episodicTemplate = `# エピソード記憶

## Character Status

---
`

func sampleCharacter() *bible.Character {
	return &bible.Character{
		ID:   "sample",
		Name: bible.CharacterName{Full: "見本キャラクター", Short: "見本"},
		Role: "サンプル。自分のキャラクターに置き換えてください",
		Language: bible.CharacterLanguage{
			FirstPerson:    "わたし",
			Tone:           "丁寧",
			SpeechPattern:  "語尾を伸ばさない",
			ForbiddenWords: []string{"ヤバい"},
		},
		Personality: bible.CharacterPersonality{
			Values: []string{"誠実"},
		},
	}
}

// Create scaffolds a new project at path. The directory must be empty
// or absent.
func Create(ctx context.Context, path, name string) error {
	logger := slog.Default().With("component", "project")

	if entries, err := os.ReadDir(path); err == nil && len(entries) > 0 {
		return &nverrors.ConfigError{
			Field:   "project.path",
			Message: fmt.Sprintf("directory %s is not empty", path),
		}
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("creating project directory: %w", err)
	}

	for _, dir := range requiredDirs {
		if err := os.MkdirAll(filepath.Join(path, dir), 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	if err := config.Save(config.Default(name), path); err != nil {
		return err
	}

	store := storage.NewProjectDir(path)
	seeds := map[string]string{
		"bible.md":               bibleTemplate,
		"memory/episodic.md":     episodicTemplate,
		"memory/facts.json":      `{"_meta": {"description": "Established story facts", "count": 0}, "facts": []}` + "\n",
		"memory/foreshadow.json": `{"_meta": {"description": "Planted and resolved foreshadowing", "total": 0}, "foreshadowings": []}` + "\n",
	}
	for file, content := range seeds {
		if err := store.Save(ctx, file, []byte(content)); err != nil {
			return fmt.Errorf("seeding %s: %w", file, err)
		}
	}

	characters := bible.NewCharacterLoader(store)
	if err := characters.Save(ctx, sampleCharacter()); err != nil {
		return fmt.Errorf("seeding sample character: %w", err)
	}

	logger.Info("project created", "path", path, "name", name)
	return nil
}

// IsProject reports whether path looks like a project root.
func IsProject(path string) bool {
	info, err := os.Stat(filepath.Join(path, "config.yaml"))
	return err == nil && !info.IsDir()
}

// Validate checks the project structure and returns every problem
// found, not just the first.
func Validate(ctx context.Context, path string) (bool, []string) {
	var issues []string

	if _, err := os.Stat(path); err != nil {
		return false, []string{fmt.Sprintf("project directory missing: %s", path)}
	}

	for _, dir := range requiredDirs {
		info, err := os.Stat(filepath.Join(path, dir))
		if err != nil || !info.IsDir() {
			issues = append(issues, fmt.Sprintf("missing directory: %s", dir))
		}
	}
	for _, file := range requiredFiles {
		info, err := os.Stat(filepath.Join(path, file))
		if err != nil || info.IsDir() {
			issues = append(issues, fmt.Sprintf("missing file: %s", file))
		}
	}

	if _, err := config.Load(path); err != nil {
		issues = append(issues, fmt.Sprintf("config invalid: %v", err))
	}

	store := storage.NewProjectDir(path)
	characters := bible.NewCharacterLoader(store)
	if ids, err := characters.List(ctx); err == nil {
		for _, id := range ids {
			if _, err := characters.Load(ctx, id); err != nil {
				issues = append(issues, fmt.Sprintf("character card invalid: %s", id))
			}
		}
	}

	return len(issues) == 0, issues
}

// Open validates the path is a project and returns its store and
// config.
func Open(path string) (storage.Store, *config.ProjectConfig, error) {
	if !IsProject(path) {
		return nil, nil, fmt.Errorf("%w: %s", nverrors.ErrProjectNotFound, path)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewProjectDir(path), cfg, nil
}
