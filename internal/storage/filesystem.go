package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is the file access contract shared by the memory managers,
// session persistence, and the pipeline. All paths are relative to the
// project root.
type Store interface {
	Save(ctx context.Context, path string, data []byte) error
	Append(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
}

// ProjectDir serves one project directory. Every path is sanitized so
// agents and managers can never write outside the project root.
type ProjectDir struct {
	baseDir string
}

func NewProjectDir(baseDir string) *ProjectDir {
	return &ProjectDir{baseDir: baseDir}
}

// BasePath returns the project root this store serves.
func (p *ProjectDir) BasePath() string {
	return p.baseDir
}

// sanitizePath validates and cleans the path to prevent directory traversal
func (p *ProjectDir) sanitizePath(path string) (string, error) {
	cleaned := filepath.Clean(path)

	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid path: contains parent directory reference")
	}

	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid path: absolute paths not allowed")
	}

	fullPath := filepath.Join(p.baseDir, cleaned)

	// Final containment check handles symlinks and other edge cases
	if !strings.HasPrefix(fullPath, p.baseDir+string(filepath.Separator)) && fullPath != p.baseDir {
		return "", fmt.Errorf("invalid path: outside project directory")
	}

	return fullPath, nil
}

func (p *ProjectDir) Save(ctx context.Context, path string, data []byte) error {
	fullPath, err := p.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	// Config and env files hold credentials placeholders, keep them private
	mode := os.FileMode(0644)
	if strings.Contains(path, "config") || strings.Contains(path, ".env") {
		mode = 0600
	}

	if err := os.WriteFile(fullPath, data, mode); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}

// Append adds data to the end of a file, creating it if absent. Used
// by the run log, which is append-only JSON lines.
func (p *ProjectDir) Append(ctx context.Context, path string, data []byte) error {
	fullPath, err := p.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening file for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("appending to file: %w", err)
	}

	return nil
}

func (p *ProjectDir) Load(ctx context.Context, path string) ([]byte, error) {
	fullPath, err := p.sanitizePath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	return data, nil
}

func (p *ProjectDir) List(ctx context.Context, pattern string) ([]string, error) {
	// Allow * and ? wildcards but no escaping the project root
	cleaned := filepath.Clean(pattern)
	if strings.Contains(cleaned, "..") {
		return nil, fmt.Errorf("invalid pattern: contains parent directory reference")
	}
	if filepath.IsAbs(cleaned) {
		return nil, fmt.Errorf("invalid pattern: absolute paths not allowed")
	}

	matches, err := filepath.Glob(filepath.Join(p.baseDir, cleaned))
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	var results []string
	for _, match := range matches {
		if !strings.HasPrefix(match, p.baseDir+string(filepath.Separator)) && match != p.baseDir {
			continue
		}

		rel, err := filepath.Rel(p.baseDir, match)
		if err != nil {
			continue
		}
		results = append(results, rel)
	}

	return results, nil
}

func (p *ProjectDir) Exists(ctx context.Context, path string) bool {
	fullPath, err := p.sanitizePath(path)
	if err != nil {
		return false
	}

	_, err = os.Stat(fullPath)
	return err == nil
}

func (p *ProjectDir) Delete(ctx context.Context, path string) error {
	fullPath, err := p.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}

	return nil
}
