package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestProjectDirSecurity(t *testing.T) {
	tempDir := t.TempDir()

	// A file outside the project root must stay unreachable
	outsideFile := filepath.Join(filepath.Dir(tempDir), "outside.txt")
	if err := os.WriteFile(outsideFile, []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove(outsideFile)

	store := NewProjectDir(tempDir)
	ctx := context.Background()

	t.Run("Save prevents directory traversal", func(t *testing.T) {
		tests := []struct {
			name string
			path string
			want bool // true if should succeed
		}{
			{"normal path", "memory/facts.json", true},
			{"chapter file", "chapters/chapter_001.md", true},
			{"parent traversal", "../facts.json", false},
			{"complex traversal", "memory/../../facts.json", false},
			{"absolute path", "/etc/passwd", false},
			{"hidden traversal", "memory/../../../etc/passwd", false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := store.Save(ctx, tt.path, []byte("test"))
				if tt.want && err != nil {
					t.Errorf("expected success, got error: %v", err)
				}
				if !tt.want && err == nil {
					t.Errorf("expected error for path %q, got none", tt.path)
				}
			})
		}
	})

	t.Run("Load prevents directory traversal", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(tempDir, "bible.md"), []byte("# Bible"), 0644); err != nil {
			t.Fatal(err)
		}

		tests := []struct {
			name string
			path string
			want bool
		}{
			{"normal path", "bible.md", true},
			{"parent traversal", "../outside.txt", false},
			{"absolute path", outsideFile, false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := store.Load(ctx, tt.path)
				if tt.want && err != nil {
					t.Errorf("expected success, got error: %v", err)
				}
				if !tt.want && err == nil {
					t.Errorf("expected error for path %q, got none", tt.path)
				}
			})
		}
	})

	t.Run("List prevents directory traversal", func(t *testing.T) {
		tests := []struct {
			name    string
			pattern string
			want    bool
		}{
			{"normal pattern", "*.md", true},
			{"subdirectory pattern", "chapters/*.md", true},
			{"parent traversal", "../*", false},
			{"absolute pattern", "/etc/*", false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := store.List(ctx, tt.pattern)
				if tt.want && err != nil {
					t.Errorf("expected success, got error: %v", err)
				}
				if !tt.want && err == nil {
					t.Errorf("expected error for pattern %q, got none", tt.pattern)
				}
			})
		}
	})
}

func TestAppend(t *testing.T) {
	tempDir := t.TempDir()
	store := NewProjectDir(tempDir)
	ctx := context.Background()

	if err := store.Append(ctx, "runs/test.jsonl", []byte("{\"a\":1}\n")); err != nil {
		t.Fatalf("first Append() error = %v", err)
	}
	if err := store.Append(ctx, "runs/test.jsonl", []byte("{\"a\":2}\n")); err != nil {
		t.Fatalf("second Append() error = %v", err)
	}

	data, err := store.Load(ctx, "runs/test.jsonl")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("got %d lines, want 2", len(lines))
	}

	if err := store.Append(ctx, "../escape.jsonl", []byte("x")); err == nil {
		t.Error("Append() with traversal path should fail")
	}
}

func TestSanitizePath(t *testing.T) {
	tempDir := t.TempDir()
	store := &ProjectDir{baseDir: tempDir}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"simple file", "bible.md", false},
		{"nested file", "memory/facts.json", false},
		{"dot file", ".sessions", false},
		{"parent directory", "../bible.md", true},
		{"sneaky parent", "memory/../../../etc/passwd", true},
		{"absolute path", "/etc/passwd", true},
		{"empty path", "", false},
		{"dot path", ".", false},
		{"double dot", "..", true},
		{"contains double dot", "some/..thing/file", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.sanitizePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("sanitizePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
				return
			}
			if err == nil && !strings.HasPrefix(got, tempDir) {
				t.Errorf("sanitizePath(%q) = %q, not under base directory %q", tt.path, got, tempDir)
			}
		})
	}
}
