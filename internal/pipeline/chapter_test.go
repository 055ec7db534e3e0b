package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/vampirenirmal/novelist/internal/storage"
)

func TestChapterAppendAndLoad(t *testing.T) {
	m := NewChapterManager(storage.NewProjectDir(t.TempDir()))
	ctx := context.Background()

	if m.Exists(ctx, 1) {
		t.Fatal("Exists() = true before any write")
	}

	if err := m.Append(ctx, 1, 1, "潮騒が窓を叩いていた。"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// A single-scene chapter file is the scene text, nothing else
	text, err := m.Load(ctx, 1)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if text != "潮騒が窓を叩いていた。\n" {
		t.Errorf("chapter text = %q, want scene text verbatim", text)
	}

	if err := m.Append(ctx, 1, 2, "翌朝、港は霧に沈んでいた。"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	text, err = m.Load(ctx, 1)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if text != "潮騒が窓を叩いていた。\n\n翌朝、港は霧に沈んでいた。\n" {
		t.Errorf("chapter text = %q, want scenes joined by a blank line", text)
	}
	first := strings.Index(text, "潮騒")
	second := strings.Index(text, "翌朝")
	if first < 0 || second < first {
		t.Error("scenes out of order")
	}
}

func TestChapterAppendRejectsEmpty(t *testing.T) {
	m := NewChapterManager(storage.NewProjectDir(t.TempDir()))
	if err := m.Append(context.Background(), 1, 1, "  \n"); err == nil {
		t.Error("Append() error = nil for empty scene")
	}
}

func TestChapterList(t *testing.T) {
	m := NewChapterManager(storage.NewProjectDir(t.TempDir()))
	ctx := context.Background()

	chapters, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(chapters) != 0 {
		t.Errorf("List() = %v, want empty", chapters)
	}

	for _, n := range []int{3, 1, 10} {
		if err := m.Append(ctx, n, 1, "本文。"); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	chapters, err = m.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []int{1, 3, 10}
	if len(chapters) != len(want) {
		t.Fatalf("List() = %v, want %v", chapters, want)
	}
	for i := range want {
		if chapters[i] != want[i] {
			t.Errorf("List()[%d] = %d, want %d", i, chapters[i], want[i])
		}
	}
}
