package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/vampirenirmal/novelist/internal/storage"
)

func TestPlantAssignsSequentialIDs(t *testing.T) {
	m := NewForeshadowManager(storage.NewProjectDir(t.TempDir()))
	ctx := context.Background()

	first, err := m.Plant(ctx, "灯台守は一度も姿を見せない", "chapter_001", "", PriorityHigh, nil)
	if err != nil {
		t.Fatalf("Plant() error = %v", err)
	}
	if first != "fs001" {
		t.Errorf("first id = %q, want fs001", first)
	}

	second, err := m.Plant(ctx, "灯台守は一度も姿を見せない", "chapter_001", "", PriorityHigh, nil)
	if err != nil {
		t.Fatal(err)
	}
	if second != "fs002" {
		t.Errorf("replanting identical content = %q, want distinct fs002", second)
	}
}

func TestResolveIsTerminalAndIdempotent(t *testing.T) {
	m := NewForeshadowManager(storage.NewProjectDir(t.TempDir()))
	ctx := context.Background()

	id, err := m.Plant(ctx, "錆びた鍵の出どころ", "chapter_001", "", PriorityMedium, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Resolve(ctx, id, "chapter_003", "鍵は灯台の物だった"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	all, err := m.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := all[0]
	if got.Status != StatusResolved {
		t.Errorf("Status = %q", got.Status)
	}
	if got.ResolutionChapter != "chapter_003" {
		t.Errorf("ResolutionChapter = %q", got.ResolutionChapter)
	}
	if len(got.RelatedChapters) != 2 || got.RelatedChapters[1] != "chapter_003" {
		t.Errorf("RelatedChapters = %v", got.RelatedChapters)
	}

	// Second resolve must change nothing
	if err := m.Resolve(ctx, id, "chapter_007", "別の理由"); err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	all, _ = m.All(ctx)
	if all[0].ResolutionChapter != "chapter_003" || len(all[0].RelatedChapters) != 2 {
		t.Errorf("second Resolve() mutated the record: %+v", all[0])
	}

	// Abandon after resolve must also be a no-op
	if err := m.Abandon(ctx, id, "chapter_008", ""); err != nil {
		t.Fatal(err)
	}
	all, _ = m.All(ctx)
	if all[0].Status != StatusResolved {
		t.Errorf("terminal status changed to %q", all[0].Status)
	}
}

func TestResolveUnknownIDIsNoOp(t *testing.T) {
	m := NewForeshadowManager(storage.NewProjectDir(t.TempDir()))
	ctx := context.Background()

	if err := m.Resolve(ctx, "fs999", "chapter_001", "note"); err != nil {
		t.Errorf("Resolve() on absent id error = %v, want nil", err)
	}
}

func TestAbandonDefaultsNote(t *testing.T) {
	m := NewForeshadowManager(storage.NewProjectDir(t.TempDir()))
	ctx := context.Background()

	id, err := m.Plant(ctx, "裏路地の占い師", "chapter_002", "", PriorityLow, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Abandon(ctx, id, "chapter_004", ""); err != nil {
		t.Fatal(err)
	}

	all, _ := m.All(ctx)
	if all[0].Status != StatusAbandoned || all[0].ResolutionNote != "Abandoned" {
		t.Errorf("abandoned record = %+v", all[0])
	}
}

func TestUnresolvedSortsByPriority(t *testing.T) {
	m := NewForeshadowManager(storage.NewProjectDir(t.TempDir()))
	ctx := context.Background()

	if _, err := m.Plant(ctx, "低優先の伏線", "chapter_001", "", PriorityLow, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Plant(ctx, "高優先の伏線", "chapter_001", "", PriorityHigh, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Plant(ctx, "中優先の伏線", "chapter_001", "", PriorityMedium, nil); err != nil {
		t.Fatal(err)
	}

	got, err := m.Unresolved(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("Unresolved() = %d records", len(got))
	}
	if got[0].Priority != PriorityHigh || got[1].Priority != PriorityMedium || got[2].Priority != PriorityLow {
		t.Errorf("priority order = %s, %s, %s", got[0].Priority, got[1].Priority, got[2].Priority)
	}
}

func TestForContext(t *testing.T) {
	m := NewForeshadowManager(storage.NewProjectDir(t.TempDir()))
	ctx := context.Background()

	empty, err := m.ForContext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if empty != "" {
		t.Errorf("ForContext() on empty ledger = %q", empty)
	}

	open, err := m.Plant(ctx, "未回収の設定", "chapter_001", "", PriorityHigh, nil)
	if err != nil {
		t.Fatal(err)
	}
	closed, err := m.Plant(ctx, "回収済みの設定", "chapter_001", "", PriorityMedium, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Resolve(ctx, closed, "chapter_002", "回収した"); err != nil {
		t.Fatal(err)
	}

	got, err := m.ForContext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "## Foreshadowing\n") {
		t.Errorf("missing header:\n%s", got)
	}
	if !strings.Contains(got, "["+open+"] 未回収の設定 (priority: high)") {
		t.Errorf("missing unresolved line:\n%s", got)
	}
	if !strings.Contains(got, "["+closed+"] 回収済みの設定 → chapter_002") {
		t.Errorf("missing resolved line:\n%s", got)
	}
}

func TestSuggestResolutions(t *testing.T) {
	m := NewForeshadowManager(storage.NewProjectDir(t.TempDir()))
	ctx := context.Background()

	targeted, err := m.Plant(ctx, "三章で回収予定", "chapter_001", "chapter_003", PriorityLow, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Plant(ctx, "まだ先の話", "chapter_001", "chapter_009", PriorityLow, nil); err != nil {
		t.Fatal(err)
	}

	got, err := m.SuggestResolutions(ctx, "chapter_003")
	if err != nil {
		t.Fatal(err)
	}
	ids := make(map[string]bool)
	for _, fs := range got {
		ids[fs.ID] = true
	}
	if !ids[targeted] {
		t.Errorf("targeted setup %s not suggested: %v", targeted, got)
	}
	if len(got) != 1 {
		t.Errorf("SuggestResolutions() = %d records, want 1", len(got))
	}
}

func TestStats(t *testing.T) {
	m := NewForeshadowManager(storage.NewProjectDir(t.TempDir()))
	ctx := context.Background()

	a, _ := m.Plant(ctx, "一つ目をしっかり張る", "chapter_001", "", PriorityHigh, nil)
	b, _ := m.Plant(ctx, "二つ目をしっかり張る", "chapter_001", "", PriorityLow, nil)
	if _, err := m.Plant(ctx, "三つ目をしっかり張る", "chapter_002", "", PriorityMedium, nil); err != nil {
		t.Fatal(err)
	}
	m.Resolve(ctx, a, "chapter_003", "回収")
	m.Abandon(ctx, b, "chapter_003", "")

	total, unresolved, resolved, abandoned, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || unresolved != 1 || resolved != 1 || abandoned != 1 {
		t.Errorf("Stats() = %d/%d/%d/%d", total, unresolved, resolved, abandoned)
	}
}
