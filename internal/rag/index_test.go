package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/vampirenirmal/novelist/internal/bible"
	"github.com/vampirenirmal/novelist/internal/memory"
	"github.com/vampirenirmal/novelist/internal/storage"
)

func seedProject(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()

	bibleMD := `# Bible

## 文体規約

- 視点: 三人称一元

## 世界観

蒸気機関と錬金術の港湾都市。灯台が港を照らす。
`
	if err := store.Save(ctx, "bible.md", []byte(bibleMD)); err != nil {
		t.Fatal(err)
	}

	loader := bible.NewCharacterLoader(store)
	if err := loader.Save(ctx, &bible.Character{
		ID:   "rin",
		Name: bible.CharacterName{Full: "綾瀬りん", Short: "りん"},
		Language: bible.CharacterLanguage{
			FirstPerson:    "あたし",
			Tone:           "ぶっきらぼう",
			SpeechPattern:  "短文",
			ForbiddenWords: []string{"ですわ"},
		},
		Personality: bible.CharacterPersonality{Values: []string{"職人気質"}},
	}); err != nil {
		t.Fatal(err)
	}

	facts := memory.NewFactsManager(store)
	if _, err := facts.Add(ctx, "灯台は汽霊の燃料庫である", "world", "chapter_001", nil); err != nil {
		t.Fatal(err)
	}

	fs := memory.NewForeshadowManager(store)
	if _, err := fs.Plant(ctx, "灯台守は一度も姿を見せない", "chapter_001", "", memory.PriorityHigh, nil); err != nil {
		t.Fatal(err)
	}

	chapter := "りんは夜明け前に工房を出た。通りはまだ暗く、霧が石畳を湿らせ、遠くの港の方角だけが灯台の明かりで薄く光っていた。彼女は外套の襟を立てて歩き出した。\n\n" +
		"短い段落。\n\n" +
		"灯台の扉には錆びた鍵穴があり、りんが床下から拾い上げた鍵とよく似た形をしていた。彼女は冷たい金属を握りしめ、息を整えてからゆっくりと扉に手をかけた。\n"
	if err := store.Save(ctx, "chapters/chapter_001.md", []byte(chapter)); err != nil {
		t.Fatal(err)
	}
}

func TestIndexerBuild(t *testing.T) {
	store := storage.NewProjectDir(t.TempDir())
	seedProject(t, store)
	ctx := context.Background()

	r, err := NewIndexer(store).Build(ctx)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !r.Fitted() {
		t.Fatal("retriever not fitted after Build()")
	}

	byType := make(map[string]int)
	ids := make(map[string]bool)
	for _, doc := range r.Documents() {
		byType[doc.DocType]++
		ids[doc.ID] = true
	}

	if byType[DocTypeBible] != 2 {
		t.Errorf("bible docs = %d, want 2", byType[DocTypeBible])
	}
	if !ids["char_rin"] {
		t.Error("character doc missing")
	}
	if !ids["fact_f001"] {
		t.Error("fact doc missing")
	}
	if !ids["fs_fs001"] {
		t.Error("foreshadowing doc missing")
	}
	// The short paragraph is skipped; chunk numbering stays dense
	if !ids["ch_chapter_001_0"] || !ids["ch_chapter_001_1"] {
		t.Errorf("chapter chunks = %v", ids)
	}
	if byType[DocTypeChapter] != 2 {
		t.Errorf("chapter docs = %d, want 2", byType[DocTypeChapter])
	}
}

func TestIndexSaveLoadRoundTrip(t *testing.T) {
	store := storage.NewProjectDir(t.TempDir())
	seedProject(t, store)
	ctx := context.Background()

	built, err := NewIndexer(store).Build(ctx)
	if err != nil {
		t.Fatal(err)
	}

	loaded := NewRetriever()
	if err := loaded.Load(ctx, store); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !loaded.Fitted() {
		t.Fatal("loaded retriever not fitted")
	}
	if len(loaded.Documents()) != len(built.Documents()) {
		t.Errorf("loaded %d docs, built %d", len(loaded.Documents()), len(built.Documents()))
	}

	// Same query, same top hit on both sides
	a := built.Search("灯台の燃料庫", "", 1)
	b := loaded.Search("灯台の燃料庫", "", 1)
	if len(a) == 0 || len(b) == 0 || a[0].Document.ID != b[0].Document.ID {
		t.Errorf("search diverged after reload: %v vs %v", a, b)
	}
}

func TestLoadMissingIndexIsNotFitted(t *testing.T) {
	store := storage.NewProjectDir(t.TempDir())
	r := NewRetriever()

	if err := r.Load(context.Background(), store); err != nil {
		t.Fatalf("Load() on missing index error = %v", err)
	}
	if r.Fitted() {
		t.Error("retriever claims fitted with no index file")
	}
}

func TestFormatResults(t *testing.T) {
	if got := FormatResults(nil); got != "" {
		t.Errorf("FormatResults(nil) = %q", got)
	}

	results := []SearchResult{
		{Document: Document{ID: "bible_0", Content: "視点は三人称", DocType: DocTypeBible}, Score: 0.9},
		{Document: Document{ID: "fact_f001", Content: "灯台は燃料庫", DocType: DocTypeFact}, Score: 0.7},
		{Document: Document{ID: "bible_1", Content: "港湾都市", DocType: DocTypeBible}, Score: 0.5},
	}

	got := FormatResults(results)
	if !strings.HasPrefix(got, "## Retrieved Context\n") {
		t.Errorf("missing header:\n%s", got)
	}
	if !strings.Contains(got, "### bible\n- 視点は三人称\n") {
		t.Errorf("bible group malformed:\n%s", got)
	}
	if strings.Index(got, "### bible") > strings.Index(got, "### fact") {
		t.Errorf("group order should follow first appearance:\n%s", got)
	}
	if strings.Count(got, "### bible") != 1 {
		t.Errorf("bible group duplicated:\n%s", got)
	}
}
