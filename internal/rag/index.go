package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/novelist/internal/bible"
	"github.com/vampirenirmal/novelist/internal/memory"
	"github.com/vampirenirmal/novelist/internal/storage"
)

const indexPath = ".index/default_rag.json"

const minChapterChunkLen = 50

type indexFile struct {
	Vocab     map[string]int `json:"vocab"`
	IDF       []float64      `json:"idf"`
	Documents []Document     `json:"documents"`
}

// Save persists the fitted index under the project's .index directory.
func (r *Retriever) Save(ctx context.Context, store storage.Store) error {
	data, err := json.Marshal(indexFile{
		Vocab:     r.vocab,
		IDF:       r.idf,
		Documents: r.documents,
	})
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}
	return store.Save(ctx, indexPath, data)
}

// Load restores a persisted index. A missing index file is not an
// error; the retriever just stays unfitted.
func (r *Retriever) Load(ctx context.Context, store storage.Store) error {
	if !store.Exists(ctx, indexPath) {
		return nil
	}

	data, err := store.Load(ctx, indexPath)
	if err != nil {
		return fmt.Errorf("loading index: %w", err)
	}

	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing index: %w", err)
	}

	r.vocab = f.Vocab
	if r.vocab == nil {
		r.vocab = make(map[string]int)
	}
	r.idf = f.IDF
	r.documents = f.Documents
	r.fitted = len(f.Documents) > 0

	return nil
}

var (
	bibleSectionRe = regexp.MustCompile(`(?m)^##\s`)
	paragraphSplit = regexp.MustCompile(`\n\s*\n`)
)

// Indexer gathers project content into documents and fits a retriever
// over them.
type Indexer struct {
	store      storage.Store
	characters *bible.CharacterLoader
	facts      *memory.FactsManager
	foreshadow *memory.ForeshadowManager
	logger     *slog.Logger
}

func NewIndexer(store storage.Store) *Indexer {
	return &Indexer{
		store:      store,
		characters: bible.NewCharacterLoader(store),
		facts:      memory.NewFactsManager(store),
		foreshadow: memory.NewForeshadowManager(store),
		logger:     slog.Default().With("component", "rag_indexer"),
	}
}

// Build collects every indexable source concurrently, fits a fresh
// retriever, and persists it.
func (ix *Indexer) Build(ctx context.Context) (*Retriever, error) {
	var (
		mu   sync.Mutex
		docs []Document
	)
	add := func(batch []Document) {
		mu.Lock()
		docs = append(docs, batch...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		batch, err := ix.bibleDocuments(gctx)
		if err != nil {
			return err
		}
		add(batch)
		return nil
	})
	g.Go(func() error {
		batch, err := ix.characterDocuments(gctx)
		if err != nil {
			return err
		}
		add(batch)
		return nil
	})
	g.Go(func() error {
		batch, err := ix.factDocuments(gctx)
		if err != nil {
			return err
		}
		add(batch)
		return nil
	})
	g.Go(func() error {
		batch, err := ix.foreshadowDocuments(gctx)
		if err != nil {
			return err
		}
		add(batch)
		return nil
	})
	g.Go(func() error {
		batch, err := ix.chapterDocuments(gctx)
		if err != nil {
			return err
		}
		add(batch)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Deterministic fit regardless of goroutine completion order
	sortDocuments(docs)

	r := NewRetriever()
	r.Fit(docs)

	if err := r.Save(ctx, ix.store); err != nil {
		return nil, err
	}

	ix.logger.Info("retrieval index built",
		"documents", len(docs),
		"vocab_size", len(r.vocab))
	return r, nil
}

func sortDocuments(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}

// bibleDocuments splits bible.md into one document per ## section.
func (ix *Indexer) bibleDocuments(ctx context.Context) ([]Document, error) {
	if !ix.store.Exists(ctx, "bible.md") {
		return nil, nil
	}

	data, err := ix.store.Load(ctx, "bible.md")
	if err != nil {
		return nil, err
	}

	var docs []Document
	content := string(data)
	locs := bibleSectionRe.FindAllStringIndex(content, -1)
	for i, loc := range locs {
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		section := strings.TrimSpace(content[loc[0]:end])
		if section == "" {
			continue
		}
		docs = append(docs, Document{
			ID:      fmt.Sprintf("bible_%d", i),
			Content: section,
			Source:  "bible.md",
			DocType: DocTypeBible,
		})
	}
	return docs, nil
}

func (ix *Indexer) characterDocuments(ctx context.Context) ([]Document, error) {
	chars, err := ix.characters.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	var docs []Document
	for _, c := range chars {
		docs = append(docs, Document{
			ID:      "char_" + c.ID,
			Content: c.FormatForPrompt(),
			Source:  filepath.Join("characters", c.ID+".json"),
			DocType: DocTypeCharacter,
			Metadata: map[string]string{
				"name": c.Name.Full,
			},
		})
	}
	return docs, nil
}

func (ix *Indexer) factDocuments(ctx context.Context) ([]Document, error) {
	facts, err := ix.facts.All(ctx)
	if err != nil {
		return nil, err
	}

	var docs []Document
	for _, f := range facts {
		docs = append(docs, Document{
			ID:      "fact_" + f.ID,
			Content: f.Content,
			Source:  f.Source,
			DocType: DocTypeFact,
			Metadata: map[string]string{
				"category": f.Category,
			},
		})
	}
	return docs, nil
}

func (ix *Indexer) foreshadowDocuments(ctx context.Context) ([]Document, error) {
	open, err := ix.foreshadow.Unresolved(ctx)
	if err != nil {
		return nil, err
	}

	var docs []Document
	for _, fs := range open {
		docs = append(docs, Document{
			ID:      "fs_" + fs.ID,
			Content: fs.Content,
			Source:  fs.CreatedIn,
			DocType: DocTypeForeshadowing,
			Metadata: map[string]string{
				"priority": fs.Priority,
			},
		})
	}
	return docs, nil
}

// chapterDocuments chunks finished chapters by paragraph, skipping
// fragments too short to retrieve meaningfully.
func (ix *Indexer) chapterDocuments(ctx context.Context) ([]Document, error) {
	paths, err := ix.store.List(ctx, "chapters/*.md")
	if err != nil {
		return nil, err
	}

	var docs []Document
	for _, p := range paths {
		data, err := ix.store.Load(ctx, p)
		if err != nil {
			return nil, err
		}

		stem := strings.TrimSuffix(filepath.Base(p), ".md")
		chunk := 0
		for _, para := range paragraphSplit.Split(string(data), -1) {
			para = strings.TrimSpace(para)
			if len([]rune(para)) <= minChapterChunkLen {
				continue
			}
			docs = append(docs, Document{
				ID:      fmt.Sprintf("ch_%s_%d", stem, chunk),
				Content: para,
				Source:  p,
				DocType: DocTypeChapter,
			})
			chunk++
		}
	}
	return docs, nil
}

// FormatResults renders search results as a prompt block grouped by
// document type. Empty results render nothing.
func FormatResults(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	byType := make(map[string][]SearchResult)
	var typeOrder []string
	for _, res := range results {
		if _, ok := byType[res.Document.DocType]; !ok {
			typeOrder = append(typeOrder, res.Document.DocType)
		}
		byType[res.Document.DocType] = append(byType[res.Document.DocType], res)
	}

	var sb strings.Builder
	sb.WriteString("## Retrieved Context\n")
	for _, dt := range typeOrder {
		fmt.Fprintf(&sb, "### %s\n", dt)
		for _, res := range byType[dt] {
			fmt.Fprintf(&sb, "- %s\n", strings.TrimSpace(res.Document.Content))
		}
	}
	return sb.String()
}
