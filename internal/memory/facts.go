package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/vampirenirmal/novelist/internal/storage"
)

const (
	factsPath        = "memory/facts.json"
	factsArchivePath = "memory/facts_archive.json"
	defaultMaxFacts  = 50
)

// Fact is one established story fact.
type Fact struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Category  string   `json:"category"`
	Source    string   `json:"source"`
	CreatedAt string   `json:"created_at"`
	Tags      []string `json:"tags,omitempty"`
}

type factsMeta struct {
	Description string `json:"description"`
	Count       int    `json:"count"`
}

type factsFile struct {
	Meta  factsMeta `json:"_meta"`
	Facts []Fact    `json:"facts"`
}

type factsArchive struct {
	Facts []Fact `json:"facts"`
}

// FactsManager owns the established-facts store. Facts get monotonic
// f-prefixed ids; when the store exceeds its cap the oldest facts move
// to an archive file instead of being dropped.
type FactsManager struct {
	store    storage.Store
	maxFacts int
	logger   *slog.Logger
}

func NewFactsManager(store storage.Store) *FactsManager {
	return &FactsManager{
		store:    store,
		maxFacts: defaultMaxFacts,
		logger:   slog.Default().With("component", "facts_manager"),
	}
}

// SetMaxFacts overrides the archival threshold, used by tests and
// project config.
func (m *FactsManager) SetMaxFacts(n int) {
	if n > 0 {
		m.maxFacts = n
	}
}

func (m *FactsManager) load(ctx context.Context) (*factsFile, error) {
	if !m.store.Exists(ctx, factsPath) {
		return &factsFile{
			Meta: factsMeta{Description: "Established story facts"},
		}, nil
	}

	data, err := m.store.Load(ctx, factsPath)
	if err != nil {
		return nil, fmt.Errorf("loading facts: %w", err)
	}

	var f factsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing facts file: %w", err)
	}
	return &f, nil
}

func (m *FactsManager) save(ctx context.Context, f *factsFile) error {
	f.Meta.Count = len(f.Facts)
	if f.Meta.Description == "" {
		f.Meta.Description = "Established story facts"
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling facts: %w", err)
	}
	return m.store.Save(ctx, factsPath, append(data, '\n'))
}

// nextID picks the first id above every existing one, so ids stay
// unique even after older facts are archived.
func nextFactID(facts []Fact) string {
	max := 0
	for _, f := range facts {
		var n int
		if _, err := fmt.Sscanf(f.ID, "f%03d", &n); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("f%03d", max+1)
}

// Add records a new fact and returns its assigned id. When the store
// grows past the cap, the oldest overflow moves to the archive.
func (m *FactsManager) Add(ctx context.Context, content, category, source string, tags []string) (string, error) {
	f, err := m.load(ctx)
	if err != nil {
		return "", err
	}

	// Duplicate content is a no-op returning the existing id
	for _, existing := range f.Facts {
		if existing.Content == content {
			return existing.ID, nil
		}
	}

	fact := Fact{
		ID:        nextFactID(f.Facts),
		Content:   content,
		Category:  category,
		Source:    source,
		CreatedAt: time.Now().Format(time.RFC3339),
		Tags:      tags,
	}
	f.Facts = append(f.Facts, fact)

	if len(f.Facts) > m.maxFacts {
		overflow := len(f.Facts) - m.maxFacts
		if err := m.archive(ctx, f.Facts[:overflow]); err != nil {
			return "", err
		}
		m.logger.Info("archived oldest facts",
			"archived", overflow,
			"remaining", m.maxFacts)
		f.Facts = f.Facts[overflow:]
	}

	if err := m.save(ctx, f); err != nil {
		return "", err
	}
	return fact.ID, nil
}

func (m *FactsManager) archive(ctx context.Context, facts []Fact) error {
	var arch factsArchive
	if m.store.Exists(ctx, factsArchivePath) {
		data, err := m.store.Load(ctx, factsArchivePath)
		if err != nil {
			return fmt.Errorf("loading facts archive: %w", err)
		}
		if err := json.Unmarshal(data, &arch); err != nil {
			return fmt.Errorf("parsing facts archive: %w", err)
		}
	}

	arch.Facts = append(arch.Facts, facts...)

	data, err := json.MarshalIndent(&arch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling facts archive: %w", err)
	}
	return m.store.Save(ctx, factsArchivePath, append(data, '\n'))
}

// All returns every active (non-archived) fact in insertion order.
func (m *FactsManager) All(ctx context.Context) ([]Fact, error) {
	f, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return f.Facts, nil
}

// Archived returns the archived facts in archival order.
func (m *FactsManager) Archived(ctx context.Context) ([]Fact, error) {
	if !m.store.Exists(ctx, factsArchivePath) {
		return nil, nil
	}
	data, err := m.store.Load(ctx, factsArchivePath)
	if err != nil {
		return nil, err
	}
	var arch factsArchive
	if err := json.Unmarshal(data, &arch); err != nil {
		return nil, fmt.Errorf("parsing facts archive: %w", err)
	}
	return arch.Facts, nil
}

// Search returns facts whose content or tags contain the query.
func (m *FactsManager) Search(ctx context.Context, query string) ([]Fact, error) {
	all, err := m.All(ctx)
	if err != nil {
		return nil, err
	}

	var out []Fact
	for _, f := range all {
		if strings.Contains(f.Content, query) {
			out = append(out, f)
			continue
		}
		for _, tag := range f.Tags {
			if strings.Contains(tag, query) {
				out = append(out, f)
				break
			}
		}
	}
	return out, nil
}

// ForContext renders facts as a bullet list capped at maxChars bytes.
// Truncation appends "..." so consumers can tell the list was cut.
func (m *FactsManager) ForContext(ctx context.Context, maxChars int) (string, error) {
	all, err := m.All(ctx)
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "", nil
	}

	var sb strings.Builder
	truncated := false
	for _, f := range all {
		line := "- " + f.Content + "\n"
		if sb.Len()+len(line) > maxChars {
			truncated = true
			break
		}
		sb.WriteString(line)
	}

	out := sb.String()
	if truncated {
		out = strings.TrimRight(out, "\n") + "\n..."
	}
	return out, nil
}

// Declarative sentence shapes worth keeping as facts: a topic marked
// with は/が followed by a predicate.
var factSentenceRe = regexp.MustCompile(`[^。]+?(?:は|が)[^。]+?(?:である|だった|で|に|を)[^。]*`)

const (
	minExtractedFactLen = 10
	maxExtractedFactLen = 100
	maxExtractedFacts   = 5
)

// ExtractFromText pulls candidate facts from prose with a shallow
// pattern match. Dialogue and fragments are filtered out; at most five
// candidates are returned.
func ExtractFromText(text string) []string {
	matches := factSentenceRe.FindAllString(text, -1)

	var out []string
	seen := make(map[string]bool)
	for _, match := range matches {
		candidate := strings.TrimSpace(match)
		runes := len([]rune(candidate))
		if runes <= minExtractedFactLen || runes >= maxExtractedFactLen {
			continue
		}
		if strings.Contains(candidate, "「") {
			continue
		}
		if seen[candidate] {
			continue
		}
		seen[candidate] = true
		out = append(out, candidate)
		if len(out) >= maxExtractedFacts {
			break
		}
	}
	return out
}
