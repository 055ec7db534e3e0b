package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vampirenirmal/novelist/internal/storage"
)

const foreshadowPath = "memory/foreshadow.json"

// Foreshadowing statuses. Resolved and abandoned are terminal: a
// record never leaves either state.
const (
	StatusUnresolved = "unresolved"
	StatusResolved   = "resolved"
	StatusAbandoned  = "abandoned"
)

// Priorities, highest first.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Foreshadowing is one planted narrative setup awaiting payoff.
type Foreshadowing struct {
	ID                string   `json:"id"`
	Content           string   `json:"content"`
	Status            string   `json:"status"`
	CreatedIn         string   `json:"created_in"`
	TargetResolution  string   `json:"target_resolution,omitempty"`
	RelatedChapters   []string `json:"related_chapters,omitempty"`
	ResolutionChapter string   `json:"resolution_chapter,omitempty"`
	ResolutionNote    string   `json:"resolution_note,omitempty"`
	Priority          string   `json:"priority"`
	Tags              []string `json:"tags,omitempty"`
}

type foreshadowMeta struct {
	Description string `json:"description"`
	Total       int    `json:"total"`
	Unresolved  int    `json:"unresolved"`
	Resolved    int    `json:"resolved"`
	Abandoned   int    `json:"abandoned"`
}

type foreshadowFile struct {
	Meta           foreshadowMeta  `json:"_meta"`
	Foreshadowings []Foreshadowing `json:"foreshadowings"`
}

// ForeshadowManager owns the foreshadowing ledger.
type ForeshadowManager struct {
	store  storage.Store
	logger *slog.Logger
}

func NewForeshadowManager(store storage.Store) *ForeshadowManager {
	return &ForeshadowManager{
		store:  store,
		logger: slog.Default().With("component", "foreshadow_manager"),
	}
}

func (m *ForeshadowManager) load(ctx context.Context) (*foreshadowFile, error) {
	if !m.store.Exists(ctx, foreshadowPath) {
		return &foreshadowFile{
			Meta: foreshadowMeta{Description: "Planted and resolved foreshadowing"},
		}, nil
	}

	data, err := m.store.Load(ctx, foreshadowPath)
	if err != nil {
		return nil, fmt.Errorf("loading foreshadowing: %w", err)
	}

	var f foreshadowFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing foreshadowing file: %w", err)
	}
	return &f, nil
}

func (m *ForeshadowManager) save(ctx context.Context, f *foreshadowFile) error {
	f.Meta.Total = len(f.Foreshadowings)
	f.Meta.Unresolved, f.Meta.Resolved, f.Meta.Abandoned = 0, 0, 0
	for _, fs := range f.Foreshadowings {
		switch fs.Status {
		case StatusResolved:
			f.Meta.Resolved++
		case StatusAbandoned:
			f.Meta.Abandoned++
		default:
			f.Meta.Unresolved++
		}
	}
	if f.Meta.Description == "" {
		f.Meta.Description = "Planted and resolved foreshadowing"
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling foreshadowing: %w", err)
	}
	return m.store.Save(ctx, foreshadowPath, append(data, '\n'))
}

func nextForeshadowID(items []Foreshadowing) string {
	max := 0
	for _, fs := range items {
		var n int
		if _, err := fmt.Sscanf(fs.ID, "fs%03d", &n); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("fs%03d", max+1)
}

// Plant records a new unresolved foreshadowing and returns its id.
// Planting is never deduplicated: the same content planted twice is
// two distinct setups.
func (m *ForeshadowManager) Plant(ctx context.Context, content, chapter, targetResolution, priority string, tags []string) (string, error) {
	f, err := m.load(ctx)
	if err != nil {
		return "", err
	}

	if priority == "" {
		priority = PriorityMedium
	}

	fs := Foreshadowing{
		ID:               nextForeshadowID(f.Foreshadowings),
		Content:          content,
		Status:           StatusUnresolved,
		CreatedIn:        chapter,
		TargetResolution: targetResolution,
		RelatedChapters:  []string{chapter},
		Priority:         priority,
		Tags:             tags,
	}
	f.Foreshadowings = append(f.Foreshadowings, fs)

	if err := m.save(ctx, f); err != nil {
		return "", err
	}

	m.logger.Info("foreshadowing planted",
		"id", fs.ID,
		"chapter", chapter,
		"priority", priority)
	return fs.ID, nil
}

// Resolve marks an unresolved foreshadowing as paid off. Absent ids
// and already-terminal records are no-ops, so a replayed commit cannot
// corrupt the ledger.
func (m *ForeshadowManager) Resolve(ctx context.Context, id, chapter, note string) error {
	return m.close(ctx, id, chapter, note, StatusResolved)
}

// Abandon marks an unresolved foreshadowing as deliberately dropped.
func (m *ForeshadowManager) Abandon(ctx context.Context, id, chapter, note string) error {
	if note == "" {
		note = "Abandoned"
	}
	return m.close(ctx, id, chapter, note, StatusAbandoned)
}

func (m *ForeshadowManager) close(ctx context.Context, id, chapter, note, status string) error {
	f, err := m.load(ctx)
	if err != nil {
		return err
	}

	for i := range f.Foreshadowings {
		fs := &f.Foreshadowings[i]
		if fs.ID != id {
			continue
		}
		if fs.Status != StatusUnresolved {
			// Terminal states never transition
			m.logger.Debug("skipping terminal foreshadowing",
				"id", id,
				"status", fs.Status)
			return nil
		}

		fs.Status = status
		fs.ResolutionChapter = chapter
		fs.ResolutionNote = note
		fs.RelatedChapters = append(fs.RelatedChapters, chapter)

		if err := m.save(ctx, f); err != nil {
			return err
		}
		m.logger.Info("foreshadowing closed",
			"id", id,
			"status", status,
			"chapter", chapter)
		return nil
	}

	m.logger.Warn("foreshadowing id not found", "id", id)
	return nil
}

// All returns every foreshadowing record in planting order.
func (m *ForeshadowManager) All(ctx context.Context) ([]Foreshadowing, error) {
	f, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return f.Foreshadowings, nil
}

var priorityRank = map[string]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// Unresolved returns open foreshadowings sorted high to low priority,
// planting order within a priority.
func (m *ForeshadowManager) Unresolved(ctx context.Context) ([]Foreshadowing, error) {
	all, err := m.All(ctx)
	if err != nil {
		return nil, err
	}

	var out []Foreshadowing
	for _, fs := range all {
		if fs.Status == StatusUnresolved {
			out = append(out, fs)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return priorityRank[out[i].Priority] < priorityRank[out[j].Priority]
	})
	return out, nil
}

// ForContext renders the ledger for prompt use: every open setup plus
// the three most recently resolved payoffs.
func (m *ForeshadowManager) ForContext(ctx context.Context) (string, error) {
	all, err := m.All(ctx)
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "", nil
	}

	unresolved, err := m.Unresolved(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("## Foreshadowing\n")
	for _, fs := range unresolved {
		fmt.Fprintf(&sb, "- [%s] %s (priority: %s)\n", fs.ID, fs.Content, fs.Priority)
	}

	var resolved []Foreshadowing
	for _, fs := range all {
		if fs.Status == StatusResolved {
			resolved = append(resolved, fs)
		}
	}
	if len(resolved) > 3 {
		resolved = resolved[len(resolved)-3:]
	}
	for _, fs := range resolved {
		fmt.Fprintf(&sb, "- [%s] %s → %s\n", fs.ID, fs.Content, fs.ResolutionChapter)
	}

	return sb.String(), nil
}

// SuggestResolutions returns open setups that are due: either targeted
// at this chapter, or high priority with a long related-chapter trail.
func (m *ForeshadowManager) SuggestResolutions(ctx context.Context, chapter string) ([]Foreshadowing, error) {
	unresolved, err := m.Unresolved(ctx)
	if err != nil {
		return nil, err
	}

	var out []Foreshadowing
	for _, fs := range unresolved {
		if fs.TargetResolution == chapter {
			out = append(out, fs)
			continue
		}
		if len(fs.RelatedChapters) >= 3 && fs.Priority == PriorityHigh {
			out = append(out, fs)
		}
	}
	return out, nil
}

// Stats reports ledger counts by status.
func (m *ForeshadowManager) Stats(ctx context.Context) (total, unresolved, resolved, abandoned int, err error) {
	all, err := m.All(ctx)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	for _, fs := range all {
		switch fs.Status {
		case StatusResolved:
			resolved++
		case StatusAbandoned:
			abandoned++
		default:
			unresolved++
		}
	}
	return len(all), unresolved, resolved, abandoned, nil
}
