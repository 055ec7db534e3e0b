package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/novelist/internal/memory"
	"github.com/vampirenirmal/novelist/internal/provider"
	nverrors "github.com/vampirenirmal/novelist/pkg/novelist/errors"
)

// Committer persists an accepted scene into project memory: episodic
// summary, extracted facts, and foreshadowing transitions. Commit
// failures are fatal so the scene counter never advances past
// unrecorded state.
type Committer struct {
	provider   provider.Provider
	facts      *memory.FactsManager
	foreshadow *memory.ForeshadowManager
	episodic   *memory.EpisodicManager
	logger     *slog.Logger
}

// NewCommitter builds a committer. The provider is optional; without
// it fact extraction falls back to the pattern-based pass.
func NewCommitter(p provider.Provider, facts *memory.FactsManager, foreshadow *memory.ForeshadowManager, episodic *memory.EpisodicManager) *Committer {
	return &Committer{
		provider:   p,
		facts:      facts,
		foreshadow: foreshadow,
		episodic:   episodic,
		logger:     slog.Default().With("component", "committer"),
	}
}

// Report describes everything one commit changed.
type Report struct {
	Chapter               int      `json:"chapter"`
	Scene                 int      `json:"scene"`
	EpisodicUpdated       bool     `json:"episodic_updated"`
	FactsAdded            []string `json:"facts_added"`
	ForeshadowingResolved []string `json:"foreshadowing_resolved"`
	ForeshadowingPlanted  []string `json:"foreshadowing_planted"`
}

// CommitRequest is the committer's input.
type CommitRequest struct {
	Text    string
	Spec    *SceneSpec
	Chapter int
	Scene   int
}

// Commit records the scene. Steps run in a fixed order; the first
// failing step aborts with a CommitError naming it.
func (c *Committer) Commit(ctx context.Context, req CommitRequest) (*Report, error) {
	report := &Report{
		Chapter:               req.Chapter,
		Scene:                 req.Scene,
		FactsAdded:            []string{},
		ForeshadowingResolved: []string{},
		ForeshadowingPlanted:  []string{},
	}
	chapterLabel := fmt.Sprintf("chapter_%03d", req.Chapter)

	// 1. Episodic summary
	summary := memory.Summarize(req.Text)
	if summary != "" {
		entry := memory.SceneSummary{
			Scene:     req.Scene,
			Chapter:   req.Chapter,
			KeyEvents: req.Spec.Narrative.KeyEvents,
			POV:       req.Spec.Constraints.POVCharacter,
			Summary:   summary,
		}
		if err := c.episodic.AddSceneSummary(ctx, entry); err != nil {
			return report, &nverrors.CommitError{Step: "episodic", Err: err}
		}
		report.EpisodicUpdated = true
	}

	// 2. Fact extraction
	for _, content := range c.extractFacts(ctx, req.Text) {
		id, err := c.facts.Add(ctx, content, "extracted", chapterLabel, nil)
		if err != nil {
			return report, &nverrors.CommitError{Step: "facts", Err: err}
		}
		report.FactsAdded = append(report.FactsAdded, id)
	}

	// 3. Foreshadowing payoffs
	for _, resolve := range req.Spec.Continuity.ForeshadowingToResolve {
		if err := c.foreshadow.Resolve(ctx, resolve.ID, chapterLabel, resolve.Note); err != nil {
			return report, &nverrors.CommitError{Step: "foreshadowing_resolve", Err: err}
		}
		report.ForeshadowingResolved = append(report.ForeshadowingResolved, resolve.ID)
	}

	// 4. New foreshadowing
	for _, plant := range req.Spec.Continuity.ForeshadowingToPlant {
		id, err := c.foreshadow.Plant(ctx, plant.Content, chapterLabel, plant.TargetResolution, plant.Priority, nil)
		if err != nil {
			return report, &nverrors.CommitError{Step: "foreshadowing_plant", Err: err}
		}
		report.ForeshadowingPlanted = append(report.ForeshadowingPlanted, id)
	}

	c.logger.Info("scene committed",
		"chapter", req.Chapter,
		"scene", req.Scene,
		"facts_added", len(report.FactsAdded),
		"resolved", len(report.ForeshadowingResolved),
		"planted", len(report.ForeshadowingPlanted))
	return report, nil
}

const factExtractionSystemPrompt = `あなたは小説の本文から確定した事実を抽出する係です。
世界観や人物について今後も変わらない事実だけを選び、JSON配列で出力してください。
例: ["灯台は汽霊の燃料庫である", "りんは左利きである"]
事実がなければ [] を出力してください。JSON配列のみを出力してください。`

// extractFacts asks the model for durable facts, falling back to the
// pattern-based extraction when the model is absent or unusable.
func (c *Committer) extractFacts(ctx context.Context, text string) []string {
	if c.provider == nil {
		return memory.ExtractFromText(text)
	}

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: factExtractionSystemPrompt},
		{Role: provider.RoleUser, Content: text},
	}
	params := provider.Params{
		Temperature: 0.2,
		MaxTokens:   500,
		TopP:        0.9,
		JSONMode:    true,
	}

	out, _, err := generate(ctx, c.provider, RoleCommitter, messages, params)
	if err != nil {
		c.logger.Debug("model fact extraction failed, using pattern pass", "error", err)
		return memory.ExtractFromText(text)
	}

	raw := ExtractJSONArray(out)
	if raw == "" {
		return memory.ExtractFromText(text)
	}

	var facts []string
	if err := json.Unmarshal([]byte(raw), &facts); err != nil {
		return memory.ExtractFromText(text)
	}

	var valid []string
	for _, f := range facts {
		if f = strings.TrimSpace(f); f != "" {
			valid = append(valid, f)
		}
	}
	return valid
}

// SuggestMemoryUpdates inspects a scene for memory-worthy changes the
// spec did not declare: unexpected fact statements and location or
// status changes for active characters.
func (c *Committer) SuggestMemoryUpdates(ctx context.Context, text string, activeCharacters []string) []string {
	var suggestions []string

	for _, fact := range memory.ExtractFromText(text) {
		suggestions = append(suggestions, "fact: "+fact)
	}

	for _, name := range activeCharacters {
		if name == "" {
			continue
		}
		for _, marker := range []string{"へ向かった", "に着いた", "を出た", "で倒れた"} {
			idx := strings.Index(text, name)
			if idx < 0 {
				break
			}
			if strings.Contains(text[idx:], marker) {
				suggestions = append(suggestions, "status: "+name+" の居場所が変わった可能性")
				break
			}
		}
	}

	return suggestions
}
