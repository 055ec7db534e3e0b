package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Agent role names, used for routing and logging.
const (
	RoleDirector  = "director"
	RoleWriter    = "writer"
	RoleChecker   = "checker"
	RoleEditor    = "editor"
	RoleCommitter = "committer"
)

// SceneRef identifies the scene a plan is for.
type SceneRef struct {
	ID                string `json:"id,omitempty"`
	Chapter           int    `json:"chapter,omitempty"`
	SequenceInChapter int    `json:"sequence_in_chapter,omitempty"`
	Title             string `json:"title,omitempty"`
}

// NarrativeSpec is the story-level part of a scene plan.
type NarrativeSpec struct {
	Objective   string   `json:"objective"`
	Summary     string   `json:"summary"`
	KeyEvents   []string `json:"key_events,omitempty"`
	Revelations []string `json:"revelations,omitempty"`
	Hooks       []string `json:"hooks,omitempty"`
}

// ConstraintSpec bounds how the scene is written.
type ConstraintSpec struct {
	POVCharacter      string   `json:"pov_character,omitempty"`
	Location          string   `json:"location,omitempty"`
	Mood              string   `json:"mood,omitempty"`
	CharactersPresent []string `json:"characters_present,omitempty"`
	WordCount         int      `json:"word_count,omitempty"`
}

// StyleSpec tunes the writer's delivery.
type StyleSpec struct {
	Pacing        string `json:"pacing,omitempty"`
	DialogueRatio string `json:"dialogue_ratio,omitempty"`
}

// PlantSpec asks the committer to plant one foreshadowing. Models emit
// either a bare content string or an object with a target and priority.
type PlantSpec struct {
	Content          string `json:"content"`
	TargetResolution string `json:"target_resolution,omitempty"`
	Priority         string `json:"priority,omitempty"`
}

func (p *PlantSpec) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &p.Content)
	}
	type plain PlantSpec
	return json.Unmarshal(data, (*plain)(p))
}

// ResolveSpec asks the committer to resolve a planted foreshadowing.
// Models emit either a bare id string or an object with a note.
type ResolveSpec struct {
	ID   string `json:"id"`
	Note string `json:"note,omitempty"`
}

func (r *ResolveSpec) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	type plain ResolveSpec
	return json.Unmarshal(data, (*plain)(r))
}

// ContinuitySpec carries the scene's memory obligations.
type ContinuitySpec struct {
	FactsToReinforce       []string      `json:"facts_to_reinforce,omitempty"`
	ForeshadowingToResolve []ResolveSpec `json:"foreshadowing_to_resolve,omitempty"`
	ForeshadowingToPlant   []PlantSpec   `json:"foreshadowing_to_plant,omitempty"`
}

// SceneSpec is the director's structured plan for one scene. When the
// director's output cannot be parsed, Raw holds the unstructured text
// and the rest stays zero.
type SceneSpec struct {
	Scene       SceneRef       `json:"scene"`
	Narrative   NarrativeSpec  `json:"narrative"`
	Constraints ConstraintSpec `json:"constraints"`
	Continuity  ContinuitySpec `json:"continuity"`
	Style       StyleSpec      `json:"style"`
	Raw         string         `json:"raw,omitempty"`
}

// Degraded reports whether this spec is an unparsed fallback.
func (s *SceneSpec) Degraded() bool {
	return s.Raw != ""
}

// Description renders the spec for the writer's prompt.
func (s *SceneSpec) Description() string {
	if s.Degraded() {
		return s.Raw
	}

	var sb strings.Builder
	if s.Scene.Title != "" {
		fmt.Fprintf(&sb, "題: %s\n", s.Scene.Title)
	}
	if s.Narrative.Objective != "" {
		fmt.Fprintf(&sb, "目的: %s\n", s.Narrative.Objective)
	}
	if s.Narrative.Summary != "" {
		fmt.Fprintf(&sb, "概要: %s\n", s.Narrative.Summary)
	}
	if len(s.Narrative.KeyEvents) > 0 {
		fmt.Fprintf(&sb, "必須: %s\n", strings.Join(s.Narrative.KeyEvents, "、"))
	}
	if len(s.Narrative.Revelations) > 0 {
		fmt.Fprintf(&sb, "明かす: %s\n", strings.Join(s.Narrative.Revelations, "、"))
	}
	if len(s.Narrative.Hooks) > 0 {
		fmt.Fprintf(&sb, "引き: %s\n", strings.Join(s.Narrative.Hooks, "、"))
	}
	if s.Constraints.Location != "" {
		fmt.Fprintf(&sb, "場所: %s\n", s.Constraints.Location)
	}
	if s.Constraints.Mood != "" {
		fmt.Fprintf(&sb, "雰囲気: %s\n", s.Constraints.Mood)
	}
	if s.Style.Pacing != "" {
		fmt.Fprintf(&sb, "緩急: %s\n", s.Style.Pacing)
	}
	if s.Style.DialogueRatio != "" {
		fmt.Fprintf(&sb, "会話量: %s\n", s.Style.DialogueRatio)
	}
	return sb.String()
}

// Issue categories.
const (
	CategoryFact      = "fact"
	CategoryCharacter = "character"
	CategoryWorld     = "world"
	CategoryPOV       = "pov"
	CategoryStyle     = "style"
)

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Issue is one consistency problem found by the checker.
type Issue struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// NeedsRevision reports whether an issue list warrants an editor pass.
func NeedsRevision(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError || issue.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// FormatReport renders issues for terminal display.
func FormatReport(issues []Issue) string {
	if len(issues) == 0 {
		return "No issues found."
	}

	var sb strings.Builder
	for _, issue := range issues {
		icon := "ℹ"
		switch issue.Severity {
		case SeverityError:
			icon = "✗"
		case SeverityWarning:
			icon = "⚠"
		}
		fmt.Fprintf(&sb, "%s [%s] %s", icon, issue.Category, issue.Description)
		if issue.Location != "" {
			fmt.Fprintf(&sb, " (%s)", issue.Location)
		}
		sb.WriteString("\n")
		if issue.Suggestion != "" {
			fmt.Fprintf(&sb, "  → %s\n", issue.Suggestion)
		}
	}
	return sb.String()
}

// Result carries per-call accounting back to the pipeline.
type Result struct {
	Agent        string
	DurationMs   int64
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Priced       bool
}
