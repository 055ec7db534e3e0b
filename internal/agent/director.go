package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/novelist/internal/provider"
	nverrors "github.com/vampirenirmal/novelist/pkg/novelist/errors"
)

// Director plans scenes: it turns the user's intention plus retrieved
// context into a structured SceneSpec for the writer.
type Director struct {
	provider provider.Provider
	logger   *slog.Logger
}

func NewDirector(p provider.Provider) *Director {
	return &Director{
		provider: p,
		logger:   slog.Default().With("component", "director"),
	}
}

const directorSystemPrompt = `あなたは長編小説の構成を担当するディレクターです。
ユーザーの意図と提供された設定資料から、次のシーンの設計図をJSONで出力してください。

出力は以下のスキーマのJSONオブジェクトのみ。説明文は不要です。

{
  "scene": {"id": "ch001_s01", "chapter": 1, "sequence_in_chapter": 1, "title": "シーンの題"},
  "narrative": {
    "objective": "このシーンの物語上の目的",
    "summary": "シーンの概要（2〜3文）",
    "key_events": ["必ず起きる出来事"],
    "revelations": ["このシーンで明かされる事実"],
    "hooks": ["次のシーンへの引き"]
  },
  "constraints": {
    "pov_character": "視点人物",
    "location": "場所",
    "mood": "シーンの雰囲気",
    "characters_present": ["登場人物"],
    "word_count": 1500
  },
  "continuity": {
    "facts_to_reinforce": ["既出の事実で再確認すべきもの"],
    "foreshadowing_to_resolve": ["fs001"],
    "foreshadowing_to_plant": ["新しく張る伏線"]
  },
  "style": {"pacing": "normal", "dialogue_ratio": "medium"}
}`

// PlanRequest is the director's input.
type PlanRequest struct {
	Intention  string
	Retrieved  string
	Bible      string
	Characters string
	Facts      string
	Recap      string
	Chapter    int
	Scene      int
}

func directorParams() provider.Params {
	return provider.Params{
		Temperature: 0.5,
		MaxTokens:   2000,
		TopP:        0.9,
		JSONMode:    true,
	}
}

// Plan produces a SceneSpec. When the model's output is not valid
// JSON the spec degrades to its raw text and the returned error is a
// ParseError the pipeline may treat as recoverable.
func (d *Director) Plan(ctx context.Context, req PlanRequest) (*SceneSpec, *Result, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "## User Intention\n%s\n\n", req.Intention)
	if req.Retrieved != "" {
		prompt.WriteString(req.Retrieved + "\n\n")
	}
	if req.Bible != "" {
		fmt.Fprintf(&prompt, "## Bible\n%s\n\n", req.Bible)
	}
	if req.Characters != "" {
		fmt.Fprintf(&prompt, "## Characters\n%s\n\n", req.Characters)
	}
	if req.Facts != "" {
		fmt.Fprintf(&prompt, "## Established Facts\n%s\n\n", req.Facts)
	}
	if req.Recap != "" {
		fmt.Fprintf(&prompt, "## Recap\n%s\n\n", req.Recap)
	}
	fmt.Fprintf(&prompt, "## Scene Requirements\n第%d章 第%dシーンの設計図を作成してください。\n\n", req.Chapter, req.Scene)
	prompt.WriteString("スキーマ通りのJSONオブジェクトだけを出力してください。")

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: directorSystemPrompt},
		{Role: provider.RoleUser, Content: prompt.String()},
	}

	text, res, err := generate(ctx, d.provider, RoleDirector, messages, directorParams())
	if err != nil {
		return nil, res, &nverrors.GenerationError{Agent: RoleDirector, Err: err}
	}

	spec, parseErr := parseSceneSpec(text)
	if parseErr != nil {
		d.logger.Warn("scene spec did not parse, degrading to raw text",
			"error", parseErr,
			"output_length", len(text))
		return spec, res, parseErr
	}

	if spec.Scene.Chapter == 0 {
		spec.Scene.Chapter = req.Chapter
	}
	if spec.Scene.SequenceInChapter == 0 {
		spec.Scene.SequenceInChapter = req.Scene
	}

	d.logger.Info("scene planned",
		"chapter", spec.Scene.Chapter,
		"scene", spec.Scene.SequenceInChapter,
		"key_events", len(spec.Narrative.KeyEvents),
		"duration_ms", res.DurationMs)
	return spec, res, nil
}

func parseSceneSpec(text string) (*SceneSpec, error) {
	raw := ExtractJSONObject(text)
	if raw == "" {
		return &SceneSpec{Raw: text}, &nverrors.ParseError{
			What: "scene spec",
			Err:  fmt.Errorf("no JSON object in output"),
		}
	}

	var spec SceneSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return &SceneSpec{Raw: text}, &nverrors.ParseError{What: "scene spec", Err: err}
	}
	return &spec, nil
}
