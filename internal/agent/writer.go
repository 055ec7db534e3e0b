package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/vampirenirmal/novelist/internal/provider"
	nverrors "github.com/vampirenirmal/novelist/pkg/novelist/errors"
)

// Writer turns a SceneSpec into prose. Its failures are fatal to the
// scene: there is no degraded mode for missing text.
type Writer struct {
	provider provider.Provider
	logger   *slog.Logger
}

func NewWriter(p provider.Provider) *Writer {
	return &Writer{
		provider: p,
		logger:   slog.Default().With("component", "writer"),
	}
}

const writerSystemPrompt = `あなたは小説の本文を書く作家です。

以下を厳守してください。
- 小説の本文のみを出力する。前置き、解説、メタ発言は一切書かない。
- JSONやマークダウン記法を使わない。見出しも箇条書きも使わない。
- 指定された文体規約と視点を守る。
- 登場人物は各自の口調設定の通りに話す。`

// WriteRequest is the writer's input.
type WriteRequest struct {
	Spec        *SceneSpec
	Style       string
	World       string
	Characters  string
	Temperature float64
	WordCount   int
}

const (
	defaultWriterTemperature = 0.8
	defaultSceneWordCount    = 1500
	writerMaxTokensCap       = 4000
)

// Write generates the scene's prose and cleans model artifacts from
// it. Provider failures return a GenerationError.
func (w *Writer) Write(ctx context.Context, req WriteRequest) (string, *Result, error) {
	wordCount := req.WordCount
	if wordCount <= 0 {
		wordCount = req.Spec.Constraints.WordCount
	}
	if wordCount <= 0 {
		wordCount = defaultSceneWordCount
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = defaultWriterTemperature
	}

	maxTokens := wordCount * 2
	if maxTokens > writerMaxTokensCap {
		maxTokens = writerMaxTokensCap
	}

	var prompt strings.Builder
	if req.Style != "" {
		prompt.WriteString(req.Style + "\n\n")
	}
	if req.World != "" {
		prompt.WriteString(req.World + "\n\n")
	}
	if req.Characters != "" {
		fmt.Fprintf(&prompt, "## 登場人物\n%s\n\n", req.Characters)
	}
	fmt.Fprintf(&prompt, "## シーン設計\n%s\n", req.Spec.Description())
	if pov := req.Spec.Constraints.POVCharacter; pov != "" {
		fmt.Fprintf(&prompt, "視点人物: %s\n", pov)
	}
	fmt.Fprintf(&prompt, "目標文字数: %d字程度\n\n", wordCount)
	prompt.WriteString("このシーンの本文を書いてください。")

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: writerSystemPrompt},
		{Role: provider.RoleUser, Content: prompt.String()},
	}
	params := provider.Params{
		Temperature: temperature,
		MaxTokens:   maxTokens,
		TopP:        0.9,
	}

	text, res, err := generate(ctx, w.provider, RoleWriter, messages, params)
	if err != nil {
		return "", res, &nverrors.GenerationError{Agent: RoleWriter, Err: err}
	}

	cleaned := CleanProse(text)
	if cleaned == "" {
		return "", res, &nverrors.GenerationError{
			Agent: RoleWriter,
			Err:   fmt.Errorf("model produced no usable prose"),
		}
	}

	w.logger.Info("scene written",
		"length", len(cleaned),
		"duration_ms", res.DurationMs)
	return cleaned, res, nil
}

var (
	fencedProseRe = regexp.MustCompile("(?s)```.*?```")
	prosePrefixes = []string{"本文：", "本文:", "出力：", "出力:", "シーン：", "シーン:", "小説：", "小説:"}
)

// CleanProse strips the framing artifacts small models habitually
// emit: code fences and labeled prefixes.
func CleanProse(text string) string {
	text = fencedProseRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	for _, prefix := range prosePrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
			break
		}
	}

	return text
}
