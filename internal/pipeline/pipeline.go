// Package pipeline runs the five-stage scene loop: plan, write, check,
// revise, commit. A scene only reaches its chapter file after the
// committer has recorded it, so generated prose and project memory can
// never drift apart.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/novelist/internal/agent"
	"github.com/vampirenirmal/novelist/internal/assemble"
	"github.com/vampirenirmal/novelist/internal/bible"
	"github.com/vampirenirmal/novelist/internal/config"
	"github.com/vampirenirmal/novelist/internal/memory"
	"github.com/vampirenirmal/novelist/internal/provider"
	"github.com/vampirenirmal/novelist/internal/rag"
	"github.com/vampirenirmal/novelist/internal/session"
	"github.com/vampirenirmal/novelist/internal/storage"
	nverrors "github.com/vampirenirmal/novelist/pkg/novelist/errors"
)

// Providers resolves the provider serving an agent role. Satisfied by
// *provider.Router.
type Providers interface {
	GetProvider(agent string) (provider.Provider, error)
}

// Pipeline wires the agents to project state for one project.
type Pipeline struct {
	cfg        *config.ProjectConfig
	store      storage.Store
	providers  Providers
	retriever  *rag.Retriever
	chapters   *ChapterManager
	facts      *memory.FactsManager
	foreshadow *memory.ForeshadowManager
	episodic   *memory.EpisodicManager
	characters *bible.CharacterLoader
	costs      *provider.CostTracker
	logger     *slog.Logger
}

func New(cfg *config.ProjectConfig, store storage.Store, providers Providers) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      store,
		providers:  providers,
		chapters:   NewChapterManager(store),
		facts:      memory.NewFactsManager(store),
		foreshadow: memory.NewForeshadowManager(store),
		episodic:   memory.NewEpisodicManager(store),
		characters: bible.NewCharacterLoader(store),
		costs:      provider.NewCostTracker(),
		logger:     slog.Default().With("component", "pipeline"),
	}
}

// SetRetriever attaches a fitted index. Without one, scenes run with
// no retrieved context.
func (p *Pipeline) SetRetriever(r *rag.Retriever) {
	p.retriever = r
}

// Costs exposes the per-run cost tracker.
func (p *Pipeline) Costs() *provider.CostTracker {
	return p.costs
}

// Chapters exposes the chapter manager for status commands.
func (p *Pipeline) Chapters() *ChapterManager {
	return p.chapters
}

// StageTrace is one agent stage's accounting.
type StageTrace struct {
	Agent        string  `json:"agent"`
	DurationMs   int64   `json:"duration_ms"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	Status       string  `json:"status"`
	Error        string  `json:"error,omitempty"`
}

// SceneTrace records everything one scene run did.
type SceneTrace struct {
	RunID           string        `json:"run_id"`
	Chapter         int           `json:"chapter"`
	Scene           int           `json:"scene"`
	Stages          []StageTrace  `json:"stages"`
	FinalText       string        `json:"final_text"`
	IssuesFound     int           `json:"issues_found"`
	RevisionMade    bool          `json:"revision_made"`
	PendingDecision bool          `json:"pending_decision,omitempty"`
	TotalCostUSD    float64       `json:"total_cost_usd"`
	TotalDurationMs int64         `json:"total_duration_ms"`
	Commit          *agent.Report `json:"commit,omitempty"`
}

func (t *SceneTrace) addStage(role string, res *agent.Result, err error) {
	st := StageTrace{Agent: role, Status: session.StatusSuccess}
	if res != nil {
		st.DurationMs = res.DurationMs
		st.InputTokens = res.InputTokens
		st.OutputTokens = res.OutputTokens
		if res.Priced {
			st.CostUSD = res.CostUSD
			t.TotalCostUSD += res.CostUSD
		}
		t.TotalDurationMs += res.DurationMs
	}
	if err != nil {
		st.Status = session.StatusError
		st.Error = err.Error()
	}
	t.Stages = append(t.Stages, st)
}

func (p *Pipeline) logStage(ctx context.Context, rl *session.RunLogger, role, op, output string, res *agent.Result, err error) {
	entry := session.RunEntry{
		Agent:     role,
		Operation: op,
		Output:    output,
		Status:    session.StatusSuccess,
		Metrics:   map[string]any{},
	}
	if res != nil {
		entry.Metrics["input_tokens"] = res.InputTokens
		entry.Metrics["output_tokens"] = res.OutputTokens
		entry.Metrics["tokens"] = res.InputTokens + res.OutputTokens
		entry.Metrics["duration_ms"] = res.DurationMs
		if res.Priced {
			entry.Metrics["cost_usd"] = res.CostUSD
		}
	}
	if err != nil {
		entry.Status = session.StatusError
		entry.Error = err.Error()
	}
	if logErr := rl.Log(ctx, entry); logErr != nil {
		p.logger.Warn("run log write failed", "error", logErr)
	}
}

func (p *Pipeline) trackCost(role string, res *agent.Result) {
	if res == nil {
		return
	}
	name, entry, err := p.cfg.ProviderFor(role)
	if err != nil {
		return
	}
	var cost *float64
	if res.Priced {
		cost = &res.CostUSD
	}
	p.costs.Log(role, name, entry.Model, res.InputTokens, res.OutputTokens, cost, res.DurationMs)
}

func (p *Pipeline) loadBible(ctx context.Context) (*bible.Bible, string) {
	if !p.store.Exists(ctx, "bible.md") {
		return bible.Parse(""), ""
	}
	data, err := p.store.Load(ctx, "bible.md")
	if err != nil {
		p.logger.Warn("bible unreadable, running without it", "error", err)
		return bible.Parse(""), ""
	}
	return bible.Parse(string(data)), string(data)
}

// sceneCharacters resolves the characters the spec names, falling back
// to every character card when the spec names none.
func (p *Pipeline) sceneCharacters(ctx context.Context, names []string) []*bible.Character {
	all, err := p.characters.LoadAll(ctx)
	if err != nil {
		p.logger.Warn("character cards unreadable", "error", err)
		return nil
	}
	if len(names) == 0 {
		return all
	}

	var out []*bible.Character
	for _, name := range names {
		if c, err := p.characters.LoadByName(ctx, name); err == nil {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

func formatCharacters(chars []*bible.Character) string {
	var parts []string
	for _, c := range chars {
		parts = append(parts, c.FormatForPrompt())
	}
	return strings.Join(parts, "\n")
}

// RunScene drives one scene through all five stages. The session's
// scene counter advances only when the commit succeeds.
func (p *Pipeline) RunScene(ctx context.Context, sess *session.Session, intention string) (*SceneTrace, error) {
	trace := &SceneTrace{
		RunID:   session.NewRunID(),
		Chapter: sess.CurrentChapter,
		Scene:   sess.CurrentScene,
	}
	rl := session.NewRunLogger(p.store, trace.RunID)
	defer func() {
		if err := rl.Close(ctx); err != nil {
			p.logger.Warn("run log flush failed", "error", err)
		}
	}()

	parsedBible, bibleText := p.loadBible(ctx)
	budgets := p.cfg.Context.Budgets

	var retrieved string
	if p.retriever != nil && p.retriever.Fitted() {
		retrieved = rag.FormatResults(p.retriever.SearchForAgent(agent.RoleDirector, intention))
	}

	allCharacters := p.sceneCharacters(ctx, nil)
	promptCtx := sess.BuildPromptContext(bibleText, formatCharacters(allCharacters))

	factsContext, err := p.facts.ForContext(ctx, budgets.Facts)
	if err != nil {
		p.logger.Warn("facts unreadable, planning without them", "error", err)
	}

	// Stage 1: plan
	directorProvider, err := p.providers.GetProvider(agent.RoleDirector)
	if err != nil {
		return trace, err
	}
	director := agent.NewDirector(directorProvider)
	spec, res, err := director.Plan(ctx, agent.PlanRequest{
		Intention:  intention,
		Retrieved:  assemble.Truncate(retrieved, budgets.ICL),
		Bible:      promptCtx.Bible,
		Characters: promptCtx.Characters,
		Facts:      factsContext,
		Recap:      promptCtx.Recap,
		Chapter:    sess.CurrentChapter,
		Scene:      sess.CurrentScene,
	})
	trace.addStage(agent.RoleDirector, res, err)
	p.trackCost(agent.RoleDirector, res)
	p.logStage(ctx, rl, agent.RoleDirector, "plan", "", res, err)
	if err != nil {
		var parseErr *nverrors.ParseError
		if !errors.As(err, &parseErr) {
			return trace, err
		}
		// A degraded spec still carries the model's raw plan; the
		// writer can work from it
		p.logger.Warn("continuing with degraded scene spec")
	}

	sceneChars := p.sceneCharacters(ctx, spec.Constraints.CharactersPresent)

	// Stage 2: write
	writerProvider, err := p.providers.GetProvider(agent.RoleWriter)
	if err != nil {
		return trace, err
	}
	writer := agent.NewWriter(writerProvider)
	text, res, err := writer.Write(ctx, agent.WriteRequest{
		Spec:       spec,
		Style:      parsedBible.FormatStyleSection(),
		World:      parsedBible.FormatWorldSection(),
		Characters: assemble.Truncate(formatCharacters(sceneChars), budgets.Characters),
	})
	trace.addStage(agent.RoleWriter, res, err)
	p.trackCost(agent.RoleWriter, res)
	p.logStage(ctx, rl, agent.RoleWriter, "write", text, res, err)
	if err != nil {
		return trace, err
	}
	originalText := text

	// Stage 3: check
	allFacts, err := p.facts.All(ctx)
	if err != nil {
		p.logger.Warn("facts unreadable, checking without them", "error", err)
	}
	checkerProvider, err := p.providers.GetProvider(agent.RoleChecker)
	if err != nil {
		return trace, err
	}
	checker := agent.NewChecker(checkerProvider)
	issues, checkErr := p.runCheck(ctx, rl, trace, checker, text, allFacts, sceneChars, parsedBible)
	if checkErr != nil {
		return trace, checkErr
	}
	trace.IssuesFound = len(issues)

	// Stage 4: revise. The editor runs at most once and its output is
	// accepted without another check pass: convergence is traded for
	// bounded latency and cost.
	if agent.NeedsRevision(issues) && p.cfg.Swarm.MaxRevision > 0 {
		editorProvider, err := p.providers.GetProvider(agent.RoleEditor)
		if err != nil {
			return trace, err
		}
		editor := agent.NewEditor(editorProvider)

		revised, res, err := editor.Edit(ctx, text, issues, parsedBible.FormatStyleSection(), agent.OutputFull)
		trace.addStage(agent.RoleEditor, res, err)
		p.trackCost(agent.RoleEditor, res)
		p.logStage(ctx, rl, agent.RoleEditor, "edit", revised, res, err)

		if revised != text {
			trace.RevisionMade = true
			text = agent.QuickFix(revised)
		} else {
			// No revision could be applied, so the issues that
			// triggered it stand
			switch p.cfg.Swarm.OnPersistentFailure {
			case "keep_original":
				p.logger.Warn("revision failed, keeping writer's original", "issues", len(issues))
				text = originalText
			default:
				trace.PendingDecision = true
			}
		}
	}

	// Stage 5: commit
	committerProvider, err := p.providers.GetProvider(agent.RoleCommitter)
	if err != nil {
		return trace, err
	}
	committer := agent.NewCommitter(committerProvider, p.facts, p.foreshadow, p.episodic)
	report, err := committer.Commit(ctx, agent.CommitRequest{
		Text:    text,
		Spec:    spec,
		Chapter: sess.CurrentChapter,
		Scene:   sess.CurrentScene,
	})
	trace.Commit = report
	p.logStage(ctx, rl, agent.RoleCommitter, "commit", "", nil, err)
	if err != nil {
		return trace, err
	}

	if err := p.chapters.Append(ctx, sess.CurrentChapter, sess.CurrentScene, text); err != nil {
		return trace, fmt.Errorf("writing chapter file: %w", err)
	}

	sess.AppendEpisodeSummary(memory.Summarize(text))
	sess.AdvanceScene()
	if err := sess.Save(ctx, p.store); err != nil {
		return trace, fmt.Errorf("saving session: %w", err)
	}

	trace.FinalText = text
	p.logger.Info("scene complete",
		"run_id", trace.RunID,
		"chapter", trace.Chapter,
		"scene", trace.Scene,
		"issues", trace.IssuesFound,
		"revised", trace.RevisionMade,
		"duration_ms", trace.TotalDurationMs)
	return trace, nil
}

// runCheck runs the checker and applies the degradation policy: a
// non-fatal failure of the model tier keeps the pattern findings and
// the scene continues.
func (p *Pipeline) runCheck(ctx context.Context, rl *session.RunLogger, trace *SceneTrace, checker *agent.Checker, text string, facts []memory.Fact, chars []*bible.Character, parsedBible *bible.Bible) ([]agent.Issue, error) {
	issues, res, err := checker.Check(ctx, agent.CheckRequest{
		Text:       text,
		Facts:      facts,
		Characters: chars,
		World:      parsedBible.FormatWorldSection(),
	})
	trace.addStage(agent.RoleChecker, res, err)
	p.trackCost(agent.RoleChecker, res)
	p.logStage(ctx, rl, agent.RoleChecker, "check", agent.FormatReport(issues), res, err)

	if err != nil {
		if nverrors.IsFatal(err) {
			return issues, err
		}
		p.logger.Warn("model check tier failed, keeping pattern findings",
			"error", err,
			"issues", len(issues))
	}
	return issues, nil
}
