package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/novelist/internal/assemble"
	"github.com/vampirenirmal/novelist/internal/storage"
	nverrors "github.com/vampirenirmal/novelist/pkg/novelist/errors"
)

const (
	sessionDir = ".sessions"

	// episodeSummaryCap bounds the rolling recap carried in session
	// state. Older text falls off the front.
	episodeSummaryCap = 1000

	maxKeyFactsInPrompt = 10
	bibleSlice          = 2000
	charactersSlice     = 1500
	recapSlice          = 800
)

// Session is the durable state of one writing session. Everything
// here survives process restarts via .sessions/<id>.json.
type Session struct {
	SessionID           string   `json:"session_id"`
	CreatedAt           string   `json:"created_at"`
	CurrentChapter      int      `json:"current_chapter"`
	CurrentScene        int      `json:"current_scene"`
	ActiveCharacters    []string `json:"active_characters,omitempty"`
	EpisodeSummary      string   `json:"episode_summary,omitempty"`
	KeyFacts            []string `json:"key_facts,omitempty"`
	ActiveForeshadowing []string `json:"active_foreshadowing,omitempty"`
}

// New creates a fresh session starting at chapter 1, scene 1.
func New() *Session {
	return &Session{
		SessionID:      uuid.NewString()[:8],
		CreatedAt:      time.Now().Format(time.RFC3339),
		CurrentChapter: 1,
		CurrentScene:   1,
	}
}

func sessionPath(id string) string {
	return fmt.Sprintf("%s/%s.json", sessionDir, id)
}

// Save persists the session state.
func (s *Session) Save(ctx context.Context, store storage.Store) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	return store.Save(ctx, sessionPath(s.SessionID), append(data, '\n'))
}

// Load restores a session by id.
func Load(ctx context.Context, store storage.Store, id string) (*Session, error) {
	if !store.Exists(ctx, sessionPath(id)) {
		return nil, fmt.Errorf("%w: %s", nverrors.ErrSessionNotFound, id)
	}

	data, err := store.Load(ctx, sessionPath(id))
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing session %s: %w", id, err)
	}
	return &s, nil
}

// AppendEpisodeSummary adds text to the rolling recap, keeping only
// the newest tail when the cap is exceeded.
func (s *Session) AppendEpisodeSummary(text string) {
	if text == "" {
		return
	}
	if s.EpisodeSummary != "" {
		s.EpisodeSummary += "\n"
	}
	s.EpisodeSummary += text

	if len(s.EpisodeSummary) > episodeSummaryCap {
		s.EpisodeSummary = s.EpisodeSummary[len(s.EpisodeSummary)-episodeSummaryCap:]
	}
}

// AddKeyFact records a fact id or statement the session should keep
// in view. Duplicates are ignored.
func (s *Session) AddKeyFact(fact string) {
	for _, existing := range s.KeyFacts {
		if existing == fact {
			return
		}
	}
	s.KeyFacts = append(s.KeyFacts, fact)
}

// AdvanceScene moves to the next scene after a successful commit.
func (s *Session) AdvanceScene() {
	s.CurrentScene++
}

// AdvanceChapter moves to the next chapter, resetting the scene
// counter.
func (s *Session) AdvanceChapter() {
	s.CurrentChapter++
	s.CurrentScene = 1
}

// ChapterLabel formats the canonical chapter identifier.
func (s *Session) ChapterLabel() string {
	return fmt.Sprintf("chapter_%03d", s.CurrentChapter)
}

// PromptContext is the session's contribution to prompt assembly,
// pre-sliced so no single field dominates the prompt.
type PromptContext struct {
	Bible      string
	Characters string
	Facts      string
	Recap      string
}

// BuildPromptContext slices the bible and character text and renders
// the session's recent facts and recap.
func (s *Session) BuildPromptContext(bibleText, charactersText string) PromptContext {
	facts := s.KeyFacts
	if len(facts) > maxKeyFactsInPrompt {
		facts = facts[len(facts)-maxKeyFactsInPrompt:]
	}
	var factLines string
	for _, f := range facts {
		factLines += "- " + f + "\n"
	}

	recap := s.EpisodeSummary
	if len(recap) > recapSlice {
		recap = recap[len(recap)-recapSlice:]
	}

	return PromptContext{
		Bible:      assemble.Truncate(bibleText, bibleSlice),
		Characters: assemble.Truncate(charactersText, charactersSlice),
		Facts:      factLines,
		Recap:      recap,
	}
}
