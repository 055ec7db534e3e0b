package bible

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vampirenirmal/novelist/internal/storage"
	nverrors "github.com/vampirenirmal/novelist/pkg/novelist/errors"
)

// CharacterName carries the forms a character may be referenced by.
type CharacterName struct {
	Full    string   `json:"full" validate:"required"`
	Short   string   `json:"short,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

// CharacterLanguage defines how a character speaks. The checker uses
// ForbiddenWords to flag out-of-voice dialogue.
type CharacterLanguage struct {
	FirstPerson    string   `json:"first_person" validate:"required"`
	Tone           string   `json:"tone" validate:"required"`
	SpeechPattern  string   `json:"speech_pattern" validate:"required"`
	ForbiddenWords []string `json:"forbidden_words" validate:"required"`
}

// CharacterPersonality defines inner traits used for prompt context.
type CharacterPersonality struct {
	Values      []string `json:"values" validate:"required,min=1"`
	Fears       []string `json:"fears,omitempty"`
	Motivations []string `json:"motivations,omitempty"`
}

// Character is one character card, stored one JSON file per character
// under characters/.
type Character struct {
	ID          string               `json:"id,omitempty"`
	Name        CharacterName        `json:"name" validate:"required"`
	Role        string               `json:"role,omitempty"`
	Language    CharacterLanguage    `json:"language" validate:"required"`
	Personality CharacterPersonality `json:"personality" validate:"required"`
	Notes       string               `json:"notes,omitempty"`
}

// CharacterLoader reads and writes character cards. Invalid cards are
// skipped with a warning rather than failing a whole load.
type CharacterLoader struct {
	store    storage.Store
	validate *validator.Validate
	logger   *slog.Logger
}

func NewCharacterLoader(store storage.Store) *CharacterLoader {
	return &CharacterLoader{
		store:    store,
		validate: validator.New(),
		logger:   slog.Default().With("component", "character_loader"),
	}
}

func (l *CharacterLoader) path(id string) string {
	return filepath.Join("characters", id+".json")
}

// Load reads and validates one character card by id.
func (l *CharacterLoader) Load(ctx context.Context, id string) (*Character, error) {
	data, err := l.store.Load(ctx, l.path(id))
	if err != nil {
		return nil, fmt.Errorf("loading character %q: %w", id, err)
	}

	var c Character
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &nverrors.SchemaError{Kind: "character", ID: id, Message: err.Error()}
	}
	if c.ID == "" {
		c.ID = id
	}

	if err := l.validate.Struct(&c); err != nil {
		return nil, &nverrors.SchemaError{Kind: "character", ID: id, Message: err.Error()}
	}

	return &c, nil
}

// LoadAll reads every character card, skipping invalid ones with a
// warning. Results are sorted by id for stable prompt ordering.
func (l *CharacterLoader) LoadAll(ctx context.Context) ([]*Character, error) {
	paths, err := l.store.List(ctx, "characters/*.json")
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}

	var out []*Character
	for _, p := range paths {
		id := strings.TrimSuffix(filepath.Base(p), ".json")
		c, err := l.Load(ctx, id)
		if err != nil {
			l.logger.Warn("skipping invalid character card",
				"id", id,
				"error", err)
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadByName resolves a character by id first, then by full name,
// short name, or alias.
func (l *CharacterLoader) LoadByName(ctx context.Context, name string) (*Character, error) {
	if c, err := l.Load(ctx, name); err == nil {
		return c, nil
	}

	all, err := l.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, c := range all {
		if c.Name.Full == name || c.Name.Short == name {
			return c, nil
		}
		for _, alias := range c.Name.Aliases {
			if alias == name {
				return c, nil
			}
		}
	}

	return nil, fmt.Errorf("character %q not found", name)
}

// Save validates and persists a character card.
func (l *CharacterLoader) Save(ctx context.Context, c *Character) error {
	if c.ID == "" {
		return &nverrors.SchemaError{Kind: "character", Message: "id is required"}
	}
	if err := l.validate.Struct(c); err != nil {
		return &nverrors.SchemaError{Kind: "character", ID: c.ID, Message: err.Error()}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling character %q: %w", c.ID, err)
	}

	return l.store.Save(ctx, l.path(c.ID), append(data, '\n'))
}

// List returns the ids of every stored character card.
func (l *CharacterLoader) List(ctx context.Context) ([]string, error) {
	paths, err := l.store.List(ctx, "characters/*.json")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		ids = append(ids, strings.TrimSuffix(filepath.Base(p), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// FormatForPrompt renders a character as a compact prompt block.
func (c *Character) FormatForPrompt() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "### %s", c.Name.Full)
	if c.Name.Short != "" && c.Name.Short != c.Name.Full {
		fmt.Fprintf(&sb, "（%s）", c.Name.Short)
	}
	sb.WriteString("\n")

	if c.Role != "" {
		fmt.Fprintf(&sb, "- 役割: %s\n", c.Role)
	}
	fmt.Fprintf(&sb, "- 一人称: %s\n", c.Language.FirstPerson)
	fmt.Fprintf(&sb, "- 口調: %s\n", c.Language.Tone)
	fmt.Fprintf(&sb, "- 話し方: %s\n", c.Language.SpeechPattern)
	if len(c.Language.ForbiddenWords) > 0 {
		fmt.Fprintf(&sb, "- 使わない言葉: %s\n", strings.Join(c.Language.ForbiddenWords, "、"))
	}
	if len(c.Personality.Values) > 0 {
		fmt.Fprintf(&sb, "- 価値観: %s\n", strings.Join(c.Personality.Values, "、"))
	}

	return sb.String()
}
