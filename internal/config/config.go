package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProjectConfig is the top-level config.yaml for one novel project.
// The project directory is the single source of truth; this file only
// names providers, routing, and budgets.
type ProjectConfig struct {
	ProjectName string           `yaml:"project_name" validate:"required"`
	Provider    ProviderSection  `yaml:"provider" validate:"required"`
	Context     ContextSection   `yaml:"context"`
	Swarm       SwarmSection     `yaml:"swarm"`
	Generation  GenerationConfig `yaml:"generation"`
	Quality     QualitySection   `yaml:"quality"`
}

type ProviderSection struct {
	Default   string                   `yaml:"default" validate:"required"`
	Available map[string]ProviderEntry `yaml:"available" validate:"required,min=1,dive"`
	Routing   map[string]string        `yaml:"routing"`
}

// ProviderEntry configures one backend. APIKey holds either a literal
// key or a "${VAR}" placeholder; APIKeyEnv names the variable to read
// when the literal is absent.
type ProviderEntry struct {
	Type      string `yaml:"type" validate:"required,oneof=ollama openai anthropic"`
	Model     string `yaml:"model" validate:"required"`
	BaseURL   string `yaml:"base_url,omitempty"`
	Timeout   int    `yaml:"timeout,omitempty" validate:"omitempty,min=1,max=3600"`
	APIKey    string `yaml:"api_key,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

type ContextSection struct {
	Budgets BudgetConfig `yaml:"budgets"`
}

// BudgetConfig holds per-section byte budgets for prompt assembly.
type BudgetConfig struct {
	Bible      int `yaml:"bible" validate:"min=0"`
	Characters int `yaml:"characters" validate:"min=0"`
	Facts      int `yaml:"facts" validate:"min=0"`
	Recap      int `yaml:"recap" validate:"min=0"`
	ICL        int `yaml:"icl" validate:"min=0"`
}

type SwarmSection struct {
	MaxRevision         int    `yaml:"max_revision" validate:"min=0,max=5"`
	OnPersistentFailure string `yaml:"on_persistent_failure" validate:"omitempty,oneof=ask_user keep_original"`
}

type GenerationConfig struct {
	Default GenerationParams `yaml:"default"`
}

type GenerationParams struct {
	Temperature float64 `yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"min=0"`
	TopP        float64 `yaml:"top_p" validate:"min=0,max=1"`
}

// QualitySection carries advisory thresholds; nothing in the pipeline
// enforces them, they are reported by the harness.
type QualitySection struct {
	MetaSpeechRateMax      float64 `yaml:"meta_speech_rate_max"`
	RepetitionRateMax      float64 `yaml:"repetition_rate_max"`
	FactContradictionsMax  int     `yaml:"fact_contradictions_max"`
	CharacterDeviationsMax int     `yaml:"character_deviations_max"`
}

const configFileName = "config.yaml"

// DefaultBudgets returns the standard context byte budgets.
func DefaultBudgets() BudgetConfig {
	return BudgetConfig{
		Bible:      1500,
		Characters: 1200,
		Facts:      600,
		Recap:      400,
		ICL:        600,
	}
}

// DefaultGeneration returns the standard generation parameters.
func DefaultGeneration() GenerationParams {
	return GenerationParams{
		Temperature: 0.7,
		MaxTokens:   2000,
		TopP:        0.9,
	}
}

// Default returns the configuration written into a freshly created
// project: a single local Ollama provider routed to every agent.
func Default(projectName string) *ProjectConfig {
	return &ProjectConfig{
		ProjectName: projectName,
		Provider: ProviderSection{
			Default: "local_ollama",
			Available: map[string]ProviderEntry{
				"local_ollama": {
					Type:    "ollama",
					Model:   "qwen3:1.7b",
					BaseURL: "http://localhost:11434",
					Timeout: 120,
				},
			},
			Routing: map[string]string{
				"director":  "local_ollama",
				"writer":    "local_ollama",
				"checker":   "local_ollama",
				"editor":    "local_ollama",
				"committer": "local_ollama",
			},
		},
		Context: ContextSection{Budgets: DefaultBudgets()},
		Swarm: SwarmSection{
			MaxRevision:         1,
			OnPersistentFailure: "ask_user",
		},
		Generation: GenerationConfig{Default: DefaultGeneration()},
		Quality: QualitySection{
			MetaSpeechRateMax: 0.01,
			RepetitionRateMax: 0.05,
		},
	}
}

// Load reads and validates config.yaml from the project root.
// A .env file next to the config is loaded first so api_key_env
// variables resolve for local development.
func Load(projectPath string) (*ProjectConfig, error) {
	_ = godotenv.Load(filepath.Join(projectPath, ".env"))
	_ = godotenv.Load()

	configPath := filepath.Join(projectPath, configFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.expandAPIKeys()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to the project root. Literal API keys are
// replaced by their env placeholder so secrets never land on disk.
func Save(cfg *ProjectConfig, projectPath string) error {
	toSave := *cfg
	toSave.Provider.Available = make(map[string]ProviderEntry, len(cfg.Provider.Available))
	for name, entry := range cfg.Provider.Available {
		if entry.APIKey != "" && entry.APIKeyEnv != "" {
			entry.APIKey = "${" + entry.APIKeyEnv + "}"
		}
		toSave.Provider.Available[name] = entry
	}

	data, err := yaml.Marshal(&toSave)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	configPath := filepath.Join(projectPath, configFileName)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

var envPlaceholderRe = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// expandAPIKeys resolves "${VAR}" placeholders written by Save. An
// unset variable leaves APIKey empty so provider construction takes the
// api_key_env path and fails fast naming the variable.
func (c *ProjectConfig) expandAPIKeys() {
	for name, entry := range c.Provider.Available {
		m := envPlaceholderRe.FindStringSubmatch(entry.APIKey)
		if m == nil {
			continue
		}
		if entry.APIKeyEnv == "" {
			entry.APIKeyEnv = m[1]
		}
		entry.APIKey = os.Getenv(m[1])
		c.Provider.Available[name] = entry
	}
}

func (c *ProjectConfig) applyDefaults() {
	if c.Context.Budgets == (BudgetConfig{}) {
		c.Context.Budgets = DefaultBudgets()
	}
	if c.Swarm.MaxRevision == 0 && c.Swarm.OnPersistentFailure == "" {
		c.Swarm.MaxRevision = 1
		c.Swarm.OnPersistentFailure = "ask_user"
	}
	if c.Generation.Default == (GenerationParams{}) {
		c.Generation.Default = DefaultGeneration()
	}
}

func (c *ProjectConfig) validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if _, ok := c.Provider.Available[c.Provider.Default]; !ok {
		return fmt.Errorf("default provider %q not in provider.available", c.Provider.Default)
	}

	for agent, name := range c.Provider.Routing {
		if _, ok := c.Provider.Available[name]; !ok {
			return fmt.Errorf("routing for %q references unknown provider %q", agent, name)
		}
	}

	return nil
}

// ProviderFor resolves the provider entry used by an agent role,
// following routing and falling back to the default.
func (c *ProjectConfig) ProviderFor(agent string) (string, ProviderEntry, error) {
	name := c.Provider.Default
	if routed, ok := c.Provider.Routing[agent]; ok {
		name = routed
	}

	entry, ok := c.Provider.Available[name]
	if !ok {
		return "", ProviderEntry{}, fmt.Errorf("provider %q not configured", name)
	}

	return name, entry, nil
}
