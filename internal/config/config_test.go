package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *ProjectConfig {
	return &ProjectConfig{
		ProjectName: "Demo",
		Provider: ProviderSection{
			Default: "local_ollama",
			Available: map[string]ProviderEntry{
				"local_ollama": {
					Type:    "ollama",
					Model:   "qwen3:1.7b",
					BaseURL: "http://localhost:11434",
					Timeout: 120,
				},
				"cloud": {
					Type:      "openai",
					Model:     "gpt-4-turbo",
					APIKeyEnv: "OPENAI_API_KEY",
				},
			},
			Routing: map[string]string{
				"director": "cloud",
				"writer":   "local_ollama",
			},
		},
		Context:    ContextSection{Budgets: DefaultBudgets()},
		Swarm:      SwarmSection{MaxRevision: 1, OnPersistentFailure: "ask_user"},
		Generation: GenerationConfig{Default: DefaultGeneration()},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProjectConfig)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(c *ProjectConfig) {},
			wantErr: false,
		},
		{
			name: "missing project name",
			mutate: func(c *ProjectConfig) {
				c.ProjectName = ""
			},
			wantErr: true,
			errMsg:  "ProjectName",
		},
		{
			name: "unknown provider type",
			mutate: func(c *ProjectConfig) {
				entry := c.Provider.Available["local_ollama"]
				entry.Type = "llamacpp"
				c.Provider.Available["local_ollama"] = entry
			},
			wantErr: true,
			errMsg:  "Type",
		},
		{
			name: "default not in available",
			mutate: func(c *ProjectConfig) {
				c.Provider.Default = "missing"
			},
			wantErr: true,
			errMsg:  "default provider",
		},
		{
			name: "routing references unknown provider",
			mutate: func(c *ProjectConfig) {
				c.Provider.Routing["checker"] = "nope"
			},
			wantErr: true,
			errMsg:  "unknown provider",
		},
		{
			name: "timeout too high",
			mutate: func(c *ProjectConfig) {
				entry := c.Provider.Available["local_ollama"]
				entry.Timeout = 10000
				c.Provider.Available["local_ollama"] = entry
			},
			wantErr: true,
			errMsg:  "Timeout",
		},
		{
			name: "revision limit too high",
			mutate: func(c *ProjectConfig) {
				c.Swarm.MaxRevision = 10
			},
			wantErr: true,
			errMsg:  "MaxRevision",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}

			if err != nil && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("validate() error = %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := Default("Roundtrip")
	if err := Save(cfg, dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.ProjectName != cfg.ProjectName {
		t.Errorf("ProjectName = %q, want %q", loaded.ProjectName, cfg.ProjectName)
	}
	if loaded.Provider.Default != cfg.Provider.Default {
		t.Errorf("Provider.Default = %q, want %q", loaded.Provider.Default, cfg.Provider.Default)
	}
	if loaded.Context.Budgets != cfg.Context.Budgets {
		t.Errorf("Budgets = %+v, want %+v", loaded.Context.Budgets, cfg.Context.Budgets)
	}
	if loaded.Swarm.MaxRevision != 1 {
		t.Errorf("MaxRevision = %d, want 1", loaded.Swarm.MaxRevision)
	}
	if len(loaded.Provider.Routing) != len(cfg.Provider.Routing) {
		t.Errorf("Routing size = %d, want %d", len(loaded.Provider.Routing), len(cfg.Provider.Routing))
	}
}

func TestSaveReplacesAPIKeyWithPlaceholder(t *testing.T) {
	dir := t.TempDir()

	cfg := validConfig()
	entry := cfg.Provider.Available["cloud"]
	entry.APIKey = "sk-very-secret-value-1234567890"
	cfg.Provider.Available["cloud"] = entry

	if err := Save(cfg, dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	if strings.Contains(string(data), "sk-very-secret-value") {
		t.Error("saved config contains literal API key")
	}
	if !strings.Contains(string(data), "${OPENAI_API_KEY}") {
		t.Error("saved config missing env placeholder")
	}
}

func TestLoadExpandsAPIKeyPlaceholder(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "sk-from-environment")

	cfg := validConfig()
	entry := cfg.Provider.Available["cloud"]
	entry.APIKey = "sk-very-secret-value-1234567890"
	cfg.Provider.Available["cloud"] = entry

	if err := Save(cfg, dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got := loaded.Provider.Available["cloud"].APIKey
	if got != "sk-from-environment" {
		t.Errorf("loaded APIKey = %q, want the environment value", got)
	}
	if strings.HasPrefix(got, "${") {
		t.Error("placeholder survived Load unexpanded")
	}
}

func TestLoadClearsPlaceholderWhenEnvUnset(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NOVELIST_TEST_MISSING_KEY", "")

	raw := `project_name: Placeholder
provider:
  default: cloud
  available:
    cloud:
      type: openai
      model: gpt-4
      api_key: ${NOVELIST_TEST_MISSING_KEY}
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	entry := cfg.Provider.Available["cloud"]
	if entry.APIKey != "" {
		t.Errorf("APIKey = %q, want empty for unset variable", entry.APIKey)
	}
	if entry.APIKeyEnv != "NOVELIST_TEST_MISSING_KEY" {
		t.Errorf("APIKeyEnv = %q, want backfilled from placeholder", entry.APIKeyEnv)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()

	minimal := `project_name: Minimal
provider:
  default: local_ollama
  available:
    local_ollama:
      type: ollama
      model: qwen3:1.7b
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(minimal), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Context.Budgets != DefaultBudgets() {
		t.Errorf("Budgets = %+v, want defaults", cfg.Context.Budgets)
	}
	if cfg.Swarm.MaxRevision != 1 {
		t.Errorf("MaxRevision = %d, want 1", cfg.Swarm.MaxRevision)
	}
	if cfg.Generation.Default != DefaultGeneration() {
		t.Errorf("Generation.Default = %+v, want defaults", cfg.Generation.Default)
	}
}

func TestProviderFor(t *testing.T) {
	cfg := validConfig()

	tests := []struct {
		agent    string
		wantName string
	}{
		{"director", "cloud"},
		{"writer", "local_ollama"},
		{"checker", "local_ollama"}, // not routed, falls back to default
	}

	for _, tt := range tests {
		t.Run(tt.agent, func(t *testing.T) {
			name, entry, err := cfg.ProviderFor(tt.agent)
			if err != nil {
				t.Fatalf("ProviderFor(%q) error = %v", tt.agent, err)
			}
			if name != tt.wantName {
				t.Errorf("ProviderFor(%q) = %q, want %q", tt.agent, name, tt.wantName)
			}
			if entry.Model == "" {
				t.Errorf("ProviderFor(%q) returned empty model", tt.agent)
			}
		})
	}
}
