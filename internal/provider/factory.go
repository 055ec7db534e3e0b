package provider

import (
	"fmt"
	"strings"
	"sync"

	"github.com/vampirenirmal/novelist/internal/config"
	nverrors "github.com/vampirenirmal/novelist/pkg/novelist/errors"
)

// Constructor builds a provider from its config entry.
type Constructor func(entry config.ProviderEntry, opts ...Option) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
	builtins   sync.Once
)

// Register adds a provider constructor under a type tag. Built-in
// types are registered lazily on first lookup; callers may add their
// own before that.
func Register(typeName string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(typeName)] = ctor
}

func registerBuiltins() {
	Register("ollama", func(entry config.ProviderEntry, opts ...Option) (Provider, error) {
		return NewOllama(entry, opts...)
	})
	Register("openai", func(entry config.ProviderEntry, opts ...Option) (Provider, error) {
		return NewOpenAI(entry, opts...)
	})
	Register("anthropic", func(entry config.ProviderEntry, opts ...Option) (Provider, error) {
		return NewAnthropic(entry, opts...)
	})
}

// New constructs a provider for a config entry. Unknown types fail
// with a ConfigError wrapping ErrUnknownProvider.
func New(entry config.ProviderEntry, opts ...Option) (Provider, error) {
	builtins.Do(registerBuiltins)

	registryMu.RLock()
	ctor, ok := registry[strings.ToLower(entry.Type)]
	registryMu.RUnlock()

	if !ok {
		return nil, &nverrors.ConfigError{
			Field:   "provider.type",
			Message: fmt.Sprintf("%v: %q", nverrors.ErrUnknownProvider, entry.Type),
		}
	}

	return ctor(entry, opts...)
}

// Types lists the registered provider type tags.
func Types() []string {
	builtins.Do(registerBuiltins)

	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
