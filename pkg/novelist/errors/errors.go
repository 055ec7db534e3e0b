package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the engine
var (
	// ErrNotFitted indicates the retrieval index has not been built yet
	ErrNotFitted = errors.New("retrieval index not fitted")

	// ErrUnknownProvider indicates a provider type with no registered constructor
	ErrUnknownProvider = errors.New("unknown provider type")

	// ErrSessionNotFound indicates a session id with no persisted state
	ErrSessionNotFound = errors.New("session not found")

	// ErrProjectNotFound indicates the path is not a project directory
	ErrProjectNotFound = errors.New("project directory not found")
)

// ConfigError represents a fatal configuration problem: a bad routing
// entry, an unknown provider type, or a missing API key variable.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (%s): %s", e.Field, e.Message)
}

// SchemaError marks a single invalid record (character card, fact,
// foreshadowing entry). The record is skipped, processing continues.
type SchemaError struct {
	Kind    string
	ID      string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.ID, e.Message)
}

// TransportError wraps an HTTP-level provider failure.
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s transport failed: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthError indicates a rejected or missing credential.
type AuthError struct {
	Provider string
	EnvVar   string
}

func (e *AuthError) Error() string {
	if e.EnvVar != "" {
		return fmt.Sprintf("%s authentication failed: set %s", e.Provider, e.EnvVar)
	}
	return fmt.Sprintf("%s authentication failed", e.Provider)
}

// RateLimitError indicates the provider returned HTTP 429.
// RetryAfter is zero when the response carried no Retry-After header.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded", e.Provider)
}

// ProtocolError marks a malformed streaming frame. Frames carrying it
// are skipped; the stream continues.
type ProtocolError struct {
	Provider string
	Frame    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s stream frame malformed: %.80s", e.Provider, e.Frame)
}

// ParseError wraps a failure to parse structured agent output
// (SceneSpec JSON, checker issue array). Callers degrade gracefully.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// GenerationError is fatal to the current scene: the writer's provider
// call failed and there is no text to continue with.
type GenerationError struct {
	Agent string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Agent, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// CommitError is fatal to the current scene: memory or chapter state
// could not be written. The scene counter does not advance.
type CommitError struct {
	Step string
	Err  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit step %s failed: %v", e.Step, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether an error aborts the scene pipeline rather
// than degrading one stage.
func IsFatal(err error) bool {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return true
	}
	var commitErr *CommitError
	if errors.As(err, &commitErr) {
		return true
	}
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// IsRecoverable reports whether the stage policy allows continuing
// with degraded output.
func IsRecoverable(err error) bool {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return true
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return true
	}
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr)
}

// IsRetryable reports whether a provider call may be retried.
func IsRetryable(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return false
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var transErr *TransportError
	return errors.As(err, &transErr)
}
