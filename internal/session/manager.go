package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vampirenirmal/novelist/internal/storage"
)

// Manager lists and removes persisted sessions.
type Manager struct {
	store storage.Store
}

func NewManager(store storage.Store) *Manager {
	return &Manager{store: store}
}

// List returns every persisted session, newest first. Unreadable
// session files are skipped.
func (m *Manager) List(ctx context.Context) ([]*Session, error) {
	paths, err := m.store.List(ctx, sessionDir+"/*.json")
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	var sessions []*Session
	for _, p := range paths {
		id := strings.TrimSuffix(filepath.Base(p), ".json")
		s, err := Load(ctx, m.store, id)
		if err != nil {
			continue
		}
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt > sessions[j].CreatedAt
	})
	return sessions, nil
}

// Delete removes a session's state file and its turn log, if any.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, sessionPath(id)); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}

	turnLog := fmt.Sprintf("%s/session_%s.jsonl", runsDir, id)
	if m.store.Exists(ctx, turnLog) {
		if err := m.store.Delete(ctx, turnLog); err != nil {
			return fmt.Errorf("deleting session turn log %s: %w", id, err)
		}
	}
	return nil
}

// AppendTurn records a user/assistant exchange in the session's turn
// log for later inspection.
func (m *Manager) AppendTurn(ctx context.Context, id string, entry RunEntry) error {
	logger := NewRunLogger(m.store, "session_"+id)
	if err := logger.Log(ctx, entry); err != nil {
		return err
	}
	return logger.Flush(ctx)
}
