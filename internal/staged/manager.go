package staged

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-commerce/meridian-admin/internal/perm"
)

var (
	// ErrEditorBusy indicates the operator session already holds unsaved
	// changes for a different role.
	ErrEditorBusy = errors.New("staged: another role has unsaved changes")
	// ErrNoEditorSession indicates no editing session is open.
	ErrNoEditorSession = errors.New("staged: no editing session open")
	// ErrRoleMismatch indicates the request targets a role other than the
	// one the open editing session belongs to.
	ErrRoleMismatch = errors.New("staged: editing session belongs to a different role")
	// ErrUndeclaredSubject indicates the (section, subsection) pair is not
	// part of the taxonomy.
	ErrUndeclaredSubject = errors.New("staged: section or subsection not declared")
)

// Manager owns the pending change sets of operator editing sessions. Each
// operator session holds at most one role's pending changes at a time; the
// set lives in redis under the session key and expires with the editor TTL.
type Manager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewManager constructs a Manager.
func NewManager(client *redis.Client, ttl time.Duration) *Manager {
	return &Manager{client: client, ttl: ttl}
}

// Open starts an editing session for the role. When the session already
// holds unsaved changes for a different role the call fails with
// ErrEditorBusy unless discard is set, in which case the previous pending
// state is dropped. Re-opening the same role keeps its pending changes.
func (m *Manager) Open(ctx context.Context, sessionID string, roleID int64, discard bool) (*PendingChangeSet, error) {
	current, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.RoleID != roleID {
		if !current.Empty() && !discard {
			return nil, ErrEditorBusy
		}
		current = nil
	}
	if current == nil {
		current = NewPendingChangeSet(roleID)
		if err := m.store(ctx, sessionID, current); err != nil {
			return nil, err
		}
	}
	return current, nil
}

// Get returns the session's pending change set, or nil when none is open.
func (m *Manager) Get(ctx context.Context, sessionID string) (*PendingChangeSet, error) {
	return m.load(ctx, sessionID)
}

// Stage records the staged set for the exact key. The subject must be part
// of the declared taxonomy and the session must be editing the given role.
func (m *Manager) Stage(ctx context.Context, sessionID string, roleID int64, section, subsection string, set perm.Set) error {
	if !perm.Declares(section, subsection) {
		return ErrUndeclaredSubject
	}
	current, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrNoEditorSession
	}
	if current.RoleID != roleID {
		return ErrRoleMismatch
	}
	current.Stage(section, subsection, set)
	return m.store(ctx, sessionID, current)
}

// HasPendingChanges reports whether the session holds staged changes for
// the role.
func (m *Manager) HasPendingChanges(ctx context.Context, sessionID string, roleID int64) (bool, error) {
	current, err := m.load(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return current != nil && current.RoleID == roleID && !current.Empty(), nil
}

// Cancel discards the whole pending state for the role. Partial cancel of a
// single section is not supported. Cancelling when a different role is open
// leaves that session untouched.
func (m *Manager) Cancel(ctx context.Context, sessionID string, roleID int64) error {
	current, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if current == nil || current.RoleID != roleID {
		return nil
	}
	return m.client.Del(ctx, editorKey(sessionID)).Err()
}

// ClearCommitted drops the session's pending state after the persistence
// layer acknowledged a save. The caller must re-fetch the role before
// further edits; the manager holds no authoritative copy.
func (m *Manager) ClearCommitted(ctx context.Context, sessionID string, roleID int64) error {
	return m.Cancel(ctx, sessionID, roleID)
}

func (m *Manager) load(ctx context.Context, sessionID string) (*PendingChangeSet, error) {
	payload, err := m.client.Get(ctx, editorKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var pending PendingChangeSet
	if err := json.Unmarshal(payload, &pending); err != nil {
		return nil, err
	}
	return &pending, nil
}

func (m *Manager) store(ctx context.Context, sessionID string, pending *PendingChangeSet) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, editorKey(sessionID), payload, m.ttl).Err()
}

func editorKey(sessionID string) string {
	return "editor:" + sessionID
}
