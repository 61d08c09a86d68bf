package users_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-commerce/meridian-admin/internal/shared"
	"github.com/meridian-commerce/meridian-admin/internal/users"
	"github.com/meridian-commerce/meridian-admin/internal/verify"
	_ "github.com/meridian-commerce/meridian-admin/testing"
)

type mockUserRepo struct {
	users map[int64]users.User
}

func newMockUserRepo(seed ...users.User) *mockUserRepo {
	m := &mockUserRepo{users: make(map[int64]users.User)}
	for _, u := range seed {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserRepo) List(ctx context.Context) ([]users.User, error) {
	out := make([]users.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *mockUserRepo) Get(ctx context.Context, id int64) (users.User, error) {
	u, ok := m.users[id]
	if !ok {
		return users.User{}, shared.ErrNotFound
	}
	return u, nil
}

func (m *mockUserRepo) Update(ctx context.Context, id int64, in users.UpdateInput) error {
	u, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.Email, u.Name, u.RoleID = in.Email, in.Name, in.RoleID
	m.users[id] = u
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := m.users[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *mockUserRepo) SetStatus(ctx context.Context, id int64, active bool) error {
	u, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.IsActive = active
	m.users[id] = u
	return nil
}

type stubAudit struct {
	entries []shared.AuditLog
}

func (s *stubAudit) Record(ctx context.Context, log shared.AuditLog) error {
	s.entries = append(s.entries, log)
	return nil
}

func newRegistry(t *testing.T, repo *mockUserRepo) (*verify.Registry, *stubAudit) {
	t.Helper()
	audit := &stubAudit{}
	svc := users.NewService(repo, audit, slog.Default())
	reg := verify.NewRegistry()
	svc.RegisterCommits(reg)
	return reg, audit
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestCommitUpdateAppliesAndAudits(t *testing.T) {
	repo := newMockUserRepo(users.User{ID: 9, Email: "old@example.com", Name: "Old", RoleID: 2})
	reg, audit := newRegistry(t, repo)

	payload := mustJSON(t, users.UpdatePayload{ActorID: 1, UserID: 9, Email: "new@example.com", Name: "New", RoleID: 3})
	require.NoError(t, reg.Commit(context.Background(), users.ActionUpdate, payload, "123456"))

	got := repo.users[9]
	assert.Equal(t, "new@example.com", got.Email)
	assert.Equal(t, int64(3), got.RoleID)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, users.ActionUpdate, audit.entries[0].Action)
	assert.Equal(t, true, audit.entries[0].Meta["code_gated"])
}

func TestCommitDeleteRemovesAccount(t *testing.T) {
	repo := newMockUserRepo(users.User{ID: 9})
	reg, _ := newRegistry(t, repo)

	payload := mustJSON(t, users.DeletePayload{ActorID: 1, UserID: 9})
	require.NoError(t, reg.Commit(context.Background(), users.ActionDelete, payload, "123456"))
	assert.Empty(t, repo.users)
}

func TestCommitStatusTogglesFlag(t *testing.T) {
	repo := newMockUserRepo(users.User{ID: 9, IsActive: true})
	reg, _ := newRegistry(t, repo)

	payload := mustJSON(t, users.StatusPayload{ActorID: 1, UserID: 9, Active: false})
	require.NoError(t, reg.Commit(context.Background(), users.ActionStatus, payload, "123456"))
	assert.False(t, repo.users[9].IsActive)
}

func TestCommitMissingAccountFails(t *testing.T) {
	repo := newMockUserRepo()
	reg, audit := newRegistry(t, repo)

	payload := mustJSON(t, users.DeletePayload{ActorID: 1, UserID: 404})
	err := reg.Commit(context.Background(), users.ActionDelete, payload, "123456")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, audit.entries, "failed commits are not audited")
}
