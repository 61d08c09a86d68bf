package roles_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-commerce/meridian-admin/internal/perm"
	"github.com/meridian-commerce/meridian-admin/internal/roles"
	"github.com/meridian-commerce/meridian-admin/internal/shared"
	"github.com/meridian-commerce/meridian-admin/internal/staged"
	_ "github.com/meridian-commerce/meridian-admin/testing"
)

type mockRepository struct {
	roles map[int64]perm.Role

	replaceErr   error
	replaceCalls int
	lastReplace  []perm.SectionGrant
}

func newMockRepository(seed ...perm.Role) *mockRepository {
	m := &mockRepository{roles: make(map[int64]perm.Role)}
	for _, r := range seed {
		m.roles[r.ID] = r
	}
	return m
}

func (m *mockRepository) ListRoles(ctx context.Context) ([]perm.Role, error) {
	out := make([]perm.Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRepository) GetRole(ctx context.Context, id int64) (perm.Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return perm.Role{}, shared.ErrNotFound
	}
	return r, nil
}

func (m *mockRepository) GetRoleByName(ctx context.Context, name string) (perm.Role, error) {
	for _, r := range m.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return perm.Role{}, shared.ErrNotFound
}

func (m *mockRepository) ReplaceGrants(ctx context.Context, roleID int64, grants []perm.SectionGrant) error {
	m.replaceCalls++
	if m.replaceErr != nil {
		return m.replaceErr
	}
	role, ok := m.roles[roleID]
	if !ok {
		return shared.ErrNotFound
	}
	role.Grants = grants
	m.roles[roleID] = role
	m.lastReplace = grants
	return nil
}

type stubAudit struct {
	entries []shared.AuditLog
}

func (s *stubAudit) Record(ctx context.Context, log shared.AuditLog) error {
	s.entries = append(s.entries, log)
	return nil
}

func editorRole() perm.Role {
	return perm.Role{
		ID:                 7,
		Name:               "Support-Admin",
		CanEditPermissions: false,
		Grants: []perm.SectionGrant{
			{Section: perm.SectionClientList, Set: perm.NewSet(perm.KindView, perm.KindEdit, perm.KindUpload)},
			{Section: perm.SectionDeveloper, Set: perm.NewSet(), SubGrants: []perm.SubGrant{
				{Subsection: perm.SubsectionThemeDeveloper, Set: perm.NewSet(perm.KindView)},
			}},
		},
	}
}

func superAdminRole() perm.Role {
	return perm.Role{ID: 1, Name: "Owner", IsSuperAdmin: true, CanEditPermissions: true}
}

func operator() *shared.Actor {
	return &shared.Actor{UserID: 100, RoleName: "Owner", IsSuperAdmin: true, CanEditPermissions: true}
}

func newService(t *testing.T, repo roles.RepositoryPort) (*roles.Service, *stubAudit) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	manager := staged.NewManager(client, time.Hour)
	audit := &stubAudit{}
	return roles.NewService(repo, manager, audit, slog.Default()), audit
}

func TestToggleStagesChange(t *testing.T) {
	repo := newMockRepository(editorRole())
	svc, _ := newService(t, repo)
	ctx := context.Background()

	_, _, err := svc.OpenEditor(ctx, "sess", 7, false)
	require.NoError(t, err)

	set, changed, err := svc.Toggle(ctx, "sess", operator(), 7, perm.SectionDeveloper, perm.SubsectionThemeDeveloper, perm.KindEdit)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, set.Equal(perm.NewSet(perm.KindView, perm.KindEdit)))

	// Nothing is persisted until save.
	role, err := repo.GetRole(ctx, 7)
	require.NoError(t, err)
	sg, _ := role.Grants[1].SubGrantFor(perm.SubsectionThemeDeveloper)
	assert.True(t, sg.Set.Equal(perm.NewSet(perm.KindView)))

	has, err := svc.HasPendingChanges(ctx, "sess", 7)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestToggleWithoutEditRightIsNoOp(t *testing.T) {
	repo := newMockRepository(editorRole())
	svc, _ := newService(t, repo)
	ctx := context.Background()

	_, _, err := svc.OpenEditor(ctx, "sess", 7, false)
	require.NoError(t, err)

	viewer := &shared.Actor{UserID: 101, RoleName: "Support-Admin"}
	set, changed, err := svc.Toggle(ctx, "sess", viewer, 7, perm.SectionClientList, "", perm.KindEdit)
	require.NoError(t, err, "unauthorized toggle is a no-op, not a failure")
	assert.False(t, changed)
	assert.True(t, set.Equal(perm.NewSet(perm.KindView, perm.KindEdit, perm.KindUpload)))

	has, err := svc.HasPendingChanges(ctx, "sess", 7)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestToggleSuperAdminTargetIsNoOp(t *testing.T) {
	repo := newMockRepository(superAdminRole())
	svc, _ := newService(t, repo)
	ctx := context.Background()

	_, _, err := svc.OpenEditor(ctx, "sess", 1, false)
	require.NoError(t, err)

	_, changed, err := svc.Toggle(ctx, "sess", operator(), 1, perm.SectionClientList, "", perm.KindView)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestToggleRejectedInvariantKeepsSet(t *testing.T) {
	repo := newMockRepository(editorRole())
	svc, _ := newService(t, repo)
	ctx := context.Background()

	_, _, err := svc.OpenEditor(ctx, "sess", 7, false)
	require.NoError(t, err)

	// Client List holds {view, edit, upload}; revoking view is rejected.
	set, changed, err := svc.Toggle(ctx, "sess", operator(), 7, perm.SectionClientList, "", perm.KindView)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, set.Equal(perm.NewSet(perm.KindView, perm.KindEdit, perm.KindUpload)))
}

func TestSavePersistsAndClearsPending(t *testing.T) {
	repo := newMockRepository(editorRole())
	svc, audit := newService(t, repo)
	ctx := context.Background()

	_, _, err := svc.OpenEditor(ctx, "sess", 7, false)
	require.NoError(t, err)
	_, _, err = svc.Toggle(ctx, "sess", operator(), 7, perm.SectionDeveloper, perm.SubsectionThemeDeveloper, perm.KindEdit)
	require.NoError(t, err)

	role, err := svc.Save(ctx, "sess", operator(), 7)
	require.NoError(t, err)

	// Every declared section is present in the save request.
	assert.Len(t, repo.lastReplace, len(perm.Taxonomy()))

	grant, ok := role.GrantFor(perm.SectionDeveloper)
	require.True(t, ok)
	sg, ok := grant.SubGrantFor(perm.SubsectionThemeDeveloper)
	require.True(t, ok)
	assert.True(t, sg.Set.Equal(perm.NewSet(perm.KindView, perm.KindEdit)))

	// Untouched Client List survives with its persisted value.
	cl, ok := role.GrantFor(perm.SectionClientList)
	require.True(t, ok)
	assert.True(t, cl.Set.Equal(perm.NewSet(perm.KindView, perm.KindEdit, perm.KindUpload)))

	has, err := svc.HasPendingChanges(ctx, "sess", 7)
	require.NoError(t, err)
	assert.False(t, has, "pending state cleared after acknowledged save")

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "permissions.save", audit.entries[0].Action)
}

func TestSaveFailureKeepsPendingState(t *testing.T) {
	repo := newMockRepository(editorRole())
	svc, _ := newService(t, repo)
	ctx := context.Background()

	_, _, err := svc.OpenEditor(ctx, "sess", 7, false)
	require.NoError(t, err)
	_, _, err = svc.Toggle(ctx, "sess", operator(), 7, perm.SectionClientList, "", perm.KindUpload)
	require.NoError(t, err)

	repo.replaceErr = errors.New("connection reset")
	_, err = svc.Save(ctx, "sess", operator(), 7)
	require.Error(t, err)

	// Staged changes survive so the operator can retry.
	has, err := svc.HasPendingChanges(ctx, "sess", 7)
	require.NoError(t, err)
	assert.True(t, has)

	repo.replaceErr = nil
	_, err = svc.Save(ctx, "sess", operator(), 7)
	require.NoError(t, err)
}

func TestSaveWithoutPendingSession(t *testing.T) {
	repo := newMockRepository(editorRole())
	svc, _ := newService(t, repo)

	_, err := svc.Save(context.Background(), "sess", operator(), 7)
	assert.ErrorIs(t, err, staged.ErrNoEditorSession)
}

func TestReplacePermissionsRequiresFullCoverage(t *testing.T) {
	repo := newMockRepository(editorRole())
	svc, _ := newService(t, repo)

	// A single-section array would blank every other section; rejected.
	_, err := svc.ReplacePermissions(context.Background(), operator(), 7, []perm.SectionGrant{
		{Section: perm.SectionClientList, Set: perm.NewSet(perm.KindView)},
	})
	require.Error(t, err)
	assert.Zero(t, repo.replaceCalls)
}

func TestListRolesSortedByName(t *testing.T) {
	a := editorRole()
	b := superAdminRole()
	c := perm.Role{ID: 3, Name: "billing-ops"}
	repo := newMockRepository(a, b, c)
	svc, _ := newService(t, repo)

	roles, err := svc.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 3)
	assert.Equal(t, "billing-ops", roles[0].Name)
	assert.Equal(t, "Owner", roles[1].Name)
	assert.Equal(t, "Support-Admin", roles[2].Name)
}
