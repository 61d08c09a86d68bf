package users_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-commerce/meridian-admin/internal/auth"
	"github.com/meridian-commerce/meridian-admin/internal/perm"
	"github.com/meridian-commerce/meridian-admin/internal/shared"
	"github.com/meridian-commerce/meridian-admin/internal/users"
	"github.com/meridian-commerce/meridian-admin/internal/verify"
)

type stubRoleProvider struct{}

func (stubRoleProvider) GetRoleByName(ctx context.Context, name string) (perm.Role, error) {
	return perm.Role{ID: 1, Name: name, IsSuperAdmin: true}, nil
}

type recordingAuthority struct {
	codes map[uuid.UUID]string
}

func (a *recordingAuthority) Issue(ctx context.Context, challengeID uuid.UUID, code string, expiresAt time.Time) error {
	a.codes[challengeID] = code
	return nil
}

func (a *recordingAuthority) Redeem(ctx context.Context, challengeID uuid.UUID, code string) error {
	if a.codes[challengeID] != code {
		return verify.ErrCodeInvalid
	}
	delete(a.codes, challengeID)
	return nil
}

type silentMailer struct{}

func (silentMailer) Deliver(ctx context.Context, code, action string) error { return nil }

type gatedServer struct {
	router    http.Handler
	repo      *mockUserRepo
	workflow  *verify.Workflow
	authority *recordingAuthority
	sess      *shared.Session
}

func newGatedServer(t *testing.T, seed ...users.User) *gatedServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	authority := &recordingAuthority{codes: make(map[uuid.UUID]string)}
	wf := verify.NewWorkflow(verify.WorkflowConfig{
		Client:       client,
		Authority:    authority,
		Mailer:       silentMailer{},
		Logger:       slog.Default(),
		Cooldown:     60 * time.Second,
		CodeTTL:      10 * time.Minute,
		ChallengeTTL: 30 * time.Minute,
	})
	repo := newMockUserRepo(seed...)
	svc := users.NewService(repo, &stubAudit{}, slog.Default())
	reg := verify.NewRegistry()
	svc.RegisterCommits(reg)
	handler := users.NewHandler(slog.Default(), svc, wf, reg)

	sess := &shared.Session{ID: "sess-1"}
	sess.SetUser("1")
	sess.SetActor(shared.Actor{UserID: 1, RoleID: 1, RoleName: "Owner", IsSuperAdmin: true})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route("/users", func(r chi.Router) {
		handler.MountRoutes(r, auth.NewGate(stubRoleProvider{}))
	})
	return &gatedServer{router: r, repo: repo, workflow: wf, authority: authority, sess: sess}
}

func (s *gatedServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *gatedServer) requestCode(t *testing.T) string {
	t.Helper()
	ch, err := s.workflow.RequestCode(context.Background(), s.sess.ID)
	require.NoError(t, err)
	code, ok := s.authority.codes[ch.ID]
	require.True(t, ok)
	return code
}

func TestDeleteCodeBoundToChallengedAccount(t *testing.T) {
	srv := newGatedServer(t, users.User{ID: 4}, users.User{ID: 5})

	rec := srv.do(t, http.MethodDelete, "/users/4", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	code := srv.requestCode(t)

	// The code confirms the challenged account only. Aiming it at another
	// account is refused, nothing is deleted, and the code stays unspent.
	rec = srv.do(t, http.MethodDelete, "/users/5", `{"code":"`+code+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, srv.repo.users, int64(4))
	assert.Contains(t, srv.repo.users, int64(5))

	rec = srv.do(t, http.MethodDelete, "/users/4", `{"code":"`+code+`"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, srv.repo.users, int64(4))
	assert.Contains(t, srv.repo.users, int64(5))
}

func TestUpdateRejectsChangedPayloadUnderActiveChallenge(t *testing.T) {
	srv := newGatedServer(t, users.User{ID: 9, Email: "old@example.com", Name: "Old", RoleID: 2})

	first := `{"email":"new@example.com","name":"New","role_id":3}`
	rec := srv.do(t, http.MethodPut, "/users/9", first)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// A retry with different fields must not ride the open challenge.
	rec = srv.do(t, http.MethodPut, "/users/9", `{"email":"other@example.com","name":"Other","role_id":3}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	code := srv.requestCode(t)
	rec = srv.do(t, http.MethodPut, "/users/9", `{"email":"new@example.com","name":"New","role_id":3,"code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new@example.com", srv.repo.users[9].Email)
}

func TestSubmitWithoutChallengeConflicts(t *testing.T) {
	srv := newGatedServer(t, users.User{ID: 4})

	rec := srv.do(t, http.MethodDelete, "/users/4", `{"code":"123456"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, srv.repo.users, int64(4))
}
