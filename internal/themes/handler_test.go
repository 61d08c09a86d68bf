package themes_test

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
	"github.com/meridian-commerce/meridian-admin/internal/themes"
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

func TestDeleteCodeBoundToChallengedTheme(t *testing.T) {
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
	repo := newMockThemeRepo(
		themes.Theme{ID: 1, Name: "Dawn", IsActive: true},
		themes.Theme{ID: 2, Name: "Dusk"},
		themes.Theme{ID: 3, Name: "Craft"},
	)
	svc := themes.NewService(repo, &stubAudit{}, slog.Default())
	reg := verify.NewRegistry()
	svc.RegisterCommits(reg)
	handler := themes.NewHandler(slog.Default(), svc, wf, reg)

	sess := &shared.Session{ID: "sess-1"}
	sess.SetUser("1")
	sess.SetActor(shared.Actor{UserID: 1, RoleID: 1, RoleName: "Owner", IsSuperAdmin: true})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route("/themes", func(r chi.Router) {
		handler.MountRoutes(r, auth.NewGate(stubRoleProvider{}))
	})

	do := func(target, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, target, strings.NewReader(body))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do("/themes/2", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	ch, err := wf.RequestCode(context.Background(), sess.ID)
	require.NoError(t, err)
	code := authority.codes[ch.ID]

	// The code only confirms the theme the challenge was opened for.
	rec = do("/themes/3", `{"code":"`+code+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, repo.themes, int64(2))
	assert.Contains(t, repo.themes, int64(3))

	rec = do("/themes/2", `{"code":"`+code+`"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, repo.themes, int64(2))
	assert.Contains(t, repo.themes, int64(3))
}
