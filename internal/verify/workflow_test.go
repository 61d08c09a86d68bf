package verify_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-commerce/meridian-admin/internal/verify"
	_ "github.com/meridian-commerce/meridian-admin/testing"
)

type fakeAuthority struct {
	issued    map[uuid.UUID]string
	redeemErr error
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{issued: make(map[uuid.UUID]string)}
}

func (f *fakeAuthority) Issue(ctx context.Context, challengeID uuid.UUID, code string, expiresAt time.Time) error {
	f.issued[challengeID] = code
	return nil
}

func (f *fakeAuthority) Redeem(ctx context.Context, challengeID uuid.UUID, code string) error {
	if f.redeemErr != nil {
		return f.redeemErr
	}
	if f.issued[challengeID] != code {
		return verify.ErrCodeInvalid
	}
	delete(f.issued, challengeID)
	return nil
}

type fakeMailer struct {
	delivered []string
}

func (f *fakeMailer) Deliver(ctx context.Context, code, action string) error {
	f.delivered = append(f.delivered, code)
	return nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newWorkflow(t *testing.T) (*verify.Workflow, *fakeAuthority, *fakeMailer, *testClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	authority := newFakeAuthority()
	mailer := &fakeMailer{}
	clock := &testClock{now: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)}
	wf := verify.NewWorkflow(verify.WorkflowConfig{
		Client:       client,
		Authority:    authority,
		Mailer:       mailer,
		Logger:       slog.Default(),
		Cooldown:     60 * time.Second,
		CodeTTL:      10 * time.Minute,
		ChallengeTTL: 30 * time.Minute,
		Now:          clock.Now,
	})
	return wf, authority, mailer, clock
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestInitiateRejectsSecondChallenge(t *testing.T) {
	wf, _, _, _ := newWorkflow(t)
	ctx := context.Background()

	_, err := wf.Initiate(ctx, "sess", "user.delete", payload(t, map[string]int{"id": 4}))
	require.NoError(t, err)

	_, err = wf.Initiate(ctx, "sess", "theme.delete", payload(t, map[string]int{"id": 2}))
	assert.ErrorIs(t, err, verify.ErrChallengeActive)
}

func TestRequestCodeStartsCooldown(t *testing.T) {
	wf, _, mailer, clock := newWorkflow(t)
	ctx := context.Background()

	_, err := wf.Initiate(ctx, "sess", "user.delete", payload(t, map[string]int{"id": 4}))
	require.NoError(t, err)

	ch, err := wf.RequestCode(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, verify.StateCodeRequested, ch.State)
	assert.Equal(t, 60, ch.CooldownRemaining(clock.Now()))
	require.Len(t, mailer.delivered, 1)

	// Resend during the cooldown is refused; the state is unchanged.
	_, err = wf.RequestCode(ctx, "sess")
	assert.ErrorIs(t, err, verify.ErrCooldownActive)

	// Cooldown expiry re-enables resend without leaving CodeRequested.
	clock.Advance(61 * time.Second)
	ch, err = wf.RequestCode(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, verify.StateCodeRequested, ch.State)
	assert.Len(t, mailer.delivered, 2)
}

func TestSubmitScenarioDeleteUser(t *testing.T) {
	// Operator initiates "delete user", requests a code, types 5 digits
	// (blocked locally), types 6 digits (allowed), remote rejects as
	// expired, state returns to CodeRequested with the payload preserved.
	wf, authority, _, _ := newWorkflow(t)
	ctx := context.Background()

	_, err := wf.Initiate(ctx, "sess", "user.delete", payload(t, map[string]int{"id": 4}))
	require.NoError(t, err)
	_, err = wf.RequestCode(ctx, "sess")
	require.NoError(t, err)

	commits := 0
	commit := func(ctx context.Context, payload json.RawMessage, code string) error {
		commits++
		return nil
	}

	err = wf.Submit(ctx, "sess", "12345", commit)
	assert.ErrorIs(t, err, verify.ErrCodeMalformed)
	assert.Zero(t, commits)

	authority.redeemErr = verify.ErrCodeInvalid
	err = wf.Submit(ctx, "sess", "123456", commit)
	assert.ErrorIs(t, err, verify.ErrCodeInvalid)
	assert.Zero(t, commits)

	ch, err := wf.Current(ctx, "sess")
	require.NoError(t, err)
	require.NotNil(t, ch, "challenge must survive a rejected code")
	assert.Equal(t, verify.StateCodeRequested, ch.State)
	assert.Equal(t, "user.delete", ch.Action)
	assert.JSONEq(t, `{"id":4}`, string(ch.Payload))
}

func TestSubmitCommitsAndClears(t *testing.T) {
	wf, authority, _, _ := newWorkflow(t)
	ctx := context.Background()

	ch, err := wf.Initiate(ctx, "sess", "user.status", payload(t, map[string]any{"id": 4, "active": false}))
	require.NoError(t, err)
	_, err = wf.RequestCode(ctx, "sess")
	require.NoError(t, err)

	code := authority.issued[ch.ID]
	require.True(t, verify.ValidCodeFormat(code))

	var gotCode string
	err = wf.Submit(ctx, "sess", code, func(ctx context.Context, payload json.RawMessage, code string) error {
		gotCode = code
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, code, gotCode)

	current, err := wf.Current(ctx, "sess")
	require.NoError(t, err)
	assert.Nil(t, current, "challenge cleared after commit")
}

func TestSubmitCommitFailureKeepsChallenge(t *testing.T) {
	wf, authority, _, _ := newWorkflow(t)
	ctx := context.Background()

	ch, err := wf.Initiate(ctx, "sess", "theme.delete", payload(t, map[string]int{"id": 11}))
	require.NoError(t, err)
	_, err = wf.RequestCode(ctx, "sess")
	require.NoError(t, err)

	bang := errors.New("persistence down")
	err = wf.Submit(ctx, "sess", authority.issued[ch.ID], func(ctx context.Context, payload json.RawMessage, code string) error {
		return bang
	})
	assert.ErrorIs(t, err, bang)

	current, err := wf.Current(ctx, "sess")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, verify.StateCodeRequested, current.State)
}

func TestCancelFromAnyState(t *testing.T) {
	wf, _, _, _ := newWorkflow(t)
	ctx := context.Background()

	_, err := wf.Initiate(ctx, "sess", "user.delete", payload(t, map[string]int{"id": 4}))
	require.NoError(t, err)
	require.NoError(t, wf.Cancel(ctx, "sess"))

	current, err := wf.Current(ctx, "sess")
	require.NoError(t, err)
	assert.Nil(t, current)

	// Cancel with nothing active is a no-op.
	require.NoError(t, wf.Cancel(ctx, "sess"))

	// A new action can start after cancel.
	_, err = wf.Initiate(ctx, "sess", "theme.delete", payload(t, map[string]int{"id": 2}))
	require.NoError(t, err)
}

func TestSubmitBeforeRequestingCode(t *testing.T) {
	wf, _, _, _ := newWorkflow(t)
	ctx := context.Background()

	_, err := wf.Initiate(ctx, "sess", "user.delete", payload(t, map[string]int{"id": 4}))
	require.NoError(t, err)

	err = wf.Submit(ctx, "sess", "123456", func(context.Context, json.RawMessage, string) error { return nil })
	assert.ErrorIs(t, err, verify.ErrInvalidState)
}

func TestValidCodeFormat(t *testing.T) {
	assert.True(t, verify.ValidCodeFormat("123456"))
	assert.False(t, verify.ValidCodeFormat(""))
	assert.False(t, verify.ValidCodeFormat("12345"))
	assert.False(t, verify.ValidCodeFormat("1234567"))
	assert.False(t, verify.ValidCodeFormat("12345a"))
}
