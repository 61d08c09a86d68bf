// Package verify implements the verified-commit workflow: sensitive
// mutations are wrapped in a challenge that must be confirmed with a
// one-time code issued to a separate authority mailbox before the mutation
// may reach persistence.
package verify

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// State is the position of a challenge in its lifecycle.
type State string

const (
	// StateAwaitingRequest holds the pending action before a code was sent.
	StateAwaitingRequest State = "awaiting_request"
	// StateCodeRequested means a code is on its way to the authority.
	StateCodeRequested State = "code_requested"
	// StateSubmitted means a code is being checked against the authority.
	StateSubmitted State = "submitted"
)

var (
	// ErrChallengeActive indicates another gated action is already in
	// flight for this operator session.
	ErrChallengeActive = errors.New("verify: a challenge is already active")
	// ErrNoChallenge indicates no challenge is active.
	ErrNoChallenge = errors.New("verify: no active challenge")
	// ErrCooldownActive indicates resend was requested before the cooldown
	// elapsed.
	ErrCooldownActive = errors.New("verify: resend cooldown active")
	// ErrCodeMalformed indicates the entered code failed local validation.
	ErrCodeMalformed = errors.New("verify: code must be exactly 6 digits")
	// ErrCodeInvalid is the distinguished error class for a code the
	// authority rejected as wrong, expired, or already used.
	ErrCodeInvalid = errors.New("verify: code invalid or expired")
	// ErrInvalidState indicates the requested transition is not legal from
	// the challenge's current state.
	ErrInvalidState = errors.New("verify: transition not allowed in current state")
)

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// ValidCodeFormat reports whether the code passes the local guard: exactly
// six digits. This avoids a round-trip for obviously malformed input; the
// authority remains the only judge of actual validity.
func ValidCodeFormat(code string) bool {
	return codePattern.MatchString(code)
}

// Challenge wraps one pending sensitive action. The payload is opaque to
// the workflow: it is stored on initiate and handed back, decorated with
// the code, on submit.
type Challenge struct {
	ID            uuid.UUID       `json:"id"`
	Action        string          `json:"action"`
	Payload       json.RawMessage `json:"payload"`
	State         State           `json:"state"`
	CooldownUntil time.Time       `json:"cooldown_until"`
}

// CooldownRemaining returns the whole seconds left before resend is allowed.
func (c Challenge) CooldownRemaining(now time.Time) int {
	if c.State != StateCodeRequested || !now.Before(c.CooldownUntil) {
		return 0
	}
	return int(c.CooldownUntil.Sub(now).Round(time.Second) / time.Second)
}

// CodeAuthority issues and redeems one-time codes. The persistence side is
// the sole authority on validity; Redeem returns ErrCodeInvalid for a
// wrong, expired, or already-used code.
type CodeAuthority interface {
	Issue(ctx context.Context, challengeID uuid.UUID, code string, expiresAt time.Time) error
	Redeem(ctx context.Context, challengeID uuid.UUID, code string) error
}

// CodeMailer delivers an issued code to the configured authority mailbox.
// The code value never travels back to the client.
type CodeMailer interface {
	Deliver(ctx context.Context, code, action string) error
}

// CommitFunc applies the pending action once a code has been attached.
type CommitFunc func(ctx context.Context, payload json.RawMessage, code string) error

// OutcomeCounter records challenge outcomes for the metrics endpoint.
type OutcomeCounter interface {
	CountChallenge(action, outcome string)
}

// Workflow drives the challenge state machine. One challenge may be active
// per operator session; state lives in redis keyed by session.
type Workflow struct {
	client    *redis.Client
	authority CodeAuthority
	mailer    CodeMailer
	logger    *slog.Logger
	outcomes  OutcomeCounter
	cooldown  time.Duration
	codeTTL   time.Duration
	ttl       time.Duration
	now       func() time.Time
}

// WorkflowConfig collects Workflow dependencies.
type WorkflowConfig struct {
	Client    *redis.Client
	Authority CodeAuthority
	Mailer    CodeMailer
	Logger    *slog.Logger
	// Cooldown is the resend delay after a code was sent.
	Cooldown time.Duration
	// CodeTTL is how long an issued code stays redeemable.
	CodeTTL time.Duration
	// ChallengeTTL bounds how long an abandoned challenge survives.
	ChallengeTTL time.Duration
	// Outcomes optionally counts committed/rejected/cancelled challenges.
	Outcomes OutcomeCounter
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewWorkflow constructs a Workflow.
func NewWorkflow(cfg WorkflowConfig) *Workflow {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Workflow{
		client:    cfg.Client,
		authority: cfg.Authority,
		mailer:    cfg.Mailer,
		logger:    cfg.Logger,
		outcomes:  cfg.Outcomes,
		cooldown:  cfg.Cooldown,
		codeTTL:   cfg.CodeTTL,
		ttl:       cfg.ChallengeTTL,
		now:       now,
	}
}

// Current returns the session's active challenge, or nil.
func (w *Workflow) Current(ctx context.Context, sessionID string) (*Challenge, error) {
	return w.load(ctx, sessionID)
}

// Initiate opens a challenge for the given action. A second gated action
// while one is active is rejected: the console surfaces a single modal and
// a single stored payload.
func (w *Workflow) Initiate(ctx context.Context, sessionID, action string, payload json.RawMessage) (*Challenge, error) {
	existing, err := w.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrChallengeActive
	}
	ch := &Challenge{
		ID:      uuid.New(),
		Action:  action,
		Payload: payload,
		State:   StateAwaitingRequest,
	}
	if err := w.store(ctx, sessionID, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// RequestCode issues a fresh code for the active challenge and starts the
// resend cooldown. Allowed from AwaitingRequest, and again from
// CodeRequested once the cooldown has elapsed.
func (w *Workflow) RequestCode(ctx context.Context, sessionID string) (*Challenge, error) {
	ch, err := w.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, ErrNoChallenge
	}
	now := w.now()
	switch ch.State {
	case StateAwaitingRequest:
	case StateCodeRequested:
		if now.Before(ch.CooldownUntil) {
			return nil, ErrCooldownActive
		}
	default:
		return nil, ErrInvalidState
	}
	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	if err := w.authority.Issue(ctx, ch.ID, code, now.Add(w.codeTTL)); err != nil {
		return nil, err
	}
	if err := w.mailer.Deliver(ctx, code, ch.Action); err != nil {
		return nil, err
	}
	ch.State = StateCodeRequested
	ch.CooldownUntil = now.Add(w.cooldown)
	if err := w.store(ctx, sessionID, ch); err != nil {
		return nil, err
	}
	w.logger.Info("verification code issued",
		slog.String("challenge_id", ch.ID.String()),
		slog.String("action", ch.Action))
	return ch, nil
}

// Submit checks the entered code locally, redeems it with the authority,
// and on success hands the stored payload plus code to commit. A rejected
// code or a failed commit returns the challenge to CodeRequested with the
// payload preserved and the cooldown untouched, so the operator can retype
// or resend without re-selecting the action.
func (w *Workflow) Submit(ctx context.Context, sessionID, code string, commit CommitFunc) error {
	ch, err := w.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if ch == nil {
		return ErrNoChallenge
	}
	if ch.State != StateCodeRequested {
		return ErrInvalidState
	}
	if !ValidCodeFormat(code) {
		return ErrCodeMalformed
	}

	ch.State = StateSubmitted
	if err := w.store(ctx, sessionID, ch); err != nil {
		return err
	}

	revert := func() {
		ch.State = StateCodeRequested
		if storeErr := w.store(ctx, sessionID, ch); storeErr != nil {
			w.logger.Error("revert challenge state", slog.Any("error", storeErr))
		}
	}

	if err := w.authority.Redeem(ctx, ch.ID, code); err != nil {
		revert()
		if errors.Is(err, ErrCodeInvalid) {
			w.count(ch.Action, "rejected")
			return ErrCodeInvalid
		}
		return err
	}
	if err := commit(ctx, ch.Payload, code); err != nil {
		revert()
		return err
	}
	if err := w.client.Del(ctx, challengeKey(sessionID)).Err(); err != nil {
		w.logger.Warn("clear committed challenge", slog.Any("error", err))
	}
	w.count(ch.Action, "committed")
	w.logger.Info("verified commit",
		slog.String("challenge_id", ch.ID.String()),
		slog.String("action", ch.Action))
	return nil
}

// Cancel discards the active challenge from any state without attaching a
// code. Cancelling with no challenge active is a no-op.
func (w *Workflow) Cancel(ctx context.Context, sessionID string) error {
	ch, err := w.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if ch == nil {
		return nil
	}
	if err := w.client.Del(ctx, challengeKey(sessionID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	w.count(ch.Action, "cancelled")
	return nil
}

func (w *Workflow) count(action, outcome string) {
	if w.outcomes != nil {
		w.outcomes.CountChallenge(action, outcome)
	}
}

// Clock exposes the workflow's time source for cooldown reporting.
func (w *Workflow) Clock() func() time.Time {
	return w.now
}

func (w *Workflow) load(ctx context.Context, sessionID string) (*Challenge, error) {
	payload, err := w.client.Get(ctx, challengeKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var ch Challenge
	if err := json.Unmarshal(payload, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (w *Workflow) store(ctx context.Context, sessionID string, ch *Challenge) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return w.client.Set(ctx, challengeKey(sessionID), payload, w.ttl).Err()
}

func challengeKey(sessionID string) string {
	return "challenge:" + sessionID
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("verify: generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
