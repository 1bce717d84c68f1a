// Package auth implements the identity challenge gateway: short-lived
// random tokens delivered out-of-band, verified with a small retry budget.
package auth

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/gazouio/gazou/pkg/errors"
)

// Notifier delivers a challenge token to a user over a channel the client
// connection cannot observe.
type Notifier interface {
	NotifyToken(ctx context.Context, userID, token string) error
}

// Options tune the challenge lifecycle.
type Options struct {
	// TokenLength is the number of characters in a challenge token.
	TokenLength int
	// Expiry invalidates an unconsumed challenge after this duration.
	Expiry time.Duration
	// MaxTries invalidates a challenge after this many failed attempts.
	MaxTries int
}

type challenge struct {
	mu    sync.Mutex
	token string
	tries int
	timer *time.Timer
}

// Gateway owns the pending challenge state for all identities.
type Gateway struct {
	notifier Notifier
	opts     Options
	pending  *xsync.MapOf[string, *challenge]
}

// New creates a gateway delivering tokens through the given notifier.
func New(notifier Notifier, opts Options) *Gateway {
	if opts.TokenLength <= 0 {
		opts.TokenLength = 6
	}
	if opts.Expiry <= 0 {
		opts.Expiry = 30 * time.Second
	}
	if opts.MaxTries <= 0 {
		opts.MaxTries = 2
	}
	return &Gateway{
		notifier: notifier,
		opts:     opts,
		pending:  xsync.NewMapOf[string, *challenge](),
	}
}

// RequestAuth mints a challenge for userID, delivers it out-of-band and
// schedules its expiry. A second request replaces any pending challenge.
func (g *Gateway) RequestAuth(ctx context.Context, userID string) error {
	token, err := randomToken(g.opts.TokenLength)
	if err != nil {
		return errors.Wrap(err, "failed to mint challenge token")
	}

	c := &challenge{token: token}
	c.timer = time.AfterFunc(g.opts.Expiry, func() {
		g.dropChallenge(userID, c)
		slog.Info("auth_challenge_expired", "user_id", userID)
	})

	if old, ok := g.pending.Load(userID); ok {
		old.mu.Lock()
		old.timer.Stop()
		old.mu.Unlock()
	}
	g.pending.Store(userID, c)

	if err := g.notifier.NotifyToken(ctx, userID, token); err != nil {
		g.VoidRequest(userID)
		return errors.Wrap(err, "failed to deliver challenge token")
	}

	slog.Info("auth_challenge_issued", "user_id", userID)
	return nil
}

// TestToken compares a candidate against the pending challenge. A mismatch
// consumes one try and, once the budget is exhausted, voids the challenge.
// No pending challenge is a plain false, not an error. On a match the
// caller is expected to void the challenge.
func (g *Gateway) TestToken(userID, candidate string) bool {
	c, ok := g.pending.Load(userID)
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == candidate {
		return true
	}

	c.tries++
	if c.tries >= g.opts.MaxTries {
		c.timer.Stop()
		g.dropChallenge(userID, c)
		slog.Info("auth_challenge_voided", "user_id", userID, "tries", c.tries)
	}
	return false
}

// dropChallenge removes the pending entry for userID only while it still
// maps to c, leaving any newer challenge in place.
func (g *Gateway) dropChallenge(userID string, c *challenge) {
	g.pending.Compute(userID, func(cur *challenge, loaded bool) (*challenge, bool) {
		if !loaded || cur == c {
			return nil, true
		}
		return cur, false
	})
}

// VoidRequest drops any pending challenge for userID.
func (g *Gateway) VoidRequest(userID string) {
	if c, ok := g.pending.LoadAndDelete(userID); ok {
		c.mu.Lock()
		c.timer.Stop()
		c.mu.Unlock()
	}
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf), nil
}

// LogNotifier writes tokens to the process log. It stands in for a real
// out-of-band channel in development and tests.
type LogNotifier struct{}

func (LogNotifier) NotifyToken(ctx context.Context, userID, token string) error {
	slog.Info("auth_token_delivery", "user_id", userID, "token", token)
	return nil
}
