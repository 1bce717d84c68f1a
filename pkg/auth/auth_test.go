package auth

import (
	"context"
	"sync"
	"testing"
	"time"
)

// captureNotifier records the last delivered token.
type captureNotifier struct {
	mu    sync.Mutex
	token string
}

func (n *captureNotifier) NotifyToken(ctx context.Context, userID, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.token = token
	return nil
}

func (n *captureNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.token
}

func TestGateway_MatchSucceeds(t *testing.T) {
	n := &captureNotifier{}
	g := New(n, Options{})

	if err := g.RequestAuth(context.Background(), "42"); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if !g.TestToken("42", n.last()) {
		t.Error("delivered token should verify")
	}

	g.VoidRequest("42")
	if g.TestToken("42", n.last()) {
		t.Error("voided challenge should no longer verify")
	}
}

func TestGateway_NoPendingChallengeIsFalse(t *testing.T) {
	g := New(&captureNotifier{}, Options{})
	if g.TestToken("nobody", "anything") {
		t.Error("missing challenge must fail, not error")
	}
}

func TestGateway_RetryBudgetVoidsChallenge(t *testing.T) {
	n := &captureNotifier{}
	g := New(n, Options{MaxTries: 2})

	if err := g.RequestAuth(context.Background(), "42"); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if g.TestToken("42", "wrong") {
		t.Fatal("wrong token should fail")
	}
	if g.TestToken("42", "wrong again") {
		t.Fatal("wrong token should fail")
	}

	// Budget exhausted; even the real token is now rejected.
	if g.TestToken("42", n.last()) {
		t.Error("challenge should have been voided after the retry budget")
	}
}

func TestGateway_ChallengeExpires(t *testing.T) {
	n := &captureNotifier{}
	g := New(n, Options{Expiry: 20 * time.Millisecond})

	if err := g.RequestAuth(context.Background(), "42"); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	if g.TestToken("42", n.last()) {
		t.Error("expired challenge should be rejected")
	}
}

func TestGateway_NewRequestReplacesPending(t *testing.T) {
	n := &captureNotifier{}
	g := New(n, Options{})

	g.RequestAuth(context.Background(), "42")
	first := n.last()
	g.RequestAuth(context.Background(), "42")

	if first == n.last() {
		t.Skip("tokens collided; nothing to verify")
	}
	if g.TestToken("42", first) {
		t.Error("replaced challenge should no longer verify")
	}
	if !g.TestToken("42", n.last()) {
		t.Error("latest challenge should verify")
	}
}

func TestRandomToken(t *testing.T) {
	tok, err := randomToken(6)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	if len(tok) != 6 {
		t.Errorf("token length: got %d, want 6", len(tok))
	}
}
