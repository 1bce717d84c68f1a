package ratelimit

import (
	"testing"
	"time"
)

func TestToken_AllowWithinBudget(t *testing.T) {
	l := New(time.Hour, 3)
	defer l.Close()

	tok := l.Register()
	defer l.Unregister(tok)

	for i := 0; i < 3; i++ {
		if !tok.Allow() {
			t.Fatalf("message %d should be within budget", i+1)
		}
	}
	if tok.Allow() {
		t.Error("fourth message should exceed the window budget")
	}
	if tok.Allow() {
		t.Error("subsequent messages stay limited until the window resets")
	}
}

func TestLimiter_WindowReset(t *testing.T) {
	l := New(20*time.Millisecond, 1)
	defer l.Close()

	tok := l.Register()
	defer l.Unregister(tok)

	if !tok.Allow() {
		t.Fatal("first message should pass")
	}
	if tok.Allow() {
		t.Fatal("second message should be limited")
	}

	time.Sleep(50 * time.Millisecond)

	if !tok.Allow() {
		t.Error("counter should reset after the window elapses")
	}
}

func TestLimiter_TokensAreIndependent(t *testing.T) {
	l := New(time.Hour, 1)
	defer l.Close()

	a := l.Register()
	b := l.Register()
	defer l.Unregister(a)
	defer l.Unregister(b)

	if !a.Allow() {
		t.Fatal("first connection should pass")
	}
	if !b.Allow() {
		t.Error("one connection's traffic must not limit another")
	}
}

func TestLimiter_UnregisteredTokenNotReset(t *testing.T) {
	l := New(10*time.Millisecond, 1)
	defer l.Close()

	tok := l.Register()
	tok.Allow()
	tok.Allow()
	l.Unregister(tok)

	time.Sleep(30 * time.Millisecond)

	// The token left the reset cycle; its count stays beyond the budget.
	if tok.Allow() {
		t.Error("unregistered token should no longer be reset")
	}
}
