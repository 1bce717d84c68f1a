// Package ratelimit provides per-connection sliding-window admission
// shaping. Over-budget messages are not dropped: callers divert them to a
// limited path that still executes the request but tags the response, so
// clients learn to back off without losing work.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Token tracks one connection's message count within the current window.
type Token struct {
	id    uint64
	count atomic.Int64
	max   int64
}

// Allow counts an inbound message and reports whether it fits in the
// current window. A false return means the message should take the limited
// path, not be rejected.
func (t *Token) Allow() bool {
	return t.count.Add(1) <= t.max
}

// Limiter owns the shared reset tick for all registered connections.
type Limiter struct {
	max    int64
	rate   time.Duration
	tokens *xsync.MapOf[uint64, *Token]
	nextID atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a limiter allowing max messages per rate window and starts
// the shared reset tick.
func New(rate time.Duration, max int64) *Limiter {
	l := &Limiter{
		max:    max,
		rate:   rate,
		tokens: xsync.NewMapOf[uint64, *Token](),
		stop:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Limiter) run() {
	ticker := time.NewTicker(l.rate)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.tokens.Range(func(_ uint64, t *Token) bool {
				t.count.Store(0)
				return true
			})
		}
	}
}

// Register adds a connection to the shared reset cycle. The returned token
// must be released with Unregister when the connection closes.
func (l *Limiter) Register() *Token {
	t := &Token{id: l.nextID.Add(1), max: l.max}
	l.tokens.Store(t.id, t)
	return t
}

// Unregister removes a connection's token from the reset cycle.
func (l *Limiter) Unregister(t *Token) {
	l.tokens.Delete(t.id)
}

// Close stops the reset tick.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}
