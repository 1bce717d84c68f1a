// Package search implements the bounded tag-intersection engine. Distinct
// tag sets enter a work queue drained by a fixed worker pool; identical
// concurrent requests coalesce onto one in-flight computation; results live
// in a small fixed pool of slots guarded by a lock flag, a correlation
// token and a TTL.
package search

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/gazouio/gazou/pkg/errors"
	"github.com/gazouio/gazou/pkg/store"
)

// Options bound the engine's resources.
type Options struct {
	// MaxIntersections is the size of the result slot pool.
	MaxIntersections int
	// MaxConcurrentSearches is the worker pool size.
	MaxConcurrentSearches int
	// MaxLifespan is how long a computed slot stays trustworthy.
	MaxLifespan time.Duration
	// QueueDepth bounds how many distinct tag sets may wait for a worker.
	QueueDepth int
}

// Stats is a snapshot of engine counters for the metrics collector.
type Stats struct {
	Searches       uint64
	Computations   uint64
	Coalesced      uint64
	CacheHits      uint64
	CapacityErrors uint64
	QueueDepth     int
}

type job struct {
	key    string
	tagIDs []int64

	done  chan struct{}
	slot  string
	token string
	err   error
}

// Engine runs bounded tag-intersection searches over the store's slot pool.
type Engine struct {
	store *store.Store
	opts  Options

	queue    chan *job
	inflight *xsync.MapOf[string, *job]
	cursor   atomic.Uint64

	wg     sync.WaitGroup
	closed atomic.Bool

	searches       atomic.Uint64
	computations   atomic.Uint64
	coalesced      atomic.Uint64
	cacheHits      atomic.Uint64
	capacityErrors atomic.Uint64
}

// New starts the worker pool and returns the engine. Close must be called
// to stop the workers.
func New(st *store.Store, opts Options) *Engine {
	if opts.MaxIntersections <= 0 {
		opts.MaxIntersections = 10
	}
	if opts.MaxConcurrentSearches <= 0 {
		opts.MaxConcurrentSearches = 1
	}
	if opts.MaxLifespan <= 0 {
		opts.MaxLifespan = 30 * time.Second
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 64
	}

	e := &Engine{
		store:    st,
		opts:     opts,
		queue:    make(chan *job, opts.QueueDepth),
		inflight: xsync.NewMapOf[string, *job](),
	}
	for i := 0; i < opts.MaxConcurrentSearches; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Close stops the worker pool. In-flight computations finish; queued jobs
// are rejected.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	close(e.queue)
	e.wg.Wait()
}

// Stats snapshots the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Searches:       e.searches.Load(),
		Computations:   e.computations.Load(),
		Coalesced:      e.coalesced.Load(),
		CacheHits:      e.cacheHits.Load(),
		CapacityErrors: e.capacityErrors.Load(),
		QueueDepth:     len(e.queue),
	}
}

// tagSetKey canonicalizes a tag-id set so identical searches coalesce
// regardless of argument order.
func tagSetKey(tagIDs []int64) string {
	sorted := append([]int64(nil), tagIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// Search resolves the intersection of the given tag indexes and returns the
// requested page of canonical image ids. Concurrent searches for the same
// tag set share one computation; searches arriving after resolution but
// before the slot's TTL are served from the slot without recomputing.
func (e *Engine) Search(ctx context.Context, tagIDs []int64, start, count int64) ([]string, error) {
	e.searches.Add(1)
	key := tagSetKey(tagIDs)

	// One retry: the first attempt can land on a job whose slot expired
	// between resolution and our read, which requeues a fresh computation.
	for attempt := 0; attempt < 2; attempt++ {
		results, retry, err := e.searchOnce(ctx, key, tagIDs, start, count)
		if err != nil {
			return nil, err
		}
		if !retry {
			return results, nil
		}
	}
	return nil, errors.New(errors.KindCapacityExceeded, "search.tags", "Search capacity exceeded, try again")
}

func (e *Engine) searchOnce(ctx context.Context, key string, tagIDs []int64, start, count int64) ([]string, bool, error) {
	fresh := &job{key: key, tagIDs: tagIDs, done: make(chan struct{})}

	j, loaded := e.inflight.LoadOrStore(key, fresh)
	if !loaded {
		if !e.enqueue(j) {
			// Resolve the job before dropping it so a caller that
			// coalesced onto it in the meantime fails instead of
			// waiting forever.
			j.err = errors.New(errors.KindCapacityExceeded, "search.tags", "Search queue is full, try again")
			close(j.done)
			e.dropInflight(key, j)
			e.capacityErrors.Add(1)
			return nil, false, j.err
		}
	} else {
		e.coalesced.Add(1)
	}

	select {
	case <-ctx.Done():
		return nil, false, errors.Wrap(ctx.Err(), "search abandoned")
	case <-j.done:
	}

	if j.err != nil {
		return nil, false, j.err
	}

	results, ok, err := e.readSlot(ctx, j, start, count)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		// Slot was recycled or expired under us; drop the stale entry so
		// the retry queues a fresh computation.
		e.dropInflight(key, j)
		return nil, true, nil
	}
	if loaded {
		e.cacheHits.Add(1)
	}
	return results, false, nil
}

func (e *Engine) enqueue(j *job) bool {
	if e.closed.Load() {
		return false
	}
	select {
	case e.queue <- j:
		return true
	default:
		return false
	}
}

// readSlot re-validates lock, expiry and correlation token before trusting
// a slot's content. The token guards against the slot having been recycled
// to a different tag set between resolution and this read.
func (e *Engine) readSlot(ctx context.Context, j *job, start, count int64) ([]string, bool, error) {
	meta, err := e.store.GetIntersectionMeta(ctx, j.slot)
	if err != nil {
		return nil, false, err
	}
	if meta.Locked || meta.Token != j.token || meta.Expires <= time.Now().UnixMilli() {
		return nil, false, nil
	}
	results, err := e.store.IntersectionRange(ctx, j.slot, start, count)
	if err != nil {
		return nil, false, err
	}
	return results, true, nil
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for j := range e.queue {
		e.compute(j)
	}
}

// compute scans the slot pool round-robin for an unlocked, expired slot,
// claims the first one found and materializes the intersection into it. A
// full sweep without a claimable slot fails the job with a capacity error;
// callers retry rather than block.
func (e *Engine) compute(j *job) {
	ctx := context.Background()
	defer func() {
		// All coalesced waiters resolve or fail together; the entry is
		// dropped on failure so nobody waits on a dead job.
		if j.err != nil {
			e.dropInflight(j.key, j)
		}
		close(j.done)
	}()

	start := e.cursor.Add(1)
	for i := 0; i < e.opts.MaxIntersections; i++ {
		slot := slotName(int(start+uint64(i)) % e.opts.MaxIntersections)

		claimed, err := e.store.CheckAndLockIntersection(ctx, slot)
		if err != nil {
			j.err = err
			return
		}
		if !claimed {
			continue
		}

		// Every failure past this point must return the claimed slot to
		// the pool, or it stays unclaimable forever.
		token, err := newToken()
		if err != nil {
			j.err = errors.Wrap(err, "failed to mint correlation token")
			e.unlockSlot(ctx, slot)
			return
		}
		if err := e.store.SetIntersectionMeta(ctx, slot, j.key, token); err != nil {
			j.err = err
			e.unlockSlot(ctx, slot)
			return
		}
		if _, err := e.store.ComputeIntersection(ctx, slot, j.tagIDs); err != nil {
			j.err = err
			e.unlockSlot(ctx, slot)
			return
		}

		expires := time.Now().Add(e.opts.MaxLifespan).UnixMilli()
		if err := e.store.ReleaseIntersection(ctx, slot, expires); err != nil {
			j.err = err
			e.unlockSlot(ctx, slot)
			return
		}

		j.slot = slot
		j.token = token
		e.computations.Add(1)

		// Drop the coalescing entry once the slot can no longer be
		// trusted, so later searches queue a fresh computation.
		time.AfterFunc(e.opts.MaxLifespan, func() {
			e.dropInflight(j.key, j)
		})

		slog.Debug("search_intersection_computed", "slot", slot, "tag_set", j.key)
		return
	}

	e.capacityErrors.Add(1)
	j.err = errors.New(errors.KindCapacityExceeded, "search.tags", "All intersection slots are busy, try again")
}

// dropInflight removes the coalescing entry for key only while it still
// maps to j, leaving any newer job for the same tag set in place.
func (e *Engine) dropInflight(key string, j *job) {
	e.inflight.Compute(key, func(cur *job, loaded bool) (*job, bool) {
		if !loaded || cur == j {
			return nil, true
		}
		return cur, false
	})
}

// unlockSlot returns a claimed slot to the pool after a failed computation
// by stamping an already-past expiry. Best effort: if the backend is down
// the slot stays locked until a later unlock reaches it.
func (e *Engine) unlockSlot(ctx context.Context, slot string) {
	if err := e.store.ReleaseIntersection(ctx, slot, 0); err != nil {
		slog.Warn("search_slot_unlock_failed", "slot", slot, "error", err)
	}
}

func slotName(i int) string {
	return "tags:" + strconv.Itoa(i)
}

func newToken() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
