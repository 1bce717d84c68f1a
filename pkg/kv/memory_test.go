package kv

import (
	"context"
	"sync"
	"testing"
)

func TestMemory_HashOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("hset failed: %v", err)
	}

	v, ok, _ := m.HGet(ctx, "h", "a")
	if !ok || v != "1" {
		t.Errorf("hget: got %q ok=%v, want 1 true", v, ok)
	}

	all, _ := m.HGetAll(ctx, "h")
	if len(all) != 2 {
		t.Errorf("hgetall: got %d fields, want 2", len(all))
	}

	n, _ := m.HDel(ctx, "h", "a", "missing")
	if n != 1 {
		t.Errorf("hdel: got %d, want 1", n)
	}
}

func TestMemory_SetOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.SAdd(ctx, "s", "x", "y")
	ok, _ := m.SIsMember(ctx, "s", "x")
	if !ok {
		t.Error("x should be a member")
	}

	m.SRem(ctx, "s", "x")
	ok, _ = m.SIsMember(ctx, "s", "x")
	if ok {
		t.Error("x should have been removed")
	}

	members, _ := m.SMembers(ctx, "s")
	if len(members) != 1 || members[0] != "y" {
		t.Errorf("members: got %v, want [y]", members)
	}
}

func TestMemory_ZRangeByScore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.ZAdd(ctx, "z",
		ZMember{Member: "a", Score: 1},
		ZMember{Member: "b", Score: 2},
		ZMember{Member: "c", Score: 3},
	)

	got, _ := m.ZRangeByScore(ctx, "z", 2, 3, 0, -1)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("rangebyscore: got %v, want [b c]", got)
	}

	got, _ = m.ZRangeByScore(ctx, "z", 1, 3, 1, 1)
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("rangebyscore with window: got %v, want [b]", got)
	}
}

func TestMemory_ZRangeByLex(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, member := range []string{"alpha", "beta", "gamma"} {
		m.ZAdd(ctx, "z", ZMember{Member: member, Score: 0})
	}

	got, _ := m.ZRangeByLex(ctx, "z", "-", "+", 0, -1)
	if len(got) != 3 {
		t.Fatalf("full range: got %v", got)
	}

	got, _ = m.ZRangeByLex(ctx, "z", "[beta", "+", 0, -1)
	if len(got) != 2 || got[0] != "beta" {
		t.Errorf("inclusive min: got %v, want [beta gamma]", got)
	}

	got, _ = m.ZRangeByLex(ctx, "z", "(beta", "+", 0, -1)
	if len(got) != 1 || got[0] != "gamma" {
		t.Errorf("exclusive min: got %v, want [gamma]", got)
	}

	got, _ = m.ZRangeByLex(ctx, "z", "-", "[beta", 0, -1)
	if len(got) != 2 || got[1] != "beta" {
		t.Errorf("inclusive max: got %v, want [alpha beta]", got)
	}
}

func TestMemory_ZInterStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.ZAdd(ctx, "a", ZMember{Member: "x", Score: 1}, ZMember{Member: "y", Score: 2})
	m.ZAdd(ctx, "b", ZMember{Member: "y", Score: 3}, ZMember{Member: "z", Score: 4})

	n, _ := m.ZInterStore(ctx, "dest", "a", "b")
	if n != 1 {
		t.Fatalf("interstore: got %d, want 1", n)
	}

	got, _ := m.ZRange(ctx, "dest", 0, -1)
	if len(got) != 1 || got[0] != "y" {
		t.Errorf("dest: got %v, want [y]", got)
	}
}

func TestMemory_Incr(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for want := int64(1); want <= 3; want++ {
		got, _ := m.Incr(ctx, "n")
		if got != want {
			t.Errorf("incr: got %d, want %d", got, want)
		}
	}
}

func TestMemory_CheckAndLock_SingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.HSet(ctx, "img", map[string]string{"hash": "abc"})

	var wg sync.WaitGroup
	wins := make(chan bool, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.CheckAndLock(ctx, "img", 0)
			if err != nil {
				t.Errorf("lock failed: %v", err)
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for ok := range wins {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("got %d winners, want exactly 1", winners)
	}
}

func TestMemory_CheckAndLock_RespectsExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	// Unexpired hash may not be relocked even though it is unlocked.
	m.HSet(ctx, "slot", map[string]string{"dateExpires": "2000"})
	ok, _ := m.CheckAndLock(ctx, "slot", 1000)
	if ok {
		t.Error("lock should fail while dateExpires is in the future")
	}

	ok, _ = m.CheckAndLock(ctx, "slot", 3000)
	if !ok {
		t.Error("lock should succeed once dateExpires has passed")
	}
}
