package kv

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Memory is an in-process Store. A single mutex guards everything; each
// operation is atomic from the caller's perspective, which is the same
// guarantee the Redis backend gives per command.
type Memory struct {
	mu       sync.Mutex
	hashes   map[string]map[string]string
	sets     map[string]map[string]struct{}
	zsets    map[string]map[string]float64
	counters map[string]int64
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{
		hashes:   make(map[string]map[string]string),
		sets:     make(map[string]map[string]struct{}),
		zsets:    make(map[string]map[string]float64),
		counters: make(map[string]int64),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Del(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := m.hashes[key]; ok {
			delete(m.hashes, key)
			n++
			continue
		}
		if _, ok := m.sets[key]; ok {
			delete(m.sets, key)
			n++
			continue
		}
		if _, ok := m.zsets[key]; ok {
			delete(m.zsets, key)
			n++
		}
	}
	return n, nil
}

func (m *Memory) HGet(ctx context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.hashes[key][field]
	return v, ok, nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *Memory) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hashes[key]
	var n int64
	for _, f := range fields {
		if _, ok := h[f]; ok {
			delete(h, f)
			n++
		}
	}
	if len(h) == 0 {
		delete(m.hashes, key)
	}
	return n, nil
}

func (m *Memory) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	for _, v := range members {
		s[v] = struct{}{}
	}
	return nil
}

func (m *Memory) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range members {
		delete(m.sets[key], v)
	}
	return nil
}

func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for v := range m.sets[key] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) SIsMember(ctx context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *Memory) ZAdd(ctx context.Context, key string, members ...ZMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	for _, mem := range members {
		z[mem.Member] = mem.Score
	}
	return nil
}

func (m *Memory) ZRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range members {
		delete(m.zsets[key], v)
	}
	return nil
}

func (m *Memory) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	score, ok := m.zsets[key][member]
	return score, ok, nil
}

func (m *Memory) ZCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

// sorted returns the members of a zset ordered by (score, member), the
// ordering Redis defines for all range commands.
func (m *Memory) sorted(key string) []ZMember {
	z := m.zsets[key]
	out := make([]ZMember, 0, len(z))
	for member, score := range z {
		out = append(out, ZMember{Member: member, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

func (m *Memory) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(key)
	n := int64(len(all))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, 0, stop-start+1)
	for _, mem := range all[start : stop+1] {
		out = append(out, mem.Member)
	}
	return out, nil
}

// lexBound parses a ZRANGEBYLEX bound into its value and inclusivity.
func lexBound(b string) (string, bool) {
	switch {
	case strings.HasPrefix(b, "["):
		return b[1:], true
	case strings.HasPrefix(b, "("):
		return b[1:], false
	default:
		return b, true
	}
}

func (m *Memory) ZRangeByLex(ctx context.Context, key, min, max string, offset, count int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := make([]string, 0, len(m.zsets[key]))
	for member := range m.zsets[key] {
		members = append(members, member)
	}
	sort.Strings(members)

	var out []string
	for _, member := range members {
		if min != "-" {
			if min == "+" {
				continue
			}
			v, incl := lexBound(min)
			if c := strings.Compare(member, v); c < 0 || (c == 0 && !incl) {
				continue
			}
		}
		if max != "+" {
			if max == "-" {
				continue
			}
			v, incl := lexBound(max)
			if c := strings.Compare(member, v); c > 0 || (c == 0 && !incl) {
				continue
			}
		}
		out = append(out, member)
	}
	return window(out, offset, count), nil
}

func (m *Memory) ZRangeByScore(ctx context.Context, key string, min, max float64, offset, count int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, mem := range m.sorted(key) {
		if mem.Score >= min && mem.Score <= max {
			out = append(out, mem.Member)
		}
	}
	return window(out, offset, count), nil
}

func (m *Memory) ZInterStore(ctx context.Context, dest string, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(keys) == 0 {
		delete(m.zsets, dest)
		return 0, nil
	}
	inter := make(map[string]float64)
	for member, score := range m.zsets[keys[0]] {
		inter[member] = score
	}
	for _, key := range keys[1:] {
		z := m.zsets[key]
		for member := range inter {
			score, ok := z[member]
			if !ok {
				delete(inter, member)
				continue
			}
			inter[member] += score
		}
	}
	m.zsets[dest] = inter
	return int64(len(inter)), nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *Memory) CheckAndLock(ctx context.Context, key string, now int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	if h[lockedField] == "1" {
		return false, nil
	}
	if exp, ok := h[expiresField]; ok {
		if ms, err := strconv.ParseInt(exp, 10, 64); err == nil && ms > now {
			return false, nil
		}
	}
	h[lockedField] = "1"
	return true, nil
}

func window(members []string, offset, count int64) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= int64(len(members)) {
		return nil
	}
	members = members[offset:]
	if count >= 0 && count < int64(len(members)) {
		members = members[:count]
	}
	return members
}
