package uid

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	canonical = "49bc0f94-bde5-11e8-a355-529269fb1459"
	sortable  = "11e8-bde5-49bc0f94-a355-529269fb1459"
)

func TestToSortable(t *testing.T) {
	assert.Equal(t, sortable, ToSortable(canonical))
}

func TestToCanonical(t *testing.T) {
	assert.Equal(t, canonical, ToCanonical(sortable))
}

func TestRoundTrip(t *testing.T) {
	assert.Equal(t, canonical, ToCanonical(ToSortable(canonical)))

	for i := 0; i < 100; i++ {
		id, err := New()
		require.NoError(t, err)
		assert.Equal(t, id, ToCanonical(ToSortable(id)))
	}
}

func TestSortableOrderMatchesCreationOrder(t *testing.T) {
	// Creation-ordered v1 UUIDs whose canonical forms do not sort lexically.
	creationOrder := []string{
		"49bc0f94-bde5-11e8-a355-529269fb1459",
		"a391ce14-bde5-11e8-a355-529269fb1459",
		"aa9c0580-bde5-11e8-a355-529269fb1459",
		"c6896c10-bde5-11e8-a355-529269fb1459",
		"7b0c42c0-bde6-11e8-a355-529269fb1459",
		"c01be7ee-bde6-11e8-a355-529269fb1459",
	}

	sortables := make([]string, len(creationOrder))
	for i, id := range creationOrder {
		sortables[i] = ToSortable(id)
	}
	sorted := append([]string(nil), sortables...)
	sort.Strings(sorted)

	assert.Equal(t, sortables, sorted, "lexical order should reproduce creation order")
}

func TestBoundsBracketMintedIDs(t *testing.T) {
	before := time.Now().Add(-time.Second)

	id, err := New()
	require.NoError(t, err)
	s := ToSortable(id)

	after := time.Now().Add(time.Second)

	assert.Less(t, LowerBound(before), s)
	assert.Greater(t, UpperBound(after), s)
}

func TestBoundShape(t *testing.T) {
	lb := LowerBound(time.Unix(0, 0))
	assert.Len(t, lb, CanonicalLength)
	// Version nibble must survive into the bound so scans stay within v1 space.
	assert.Equal(t, byte('1'), lb[0])
}

func TestMalformedInputPanics(t *testing.T) {
	assert.Panics(t, func() { ToSortable("short") })
	assert.Panics(t, func() { ToCanonical("short") })
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(canonical))
	assert.False(t, Valid("not-a-uuid"))
	assert.False(t, Valid(""))
}
