// Package uid converts version 1 UUIDs between their canonical form and a
// lexically sortable form. A v1 UUID stores its timestamp low-word first, so
// the canonical string does not sort chronologically; swapping the time
// fields (high, mid, low) makes byte-wise comparison match creation order,
// which lets a sorted index serve time-range scans.
package uid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CanonicalLength is the length of both canonical and sortable forms.
const CanonicalLength = 36

// Number of 100ns intervals between the gregorian epoch (1582-10-15) and
// the unix epoch, the timestamp base of v1 UUIDs.
const gregorianToUnix = 122192928000000000

// New mints a fresh v1 UUID in canonical form.
func New() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Valid reports whether s parses as a canonical UUID of the expected length.
func Valid(s string) bool {
	if len(s) != CanonicalLength {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// ToSortable rearranges a canonical v1 UUID so lexical comparison follows
// the embedded timestamp. Input must be a 36-character canonical UUID;
// anything else is a programming error.
//
//	49bc0f94-bde5-11e8-a355-529269fb1459 -> 11e8-bde5-49bc0f94-a355-529269fb1459
func ToSortable(id string) string {
	if len(id) != CanonicalLength {
		panic(fmt.Sprintf("uid: malformed uuid %q", id))
	}
	return id[14:19] + id[9:14] + id[0:9] + id[19:]
}

// ToCanonical is the inverse of ToSortable.
func ToCanonical(sortable string) string {
	if len(sortable) != CanonicalLength {
		panic(fmt.Sprintf("uid: malformed sortable uuid %q", sortable))
	}
	return sortable[10:19] + sortable[5:10] + sortable[0:5] + sortable[19:]
}

// timestamp converts a wall clock time to v1 UUID ticks.
func timestamp(t time.Time) uint64 {
	return uint64(t.UnixNano()/100) + gregorianToUnix
}

// LowerBound returns the smallest sortable id a v1 UUID minted at t could
// have, for use as the inclusive lower end of a lexical range scan.
func LowerBound(t time.Time) string {
	ts := timestamp(t)
	return fmt.Sprintf("%04x-%04x-%08x-0000-000000000000",
		uint16(ts>>48)&0x0fff|0x1000, uint16(ts>>32), uint32(ts))
}

// UpperBound returns the largest sortable id a v1 UUID minted at t could
// have, for use as the inclusive upper end of a lexical range scan.
func UpperBound(t time.Time) string {
	ts := timestamp(t)
	return fmt.Sprintf("%04x-%04x-%08x-ffff-ffffffffffff",
		uint16(ts>>48)&0x0fff|0x1000, uint16(ts>>32), uint32(ts))
}
