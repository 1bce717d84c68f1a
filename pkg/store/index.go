package store

import (
	"context"
	"strconv"

	"github.com/gazouio/gazou/pkg/errors"
	"github.com/gazouio/gazou/pkg/kv"
	"github.com/gazouio/gazou/pkg/uid"
)

// Tag and artist names map to small integer ids allocated on first use.
// The name-to-id zsets store the name as member with the id as score; the
// counters only ever move forward, so an id is never reused for a different
// name. A racing create of the same name can burn an id, which only
// fragments the index space.

// GetTagID resolves a tag name, reporting whether it exists.
func (s *Store) GetTagID(ctx context.Context, name string) (int64, bool, error) {
	score, ok, err := s.kv.ZScore(ctx, tagNamesKey, name)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to resolve tag")
	}
	return int64(score), ok, nil
}

// GetOrCreateTagID resolves a tag name, allocating a fresh id on first use.
func (s *Store) GetOrCreateTagID(ctx context.Context, name string) (int64, error) {
	if id, ok, err := s.GetTagID(ctx, name); err != nil || ok {
		return id, err
	}
	id, err := s.kv.Incr(ctx, tagCounterKey)
	if err != nil {
		return 0, errors.Wrap(err, "failed to allocate tag id")
	}
	if err := s.kv.ZAdd(ctx, tagNamesKey, kv.ZMember{Member: name, Score: float64(id)}); err != nil {
		return 0, errors.Wrap(err, "failed to create tag")
	}
	return id, nil
}

// GetArtistID resolves an artist name, reporting whether it exists.
func (s *Store) GetArtistID(ctx context.Context, name string) (int64, bool, error) {
	score, ok, err := s.kv.ZScore(ctx, artistNamesKey, name)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to resolve artist")
	}
	return int64(score), ok, nil
}

// GetOrCreateArtistID resolves an artist name, allocating a fresh id on
// first use.
func (s *Store) GetOrCreateArtistID(ctx context.Context, name string) (int64, error) {
	if id, ok, err := s.GetArtistID(ctx, name); err != nil || ok {
		return id, err
	}
	id, err := s.kv.Incr(ctx, artistCounterKey)
	if err != nil {
		return 0, errors.Wrap(err, "failed to allocate artist id")
	}
	if err := s.kv.ZAdd(ctx, artistNamesKey, kv.ZMember{Member: name, Score: float64(id)}); err != nil {
		return 0, errors.Wrap(err, "failed to create artist")
	}
	return id, nil
}

// AddImageToTag inserts the image into the tag's index scored by its
// last-modified time.
func (s *Store) AddImageToTag(ctx context.Context, id string, tagID int64, dateModified int64) error {
	err := s.kv.ZAdd(ctx, tagImagesKey(tagID),
		kv.ZMember{Member: uid.ToSortable(id), Score: float64(dateModified)})
	return errors.Wrap(err, "failed to index image under tag")
}

// RemoveImageFromTag removes the image from the tag's index.
func (s *Store) RemoveImageFromTag(ctx context.Context, id string, tagID int64) error {
	err := s.kv.ZRem(ctx, tagImagesKey(tagID), uid.ToSortable(id))
	return errors.Wrap(err, "failed to unindex image from tag")
}

// AddImageToArtist inserts the image into the artist's index scored by its
// last-modified time.
func (s *Store) AddImageToArtist(ctx context.Context, id string, artistID int64, dateModified int64) error {
	err := s.kv.ZAdd(ctx, artistImagesKey(artistID),
		kv.ZMember{Member: uid.ToSortable(id), Score: float64(dateModified)})
	return errors.Wrap(err, "failed to index image under artist")
}

// RemoveImageFromArtist removes the image from the artist's index.
func (s *Store) RemoveImageFromArtist(ctx context.Context, id string, artistID int64) error {
	err := s.kv.ZRem(ctx, artistImagesKey(artistID), uid.ToSortable(id))
	return errors.Wrap(err, "failed to unindex image from artist")
}

// IntersectionMeta is the persisted state of one intersection result slot.
type IntersectionMeta struct {
	TagSet  string
	Token   string
	Locked  bool
	Expires int64
}

// CheckAndLockIntersection attempts to claim an intersection slot. A slot
// is claimable when it is unlocked and its previous result, if any, has
// expired.
func (s *Store) CheckAndLockIntersection(ctx context.Context, slot string) (bool, error) {
	locked, err := s.kv.CheckAndLock(ctx, intersectionMetadataKey(slot), nowMillis())
	if err != nil {
		return false, errors.Wrap(err, "failed to lock intersection slot")
	}
	return locked, nil
}

// SetIntersectionMeta records the tag set and correlation token a claimed
// slot is being computed for.
func (s *Store) SetIntersectionMeta(ctx context.Context, slot, tagSet, token string) error {
	err := s.kv.HSet(ctx, intersectionMetadataKey(slot), map[string]string{
		"tags":  tagSet,
		"token": token,
	})
	return errors.Wrap(err, "failed to write intersection metadata")
}

// GetIntersectionMeta reads a slot's current state.
func (s *Store) GetIntersectionMeta(ctx context.Context, slot string) (*IntersectionMeta, error) {
	fields, err := s.kv.HGetAll(ctx, intersectionMetadataKey(slot))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read intersection metadata")
	}
	meta := &IntersectionMeta{
		TagSet: fields["tags"],
		Token:  fields["token"],
		Locked: fields["locked"] == "1",
	}
	meta.Expires, _ = strconv.ParseInt(fields["dateExpires"], 10, 64)
	return meta, nil
}

// ComputeIntersection materializes the intersection of the given tag
// indexes into the slot and returns its cardinality.
func (s *Store) ComputeIntersection(ctx context.Context, slot string, tagIDs []int64) (int64, error) {
	keys := make([]string, len(tagIDs))
	for i, id := range tagIDs {
		keys[i] = tagImagesKey(id)
	}
	n, err := s.kv.ZInterStore(ctx, intersectionTagsKey(slot), keys...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to compute tag intersection")
	}
	return n, nil
}

// ReleaseIntersection unlocks a slot and stamps the expiry after which it
// may be recycled.
func (s *Store) ReleaseIntersection(ctx context.Context, slot string, expires int64) error {
	err := s.kv.HSet(ctx, intersectionMetadataKey(slot), map[string]string{
		"dateExpires": strconv.FormatInt(expires, 10),
	})
	if err != nil {
		return errors.Wrap(err, "failed to stamp intersection expiry")
	}
	_, err = s.kv.HDel(ctx, intersectionMetadataKey(slot), "locked")
	return errors.Wrap(err, "failed to unlock intersection slot")
}

// IntersectionRange pages through a materialized intersection result.
func (s *Store) IntersectionRange(ctx context.Context, slot string, start, count int64) ([]string, error) {
	members, err := s.kv.ZRange(ctx, intersectionTagsKey(slot), start, start+count-1)
	if err != nil {
		return nil, errors.Wrap(err, "intersection result scan failed")
	}
	return toCanonical(members), nil
}
